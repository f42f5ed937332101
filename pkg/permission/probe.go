package permission

import (
	"os"
	"strings"
	"time"
)

// EnvCameraPermission pre-answers the camera prompt for headless runs.
const EnvCameraPermission = "ARX_CAMERA_PERMISSION"

// Status is a coarse permission signal from the environment.
type Status string

const (
	StatusUnknown        Status = "unknown"
	StatusGranted        Status = "granted"
	StatusDenied         Status = "denied"
	StatusPromptRequired Status = "prompt"
)

// ProbeResult is what the environment says about camera access.
type ProbeResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// LookupEnvFunc resolves environment variables. Tests swap it out.
type LookupEnvFunc func(string) (string, bool)

// Probe inspects EnvCameraPermission. A nil lookup uses os.LookupEnv.
func Probe(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(EnvCameraPermission)
	if !ok {
		return ProbeResult{Status: StatusPromptRequired, Message: "camera permission will prompt at runtime"}
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true":
		return ProbeResult{Status: StatusGranted, Message: "camera permission pre-authorised via env override"}
	case "denied", "deny", "no", "false", "blocked":
		return ProbeResult{Status: StatusDenied, Message: "camera permission denied via env override"}
	case "prompt", "ask":
		return ProbeResult{Status: StatusPromptRequired, Message: "camera permission will prompt at runtime"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: "camera permission state unknown"}
	}
}

// StaticPrompter answers every prompt with a fixed decision after Delay, on
// its own goroutine.
type StaticPrompter struct {
	Granted bool
	Delay   time.Duration
}

// Prompt implements Prompter.
func (p StaticPrompter) Prompt(respond func(granted bool)) {
	go func() {
		if p.Delay > 0 {
			time.Sleep(p.Delay)
		}
		respond(p.Granted)
	}()
}
