package camera

import "github.com/teslashibe/go-arx/pkg/capture"

// Preset names for common configurations
const (
	PresetDefault  = "default"
	Preset720p     = "720p"
	Preset1080p    = "1080p"
	PresetFront    = "front"
	PresetMono     = "mono"
	PresetLowPower = "lowpower"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:  DefaultConfig(),
		Preset720p:     HD720Config(),
		Preset1080p:    HD1080Config(),
		PresetFront:    FrontConfig(),
		PresetMono:     MonoConfig(),
		PresetLowPower: LowPowerConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		Preset720p,
		Preset1080p,
		PresetFront,
		PresetMono,
		PresetLowPower,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// HD720Config returns 720p HD configuration.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Resolution = "1280x720"
	return cfg
}

// HD1080Config returns 1080p Full HD configuration.
// Tracking cost grows with pixel count; use it for small or distant markers.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Resolution = "1920x1080"
	return cfg
}

// FrontConfig uses the user-facing camera.
func FrontConfig() Config {
	cfg := DefaultConfig()
	cfg.Facing = capture.FacingUser.String()
	return cfg
}

// MonoConfig pushes luma only, which is all a square-marker tracker reads.
func MonoConfig() Config {
	cfg := DefaultConfig()
	cfg.Encoding = string(capture.EncodingMono)
	return cfg
}

// LowPowerConfig returns QVGA at 15 FPS.
func LowPowerConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = "320x240"
	cfg.Framerate = 15
	return cfg
}
