// Package config loads settings for the arx commands: a YAML file for the
// baseline and ARX_* environment variables for per-run overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/teslashibe/go-arx/pkg/camera"
	"github.com/teslashibe/go-arx/pkg/tracking/detection"
	"gopkg.in/yaml.v3"
)

// Driver names.
const (
	DriverMock   = "mock"
	DriverOpenCV = "opencv"
)

// Engine backends.
const (
	EngineMock      = "mock"
	EngineDetection = "detection"
)

// Defaults.
const (
	DefaultWebPort   = 8181
	DefaultRefreshMS = 16
)

// Config is the complete arx configuration.
type Config struct {
	Driver  string        `yaml:"driver"` // mock or opencv
	Camera  camera.Config `yaml:"camera"`
	Engine  EngineConfig  `yaml:"engine"`
	Display DisplayConfig `yaml:"display"`
	Web     WebConfig     `yaml:"web"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig selects the tracking engine.
type EngineConfig struct {
	Backend     string           `yaml:"backend"` // mock or detection
	ResourceDir string           `yaml:"resource_dir"`
	Detection   detection.Config `yaml:"detection"`
	Trackables  []string         `yaml:"trackables"` // registered on first frame
}

// DisplayConfig contains the drawing surface settings.
type DisplayConfig struct {
	RefreshMS int `yaml:"refresh_ms"`
}

// WebConfig contains dashboard settings.
type WebConfig struct {
	Port      int    `yaml:"port"` // 0 disables the dashboard
	StaticDir string `yaml:"static_dir"`
}

// LogConfig mirrors internal/log options.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs without hardware.
func Default() Config {
	return Config{
		Driver: DriverMock,
		Camera: camera.DefaultConfig(),
		Engine: EngineConfig{
			Backend:     EngineMock,
			ResourceDir: "resources",
			Detection:   detection.DefaultConfig(),
			Trackables:  []string{"marker;pattern.patt;80"},
		},
		Display: DisplayConfig{RefreshMS: DefaultRefreshMS},
		Web:     WebConfig{Port: DefaultWebPort},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LookupEnvFunc resolves environment variables. A nil func uses os.LookupEnv.
type LookupEnvFunc func(string) (string, bool)

// ApplyEnv overrides fields from ARX_* variables.
func (c *Config) ApplyEnv(lookup LookupEnvFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("ARX_DRIVER", &c.Driver)
	str("ARX_ENGINE", &c.Engine.Backend)
	str("ARX_RESOURCE_DIR", &c.Engine.ResourceDir)
	str("ARX_MODEL_PATH", &c.Engine.Detection.ModelPath)
	num("ARX_CAMERA_INDEX", &c.Camera.Index)
	str("ARX_CAMERA_FACING", &c.Camera.Facing)
	str("ARX_CAMERA_RESOLUTION", &c.Camera.Resolution)
	str("ARX_CAMERA_ENCODING", &c.Camera.Encoding)
	num("ARX_CAMERA_FRAMERATE", &c.Camera.Framerate)
	str("ARX_CAMERA_PARAMS", &c.Camera.CameraParams)
	num("ARX_REFRESH_MS", &c.Display.RefreshMS)
	num("ARX_WEB_PORT", &c.Web.Port)
	str("ARX_LOG_LEVEL", &c.Log.Level)
	str("ARX_LOG_FORMAT", &c.Log.Format)

	c.Camera.Encoding = strings.ToUpper(c.Camera.Encoding)
	return errors.Join(errs...)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var problems []string

	switch c.Driver {
	case DriverMock, DriverOpenCV:
	default:
		problems = append(problems, fmt.Sprintf("unknown driver %q", c.Driver))
	}

	switch c.Engine.Backend {
	case EngineMock:
	case EngineDetection:
		if err := c.Engine.Detection.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown engine %q", c.Engine.Backend))
	}

	problems = append(problems, c.Camera.Validate()...)

	if c.Display.RefreshMS <= 0 {
		problems = append(problems, "display refresh_ms must be positive")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		problems = append(problems, fmt.Sprintf("web port %d out of range", c.Web.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// WebAddr returns the dashboard listen address, or "" when disabled.
func (c *Config) WebAddr() string {
	if c.Web.Port == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.Web.Port)
}
