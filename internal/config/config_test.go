package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func env(vars map[string]string) LookupEnvFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.WebAddr() != ":8181" {
		t.Errorf("WebAddr() = %q", cfg.WebAddr())
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arx.yaml")
	data := `
driver: opencv
camera:
  index: 1
  facing: user
  resolution: 1280x720
engine:
  backend: detection
  resource_dir: /opt/arx
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != DriverOpenCV || cfg.Camera.Index != 1 || cfg.Camera.Facing != "user" {
		t.Errorf("Camera fields not loaded: %+v", cfg)
	}
	if cfg.Camera.Framerate != 30 {
		t.Errorf("Framerate = %d, want default 30 kept", cfg.Camera.Framerate)
	}
	if cfg.Engine.ResourceDir != "/opt/arx" || cfg.Engine.Detection.ModelPath == "" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) succeeded")
	}
	if _, err := Load(""); err != nil {
		t.Errorf("Load(\"\") = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"ARX_CAMERA_INDEX":      "2",
		"ARX_CAMERA_RESOLUTION": "1920x1080",
		"ARX_CAMERA_ENCODING":   "nv12",
		"ARX_LOG_LEVEL":         "warn",
		"ARX_WEB_PORT":          "0",
		"ARX_DRIVER":            " ",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Camera.Index != 2 || cfg.Camera.Resolution != "1920x1080" {
		t.Errorf("Camera = %+v", cfg.Camera)
	}
	if cfg.Camera.Encoding != "NV12" {
		t.Errorf("Encoding = %q, want upper-cased", cfg.Camera.Encoding)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.WebAddr() != "" {
		t.Errorf("WebAddr() = %q, want disabled", cfg.WebAddr())
	}
	if cfg.Driver != DriverMock {
		t.Errorf("Blank ARX_DRIVER changed driver to %q", cfg.Driver)
	}
}

func TestApplyEnvBadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{"ARX_WEB_PORT": "eighty"}))
	if err == nil || !strings.Contains(err.Error(), "ARX_WEB_PORT") {
		t.Errorf("ApplyEnv() = %v", err)
	}
	if cfg.Web.Port != DefaultWebPort {
		t.Errorf("Port changed to %d", cfg.Web.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Driver = "v4l" }, "unknown driver"},
		{"engine", func(c *Config) { c.Engine.Backend = "arcore" }, "unknown engine"},
		{"detection", func(c *Config) {
			c.Engine.Backend = EngineDetection
			c.Engine.Detection.ModelPath = ""
		}, "model path"},
		{"camera", func(c *Config) { c.Camera.Resolution = "big" }, "resolution"},
		{"refresh", func(c *Config) { c.Display.RefreshMS = 0 }, "refresh_ms"},
		{"port", func(c *Config) { c.Web.Port = 70000 }, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want %q", err, tt.want)
			}
		})
	}
}
