// Package camera provides runtime-configurable camera settings for the AR
// pipeline: which device to open and which stream format to request.
package camera

import (
	"fmt"

	"github.com/teslashibe/go-arx/pkg/capture"
)

// Config holds all camera configuration parameters.
// These can be modified via the camera API at runtime.
type Config struct {
	// === Device ===
	Index  int    `json:"index" yaml:"index"`   // Zero-based device index
	Facing string `json:"facing" yaml:"facing"` // "environment" or "user"

	// === Stream ===
	Resolution string `json:"resolution" yaml:"resolution"` // "WIDTHxHEIGHT"
	Encoding   string `json:"encoding" yaml:"encoding"`     // Pixel encoding pushed to the tracker
	Framerate  int    `json:"framerate" yaml:"framerate"`   // Target FPS

	// CameraParams names the calibration file handed to the tracking engine.
	// Empty means the engine's default.
	CameraParams string `json:"camera_params" yaml:"camera_params"`
}

// Capture limits accepted by the settings API.
const (
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 120
	MaxIndex     = 16
)

// DefaultConfig returns the standard AR configuration: the first rear camera
// at 640x480 NV21, which every supported tracker consumes directly.
func DefaultConfig() Config {
	return Config{
		Index:      0,
		Facing:     capture.FacingEnvironment.String(),
		Resolution: "640x480",
		Encoding:   string(capture.EncodingNV21),
		Framerate:  30,
	}
}

// Device resolves the configured device identity.
func (c Config) Device() (capture.DeviceIdentity, error) {
	facing, err := capture.ParseFacing(c.Facing)
	if err != nil {
		return capture.DeviceIdentity{}, err
	}
	return capture.DeviceIdentity{Index: c.Index, Facing: facing}, nil
}

// Format resolves the configured stream format.
func (c Config) Format() (capture.StreamFormat, error) {
	w, h, err := capture.ParseResolution(c.Resolution)
	if err != nil {
		return capture.StreamFormat{}, err
	}
	enc, err := capture.ParsePixelEncoding(c.Encoding)
	if err != nil {
		return capture.StreamFormat{}, err
	}
	f := capture.StreamFormat{Width: w, Height: h, Encoding: enc}
	if err := f.Validate(); err != nil {
		return capture.StreamFormat{}, err
	}
	return f, nil
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Index < 0 || c.Index >= MaxIndex {
		errors = append(errors, fmt.Sprintf("index must be between 0 and %d", MaxIndex-1))
	}
	if _, err := capture.ParseFacing(c.Facing); err != nil {
		errors = append(errors, "facing must be environment or user")
	}

	w, h, err := capture.ParseResolution(c.Resolution)
	switch {
	case err != nil:
		errors = append(errors, "resolution must look like 640x480")
	case w < 160 || w > MaxWidth:
		errors = append(errors, fmt.Sprintf("width must be between 160 and %d", MaxWidth))
	case h < 120 || h > MaxHeight:
		errors = append(errors, fmt.Sprintf("height must be between 120 and %d", MaxHeight))
	}

	if _, err := capture.ParsePixelEncoding(c.Encoding); err != nil {
		errors = append(errors, "encoding must be one of the supported pixel encodings")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, fmt.Sprintf("framerate must be between 1 and %d", MaxFramerate))
	}

	return errors
}

// Capabilities returns what the settings API accepts.
func Capabilities() map[string]any {
	encodings := make([]string, 0, len(capture.Encodings()))
	for _, e := range capture.Encodings() {
		encodings = append(encodings, string(e))
	}
	return map[string]any{
		"max_width":     MaxWidth,
		"max_height":    MaxHeight,
		"max_framerate": MaxFramerate,
		"facings":       []string{"environment", "user"},
		"encodings":     encodings,
		"presets":       PresetNames(),
	}
}
