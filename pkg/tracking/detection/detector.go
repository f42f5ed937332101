// Package detection provides a face-tracking engine built on OpenCV's
// detection models.
package detection

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"gocv.io/x/gocv"
)

// ErrUnsupportedTrackable is returned for trackable configs other than faces.
var ErrUnsupportedTrackable = errors.New("detection: unsupported trackable config")

// Detection represents a detected face
type Detection struct {
	X, Y       float64 // Top-left position (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
}

// Center returns the center point of the detection
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Detector is the interface for detection backends
type Detector interface {
	// Detect finds targets in a BGR image
	Detect(img gocv.Mat) ([]Detection, error)

	// Close releases resources
	Close() error
}

// Backend names.
const (
	BackendYuNet = "yunet"
	BackendYOLO  = "yolo"
)

// Config holds detector configuration
type Config struct {
	Backend          string   `yaml:"backend" json:"backend"`       // yunet or yolo
	ModelPath        string   `yaml:"model_path" json:"model_path"` // ONNX model, relative to the resource dir unless absolute
	ConfidenceThresh float64  `yaml:"confidence" json:"confidence"` // Minimum confidence (default 0.5)
	NMSThresh        float64  `yaml:"nms" json:"nms"`
	InputWidth       int      `yaml:"input_width" json:"input_width"`
	InputHeight      int      `yaml:"input_height" json:"input_height"`
	Classes          []string `yaml:"classes" json:"classes"` // yolo only
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		Backend:          BackendYuNet,
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Backend != BackendYuNet && c.Backend != BackendYOLO {
		return fmt.Errorf("detection: unknown backend %q", c.Backend)
	}
	if c.ModelPath == "" {
		return errors.New("detection: model path is required")
	}
	if c.ConfidenceThresh <= 0 || c.ConfidenceThresh > 1 {
		return fmt.Errorf("detection: confidence must be in (0, 1], got %v", c.ConfidenceThresh)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("detection: input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	return nil
}

// Factory returns a detector constructor that resolves the model path
// against the engine's resource directory.
func Factory(cfg Config) func(resourceDir string) (Detector, error) {
	return func(resourceDir string) (Detector, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		resolved := cfg
		if !filepath.IsAbs(resolved.ModelPath) && resourceDir != "" {
			resolved.ModelPath = filepath.Join(resourceDir, resolved.ModelPath)
		}
		switch resolved.Backend {
		case BackendYOLO:
			return NewYOLO(resolved)
		default:
			return NewYuNet(resolved)
		}
	}
}

func score(d Detection, maxArea float64) float64 {
	return d.Confidence*0.7 + (d.Area()/maxArea)*0.3
}

// SelectBest picks the best face from multiple detections
// Priority: confidence * 0.7 + area * 0.3
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}

	if len(dets) == 1 {
		return &dets[0]
	}

	// Find max area for normalization
	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}

	// Score each detection
	bestScore := -1.0
	var best *Detection

	for i := range dets {
		s := score(dets[i], maxArea)
		if s > bestScore {
			bestScore = s
			best = &dets[i]
		}
	}

	return best
}

// Rank returns the detections ordered best first, using the SelectBest score.
func Rank(dets []Detection) []Detection {
	ranked := slices.Clone(dets)
	maxArea := 0.0
	for _, d := range ranked {
		maxArea = max(maxArea, d.Area())
	}
	if maxArea == 0 {
		maxArea = 1
	}
	slices.SortStableFunc(ranked, func(a, b Detection) int {
		sa, sb := score(a, maxArea), score(b, maxArea)
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		default:
			return 0
		}
	})
	return ranked
}
