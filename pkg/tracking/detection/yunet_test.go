package detection

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-arx/pkg/capture"
)

func yunetConfig(t *testing.T) Config {
	t.Helper()
	modelPath := findModelPath()
	if modelPath == "" {
		t.Skip("YuNet model not found, skipping test")
	}
	cfg := DefaultConfig()
	cfg.ModelPath = modelPath
	return cfg
}

// TestYuNetNewInvalidPath tests error handling for missing model
func TestYuNetNewInvalidPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/path/model.onnx"

	if _, err := NewYuNet(cfg); err == nil {
		t.Error("Expected error for invalid model path")
	}
}

// TestYuNetDetect_SolidFrame tests detection on a solid color frame (no faces)
func TestYuNetDetect_SolidFrame(t *testing.T) {
	detector, err := NewYuNet(yunetConfig(t))
	if err != nil {
		t.Fatalf("NewYuNet failed: %v", err)
	}
	defer detector.Close()

	format := capture.StreamFormat{Width: 320, Height: 240, Encoding: capture.EncodingRGBA}
	img, err := FrameToMat(solidRGBA(320, 240, 0, 0, 255), format)
	if err != nil {
		t.Fatalf("FrameToMat failed: %v", err)
	}
	defer img.Close()

	detections, err := detector.Detect(img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) > 0 {
		t.Errorf("Expected no detections in solid color image, got %d", len(detections))
	}
}

// TestYuNetConcurrency tests thread safety
func TestYuNetConcurrency(t *testing.T) {
	detector, err := NewYuNet(yunetConfig(t))
	if err != nil {
		t.Fatalf("NewYuNet failed: %v", err)
	}
	defer detector.Close()

	format := capture.StreamFormat{Width: 320, Height: 240, Encoding: capture.EncodingRGBA}

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- true }()
			img, err := FrameToMat(solidRGBA(320, 240, 100, 100, 100), format)
			if err != nil {
				t.Errorf("FrameToMat failed: %v", err)
				return
			}
			defer img.Close()
			if _, err := detector.Detect(img); err != nil {
				t.Errorf("Concurrent detection failed: %v", err)
			}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

// Helper functions

func findModelPath() string {
	paths := []string{
		"../../../models/face_detection_yunet.onnx",
		"../../models/face_detection_yunet.onnx",
		"models/face_detection_yunet.onnx",
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}

	// Walk up to find models directory
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != "/"; dir = filepath.Dir(dir) {
			modelPath := filepath.Join(dir, "models", "face_detection_yunet.onnx")
			if _, err := os.Stat(modelPath); err == nil {
				return modelPath
			}
		}
	}

	return ""
}

func solidRGBA(width, height int, r, g, b byte) *capture.FrameBuffer {
	data := make([]byte, width*height*4)
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = r, g, b, 255
	}
	return capture.NewFrameBuffer(1, time.Now(), []capture.Plane{
		{Data: data, PixelStride: 4, RowStride: width * 4},
	}, nil)
}
