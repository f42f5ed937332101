package detection

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/tracking"
)

// Engine is a tracking.Engine that tracks faces. Each trackable registered
// with the config "face" follows one detected face: the first trackable
// follows the best-ranked face, the second the runner-up, and so on.
type Engine struct {
	newDetector func(resourceDir string) (Detector, error)
	logger      *slog.Logger
	registry    *tracking.Registry

	mu          sync.Mutex
	detector    Detector
	initialized bool
	running     bool
	stream      tracking.StreamConfig
	lastPush    time.Time
	frames      int64
	faces       int64
}

// EngineStats reports frames processed and faces seen.
type EngineStats struct {
	Frames int64 `json:"frames"`
	Faces  int64 `json:"faces"`
}

// NewEngine creates an engine that builds its detector in Initialize.
func NewEngine(newDetector func(resourceDir string) (Detector, error), logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		newDetector: newDetector,
		logger:      logger,
		registry:    tracking.NewRegistry(),
	}
}

// Name returns "detection".
func (e *Engine) Name() string {
	return "detection"
}

// Initialize loads the detection model from resourceDir.
func (e *Engine) Initialize(resourceDir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	d, err := e.newDetector(resourceDir)
	if err != nil {
		return fmt.Errorf("detection: load model: %w", err)
	}
	e.detector = d
	e.initialized = true
	e.logger.Info("detection engine initialized", "resource_dir", resourceDir)
	return nil
}

// Start implements tracking.Engine.
func (e *Engine) Start(cfg tracking.StreamConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return tracking.ErrNotInitialized
	}
	if !Convertible(cfg.Format.Encoding) {
		return fmt.Errorf("%w: %s", tracking.ErrUnsupportedEncoding, cfg.Format.Encoding)
	}
	e.stream = cfg
	e.running = true
	e.lastPush = time.Time{}
	e.logger.Info("detection engine started", "video_config", cfg.VideoConfig())
	return nil
}

// PushFrame runs detection on one frame and updates face trackables.
func (e *Engine) PushFrame(buf *capture.FrameBuffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return tracking.ErrNotRunning
	}

	img, err := FrameToMat(buf, e.stream.Format)
	if err != nil {
		img.Close()
		return fmt.Errorf("%w: %v", tracking.ErrFrameRejected, err)
	}
	defer img.Close()

	dets, err := e.detector.Detect(img)
	if err != nil {
		return fmt.Errorf("%w: %v", tracking.ErrFrameRejected, err)
	}

	now := buf.Timestamp
	if !e.lastPush.IsZero() && now.After(e.lastPush) {
		e.registry.Decay(now.Sub(e.lastPush).Seconds())
	}
	e.lastPush = now

	ranked := Rank(dets)
	for i, id := range e.registry.IDs() {
		if i >= len(ranked) {
			break
		}
		e.registry.Observe(id, poseOf(ranked[i]))
	}

	e.frames++
	e.faces += int64(len(dets))
	return nil
}

// poseOf places a face in front of the camera: x and y span -1..1 across
// the frame, and depth grows as the face gets smaller.
func poseOf(d Detection) tracking.Matrix4 {
	cx, cy := d.Center()
	z := -1.0
	if a := d.Area(); a > 0 {
		z = -1 / math.Sqrt(a)
	}
	return tracking.Translation(float32(cx*2-1), float32(1-cy*2), float32(z))
}

// AddTrackable registers a face trackable. The only accepted config is "face".
func (e *Engine) AddTrackable(config string) (int, error) {
	if strings.TrimSpace(strings.ToLower(config)) != "face" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTrackable, config)
	}
	return e.registry.Add("face"), nil
}

// RemoveTrackable implements tracking.Engine.
func (e *Engine) RemoveTrackable(id int) error {
	if !e.registry.Remove(id) {
		return fmt.Errorf("%w: %d", tracking.ErrUnknownTrackable, id)
	}
	return nil
}

// QueryPose implements tracking.Engine.
func (e *Engine) QueryPose(id int) (tracking.Matrix4, bool) {
	return e.registry.Visible(id)
}

// ProjectionMatrix implements tracking.Engine.
func (e *Engine) ProjectionMatrix(near, far float32) (tracking.Matrix4, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return tracking.Matrix4{}, tracking.ErrNotRunning
	}
	return e.stream.Projection(near, far)
}

// Running implements tracking.Engine.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop implements tracking.Engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Info("detection engine stopped", "frames", e.frames, "faces", e.faces)
	}
	e.running = false
	e.registry.Hide()
	return nil
}

// Shutdown closes the detector and forgets every trackable.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running = false
	e.initialized = false
	e.registry.RemoveAll()
	if e.detector == nil {
		return nil
	}
	err := e.detector.Close()
	e.detector = nil
	return err
}

// Stats returns processing counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStats{Frames: e.frames, Faces: e.faces}
}
