package pipeline

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-arx/pkg/capture"
)

// FrameListener is told about tracking progress.
// Both methods run on the frame delivery goroutine and should return quickly.
type FrameListener interface {
	// OnFirstFrame is called once per stream, before the first frame is
	// pushed to the engine.
	OnFirstFrame(id capture.DeviceIdentity)

	// OnFrameProcessed is called after each frame the engine accepted.
	OnFrameProcessed()
}

// Scene is the application content drawn over the camera image.
type Scene interface {
	// ConfigureScene registers trackables and prepares content for the
	// stream from device id.
	ConfigureScene(id capture.DeviceIdentity) error
}

// SceneFunc adapts a function to Scene.
type SceneFunc func(id capture.DeviceIdentity) error

// ConfigureScene calls f(id).
func (f SceneFunc) ConfigureScene(id capture.DeviceIdentity) error {
	return f(id)
}

// Redrawer accepts redraw requests. RequestRedraw must never block.
type Redrawer interface {
	RequestRedraw()
}

// SceneListener configures the scene on the first frame and requests a
// redraw after every processed frame.
type SceneListener struct {
	scene    Scene
	redrawer Redrawer
	onFatal  func(error)
	logger   *slog.Logger

	failed     atomic.Bool
	configured atomic.Uint64
	redraws    atomic.Uint64
}

// NewSceneListener creates a listener. scene and redrawer may be nil.
// onFatal receives scene configuration failures.
func NewSceneListener(scene Scene, redrawer Redrawer, onFatal func(error), logger *slog.Logger) *SceneListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &SceneListener{
		scene:    scene,
		redrawer: redrawer,
		onFatal:  onFatal,
		logger:   logger,
	}
}

// OnFirstFrame configures the scene. A failure is reported once and not
// retried; redraws stop until the next stream.
func (l *SceneListener) OnFirstFrame(id capture.DeviceIdentity) {
	l.failed.Store(false)
	if l.scene == nil {
		return
	}

	if err := l.scene.ConfigureScene(id); err != nil {
		l.failed.Store(true)
		l.logger.Error("scene configuration failed", "device", id.String(), "error", err)
		if l.onFatal != nil {
			l.onFatal(fmt.Errorf("%w: %v", ErrSceneConfiguration, err))
		}
		return
	}
	l.configured.Add(1)
	l.logger.Info("scene configured", "device", id.String())
}

// OnFrameProcessed requests a redraw.
func (l *SceneListener) OnFrameProcessed() {
	if l.failed.Load() {
		return
	}
	l.redraws.Add(1)
	if l.redrawer != nil {
		l.redrawer.RequestRedraw()
	}
}

// Redraws returns the number of redraw requests made.
func (l *SceneListener) Redraws() uint64 {
	return l.redraws.Load()
}
