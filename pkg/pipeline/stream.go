// Package pipeline connects the capture session, the tracking engine and the
// display surface, and drives them from the application lifecycle.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/tracking"
)

// FrameStats counts frames seen by stream listeners.
type FrameStats struct {
	FirstFrames uint64 `json:"first_frames"`
	Pushed      uint64 `json:"pushed"`
	Rejected    uint64 `json:"rejected"`
}

func (s *FrameStats) add(o FrameStats) {
	s.FirstFrames += o.FirstFrames
	s.Pushed += o.Pushed
	s.Rejected += o.Rejected
}

// StreamOption configures a StreamListener.
type StreamOption func(*StreamListener)

// WithCameraParams names the calibration file passed to the engine.
func WithCameraParams(path string) StreamOption {
	return func(l *StreamListener) {
		l.cameraParams = path
	}
}

// WithFatalHandler receives errors that end the stream. It is called with
// the capture session lock held and must not block or call into the session.
func WithFatalHandler(fn func(error)) StreamOption {
	return func(l *StreamListener) {
		l.onFatal = fn
	}
}

// WithShutdownHook is called after the engine has been shut down.
func WithShutdownHook(fn func()) StreamOption {
	return func(l *StreamListener) {
		l.onShutdown = fn
	}
}

// WithStreamLogger sets the listener logger.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(l *StreamListener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// StreamListener feeds one capture session's frames into the tracking
// engine. It implements capture.StreamListener.
type StreamListener struct {
	engine       tracking.Engine
	frames       FrameListener
	cameraParams string
	onFatal      func(error)
	onShutdown   func()
	logger       *slog.Logger

	device     capture.DeviceIdentity
	started    atomic.Bool
	firstFrame atomic.Bool

	firstFrames atomic.Uint64
	pushed      atomic.Uint64
	rejected    atomic.Uint64
}

// NewStreamListener creates a listener pushing frames into engine and
// reporting to frames, which may be nil.
func NewStreamListener(engine tracking.Engine, frames FrameListener, opts ...StreamOption) *StreamListener {
	l := &StreamListener{
		engine: engine,
		frames: frames,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StreamStarted starts the engine with the stream geometry.
func (l *StreamListener) StreamStarted(format capture.StreamFormat, id capture.DeviceIdentity) {
	cfg := tracking.StreamConfig{Format: format, Device: id, CameraParams: l.cameraParams}
	if err := l.engine.Start(cfg); err != nil {
		l.logger.Error("tracking engine start failed", "engine", l.engine.Name(), "error", err)
		l.fatal(fmt.Errorf("%w: %v", ErrEngineStart, err))
		return
	}

	l.device = id
	l.firstFrame.Store(true)
	l.started.Store(true)
	l.logger.Info("tracking started",
		"engine", l.engine.Name(),
		"device", id.String(),
		"format", format.String(),
	)
}

// StreamFrame pushes one frame. The first frame after StreamStarted is
// announced before it is pushed. A rejected frame is counted and dropped.
func (l *StreamListener) StreamFrame(buf *capture.FrameBuffer) {
	if !l.started.Load() {
		return
	}

	if l.firstFrame.CompareAndSwap(true, false) {
		l.firstFrames.Add(1)
		if l.frames != nil {
			l.frames.OnFirstFrame(l.device)
		}
	}

	if err := l.engine.PushFrame(buf); err != nil {
		l.rejected.Add(1)
		l.logger.Debug("frame rejected", "seq", buf.Seq, "error", err)
		return
	}
	l.pushed.Add(1)
	if l.frames != nil {
		l.frames.OnFrameProcessed()
	}
}

// StreamStopped stops and shuts down the engine. It does nothing if the
// engine never started.
func (l *StreamListener) StreamStopped() {
	if !l.started.Swap(false) {
		return
	}

	if err := l.engine.Stop(); err != nil {
		l.logger.Warn("tracking engine stop failed", "error", err)
	}
	if err := l.engine.Shutdown(); err != nil {
		l.logger.Warn("tracking engine shutdown failed", "error", err)
	}
	if l.onShutdown != nil {
		l.onShutdown()
	}
	st := l.Stats()
	l.logger.Info("tracking stopped", "pushed", st.Pushed, "rejected", st.Rejected)
}

// Started reports whether the engine is running for this stream.
func (l *StreamListener) Started() bool {
	return l.started.Load()
}

// Stats returns the listener's frame counters.
func (l *StreamListener) Stats() FrameStats {
	return FrameStats{
		FirstFrames: l.firstFrames.Load(),
		Pushed:      l.pushed.Load(),
		Rejected:    l.rejected.Load(),
	}
}

func (l *StreamListener) fatal(err error) {
	if l.onFatal != nil {
		l.onFatal(err)
	}
}
