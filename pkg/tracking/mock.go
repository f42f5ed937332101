package tracking

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/teslashibe/go-arx/pkg/capture"
)

// MockEngine is a tracking engine for testing.
// Every accepted frame makes every registered trackable visible at a fixed
// pose one unit in front of the camera.
type MockEngine struct {
	logger   *slog.Logger
	registry *Registry

	mu          sync.Mutex
	initialized bool
	running     bool
	resourceDir string
	calls       []string
	starts      []StreamConfig
	pushed      int
	rejected    int
	lastSeq     uint64

	initErr     error
	startErr    error
	rejectAll   bool
	rejectEvery int
	pushDelay   time.Duration
}

// MockEngineOption configures a MockEngine.
type MockEngineOption func(*MockEngine)

// WithInitializeError makes Initialize fail.
func WithInitializeError(err error) MockEngineOption {
	return func(m *MockEngine) {
		m.initErr = err
	}
}

// WithStartError makes Start fail.
func WithStartError(err error) MockEngineOption {
	return func(m *MockEngine) {
		m.startErr = err
	}
}

// WithRejectEvery rejects every n-th pushed frame.
func WithRejectEvery(n int) MockEngineOption {
	return func(m *MockEngine) {
		m.rejectEvery = n
	}
}

// WithPushDelay makes every PushFrame take at least d.
func WithPushDelay(d time.Duration) MockEngineOption {
	return func(m *MockEngine) {
		m.pushDelay = d
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) MockEngineOption {
	return func(m *MockEngine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMockEngine creates a new mock engine.
func NewMockEngine(opts ...MockEngineOption) *MockEngine {
	m := &MockEngine{
		logger:   slog.Default(),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns "mock".
func (m *MockEngine) Name() string {
	return "mock"
}

// Initialize implements Engine.
func (m *MockEngine) Initialize(resourceDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "initialize")
	if m.initErr != nil {
		return m.initErr
	}
	m.initialized = true
	m.resourceDir = resourceDir
	return nil
}

// Start implements Engine.
func (m *MockEngine) Start(cfg StreamConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "start")
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	m.starts = append(m.starts, cfg)
	m.logger.Debug("mock engine started", "video_config", cfg.VideoConfig())
	return nil
}

// PushFrame implements Engine.
func (m *MockEngine) PushFrame(buf *capture.FrameBuffer) error {
	if m.pushDelay > 0 {
		time.Sleep(m.pushDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrNotRunning
	}
	if err := buf.Validate(); err != nil {
		m.rejected++
		return fmt.Errorf("%w: %v", ErrFrameRejected, err)
	}
	m.pushed++
	if m.rejectAll || (m.rejectEvery > 0 && m.pushed%m.rejectEvery == 0) {
		m.rejected++
		return fmt.Errorf("%w: seq %d", ErrFrameRejected, buf.Seq)
	}
	m.lastSeq = buf.Seq
	for _, id := range m.registry.IDs() {
		m.registry.Observe(id, Translation(0, 0, -1))
	}
	return nil
}

// AddTrackable implements Engine.
func (m *MockEngine) AddTrackable(config string) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "add_trackable")
	m.mu.Unlock()
	return m.registry.Add(config), nil
}

// RemoveTrackable implements Engine.
func (m *MockEngine) RemoveTrackable(id int) error {
	if !m.registry.Remove(id) {
		return fmt.Errorf("%w: %d", ErrUnknownTrackable, id)
	}
	return nil
}

// QueryPose implements Engine.
func (m *MockEngine) QueryPose(id int) (Matrix4, bool) {
	return m.registry.Visible(id)
}

// ProjectionMatrix implements Engine using the most recent stream geometry.
func (m *MockEngine) ProjectionMatrix(near, far float32) (Matrix4, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || len(m.starts) == 0 {
		return Matrix4{}, ErrNotRunning
	}
	return m.starts[len(m.starts)-1].Projection(near, far)
}

// Running implements Engine.
func (m *MockEngine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stop implements Engine.
func (m *MockEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "stop")
	m.running = false
	m.registry.Hide()
	return nil
}

// Shutdown implements Engine.
func (m *MockEngine) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "shutdown")
	m.running = false
	m.initialized = false
	m.registry.RemoveAll()
	return nil
}

// SetRejectAll makes every subsequent push fail (or succeed again).
func (m *MockEngine) SetRejectAll(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectAll = reject
}

// Calls returns the lifecycle calls in order.
func (m *MockEngine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Starts returns every StreamConfig passed to Start.
func (m *MockEngine) Starts() []StreamConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.starts)
}

// Counts returns the number of pushed and rejected frames.
func (m *MockEngine) Counts() (pushed, rejected int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushed, m.rejected
}

// Initialized reports whether the engine is initialized.
func (m *MockEngine) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// ResourceDir returns the directory passed to Initialize.
func (m *MockEngine) ResourceDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resourceDir
}
