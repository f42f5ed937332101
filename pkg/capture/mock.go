package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoSuchDevice is reported by MockDriver for an index it does not have.
var ErrNoSuchDevice = errors.New("mock: no such device")

// MockDriver is a capture driver for testing.
// It produces synthetic frames at a fixed rate, or under test control when
// manual completion is enabled.
type MockDriver struct {
	logger        *slog.Logger
	devices       int
	openDelay     time.Duration
	frameInterval time.Duration
	openErr       error
	configureErr  error
	encodings     []PixelEncoding
	manual        bool

	mu      sync.Mutex
	pending []mockOpen
	handles []*MockHandle

	// Stats
	opens     atomic.Int64
	closes    atomic.Int64
	published atomic.Int64
	released  atomic.Int64
}

type mockOpen struct {
	id DeviceIdentity
	cb DeviceCallbacks
}

// MockStats is a snapshot of MockDriver counters.
type MockStats struct {
	Opens     int64
	Closes    int64
	Published int64
	Released  int64
}

// MockDriverOption configures a MockDriver.
type MockDriverOption func(*MockDriver)

// WithDriverLogger sets the driver logger.
func WithDriverLogger(logger *slog.Logger) MockDriverOption {
	return func(d *MockDriver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDevices sets how many devices the mock exposes per facing.
func WithDevices(n int) MockDriverOption {
	return func(d *MockDriver) {
		d.devices = n
	}
}

// WithOpenDelay delays every device-ready callback.
func WithOpenDelay(delay time.Duration) MockDriverOption {
	return func(d *MockDriver) {
		d.openDelay = delay
	}
}

// WithFrameInterval sets the synthetic frame period.
func WithFrameInterval(interval time.Duration) MockDriverOption {
	return func(d *MockDriver) {
		d.frameInterval = interval
	}
}

// WithOpenError makes every open fail with err.
func WithOpenError(err error) MockDriverOption {
	return func(d *MockDriver) {
		d.openErr = err
	}
}

// WithConfigureError makes every configure fail with err.
func WithConfigureError(err error) MockDriverOption {
	return func(d *MockDriver) {
		d.configureErr = err
	}
}

// WithEncodings restricts the encodings the mock accepts.
func WithEncodings(encodings ...PixelEncoding) MockDriverOption {
	return func(d *MockDriver) {
		d.encodings = encodings
	}
}

// WithManualCompletion stops the mock from completing opens and configures
// on its own. Tests drive them with CompleteOpen and CompleteConfigure, and
// inject frames with Emit.
func WithManualCompletion() MockDriverOption {
	return func(d *MockDriver) {
		d.manual = true
	}
}

// NewMockDriver creates a new mock capture driver.
func NewMockDriver(opts ...MockDriverOption) *MockDriver {
	d := &MockDriver{
		logger:        slog.Default(),
		devices:       1,
		frameInterval: 33 * time.Millisecond,
		encodings:     Encodings(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns "mock".
func (d *MockDriver) Name() string {
	return "mock"
}

// Open implements Driver.
func (d *MockDriver) Open(id DeviceIdentity, cb DeviceCallbacks) {
	d.opens.Add(1)
	op := mockOpen{id: id, cb: cb}

	if d.manual {
		d.mu.Lock()
		d.pending = append(d.pending, op)
		d.mu.Unlock()
		return
	}

	go func() {
		if d.openDelay > 0 {
			time.Sleep(d.openDelay)
		}
		d.finishOpen(op, d.openErr)
	}()
}

// PendingOpens returns how many opens wait for CompleteOpen.
func (d *MockDriver) PendingOpens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// CompleteOpen finishes the oldest pending open on the calling goroutine.
// A nil err reports device-ready and returns the new handle.
func (d *MockDriver) CompleteOpen(err error) (*MockHandle, bool) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return nil, false
	}
	op := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()

	return d.finishOpen(op, err), true
}

func (d *MockDriver) finishOpen(op mockOpen, err error) *MockHandle {
	if err == nil && (op.id.Index < 0 || op.id.Index >= d.devices) {
		err = fmt.Errorf("%w: %s", ErrNoSuchDevice, op.id)
	}
	if err != nil {
		d.logger.Debug("mock open failed", "device", op.id.String(), "error", err)
		op.cb.Error(err)
		return nil
	}

	h := &MockHandle{driver: d, id: op.id, cb: op.cb}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()

	op.cb.Opened(h)
	return h
}

// Handles returns every handle the driver has opened, in order.
func (d *MockDriver) Handles() []*MockHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.handles)
}

// Stats returns driver counters.
func (d *MockDriver) Stats() MockStats {
	return MockStats{
		Opens:     d.opens.Load(),
		Closes:    d.closes.Load(),
		Published: d.published.Load(),
		Released:  d.released.Load(),
	}
}

// Outstanding returns the number of published frames not yet released.
func (d *MockDriver) Outstanding() int64 {
	return d.published.Load() - d.released.Load()
}

// MockHandle is an open mock device.
type MockHandle struct {
	driver *MockDriver
	id     DeviceIdentity
	cb     DeviceCallbacks

	mu        sync.Mutex
	format    StreamFormat
	sink      FrameSink
	done      func(error)
	closed    bool
	producing bool
	seq       uint64
	stopCh    chan struct{}
	wg        sync.WaitGroup
	pool      sync.Pool
}

// Configure implements Handle.
func (h *MockHandle) Configure(format StreamFormat, sink FrameSink, done func(err error)) {
	h.mu.Lock()
	h.format = format
	h.sink = sink
	if h.driver.manual {
		h.done = done
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	go func() {
		err := h.driver.check(format)
		done(err)
		if err == nil {
			h.startProducing()
		}
	}()
}

func (d *MockDriver) check(format StreamFormat) error {
	if d.configureErr != nil {
		return d.configureErr
	}
	if !slices.Contains(d.encodings, format.Encoding) {
		return fmt.Errorf("mock: encoding %s not supported", format.Encoding)
	}
	return nil
}

// CompleteConfigure finishes a pending configure on the calling goroutine.
// A nil err still fails when the driver would reject the format.
func (h *MockHandle) CompleteConfigure(err error) bool {
	h.mu.Lock()
	done := h.done
	h.done = nil
	format := h.format
	h.mu.Unlock()

	if done == nil {
		return false
	}
	if err == nil {
		err = h.driver.check(format)
	}
	done(err)
	return true
}

// Lose reports the device as disconnected.
func (h *MockHandle) Lose(err error) {
	if err == nil {
		err = errors.New("mock: device disconnected")
	}
	h.cb.Error(err)
}

// Emit publishes n consecutive frames. It returns the number published.
func (h *MockHandle) Emit(n int) int {
	sent := 0
	for i := 0; i < n; i++ {
		h.mu.Lock()
		if h.closed || h.sink == nil {
			h.mu.Unlock()
			break
		}
		h.seq++
		h.publishLocked(h.seq)
		h.mu.Unlock()
		sent++
	}
	return sent
}

// EmitSeq publishes a single frame with an explicit sequence number.
func (h *MockHandle) EmitSeq(seq uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.sink == nil {
		return false
	}
	h.publishLocked(seq)
	return true
}

func (h *MockHandle) publishLocked(seq uint64) {
	planes := h.framePlanes(seq)
	d := h.driver
	d.published.Add(1)
	buf := NewFrameBuffer(seq, time.Now(), planes, func() {
		for _, p := range planes {
			data := p.Data
			h.pool.Put(&data)
		}
		d.released.Add(1)
	})
	h.sink.Publish(buf)
}

// framePlanes lays out one synthetic frame. Every byte of the first plane
// carries the low byte of seq.
func (h *MockHandle) framePlanes(seq uint64) []Plane {
	w, ht := h.format.Width, h.format.Height
	alloc := func(n int) []byte {
		if p, ok := h.pool.Get().(*[]byte); ok && cap(*p) >= n {
			return (*p)[:n]
		}
		return make([]byte, n)
	}

	var planes []Plane
	switch h.format.Encoding {
	case EncodingYUV420:
		cw, ch := (w+1)/2, (ht+1)/2
		planes = []Plane{
			{Data: alloc(w * ht), PixelStride: 1, RowStride: w},
			{Data: alloc(cw * ch), PixelStride: 1, RowStride: cw},
			{Data: alloc(cw * ch), PixelStride: 1, RowStride: cw},
		}
	case EncodingNV21, EncodingNV12:
		cw, ch := (w+1)/2, (ht+1)/2
		planes = []Plane{
			{Data: alloc(w * ht), PixelStride: 1, RowStride: w},
			{Data: alloc(cw * ch * 2), PixelStride: 2, RowStride: cw * 2},
		}
	case EncodingRGBA:
		planes = []Plane{{Data: alloc(w * ht * 4), PixelStride: 4, RowStride: w * 4}}
	case EncodingRGB565:
		planes = []Plane{{Data: alloc(w * ht * 2), PixelStride: 2, RowStride: w * 2}}
	default:
		planes = []Plane{{Data: alloc(w * ht), PixelStride: 1, RowStride: w}}
	}

	fill := byte(seq)
	for i := range planes[0].Data {
		planes[0].Data[i] = fill
	}
	return planes
}

func (h *MockHandle) startProducing() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.producing {
		return
	}
	h.producing = true
	h.stopCh = make(chan struct{})
	h.wg.Add(1)
	go h.produceLoop(h.stopCh)
}

func (h *MockHandle) produceLoop(stop <-chan struct{}) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.driver.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.Emit(1)
		}
	}
}

// Close implements Handle. It waits for the producer goroutine to exit.
func (h *MockHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	stop := h.stopCh
	h.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	h.wg.Wait()

	h.driver.closes.Add(1)
	h.driver.logger.Debug("mock device closed", "device", h.id.String())
	return nil
}

// Closed reports whether Close has been called.
func (h *MockHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
