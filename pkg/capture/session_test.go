package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testFormat = StreamFormat{Width: 64, Height: 48, Encoding: EncodingYUV420}

// recordingListener records every StreamListener call.
type recordingListener struct {
	mu      sync.Mutex
	started int
	stopped int
	formats []StreamFormat
	seqs    []uint64

	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (l *recordingListener) StreamStarted(format StreamFormat, id DeviceIdentity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
	l.formats = append(l.formats, format)
}

func (l *recordingListener) StreamFrame(buf *FrameBuffer) {
	if l.inFlight.Add(1) > 1 {
		l.overlaps.Add(1)
	}
	defer l.inFlight.Add(-1)

	l.mu.Lock()
	l.seqs = append(l.seqs, buf.Seq)
	l.mu.Unlock()
}

func (l *recordingListener) StreamStopped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped++
}

func (l *recordingListener) counts() (started, stopped, frames int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started, l.stopped, len(l.seqs)
}

// transitionLog collects transitions reported by the session hook.
type transitionLog struct {
	mu  sync.Mutex
	log []Transition
}

func (tl *transitionLog) record(tr Transition) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.log = append(tl.log, tr)
}

func (tl *transitionLog) states() []SessionState {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]SessionState, 0, len(tl.log)+1)
	if len(tl.log) > 0 {
		out = append(out, tl.log[0].From)
	}
	for _, tr := range tl.log {
		out = append(out, tr.To)
	}
	return out
}

func (tl *transitionLog) assertLegal(t *testing.T) {
	t.Helper()
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, tr := range tl.log {
		if !CanTransition(tr.From, tr.To) {
			t.Errorf("Illegal transition %s -> %s", tr.From, tr.To)
		}
	}
}

func assertStates(t *testing.T, got []SessionState, want ...SessionState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("States %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("States %v, want %v", got, want)
		}
	}
}

type sessionFixture struct {
	driver   *MockDriver
	session  *Session
	listener *recordingListener
	trans    *transitionLog

	mu       sync.Mutex
	failures []error
}

func newFixture(t *testing.T, opts ...MockDriverOption) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		driver:   NewMockDriver(opts...),
		listener: &recordingListener{},
		trans:    &transitionLog{},
	}
	f.session = NewSession(f.driver,
		WithTransitionHook(f.trans.record),
		WithFailureHandler(func(err error) {
			f.mu.Lock()
			f.failures = append(f.failures, err)
			f.mu.Unlock()
		}),
	)
	if err := f.session.Bind(f.listener); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	return f
}

func (f *sessionFixture) failureList() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.failures...)
}

func TestSession_HappyPath(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	if err := f.session.Open(DeviceIdentity{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if f.session.State() != StateOpening {
		t.Fatalf("Expected opening, got %s", f.session.State())
	}

	h, ok := f.driver.CompleteOpen(nil)
	if !ok || h == nil {
		t.Fatal("CompleteOpen returned no handle")
	}
	if f.session.State() != StateOpenNoSession {
		t.Fatalf("Expected open_no_session, got %s", f.session.State())
	}

	if err := f.session.Configure(testFormat); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if !h.CompleteConfigure(nil) {
		t.Fatal("No configure pending")
	}
	if f.session.State() != StateStreaming {
		t.Fatalf("Expected streaming, got %s", f.session.State())
	}

	if n := h.Emit(1); n != 1 {
		t.Fatalf("Emit published %d frames", n)
	}
	waitFor(t, "frame delivery", func() bool {
		_, _, frames := f.listener.counts()
		return frames == 1
	})

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	assertStates(t, f.trans.states(),
		StateClosed, StateOpening, StateOpenNoSession, StateSessionConfiguring,
		StateStreaming, StateClosing, StateClosed)
	f.trans.assertLegal(t)

	started, stopped, _ := f.listener.counts()
	if started != 1 || stopped != 1 {
		t.Errorf("started=%d stopped=%d, want 1/1", started, stopped)
	}
	if f.listener.formats[0] != testFormat {
		t.Errorf("Started with %v, want %v", f.listener.formats[0], testFormat)
	}
	if st := f.driver.Stats(); st.Closes != 1 {
		t.Errorf("Expected 1 device close, got %d", st.Closes)
	}
	if f.session.Stats().Releases != 1 {
		t.Errorf("Expected 1 release, got %d", f.session.Stats().Releases)
	}
	if f.driver.Outstanding() != 0 {
		t.Errorf("Expected all frames released, %d outstanding", f.driver.Outstanding())
	}
}

func TestSession_CloseDuringConfigure(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	if err := f.session.Start(DeviceIdentity{}, testFormat); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h, _ := f.driver.CompleteOpen(nil)
	if f.session.State() != StateSessionConfiguring {
		t.Fatalf("Expected session_configuring, got %s", f.session.State())
	}

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The configure result arrives after Close and must be discarded.
	h.CompleteConfigure(nil)

	if f.session.State() != StateClosed {
		t.Errorf("Expected closed, got %s", f.session.State())
	}
	started, stopped, _ := f.listener.counts()
	if started != 0 {
		t.Errorf("StreamStarted called %d times after close", started)
	}
	if stopped != 1 {
		t.Errorf("StreamStopped called %d times, want 1", stopped)
	}
	if f.session.Stats().Releases != 1 || f.driver.Stats().Closes != 1 {
		t.Errorf("Expected exactly one release, stats %+v / %+v", f.session.Stats(), f.driver.Stats())
	}
	if h.Emit(1) != 0 {
		t.Error("Closed handle still published frames")
	}
	f.trans.assertLegal(t)
}

func TestSession_CloseDuringOpen(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	if err := f.session.Open(DeviceIdentity{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := f.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	assertStates(t, f.trans.states(), StateClosed, StateOpening, StateClosing, StateClosed)

	// Device-ready arrives late. The handle is closed, not adopted.
	h, _ := f.driver.CompleteOpen(nil)
	if h == nil {
		t.Fatal("Expected a handle from the late open")
	}
	if !h.Closed() {
		t.Error("Late handle was leaked")
	}
	if f.session.State() != StateClosed {
		t.Errorf("Expected closed, got %s", f.session.State())
	}
	if got := f.driver.Stats().Closes; got != 1 {
		t.Errorf("Expected 1 device close, got %d", got)
	}
	if got := f.session.Stats().Releases; got != 0 {
		t.Errorf("Session released %d handles it never owned", got)
	}
}

func TestSession_StaleErrorAfterReopen(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	_ = f.session.Open(DeviceIdentity{})
	first, _ := f.driver.CompleteOpen(nil)
	_ = f.session.Close()

	_ = f.session.Open(DeviceIdentity{})
	if _, ok := f.driver.CompleteOpen(nil); !ok {
		t.Fatal("Second open not pending")
	}

	// An error from the first epoch must not fail the new session.
	first.Lose(errors.New("usb reset"))

	if f.session.State() != StateOpenNoSession {
		t.Errorf("Expected open_no_session, got %s", f.session.State())
	}
	if len(f.failureList()) != 0 {
		t.Errorf("Stale error surfaced: %v", f.failureList())
	}
}

func TestSession_DeviceLostWhileStreaming(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	_ = f.session.Start(DeviceIdentity{}, testFormat)
	h, _ := f.driver.CompleteOpen(nil)
	h.CompleteConfigure(nil)

	h.Lose(errors.New("cable pulled"))

	if f.session.State() != StateFailed {
		t.Fatalf("Expected failed, got %s", f.session.State())
	}
	failures := f.failureList()
	if len(failures) != 1 || !errors.Is(failures[0], ErrDeviceUnavailable) {
		t.Fatalf("Failures = %v, want one ErrDeviceUnavailable", failures)
	}
	if !errors.Is(f.session.Err(), ErrDeviceUnavailable) {
		t.Errorf("Err() = %v", f.session.Err())
	}

	// Frames published in Failed are never delivered.
	h.Emit(3)
	time.Sleep(10 * time.Millisecond)
	if _, _, frames := f.listener.counts(); frames != 0 {
		t.Errorf("Delivered %d frames after failure", frames)
	}

	if err := f.session.Open(DeviceIdentity{}); !errors.Is(err, ErrSessionFailed) {
		t.Errorf("Open in failed = %v, want ErrSessionFailed", err)
	}

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	assertStates(t, f.trans.states(),
		StateClosed, StateOpening, StateOpenNoSession, StateSessionConfiguring,
		StateStreaming, StateFailed, StateClosing, StateClosed)
	f.trans.assertLegal(t)

	if f.driver.Stats().Closes != 1 {
		t.Errorf("Expected 1 device close, got %d", f.driver.Stats().Closes)
	}
	if f.driver.Outstanding() != 0 {
		t.Errorf("%d frames never released", f.driver.Outstanding())
	}

	// A failed session can be reopened after Close.
	if err := f.session.Open(DeviceIdentity{}); err != nil {
		t.Errorf("Reopen failed: %v", err)
	}
}

func TestSession_OpenFailure(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	_ = f.session.Open(DeviceIdentity{})
	f.driver.CompleteOpen(errors.New("camera in use"))

	if f.session.State() != StateFailed {
		t.Fatalf("Expected failed, got %s", f.session.State())
	}
	if failures := f.failureList(); len(failures) != 1 || !errors.Is(failures[0], ErrDeviceUnavailable) {
		t.Errorf("Failures = %v", failures)
	}
	_ = f.session.Close()
	if f.session.Stats().Releases != 0 {
		t.Error("Released a handle that never opened")
	}
}

func TestSession_NoSuchDevice(t *testing.T) {
	f := newFixture(t, WithManualCompletion(), WithDevices(1))

	_ = f.session.Open(DeviceIdentity{Index: 3})
	f.driver.CompleteOpen(nil)

	failures := f.failureList()
	if len(failures) != 1 || !errors.Is(failures[0], ErrNoSuchDevice) {
		t.Errorf("Failures = %v, want ErrNoSuchDevice", failures)
	}
}

func TestSession_ConfigureRejected(t *testing.T) {
	f := newFixture(t, WithManualCompletion(), WithEncodings(EncodingNV21))

	_ = f.session.Start(DeviceIdentity{}, testFormat)
	h, _ := f.driver.CompleteOpen(nil)
	h.CompleteConfigure(nil)

	if f.session.State() != StateFailed {
		t.Fatalf("Expected failed, got %s", f.session.State())
	}
	if failures := f.failureList(); len(failures) != 1 || !errors.Is(failures[0], ErrConfigurationRejected) {
		t.Errorf("Failures = %v, want ErrConfigurationRejected", failures)
	}
	if started, _, _ := f.listener.counts(); started != 0 {
		t.Error("StreamStarted called for rejected configuration")
	}

	_ = f.session.Close()
	if f.driver.Stats().Closes != 1 {
		t.Errorf("Expected 1 device close, got %d", f.driver.Stats().Closes)
	}
}

func TestSession_InvalidOperations(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	if err := f.session.Configure(testFormat); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Configure in closed = %v, want ErrInvalidTransition", err)
	}

	var te *TransitionError
	_ = f.session.Open(DeviceIdentity{})
	if err := f.session.Configure(testFormat); !errors.As(err, &te) || te.State != StateOpening {
		t.Errorf("Configure in opening = %v", err)
	}

	if err := f.session.Bind(&recordingListener{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Bind while opening = %v, want ErrInvalidTransition", err)
	}

	if err := f.session.Configure(StreamFormat{}); !errors.Is(err, ErrConfigurationRejected) {
		t.Errorf("Configure with empty format = %v", err)
	}
	if err := f.session.Start(DeviceIdentity{}, StreamFormat{Width: 1}); !errors.Is(err, ErrConfigurationRejected) {
		t.Errorf("Start with bad format = %v", err)
	}

	// Closing twice is a no-op.
	_ = f.session.Close()
	if err := f.session.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestSession_RedundantOpen(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	_ = f.session.Open(DeviceIdentity{})
	if err := f.session.Open(DeviceIdentity{Index: 0}); err != nil {
		t.Errorf("Redundant Open failed: %v", err)
	}
	if got := f.driver.Stats().Opens; got != 1 {
		t.Errorf("Driver opened %d times, want 1", got)
	}

	f.driver.CompleteOpen(nil)
	if err := f.session.Start(DeviceIdentity{}, testFormat); err != nil {
		t.Errorf("Start while open failed: %v", err)
	}
	if f.session.State() != StateOpenNoSession {
		t.Errorf("Redundant Start changed state to %s", f.session.State())
	}
}

func TestSession_PermissionDenied(t *testing.T) {
	granted := false
	drv := NewMockDriver(WithManualCompletion())
	s := NewSession(drv, WithAccessCheck(func() bool { return granted }))
	_ = s.Bind(&recordingListener{})

	if err := s.Open(DeviceIdentity{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Open without access = %v, want ErrPermissionDenied", err)
	}
	if s.State() != StateClosed {
		t.Errorf("Expected closed, got %s", s.State())
	}
	if drv.Stats().Opens != 0 {
		t.Error("Driver was opened without access")
	}

	granted = true
	if err := s.Open(DeviceIdentity{}); err != nil {
		t.Errorf("Open with access failed: %v", err)
	}
}

func TestSession_NoListener(t *testing.T) {
	s := NewSession(NewMockDriver())
	if err := s.Open(DeviceIdentity{}); !errors.Is(err, ErrNoListener) {
		t.Errorf("Open without listener = %v, want ErrNoListener", err)
	}
}

func TestSession_StreamingAutoDriver(t *testing.T) {
	f := newFixture(t, WithFrameInterval(time.Millisecond), WithOpenDelay(2*time.Millisecond))

	if err := f.session.Start(DeviceIdentity{}, StreamFormat{Width: 32, Height: 24, Encoding: EncodingRGBA}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "streaming frames", func() bool {
		_, _, frames := f.listener.counts()
		return frames >= 20
	})
	if err := f.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if f.listener.overlaps.Load() != 0 {
		t.Errorf("StreamFrame re-entered %d times", f.listener.overlaps.Load())
	}

	f.listener.mu.Lock()
	seqs := append([]uint64(nil), f.listener.seqs...)
	f.listener.mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		if seqs[i] < seqs[i-1] {
			t.Fatalf("Out-of-order delivery at %d: %v", i, seqs[i-1:i+1])
		}
	}

	// No frames are delivered after Close returns.
	_, _, before := f.listener.counts()
	time.Sleep(10 * time.Millisecond)
	if _, _, after := f.listener.counts(); after != before {
		t.Errorf("Delivered %d frames after Close", after-before)
	}

	if f.driver.Outstanding() != 0 {
		t.Errorf("%d frames never released", f.driver.Outstanding())
	}
	st := f.session.Stats()
	if st.Delivered == 0 || st.Delivered+st.Dropped != uint64(f.driver.Stats().Published) {
		t.Errorf("Stats %+v do not account for %d published frames", st, f.driver.Stats().Published)
	}
	f.trans.assertLegal(t)
}

func TestSession_RapidStartStop(t *testing.T) {
	f := newFixture(t, WithFrameInterval(time.Millisecond))

	for i := 0; i < 50; i++ {
		if err := f.session.Start(DeviceIdentity{}, testFormat); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		if i%3 == 0 {
			time.Sleep(time.Millisecond)
		}
		if err := f.session.Close(); err != nil {
			t.Fatalf("Close %d failed: %v", i, err)
		}
	}

	// Late device-ready callbacks close their own handles.
	waitFor(t, "all handles closed", func() bool {
		st := f.driver.Stats()
		return st.Opens == 50 && st.Closes == int64(len(f.driver.Handles()))
	})
	if f.session.State() != StateClosed {
		t.Errorf("Expected closed, got %s", f.session.State())
	}
	waitFor(t, "frames released", func() bool { return f.driver.Outstanding() == 0 })

	_, stopped, _ := f.listener.counts()
	if stopped != 50 {
		t.Errorf("StreamStopped called %d times, want 50", stopped)
	}
	f.trans.assertLegal(t)
}

func TestSession_SpuriousWakeSkipped(t *testing.T) {
	f := newFixture(t, WithManualCompletion())

	_ = f.session.Start(DeviceIdentity{}, testFormat)
	h, _ := f.driver.CompleteOpen(nil)
	h.CompleteConfigure(nil)

	f.session.mu.Lock()
	ch := f.session.channel
	f.session.mu.Unlock()
	ch.wake()

	waitFor(t, "skipped wake", func() bool { return f.session.Stats().Skipped == 1 })
	if _, _, frames := f.listener.counts(); frames != 0 {
		t.Errorf("Listener saw %d frames on a spurious wake", frames)
	}
	_ = f.session.Close()
}

// joiningDriver hands out handles whose Close waits for their own pending
// callbacks, the way a real backend joins its worker goroutines.
type joiningDriver struct {
	configureDelay time.Duration
	lose           bool
}

func (d *joiningDriver) Name() string { return "joining" }

func (d *joiningDriver) Open(id DeviceIdentity, cb DeviceCallbacks) {
	go cb.Opened(&joiningHandle{driver: d, cb: cb})
}

type joiningHandle struct {
	driver *joiningDriver
	cb     DeviceCallbacks
	wg     sync.WaitGroup
}

func (h *joiningHandle) Configure(format StreamFormat, sink FrameSink, done func(err error)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		time.Sleep(h.driver.configureDelay)
		if h.driver.lose {
			h.cb.Error(errors.New("read failed"))
			return
		}
		done(nil)
	}()
}

func (h *joiningHandle) Close() error {
	h.wg.Wait()
	return nil
}

func closeWithin(t *testing.T, s *Session, d time.Duration) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Close() }()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(d):
		t.Errorf("Close blocked (state=%s)", s.State())
	}
}

func TestSession_CloseJoinsPendingConfigure(t *testing.T) {
	for _, lose := range []bool{false, true} {
		driver := &joiningDriver{configureDelay: 50 * time.Millisecond, lose: lose}
		listener := &recordingListener{}
		var failures atomic.Int32
		s := NewSession(driver, WithFailureHandler(func(error) { failures.Add(1) }))
		if err := s.Bind(listener); err != nil {
			t.Fatal(err)
		}

		if err := s.Start(DeviceIdentity{}, testFormat); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		waitFor(t, "configuring", func() bool { return s.State() == StateSessionConfiguring })

		closeWithin(t, s, 2*time.Second)
		if t.Failed() {
			return
		}

		if s.State() != StateClosed {
			t.Errorf("lose=%v: state %s, want closed", lose, s.State())
		}
		if started, stopped, _ := listener.counts(); started != 0 || stopped != 1 {
			t.Errorf("lose=%v: started=%d stopped=%d, want 0/1", lose, started, stopped)
		}
		if failures.Load() != 0 {
			t.Errorf("lose=%v: late callback reported %d failures", lose, failures.Load())
		}
		if s.Stats().Releases != 1 {
			t.Errorf("lose=%v: releases=%d, want 1", lose, s.Stats().Releases)
		}
	}
}

func TestSession_ConcurrentCloseWaits(t *testing.T) {
	driver := &joiningDriver{configureDelay: 50 * time.Millisecond}
	s := NewSession(driver)
	if err := s.Bind(&recordingListener{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(DeviceIdentity{}, testFormat); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "configuring", func() bool { return s.State() == StateSessionConfiguring })

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			closeWithin(t, s, 2*time.Second)
			if s.State() != StateClosed {
				t.Errorf("Close returned in state %s", s.State())
			}
		}()
	}
	wg.Wait()

	if s.Stats().Releases != 1 {
		t.Errorf("releases=%d, want 1", s.Stats().Releases)
	}
}
