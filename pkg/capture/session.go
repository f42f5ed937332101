package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrNoListener is returned by Open when no StreamListener has been bound.
var ErrNoListener = errors.New("capture: no stream listener bound")

// SessionStats is a snapshot of session counters.
type SessionStats struct {
	State     SessionState `json:"state"`
	Epoch     uint64       `json:"epoch"`
	SessionID string       `json:"session_id,omitempty"`
	Device    string       `json:"device,omitempty"`
	Format    string       `json:"format,omitempty"`
	Releases  uint64       `json:"releases"`
	ChannelStats
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAccessCheck installs the permission check consulted before leaving Closed.
func WithAccessCheck(hasAccess func() bool) SessionOption {
	return func(s *Session) {
		s.hasAccess = hasAccess
	}
}

// WithTransitionHook registers fn to observe every state change. fn runs
// with the session lock held and must not call back into the Session.
func WithTransitionHook(fn func(Transition)) SessionOption {
	return func(s *Session) {
		s.onTransition = fn
	}
}

// WithFailureHandler registers fn to receive each failure once. fn runs on
// the device-callback context after the session lock has been released.
func WithFailureHandler(fn func(error)) SessionOption {
	return func(s *Session) {
		s.onFailure = fn
	}
}

// Session drives one capture device through
// open -> configure -> stream -> close.
//
// All state changes happen under a single mutex. Every asynchronous driver
// callback carries the epoch it was issued under; Close and Open bump the
// epoch, so a callback that arrives late finds a mismatch and is discarded.
type Session struct {
	driver       Driver
	logger       *slog.Logger
	hasAccess    func() bool
	onTransition func(Transition)
	onFailure    func(error)

	mu            sync.Mutex
	state         SessionState
	epoch         uint64
	id            string
	device        DeviceIdentity
	format        StreamFormat
	pendingFormat *StreamFormat
	handle        Handle
	listener      StreamListener
	channel       *frameChannel
	lastErr       error
	totals        ChannelStats
	closing       chan struct{} // closed when an in-progress Close ends

	view     atomic.Int32
	releases atomic.Uint64
}

// NewSession creates a closed session on top of driver.
func NewSession(driver Driver, opts ...SessionOption) *Session {
	s := &Session{
		driver: driver,
		logger: slog.Default(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("driver", driver.Name())
	return s
}

// Bind attaches the listener for the next stream. The session must be closed.
func (s *Session) Bind(l StreamListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		return &TransitionError{Op: "bind", State: s.state}
	}
	s.listener = l
	return nil
}

// Open starts opening the device. It is a no-op while the session is already
// opening, open or streaming.
func (s *Session) Open(id DeviceIdentity) error {
	return s.open(id, nil)
}

// Start opens the device and configures format as soon as it is ready.
func (s *Session) Start(id DeviceIdentity, format StreamFormat) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationRejected, err)
	}
	return s.open(id, &format)
}

func (s *Session) open(id DeviceIdentity, format *StreamFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpening, StateOpenNoSession, StateSessionConfiguring, StateStreaming:
		s.logger.Info("redundant open ignored",
			"state", s.state,
			"session_id", s.id,
			"device", s.device.String(),
			"requested", id.String(),
		)
		return nil
	case StateFailed:
		return fmt.Errorf("%w (last error: %v)", ErrSessionFailed, s.lastErr)
	case StateClosing:
		return &TransitionError{Op: "open", State: s.state}
	}

	if s.hasAccess != nil && !s.hasAccess() {
		return ErrPermissionDenied
	}
	if s.listener == nil {
		return ErrNoListener
	}

	s.epoch++
	epoch := s.epoch
	s.id = uuid.NewString()
	s.device = id
	s.format = StreamFormat{}
	s.pendingFormat = format
	s.lastErr = nil
	s.setState(StateOpening)

	s.logger.Info("opening capture device", "session_id", s.id, "device", id.String(), "epoch", epoch)

	s.driver.Open(id, DeviceCallbacks{
		Opened: func(h Handle) { s.deviceReady(epoch, h) },
		Error:  func(err error) { s.deviceError(epoch, err) },
	})
	return nil
}

// Configure creates the capture session for format. Only legal while the
// device is open without a session.
func (s *Session) Configure(format StreamFormat) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationRejected, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpenNoSession {
		return &TransitionError{Op: "configure", State: s.state}
	}
	s.configureLocked(format)
	return nil
}

func (s *Session) configureLocked(format StreamFormat) {
	epoch := s.epoch
	ch := newFrameChannel(s.listener.StreamFrame, s.logger)

	s.format = format
	s.channel = ch
	s.setState(StateSessionConfiguring)

	s.handle.Configure(format, ch, func(err error) { s.configured(epoch, ch, err) })
}

// Close tears the session down from any state. Closing an already closed
// session is a no-op. The device handle is released exactly once, outside the
// session lock, so a handle may wait for its own pending callbacks. A Close
// that finds another Close in progress waits for it to finish.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil
	case StateClosing:
		done := s.closing
		s.mu.Unlock()
		<-done
		return nil
	}

	s.epoch++
	s.stopChannelLocked()
	s.setState(StateClosing)
	h := s.handle
	s.handle = nil
	s.pendingFormat = nil
	done := make(chan struct{})
	s.closing = done
	s.mu.Unlock()

	var closeErr error
	if h != nil {
		closeErr = h.Close()
		s.releases.Add(1)
	}

	s.mu.Lock()
	if s.listener != nil {
		s.listener.StreamStopped()
	}
	s.setState(StateClosed)
	s.closing = nil
	close(done)
	s.logger.Info("capture session closed", "session_id", s.id, "epoch", s.epoch)
	s.mu.Unlock()

	if closeErr != nil {
		return fmt.Errorf("capture: release device %s: %w", s.device, closeErr)
	}
	return nil
}

func (s *Session) deviceReady(epoch uint64, h Handle) {
	s.mu.Lock()
	if epoch != s.epoch || s.state != StateOpening {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("discarding stale device-ready", "epoch", epoch, "state", state)
		if h != nil {
			if err := h.Close(); err != nil {
				s.logger.Warn("closing stale device handle failed", "error", err)
			}
		}
		return
	}

	s.handle = h
	s.setState(StateOpenNoSession)
	if s.pendingFormat != nil {
		format := *s.pendingFormat
		s.pendingFormat = nil
		s.configureLocked(format)
	}
	s.mu.Unlock()
}

func (s *Session) deviceError(epoch uint64, cause error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding stale device error", "epoch", epoch, "error", cause)
		return
	}

	var failure error
	switch s.state {
	case StateOpening, StateOpenNoSession, StateSessionConfiguring, StateStreaming:
		failure = &DeviceError{Device: s.device, Kind: ErrDeviceUnavailable, Err: cause}
		s.failLocked(failure)
	}
	s.mu.Unlock()

	s.notifyFailure(failure)
}

func (s *Session) configured(epoch uint64, ch *frameChannel, cause error) {
	s.mu.Lock()
	if epoch != s.epoch || s.state != StateSessionConfiguring || s.channel != ch {
		s.mu.Unlock()
		s.logger.Debug("discarding stale configure result", "epoch", epoch)
		return
	}

	if cause != nil {
		failure := &DeviceError{Device: s.device, Kind: ErrConfigurationRejected, Err: cause}
		s.failLocked(failure)
		s.mu.Unlock()
		s.notifyFailure(failure)
		return
	}

	s.setState(StateStreaming)
	s.logger.Info("capture stream started",
		"session_id", s.id,
		"device", s.device.String(),
		"format", s.format.String(),
	)
	s.listener.StreamStarted(s.format, s.device)
	ch.start()
	s.mu.Unlock()
}

func (s *Session) failLocked(err error) {
	s.stopChannelLocked()
	s.lastErr = err
	s.setState(StateFailed)
	s.logger.Error("capture session failed", "session_id", s.id, "error", err)
}

func (s *Session) stopChannelLocked() {
	if s.channel == nil {
		return
	}
	s.channel.close()
	st := s.channel.stats()
	s.totals.Delivered += st.Delivered
	s.totals.Dropped += st.Dropped
	s.totals.Skipped += st.Skipped
	s.channel = nil
}

func (s *Session) notifyFailure(err error) {
	if err != nil && s.onFailure != nil {
		s.onFailure(err)
	}
}

func (s *Session) setState(to SessionState) {
	from := s.state
	if !CanTransition(from, to) {
		s.logger.Error("illegal session transition", "from", from, "to", to)
	}
	s.state = to
	s.view.Store(int32(to))
	s.logger.Debug("session transition", "from", from, "to", to, "epoch", s.epoch)
	if s.onTransition != nil {
		s.onTransition(Transition{From: from, To: to, Epoch: s.epoch})
	}
}

// State returns the current state without taking the session lock.
func (s *Session) State() SessionState {
	return SessionState(s.view.Load())
}

// Err returns the error that moved the session into Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStats{
		State:        s.state,
		Epoch:        s.epoch,
		SessionID:    s.id,
		Releases:     s.releases.Load(),
		ChannelStats: s.totals,
	}
	if s.state != StateClosed {
		st.Device = s.device.String()
	}
	if s.format.Width > 0 {
		st.Format = s.format.String()
	}
	if s.channel != nil {
		cur := s.channel.stats()
		st.Delivered += cur.Delivered
		st.Dropped += cur.Dropped
		st.Skipped += cur.Skipped
	}
	return st
}
