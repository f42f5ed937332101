package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/permission"
	"github.com/teslashibe/go-arx/pkg/tracking"
)

// Phase is the orchestrator's coarse lifecycle position.
type Phase string

// Phases.
const (
	PhaseIdle               Phase = "idle"
	PhasePaused             Phase = "paused"
	PhaseAwaitingPermission Phase = "awaiting_permission"
	PhaseDenied             Phase = "denied"
	PhaseRunning            Phase = "running"
	PhaseFailed             Phase = "failed"
	PhaseStopped            Phase = "stopped"
)

// AccessGate is the permission surface the orchestrator needs.
// *permission.Gate implements it.
type AccessGate interface {
	HasAccess() bool
	State() permission.State
	RequestAccess()
	Reset()
	Subscribe(fn func(granted bool)) (unsubscribe func())
}

// Config selects the camera stream and engine resources.
type Config struct {
	ResourceDir  string
	CameraParams string
	Device       capture.DeviceIdentity
	Format       capture.StreamFormat
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Driver capture.Driver
	Engine tracking.Engine
	Gate   AccessGate

	// Scene and Redrawer are optional.
	Scene    Scene
	Redrawer Redrawer
}

// Status is a snapshot of the whole pipeline.
type Status struct {
	Phase         Phase                `json:"phase"`
	Visible       bool                 `json:"visible"`
	Permission    permission.State     `json:"permission"`
	Engine        string               `json:"engine"`
	EngineRunning bool                 `json:"engine_running"`
	Device        string               `json:"device"`
	Format        string               `json:"format"`
	Session       capture.SessionStats `json:"session"`
	Frames        FrameStats           `json:"frames"`
	Redraws       uint64               `json:"redraws"`
	LastError     string               `json:"last_error,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithErrorHandler receives every reported error, each exactly once. It is
// never called with orchestrator or session locks held.
func WithErrorHandler(fn func(error)) Option {
	return func(o *Orchestrator) {
		o.onError = fn
	}
}

// WithStatusHandler is called from a background goroutine whenever the
// pipeline state changes. Bursts of changes may be collapsed into one call.
func WithStatusHandler(fn func(Status)) Option {
	return func(o *Orchestrator) {
		o.onStatus = fn
	}
}

// WithSessionOptions passes extra options to the capture session.
func WithSessionOptions(opts ...capture.SessionOption) Option {
	return func(o *Orchestrator) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// Orchestrator runs the camera pipeline for one visible surface: it asks
// for camera permission, opens the capture session once access is granted,
// and tears everything down when the surface goes away.
//
// Lock order: o.mu may be held while calling into the session, never the
// other way round. Callbacks that arrive under the session lock only touch
// atomics or hand off to a new goroutine.
type Orchestrator struct {
	deps        Deps
	logger      *slog.Logger
	onError     func(error)
	onStatus    func(Status)
	sessionOpts []capture.SessionOption
	session     *capture.Session

	mu          sync.Mutex
	cfg         Config
	phase       Phase
	visible     bool
	started     bool
	stopped     bool
	aborted     bool
	lastErr     error
	listener    *StreamListener
	scene       *SceneListener
	totals      FrameStats
	redraws     uint64
	unsubscribe func()
	done        chan struct{}

	attempt     atomic.Uint64
	engineReady atomic.Bool
	changed     chan struct{}
}

// New creates an idle orchestrator. Call Start before anything else.
func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		logger:  slog.Default(),
		phase:   PhaseIdle,
		done:    make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "pipeline")

	sessionOpts := []capture.SessionOption{
		capture.WithLogger(o.logger),
		capture.WithAccessCheck(deps.Gate.HasAccess),
		capture.WithTransitionHook(func(capture.Transition) { o.notify() }),
		capture.WithFailureHandler(func(err error) { o.fatal(o.attempt.Load(), err) }),
	}
	o.session = capture.NewSession(deps.Driver, append(sessionOpts, o.sessionOpts...)...)
	return o
}

// Session returns the capture session.
func (o *Orchestrator) Session() *capture.Session {
	return o.session
}

// Start initializes the tracking engine and subscribes to permission
// results. The orchestrator stops by itself when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return ErrStopped
	}
	if o.started {
		return nil
	}
	if err := o.ensureEngineLocked(); err != nil {
		return err
	}

	o.unsubscribe = o.deps.Gate.Subscribe(o.onAccessResult)
	o.started = true
	o.setPhaseLocked(PhasePaused)

	go func() {
		select {
		case <-ctx.Done():
			o.Stop()
		case <-o.done:
		}
	}()
	if o.onStatus != nil {
		go o.statusLoop()
	}

	o.logger.Info("pipeline started",
		"engine", o.deps.Engine.Name(),
		"resource_dir", o.cfg.ResourceDir,
	)
	return nil
}

// Resume is called when the surface becomes visible. Without camera access
// it requests permission and waits for the result; otherwise it opens the
// capture session.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if err := o.checkLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.visible = true
	o.aborted = false
	o.mu.Unlock()

	o.logger.Info("surface resumed")
	return o.enter()
}

// Pause is called when the surface is hidden. With access granted the
// session is closed and the tracking engine shut down, even when the stream
// never started; while a permission request is pending nothing is torn down.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkLocked(); err != nil {
		return err
	}
	o.visible = false
	if !o.deps.Gate.HasAccess() {
		o.logger.Info("surface paused with permission pending")
		return nil
	}

	err := o.teardownLocked()
	if o.engineReady.Swap(false) {
		if serr := o.deps.Engine.Shutdown(); serr != nil && err == nil {
			err = serr
		}
	}
	o.setPhaseLocked(PhasePaused)
	o.logger.Info("surface paused")
	return err
}

// LayoutChanged reopens the session when the surface is visible, access is
// granted and the session is closed.
func (o *Orchestrator) LayoutChanged() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkLocked(); err != nil {
		return err
	}
	if !o.visible || o.aborted || !o.deps.Gate.HasAccess() {
		return nil
	}
	if o.session.State() != capture.StateClosed {
		return nil
	}
	o.logger.Debug("layout changed, reopening capture session")
	return o.openLocked()
}

// Reconfigure switches device or format. A running session is torn down
// and recreated with the new settings.
func (o *Orchestrator) Reconfigure(id capture.DeviceIdentity, format capture.StreamFormat) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrConfigurationRejected, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkLocked(); err != nil {
		return err
	}
	o.cfg.Device = id
	o.cfg.Format = format
	o.logger.Info("camera reconfigured", "device", id.String(), "format", format.String())

	if o.session.State() == capture.StateClosed {
		o.notify()
		return nil
	}
	if err := o.teardownLocked(); err != nil {
		o.logger.Warn("teardown before reconfigure failed", "error", err)
	}
	if !o.visible || !o.deps.Gate.HasAccess() {
		o.setPhaseLocked(PhasePaused)
		return nil
	}
	return o.openLocked()
}

// Stop tears everything down. Stop is idempotent.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}
	o.stopped = true
	o.visible = false

	err := o.teardownLocked()
	if o.engineReady.Swap(false) {
		if serr := o.deps.Engine.Shutdown(); serr != nil && err == nil {
			err = serr
		}
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.setPhaseLocked(PhaseStopped)
	close(o.done)

	o.logger.Info("pipeline stopped")
	return err
}

// Config returns the current camera settings.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Status returns a snapshot of the pipeline.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Phase:         o.phase,
		Visible:       o.visible,
		Permission:    o.deps.Gate.State(),
		Engine:        o.deps.Engine.Name(),
		EngineRunning: o.deps.Engine.Running(),
		Device:        o.cfg.Device.String(),
		Format:        o.cfg.Format.String(),
		Session:       o.session.Stats(),
		Frames:        o.totals,
		Redraws:       o.redraws,
	}
	if o.listener != nil {
		st.Frames.add(o.listener.Stats())
	}
	if o.scene != nil {
		st.Redraws += o.scene.Redraws()
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	return st
}

// Done is closed when the orchestrator stops.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// enter runs the entry procedure: request access if needed, open otherwise.
// The gate is called without o.mu held because a prompter may answer
// synchronously, which re-enters through onAccessResult.
func (o *Orchestrator) enter() error {
	o.mu.Lock()
	if !o.started || o.stopped || !o.visible {
		o.mu.Unlock()
		return nil
	}
	if !o.deps.Gate.HasAccess() {
		o.setPhaseLocked(PhaseAwaitingPermission)
		o.mu.Unlock()
		o.logger.Info("camera access required, requesting permission")
		o.deps.Gate.RequestAccess()
		return nil
	}
	err := o.openLocked()
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) onAccessResult(granted bool) {
	o.deps.Gate.Reset()

	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	if !granted {
		err := fmt.Errorf("%w: application will not run with camera access denied", capture.ErrPermissionDenied)
		o.lastErr = err
		o.setPhaseLocked(PhaseDenied)
		o.mu.Unlock()
		o.report(err)
		return
	}
	visible := o.visible
	o.mu.Unlock()

	o.logger.Info("camera access granted", "visible", visible)
	if visible {
		if err := o.enter(); err != nil {
			o.report(err)
		}
	}
}

func (o *Orchestrator) openLocked() error {
	if st := o.session.State(); st != capture.StateClosed {
		if st != capture.StateFailed {
			return nil
		}
		if err := o.teardownLocked(); err != nil {
			o.logger.Warn("closing failed session", "error", err)
		}
	}
	if err := o.ensureEngineLocked(); err != nil {
		o.lastErr = err
		o.setPhaseLocked(PhaseFailed)
		return err
	}

	attempt := o.attempt.Add(1)
	o.aborted = false
	onFatal := func(err error) { o.fatal(attempt, err) }

	o.scene = NewSceneListener(o.deps.Scene, o.deps.Redrawer, onFatal, o.logger)
	o.listener = NewStreamListener(o.deps.Engine, o.scene,
		WithCameraParams(o.cfg.CameraParams),
		WithFatalHandler(onFatal),
		WithShutdownHook(func() { o.engineReady.Store(false) }),
		WithStreamLogger(o.logger),
	)
	if err := o.session.Bind(o.listener); err != nil {
		return err
	}
	if err := o.session.Start(o.cfg.Device, o.cfg.Format); err != nil {
		o.listener, o.scene = nil, nil
		o.lastErr = err
		o.setPhaseLocked(PhaseFailed)
		return err
	}
	o.lastErr = nil
	o.setPhaseLocked(PhaseRunning)
	return nil
}

// teardownLocked closes the session and folds the listener counters into
// the totals.
func (o *Orchestrator) teardownLocked() error {
	err := o.session.Close()
	if o.listener != nil {
		o.totals.add(o.listener.Stats())
		o.listener = nil
	}
	if o.scene != nil {
		o.redraws += o.scene.Redraws()
		o.scene = nil
	}
	return err
}

func (o *Orchestrator) ensureEngineLocked() error {
	if o.engineReady.Load() {
		return nil
	}
	if err := o.deps.Engine.Initialize(o.cfg.ResourceDir); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineInit, err)
	}
	o.engineReady.Store(true)
	return nil
}

// fatal hands err to a new goroutine: it may be called from the delivery
// goroutine or with the session lock held, and teardown waits for both.
func (o *Orchestrator) fatal(attempt uint64, err error) {
	go o.abort(attempt, err)
}

func (o *Orchestrator) abort(attempt uint64, err error) {
	o.mu.Lock()
	if o.stopped || o.aborted || o.listener == nil || attempt != o.attempt.Load() {
		o.mu.Unlock()
		o.logger.Debug("discarding stale pipeline failure", "attempt", attempt, "error", err)
		return
	}
	o.aborted = true
	o.lastErr = err
	if terr := o.teardownLocked(); terr != nil {
		o.logger.Warn("teardown after failure", "error", terr)
	}
	o.setPhaseLocked(PhaseFailed)
	o.mu.Unlock()

	o.logger.Error("pipeline failed", "attempt", attempt, "error", err)
	o.report(err)
}

func (o *Orchestrator) report(err error) {
	if o.onError != nil {
		o.onError(err)
	}
}

func (o *Orchestrator) checkLocked() error {
	if o.stopped {
		return ErrStopped
	}
	if !o.started {
		return ErrNotStarted
	}
	return nil
}

func (o *Orchestrator) setPhaseLocked(p Phase) {
	if o.phase != p {
		o.logger.Debug("pipeline phase", "from", o.phase, "to", p)
		o.phase = p
	}
	o.notify()
}

// notify never blocks; it is called with the session lock held.
func (o *Orchestrator) notify() {
	select {
	case o.changed <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) statusLoop() {
	for {
		select {
		case <-o.done:
			o.onStatus(o.Status())
			return
		case <-o.changed:
			o.onStatus(o.Status())
		}
	}
}
