// Package permission gates camera access behind a one-shot, asynchronous
// prompt whose answer arrives out of band.
package permission

import (
	"log/slog"
	"sync"
)

// State is the cached permission state.
type State int

const (
	// StateUnknown means no grant is cached and no prompt is in progress.
	StateUnknown State = iota
	// StateDeniedAskFirst means access is not granted and the user must be
	// asked before any capture device action.
	StateDeniedAskFirst
	// StateGranted means camera access is granted.
	StateGranted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDeniedAskFirst:
		return "denied_ask_first"
	case StateGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Prompter shows the external permission prompt. Prompt must not block; the
// answer is reported later through respond, from any goroutine.
type Prompter interface {
	Prompt(respond func(granted bool))
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(respond func(granted bool))

// Prompt calls f(respond).
func (f PrompterFunc) Prompt(respond func(granted bool)) {
	f(respond)
}

// Stats counts gate activity.
type Stats struct {
	State       State `json:"state"`
	Outstanding bool  `json:"outstanding"`
	Requests    int   `json:"requests"`
	Redundant   int   `json:"redundant"`
	Results     int   `json:"results"`
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithProbe seeds the initial state from a probe result. A granted probe
// starts the gate in StateGranted.
func WithProbe(p ProbeResult) Option {
	return func(g *Gate) {
		if p.Status == StatusGranted {
			g.state = StateGranted
			g.hasResult = true
			g.lastResult = true
		}
	}
}

// Gate tracks camera permission and serializes prompts so that at most one
// request is outstanding.
type Gate struct {
	prompter Prompter
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	outstanding bool
	hasResult   bool
	lastResult  bool
	nextSub     int
	subs        map[int]func(granted bool)
	stats       Stats
}

// NewGate creates a gate that prompts through prompter. A nil prompter is
// allowed; results must then be fed in with OnAccessResult.
func NewGate(prompter Prompter, opts ...Option) *Gate {
	g := &Gate{
		prompter: prompter,
		logger:   slog.Default(),
		subs:     make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasAccess reports whether camera access is granted.
func (g *Gate) HasAccess() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateGranted
}

// State returns the cached state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// MustAsk reports whether the user has to be asked before capture starts.
func (g *Gate) MustAsk() bool {
	return g.State() == StateDeniedAskFirst
}

// Outstanding reports whether a prompt is waiting for its answer.
func (g *Gate) Outstanding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outstanding
}

// RequestAccess triggers the prompt. It is a no-op when access is already
// granted or a request is outstanding.
func (g *Gate) RequestAccess() {
	g.mu.Lock()
	if g.state == StateGranted {
		g.mu.Unlock()
		return
	}
	if g.outstanding {
		g.stats.Redundant++
		g.mu.Unlock()
		g.logger.Debug("permission request already outstanding")
		return
	}
	g.outstanding = true
	g.state = StateDeniedAskFirst
	g.stats.Requests++
	prompter := g.prompter
	g.mu.Unlock()

	g.logger.Info("requesting camera permission")
	if prompter == nil {
		g.logger.Warn("no permission prompter configured, waiting for an external result")
		return
	}
	prompter.Prompt(g.OnAccessResult)
}

// OnAccessResult records the prompt answer and notifies subscribers.
// Repeating the last result with no request outstanding does nothing, and
// neither does a denial when no request is outstanding and access was never
// granted.
func (g *Gate) OnAccessResult(granted bool) {
	g.mu.Lock()
	if !g.outstanding && !granted && g.state != StateGranted {
		g.mu.Unlock()
		g.logger.Debug("unsolicited permission denial ignored")
		return
	}
	if !g.outstanding && g.hasResult && g.lastResult == granted {
		g.mu.Unlock()
		g.logger.Debug("duplicate permission result ignored", "granted", granted)
		return
	}
	g.outstanding = false
	g.hasResult = true
	g.lastResult = granted
	g.stats.Results++
	if granted {
		g.state = StateGranted
	} else if g.state == StateGranted {
		g.state = StateDeniedAskFirst
	}
	subs := make([]func(bool), 0, len(g.subs))
	for id := 0; id < g.nextSub; id++ {
		if fn, ok := g.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	g.mu.Unlock()

	g.logger.Info("camera permission result", "granted", granted)
	for _, fn := range subs {
		fn(granted)
	}
}

// Reset clears the must-ask flag after a completed prompt round-trip.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateDeniedAskFirst && !g.outstanding {
		g.state = StateUnknown
	}
}

// Subscribe registers fn for every accepted result. The returned function
// removes the subscription.
func (g *Gate) Subscribe(fn func(granted bool)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

// Stats returns a snapshot of gate counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.stats
	st.State = g.state
	st.Outstanding = g.outstanding
	return st
}
