package capture

// SessionState is the lifecycle state of a capture device session.
type SessionState int

const (
	StateClosed SessionState = iota
	StateOpening
	StateOpenNoSession
	StateSessionConfiguring
	StateStreaming
	StateClosing
	StateFailed
)

var stateNames = [...]string{
	StateClosed:             "closed",
	StateOpening:            "opening",
	StateOpenNoSession:      "open_no_session",
	StateSessionConfiguring: "session_configuring",
	StateStreaming:          "streaming",
	StateClosing:            "closing",
	StateFailed:             "failed",
}

// String returns the snake_case state name.
func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON status payloads.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition records one state change.
type Transition struct {
	From  SessionState
	To    SessionState
	Epoch uint64
}

// edges is the complete set of legal state changes.
var edges = map[SessionState][]SessionState{
	StateClosed:             {StateOpening},
	StateOpening:            {StateOpenNoSession, StateFailed, StateClosing},
	StateOpenNoSession:      {StateSessionConfiguring, StateFailed, StateClosing},
	StateSessionConfiguring: {StateStreaming, StateFailed, StateClosing},
	StateStreaming:          {StateFailed, StateClosing},
	StateClosing:            {StateClosed},
	StateFailed:             {StateClosing},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to SessionState) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
