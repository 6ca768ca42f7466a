package stream

// State tracks a session through its lifecycle. Transitions happen only on
// the session's own event loop, so reads from other goroutines go through the
// atomic accessor on Session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthorized
	StateStreaming
	StateRejected
	StateTimedOut
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorized:
		return "authorized"
	case StateStreaming:
		return "streaming"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
