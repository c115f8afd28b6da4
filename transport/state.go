package transport

// State is the lifecycle position of a Transport.
//
//	Initializing ──Start──► Open ──Disconnect──► Closing ──► Closed
//	     │                   │ ╰──remote close───────────────► Closed
//	     │                   ╰──fault──► Error ──────────────► Closed
//	     ╰──Disconnect─────────────────────────────────────────► Closed
//
// Closed is terminal.
type State int32

const (
	StateInitializing State = iota
	StateOpen
	StateClosing
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateError:
		return "Error"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
