package bridge

// ConnectionState of the managed broker connection. Transitions are driven
// solely by the transport goroutine's callbacks; foreground callers only
// observe it through Snapshot.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}
