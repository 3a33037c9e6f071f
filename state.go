package mcplite

// ConnState describes where a client is in its connection lifecycle. It moves
// forward through the connecting states exactly once; StateFailed and
// StateDisconnected are terminal, and a client that reaches either needs a
// fresh instance to connect again.
type ConnState int

const (
	// StateIdle is the initial state before Connect is called.
	StateIdle ConnState = iota
	// StateConnecting means the transport session is being opened.
	StateConnecting
	// StateAwaitingEndpoint means the stream is open and the client is waiting
	// for the server to announce the message endpoint.
	StateAwaitingEndpoint
	// StateInitializing means the initialize exchange is in flight.
	StateInitializing
	// StateReady means the handshake completed and RPC traffic may flow.
	StateReady
	// StateFailed means the connection attempt failed.
	StateFailed
	// StateDisconnected means the session ended, by request or stream loss.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingEndpoint:
		return "awaiting-endpoint"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
