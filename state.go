package chatkit

// ConnectionState represents the current state of the connection to the chat server.
type ConnectionState int

const (
	// StateDisconnected means the client is not connected and no attempt is in flight.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the client is establishing a connection.
	StateConnecting

	// StateConnected means the client is connected and ready.
	StateConnected

	// StateReconnecting means the connection dropped and a retry is scheduled.
	StateReconnecting
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateEvent describes a connection state transition.
type StateEvent struct {
	Old ConnectionState
	New ConnectionState

	// Err is set when the transition was caused by a failure, e.g.
	// ErrRetriesExhausted when automatic reconnection gave up.
	Err error
}

// StateHandler is called for every connection state transition.
type StateHandler func(StateEvent)
