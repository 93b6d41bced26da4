package model

// ConnectionState is the lifecycle state of the push channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Indicator collapses the state machine into the three values shown to the
// user: connected, reconnecting or disconnected.
func (s ConnectionState) Indicator() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConnecting, StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}
