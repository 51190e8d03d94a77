package domain

// ConnectionState mirrors the media engine's reported peer state.
// It is used for observability only.
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CycleState is the broker's view of the current negotiation cycle.
type CycleState int

const (
	CycleIdle CycleState = iota
	CycleNegotiating
	CycleReady
)

func (s CycleState) String() string {
	switch s {
	case CycleIdle:
		return "idle"
	case CycleNegotiating:
		return "negotiating"
	case CycleReady:
		return "ready"
	default:
		return "unknown"
	}
}
