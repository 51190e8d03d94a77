package core

// Frame is a raw encoded message for one viewer.
type Frame []byte

// SessionID identifies one viewer connection for its connected lifetime.
type SessionID string

// SignalConnection is one viewer's message transport. It is owned by the
// adapter, which must Close it. TrySend never blocks on the network.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
