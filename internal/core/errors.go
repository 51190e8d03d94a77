package core

import "errors"

var (
	// ErrInvalidState is returned when an operation does not fit the
	// current negotiation cycle.
	ErrInvalidState = errors.New("invalid state")
	// ErrNegotiation covers answers or candidates submitted out of order or malformed.
	ErrNegotiation = errors.New("negotiation error")
	// ErrTransport is a send failure to one specific viewer.
	ErrTransport = errors.New("transport error")
	// ErrParse is a malformed inbound message.
	ErrParse = errors.New("parse error")
	// ErrPublish is a failed control-bus publish.
	ErrPublish = errors.New("publish error")
)
