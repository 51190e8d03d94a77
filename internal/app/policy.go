package app

import (
	"github.com/dkeye/Rover/internal/core"
)

type SendFailureAction int

const (
	NoAction SendFailureAction = iota
	KickViewer
)

// Policy decides what happens to a viewer whose TrySend failed.
type Policy interface {
	OnSendFailure(sid core.SessionID, err error) SendFailureAction
}

// KickOnFailure removes any viewer that cannot take a message:
// a closed transport or a full send queue.
type KickOnFailure struct{}

func (KickOnFailure) OnSendFailure(core.SessionID, error) SendFailureAction {
	return KickViewer
}

// TolerateFailure keeps viewers registered until their transport closes.
type TolerateFailure struct{}

func (TolerateFailure) OnSendFailure(core.SessionID, error) SendFailureAction {
	return NoAction
}
