package core

import (
	"context"

	"github.com/dkeye/Rover/internal/domain"
)

// EngineEvent is one of OfferProduced, CandidateProduced,
// ConnectionStateChanged or NegotiationFailed.
//
// Every event carries the generation of the negotiation that produced it.
// Generations never decrease; each StartNegotiation gets a new one.
type EngineEvent interface {
	Generation() uint64
}

type OfferProduced struct {
	Desc domain.SessionDescription
	Gen  uint64
}

type CandidateProduced struct {
	Candidate domain.Candidate
	Gen       uint64
}

type ConnectionStateChanged struct {
	State domain.ConnectionState
	Gen   uint64
}

// NegotiationFailed is terminal for the current cycle.
type NegotiationFailed struct {
	Err error
	Gen uint64
}

func (e OfferProduced) Generation() uint64          { return e.Gen }
func (e CandidateProduced) Generation() uint64      { return e.Gen }
func (e ConnectionStateChanged) Generation() uint64 { return e.Gen }
func (e NegotiationFailed) Generation() uint64      { return e.Gen }

// MediaEngine is the one producing session.
// Events may be delivered from any goroutine, concurrently with each other.
type MediaEngine interface {
	// OnEvent sets the event callback. Must be called before StartNegotiation.
	OnEvent(func(EngineEvent))
	// StartNegotiation begins a cycle. When it returns nil the engine
	// eventually yields exactly one OfferProduced or NegotiationFailed.
	// Call once per cycle.
	StartNegotiation(ctx context.Context) error
	// SubmitRemoteAnswer fails with ErrNegotiation before a local offer exists.
	SubmitRemoteAnswer(domain.SessionDescription) error
	SubmitRemoteCandidate(domain.Candidate) error
	Close() error
}
