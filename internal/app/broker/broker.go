// Package broker relays the one producing session to every viewer.
//
// The broker owns a SessionCache, so late joiners get the cached offer and
// candidates replayed instead of a fresh negotiation. Viewer answers and
// candidates go back to the media engine; every other message kind is handed
// to the control sink because viewers share one channel for both.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Rover/internal/app"
	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
	"github.com/dkeye/Rover/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ControlSink receives viewer messages that are not signaling.
type ControlSink interface {
	HandleControl(sid core.SessionID, conn core.SignalConnection, kind string, data []byte)
}

type Status struct {
	State      string `json:"state"`
	PeerState  string `json:"peer_state"`
	Ready      bool   `json:"ready"`
	Viewers    int    `json:"viewers"`
	Candidates int    `json:"candidates"`
}

type Broker struct {
	cache    *core.SessionCache
	registry *app.Registry
	engine   core.MediaEngine
	control  ControlSink
	policy   app.Policy
	logger   zerolog.Logger

	// cycleMu serializes Start and Restart, engine call included, so the
	// cached offer always belongs to the engine's latest generation.
	cycleMu sync.Mutex

	// mu orders cache updates and their fan-out against join replays, so a
	// viewer sees every cached item exactly once and in cache order.
	mu        sync.Mutex
	state     domain.CycleState
	peerState domain.ConnectionState

	// gen is the engine generation of the cached offer. Events older than
	// minGen belong to a discarded cycle.
	gen    uint64
	minGen uint64

	onPeer func(domain.ConnectionState)
}

// New wires a broker to engine and subscribes to its events.
// A nil policy kicks viewers on any failed send.
func New(engine core.MediaEngine, registry *app.Registry, control ControlSink, policy app.Policy) *Broker {
	if policy == nil {
		policy = app.KickOnFailure{}
	}
	b := &Broker{
		cache:    core.NewSessionCache(),
		registry: registry,
		engine:   engine,
		control:  control,
		policy:   policy,
		logger:   log.With().Str("module", "app.broker").Logger(),
	}
	engine.OnEvent(b.OnEngineEvent)
	return b
}

// OnPeerState registers fn to observe the producing peer's connection state.
// fn runs on the engine's callback path and must not block.
func (b *Broker) OnPeerState(fn func(domain.ConnectionState)) {
	b.mu.Lock()
	b.onPeer = fn
	b.mu.Unlock()
}

// Start moves an idle broker into negotiation.
func (b *Broker) Start(ctx context.Context) error {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()
	return b.startLocked(ctx)
}

func (b *Broker) startLocked(ctx context.Context) error {
	b.mu.Lock()
	if b.state != domain.CycleIdle {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: cannot start negotiation while %s", core.ErrInvalidState, state)
	}
	b.setStateLocked(domain.CycleNegotiating)
	b.mu.Unlock()

	if err := b.engine.StartNegotiation(ctx); err != nil {
		b.mu.Lock()
		if b.state == domain.CycleNegotiating {
			b.setStateLocked(domain.CycleIdle)
		}
		b.mu.Unlock()
		return fmt.Errorf("start negotiation: %w", err)
	}
	return nil
}

// Restart discards the cached offer and candidates and negotiates again.
// Viewers stay registered and receive the new offer by broadcast.
func (b *Broker) Restart(ctx context.Context) error {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	b.mu.Lock()
	b.cache.BeginCycle()
	b.minGen = b.gen + 1
	b.setStateLocked(domain.CycleIdle)
	b.peerState = domain.ConnectionStateNew
	metrics.PeerState.Set(float64(domain.ConnectionStateNew))
	onPeer := b.onPeer
	b.mu.Unlock()
	b.logger.Info().Uint64("min_gen", b.minGen).Msg("new negotiation cycle")
	if onPeer != nil {
		onPeer(domain.ConnectionStateNew)
	}
	return b.startLocked(ctx)
}

func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:      b.state.String(),
		PeerState:  b.peerState.String(),
		Ready:      b.cache.Ready(),
		Viewers:    b.registry.Len(),
		Candidates: b.cache.CandidateCount(),
	}
}

// Close drops every viewer and shuts the media engine down.
func (b *Broker) Close() error {
	b.registry.CloseAll()
	metrics.Viewers.Set(0)
	if err := b.engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}

func (b *Broker) setStateLocked(s domain.CycleState) {
	if b.state == s {
		return
	}
	b.logger.Info().Str("from", b.state.String()).Str("to", s.String()).Msg("cycle state")
	b.state = s
	metrics.CycleState.Set(float64(s))
}
