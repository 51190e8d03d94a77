package broker

import (
	"fmt"

	"github.com/dkeye/Rover/internal/app"
	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
	"github.com/dkeye/Rover/internal/metrics"
)

type sendFailure struct {
	sid core.SessionID
	err error
}

// OnEngineEvent is the media engine's callback. Safe for concurrent use.
// Events from a generation older than the current cycle are dropped.
func (b *Broker) OnEngineEvent(evt core.EngineEvent) {
	switch e := evt.(type) {
	case core.OfferProduced:
		b.onOffer(e.Gen, e.Desc)
	case core.CandidateProduced:
		b.onCandidate(e.Gen, e.Candidate)
	case core.ConnectionStateChanged:
		b.mu.Lock()
		if e.Gen < b.minGen {
			b.mu.Unlock()
			b.dropStale(evt)
			return
		}
		b.peerState = e.State
		onPeer := b.onPeer
		b.mu.Unlock()
		metrics.PeerState.Set(float64(e.State))
		b.logger.Info().Str("peer_state", e.State.String()).Msg("media engine state")
		if onPeer != nil {
			onPeer(e.State)
		}
	case core.NegotiationFailed:
		b.mu.Lock()
		if e.Gen < b.minGen {
			b.mu.Unlock()
			b.dropStale(evt)
			return
		}
		if b.state == domain.CycleNegotiating {
			b.setStateLocked(domain.CycleIdle)
		}
		b.mu.Unlock()
		b.logger.Error().Err(e.Err).Msg("negotiation failed")
	default:
		b.logger.Warn().Str("event", fmt.Sprintf("%T", evt)).Msg("unknown engine event")
	}
}

func (b *Broker) dropStale(evt core.EngineEvent) {
	b.logger.Debug().
		Str("event", fmt.Sprintf("%T", evt)).
		Uint64("gen", evt.Generation()).
		Msg("stale engine event dropped")
}

func (b *Broker) onOffer(gen uint64, desc domain.SessionDescription) {
	frame, err := core.EncodeOffer(desc)
	if err != nil {
		b.logger.Error().Err(err).Msg("encode offer")
		return
	}

	b.mu.Lock()
	if gen < b.minGen {
		b.mu.Unlock()
		b.dropStale(core.OfferProduced{Desc: desc, Gen: gen})
		return
	}
	if err := b.cache.SetOffer(desc); err != nil {
		b.mu.Unlock()
		b.logger.Warn().Err(err).Msg("offer rejected by cache")
		return
	}
	b.gen = gen
	b.setStateLocked(domain.CycleReady)
	failed := b.broadcastLocked(frame)
	b.mu.Unlock()

	b.logger.Info().Int("sdp_len", len(desc.SDP)).Msg("offer cached and broadcast")
	b.handleFailures(failed)
}

func (b *Broker) onCandidate(gen uint64, c domain.Candidate) {
	frame, err := core.EncodeCandidate(c)
	if err != nil {
		b.logger.Error().Err(err).Msg("encode candidate")
		return
	}

	b.mu.Lock()
	// A candidate must belong to the cached offer once there is one.
	if gen < b.minGen || (b.cache.Ready() && gen != b.gen) {
		b.mu.Unlock()
		b.dropStale(core.CandidateProduced{Candidate: c, Gen: gen})
		return
	}
	b.cache.AppendCandidate(c)
	failed := b.broadcastLocked(frame)
	b.mu.Unlock()

	b.logger.Debug().Uint16("mline", c.MLineIndex).Str("candidate", c.Value).Msg("candidate cached and broadcast")
	b.handleFailures(failed)
}

// broadcastLocked enqueues frame for every registered viewer. A failure for
// one viewer never stops delivery to the rest.
func (b *Broker) broadcastLocked(frame core.Frame) []sendFailure {
	var failed []sendFailure
	sent := 0
	for _, e := range b.registry.Snapshot() {
		if err := e.Conn.TrySend(frame); err != nil {
			failed = append(failed, sendFailure{sid: e.SID, err: fmt.Errorf("%w: %w", core.ErrTransport, err)})
			continue
		}
		sent++
	}
	metrics.BroadcastsTotal.WithLabelValues("sent").Add(float64(sent))
	b.logger.Debug().Int("sent_to", sent).Int("dropped", len(failed)).Msg("broadcast result")
	return failed
}

func (b *Broker) handleFailures(failed []sendFailure) {
	for _, f := range failed {
		metrics.BroadcastsTotal.WithLabelValues("dropped").Inc()
		b.logger.Warn().Err(f.err).Str("sid", string(f.sid)).Msg("send to viewer failed")
		switch b.policy.OnSendFailure(f.sid, f.err) {
		case app.KickViewer:
			if b.registry.Kick(f.sid) {
				metrics.ViewersKickedTotal.Inc()
				metrics.Viewers.Set(float64(b.registry.Len()))
			}
		case app.NoAction:
		}
	}
}
