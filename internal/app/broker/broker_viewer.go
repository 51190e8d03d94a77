package broker

import (
	"context"
	"fmt"

	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/metrics"
)

// OnViewerJoin registers conn and, if an offer is cached, replays the offer
// followed by every cached candidate in cache order.
func (b *Broker) OnViewerJoin(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	b.mu.Lock()
	b.registry.Add(sid, conn, cancel)
	snap := b.cache.Snapshot()
	err := replay(conn, snap)
	b.mu.Unlock()

	metrics.Viewers.Set(float64(b.registry.Len()))
	if snap.Offer == nil {
		b.logger.Info().Str("sid", string(sid)).Msg("viewer joined before offer, waiting for broadcast")
		return
	}
	if err != nil {
		b.handleFailures([]sendFailure{{sid: sid, err: err}})
		return
	}
	b.logger.Info().Str("sid", string(sid)).Int("candidates", len(snap.Candidates)).Msg("replayed session to viewer")
}

func replay(conn core.SignalConnection, snap core.SessionSnapshot) error {
	if snap.Offer == nil {
		return nil
	}
	frame, err := core.EncodeOffer(*snap.Offer)
	if err != nil {
		return err
	}
	if err := conn.TrySend(frame); err != nil {
		return fmt.Errorf("%w: replay offer: %w", core.ErrTransport, err)
	}
	for i, c := range snap.Candidates {
		frame, err := core.EncodeCandidate(c)
		if err != nil {
			return err
		}
		if err := conn.TrySend(frame); err != nil {
			return fmt.Errorf("%w: replay candidate %d: %w", core.ErrTransport, i, err)
		}
	}
	return nil
}

// OnViewerLeave forgets sid. The producing session is unaffected.
func (b *Broker) OnViewerLeave(sid core.SessionID) {
	if !b.registry.Remove(sid) {
		return
	}
	metrics.Viewers.Set(float64(b.registry.Len()))
	b.logger.Info().Str("sid", string(sid)).Msg("viewer left")
}

// OnViewerMessage routes one inbound message. The returned error has already
// been logged; callers keep the connection open.
func (b *Broker) OnViewerMessage(sid core.SessionID, conn core.SignalConnection, data []byte) error {
	kind, err := core.MessageType(data)
	if err != nil {
		return b.parseError(sid, err)
	}

	switch kind {
	case core.MsgSDPAnswer:
		desc, err := core.DecodeAnswer(data)
		if err != nil {
			return b.parseError(sid, err)
		}
		if err := b.engine.SubmitRemoteAnswer(desc); err != nil {
			return b.negotiationError(sid, "remote answer", err)
		}
		b.logger.Info().Str("sid", string(sid)).Msg("remote answer forwarded")
	case core.MsgICECandidate:
		c, err := core.DecodeCandidate(data)
		if err != nil {
			return b.parseError(sid, err)
		}
		if err := b.engine.SubmitRemoteCandidate(c); err != nil {
			return b.negotiationError(sid, "remote candidate", err)
		}
		b.logger.Debug().Str("sid", string(sid)).Uint16("mline", c.MLineIndex).Msg("remote candidate forwarded")
	default:
		if b.control == nil {
			b.logger.Warn().Str("sid", string(sid)).Str("type", kind).Msg("no control sink, message dropped")
			return nil
		}
		b.control.HandleControl(sid, conn, kind, data)
	}
	return nil
}

func (b *Broker) parseError(sid core.SessionID, err error) error {
	metrics.ParseErrorsTotal.Inc()
	b.logger.Warn().Err(err).Str("sid", string(sid)).Msg("dropping malformed message")
	return err
}

func (b *Broker) negotiationError(sid core.SessionID, what string, err error) error {
	metrics.NegotiationErrorsTotal.Inc()
	b.logger.Error().Err(err).Str("sid", string(sid)).Msg(what + " rejected")
	return fmt.Errorf("%s: %w", what, err)
}
