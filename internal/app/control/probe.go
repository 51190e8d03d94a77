package control

import (
	"context"
	"errors"

	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/metrics"
)

// handleProbe answers a connectivity test to the requesting viewer only.
// The dial runs off the viewer's read loop and is bounded by ProbeTimeout.
func (m *Multiplexer) handleProbe(sid core.SessionID, conn core.SignalConnection, settings core.MQTTSettings) {
	logger := m.logger.With().Str("sid", string(sid)).Str("broker", settings.Broker).Str("topic", settings.Topic).Logger()

	if !m.limiter.Allow(sid) {
		metrics.ProbeResultsTotal.WithLabelValues("limited").Inc()
		logger.Warn().Msg("connectivity test rate limited")
		m.reply(sid, conn, false)
		return
	}
	if m.prober == nil || settings.Broker == "" {
		metrics.ProbeResultsTotal.WithLabelValues("failed").Inc()
		logger.Warn().Msg("connectivity test not possible")
		m.reply(sid, conn, false)
		return
	}

	m.runMu.Lock()
	if m.stopped {
		m.runMu.Unlock()
		m.reply(sid, conn, false)
		return
	}
	base := m.runCtx
	m.probes.Add(1)
	m.runMu.Unlock()
	if base == nil {
		base = context.Background()
	}

	go func() {
		defer m.probes.Done()
		ctx, cancel := context.WithTimeout(base, m.cfg.ProbeTimeout)
		defer cancel()

		err := m.prober.Probe(ctx, settings.Broker, settings.Topic)
		switch {
		case err == nil:
			metrics.ProbeResultsTotal.WithLabelValues("ok").Inc()
			logger.Info().Msg("connectivity test succeeded")
		case errors.Is(err, context.DeadlineExceeded):
			metrics.ProbeResultsTotal.WithLabelValues("timeout").Inc()
			logger.Warn().Err(err).Msg("connectivity test timed out")
		default:
			metrics.ProbeResultsTotal.WithLabelValues("failed").Inc()
			logger.Warn().Err(err).Msg("connectivity test failed")
		}
		m.reply(sid, conn, err == nil)
	}()
}

func (m *Multiplexer) reply(sid core.SessionID, conn core.SignalConnection, success bool) {
	frame, err := core.EncodeTestResult(success)
	if err != nil {
		m.logger.Error().Err(err).Msg("encode test result")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		m.logger.Warn().Err(err).Str("sid", string(sid)).Msg("test result not delivered")
	}
}
