package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
	"github.com/dkeye/Rover/internal/metrics"
)

var ErrStopTimeout = errors.New("control loop did not stop in time")

// Start runs the publish loop in its own goroutine until ctx is done or
// Stop is called. Calling Start on a running multiplexer is a no-op.
func (m *Multiplexer) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done != nil || m.stopped {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.runCtx = ctx
	m.cancel = cancel
	m.done = make(chan struct{})

	done := m.done
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	m.logger.Info().Dur("period", m.cfg.PublishPeriod).Dur("stale_after", m.cfg.StaleAfter).Str("topic", m.cfg.Topic).Msg("publish loop started")
}

// Run publishes one command per PublishPeriod until ctx is done.
func (m *Multiplexer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PublishPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// Stop cancels the loop and in-flight probes, waits at most timeout for
// them, then publishes one neutral command.
func (m *Multiplexer) Stop(timeout time.Duration) error {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.stopped = true
	m.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	finished := make(chan struct{})
	go func() {
		if done != nil {
			<-done
		}
		m.probes.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return fmt.Errorf("%w (%s)", ErrStopTimeout, timeout)
	}

	if err := m.publish(domain.ControlCommand{}); err != nil {
		m.logger.Warn().Err(err).Msg("final neutral command not delivered")
	}
	m.logger.Info().Msg("publish loop stopped")
	return nil
}

func (m *Multiplexer) tick() {
	cmd, stale := m.Sample(m.clock.Now())
	if stale {
		metrics.ControlStaleTicksTotal.Inc()
	}
	if err := m.publish(cmd); err != nil {
		m.publishLog.Warn().Err(err).Str("topic", m.cfg.Topic).Msg("control publish failed")
	}
}

func (m *Multiplexer) publish(cmd domain.ControlCommand) error {
	if m.publisher == nil {
		return fmt.Errorf("%w: no publisher", core.ErrPublish)
	}
	payload, err := json.Marshal(core.NewTwist(cmd))
	if err != nil {
		return fmt.Errorf("%w: encode: %w", core.ErrPublish, err)
	}
	if err := m.publisher.Publish(m.cfg.Topic, payload); err != nil {
		metrics.ControlPublishesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", core.ErrPublish, err)
	}
	metrics.ControlPublishesTotal.WithLabelValues("ok").Inc()
	return nil
}
