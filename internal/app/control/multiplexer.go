// Package control turns gamepad messages from viewers into a fixed-rate
// drive command stream with a dead-man's switch.
//
// Ingestion and publishing are independent: handlers overwrite a timestamped
// command record, and the publish loop samples it every tick. A record older
// than StaleAfter is published as the neutral command without being modified,
// so the next fresh input takes effect immediately.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
	"github.com/dkeye/Rover/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	InputSpeed = "speed"
	InputTurn  = "turn"
)

// Publisher is the control bus.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Prober checks whether a bus endpoint is reachable.
type Prober interface {
	Probe(ctx context.Context, broker, topic string) error
}

type Config struct {
	Topic         string
	PublishPeriod time.Duration
	StaleAfter    time.Duration
	ProbeTimeout  time.Duration
	ProbeLimit    int
	ProbeWindow   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Topic:         "cmd_vel",
		PublishPeriod: 50 * time.Millisecond,
		StaleAfter:    200 * time.Millisecond,
		ProbeTimeout:  3 * time.Second,
		ProbeLimit:    3,
		ProbeWindow:   10 * time.Second,
	}
}

type Multiplexer struct {
	cfg       Config
	clock     Clock
	publisher Publisher
	prober    Prober
	limiter   *RateLimiter
	logger    zerolog.Logger

	// publishLog emits one line per burst; the loop runs at 20 Hz.
	publishLog zerolog.Logger

	mu  sync.Mutex
	cmd domain.ControlCommand

	runMu   sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	probes  sync.WaitGroup
	stopped bool
}

// New builds a multiplexer. prober may be nil, in which case connectivity
// tests always report failure. A nil clock means wall time.
func New(cfg Config, publisher Publisher, prober Prober, clock Clock) *Multiplexer {
	if clock == nil {
		clock = RealClock{}
	}
	def := DefaultConfig()
	if cfg.PublishPeriod <= 0 {
		cfg.PublishPeriod = def.PublishPeriod
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	logger := log.With().Str("module", "app.control").Logger()
	return &Multiplexer{
		cfg:        cfg,
		clock:      clock,
		publisher:  publisher,
		prober:     prober,
		limiter:    NewRateLimiter(clock, cfg.ProbeLimit, cfg.ProbeWindow),
		logger:     logger,
		publishLog: logger.Sample(&zerolog.BurstSampler{Burst: 1, Period: 5 * time.Second}),
	}
}

// HandleControl implements broker.ControlSink.
func (m *Multiplexer) HandleControl(sid core.SessionID, conn core.SignalConnection, kind string, data []byte) {
	switch kind {
	case core.MsgGamepadInput:
		in, err := core.DecodeGamepadInput(data)
		if err != nil {
			metrics.ParseErrorsTotal.Inc()
			m.logger.Warn().Err(err).Str("sid", string(sid)).Msg("dropping malformed gamepad input")
			return
		}
		if !m.HandleInput(in.Input, in.Value) {
			m.logger.Debug().Str("sid", string(sid)).Str("input", in.Input).Msg("ignoring unknown input")
		}
	case core.MsgTestMQTT:
		settings, err := core.DecodeTestMQTT(data)
		if err != nil {
			metrics.ParseErrorsTotal.Inc()
			m.logger.Warn().Err(err).Str("sid", string(sid)).Msg("dropping malformed connectivity test")
			return
		}
		m.handleProbe(sid, conn, settings)
	default:
		m.logger.Debug().Str("sid", string(sid)).Str("type", kind).Msg("ignoring unknown message type")
	}
}

// HandleInput applies one named input channel. Unknown names return false
// and leave the command untouched.
func (m *Multiplexer) HandleInput(name string, value float64) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cmd
	switch name {
	case InputSpeed:
		next.Linear = value
	case InputTurn:
		next.Angular = value
	default:
		return false
	}
	next.UpdatedAt = now
	m.cmd = next
	return true
}

// Command returns the stored command as last written.
func (m *Multiplexer) Command() domain.ControlCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd
}

// Sample returns the command to publish at now and whether it was stale.
func (m *Multiplexer) Sample(now time.Time) (domain.ControlCommand, bool) {
	cmd := m.Command()
	if now.Sub(cmd.UpdatedAt) > m.cfg.StaleAfter {
		return cmd.Neutral(), true
	}
	return cmd, false
}
