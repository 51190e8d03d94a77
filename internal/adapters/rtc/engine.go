// Package rtc implements the producing media session on top of pion.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	trackID  = "video"
	streamID = "rover"
)

var errEngineClosed = errors.New("engine closed")

type Config struct {
	ICEServers []string
}

func (c Config) webrtcConfig() webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

// Engine offers one send-only H.264 track. Each negotiation cycle gets a
// fresh PeerConnection; callbacks from an older one are dropped.
type Engine struct {
	api    *webrtc.API
	cfg    webrtc.Configuration
	track  *webrtc.TrackLocalStaticRTP
	logger zerolog.Logger

	// negMu serializes calls into the current PeerConnection's signaling
	// state machine.
	negMu sync.Mutex

	mu        sync.Mutex
	onEvent   func(core.EngineEvent)
	pc        *webrtc.PeerConnection
	gen       uint64
	offerSent bool
	pending   []domain.Candidate
	closed    bool
}

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	// NACK, RTCP reports and TWCC for the outgoing video.
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{}}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		trackID, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	return &Engine{
		api:    api,
		cfg:    cfg.webrtcConfig(),
		track:  track,
		logger: log.With().Str("module", "webrtc").Logger(),
	}, nil
}

// Track is the sink the RTP relay writes into.
func (e *Engine) Track() *webrtc.TrackLocalStaticRTP { return e.track }

func (e *Engine) OnEvent(fn func(core.EngineEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = fn
}

// StartNegotiation replaces any previous PeerConnection, emits the offer and
// then trickles local candidates. Candidates gathered before the offer is
// emitted are held back and flushed right after it.
func (e *Engine) StartNegotiation(ctx context.Context) error {
	e.negMu.Lock()
	defer e.negMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", core.ErrInvalidState, errEngineClosed)
	}
	old := e.pc
	e.gen++
	gen := e.gen
	e.pc = nil
	e.offerSent = false
	e.pending = nil
	e.mu.Unlock()

	logger := e.logger.With().Uint64("gen", gen).Logger()
	if old != nil {
		if err := old.Close(); err != nil {
			logger.Warn().Err(err).Msg("close previous peer connection")
		}
	}

	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return fmt.Errorf("%w: new peer connection: %w", core.ErrNegotiation, err)
	}
	fail := func(what string, err error) error {
		if cerr := pc.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("close failed peer connection")
		}
		return fmt.Errorf("%w: %s: %w", core.ErrNegotiation, what, err)
	}

	sender, err := pc.AddTrack(e.track)
	if err != nil {
		return fail("add track", err)
	}
	// Interceptors only see RTCP that is read.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			logger.Debug().Msg("ICE gathering complete")
			return
		}
		e.onLocalCandidate(gen, c.ToJSON())
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.onStateChange(gen, s)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("set local description", err)
	}
	if err := ctx.Err(); err != nil {
		return fail("start negotiation", err)
	}

	e.mu.Lock()
	if e.gen != gen || e.closed {
		e.mu.Unlock()
		_ = pc.Close()
		return fmt.Errorf("%w: negotiation superseded", core.ErrInvalidState)
	}
	defer e.mu.Unlock()
	e.pc = pc
	e.offerSent = true
	logger.Info().Msg("local offer ready")
	e.emitLocked(core.OfferProduced{Desc: domain.NewOffer(offer.SDP), Gen: gen})
	for _, c := range e.pending {
		e.emitLocked(core.CandidateProduced{Candidate: c, Gen: gen})
	}
	e.pending = nil
	return nil
}

func (e *Engine) onLocalCandidate(gen uint64, init webrtc.ICECandidateInit) {
	c := domain.Candidate{Value: init.Candidate}
	if init.SDPMLineIndex != nil {
		c.MLineIndex = *init.SDPMLineIndex
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	if !e.offerSent {
		e.pending = append(e.pending, c)
		return
	}
	e.emitLocked(core.CandidateProduced{Candidate: c, Gen: gen})
}

func (e *Engine) onStateChange(gen uint64, s webrtc.PeerConnectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.logger.Info().Uint64("gen", gen).Str("peer_connection_state", s.String()).Msg("Peer state")
	e.emitLocked(core.ConnectionStateChanged{State: connectionState(s), Gen: gen})
}

// emitLocked delivers evt with e.mu held, which keeps the offer ahead of
// every candidate. Handlers must not call back into the engine.
func (e *Engine) emitLocked(evt core.EngineEvent) {
	if e.onEvent != nil {
		e.onEvent(evt)
	}
}

// SubmitRemoteAnswer applies the first answer of the cycle. Later answers
// for the same offer are ignored.
func (e *Engine) SubmitRemoteAnswer(desc domain.SessionDescription) error {
	if desc.Type != domain.SDPTypeAnswer {
		return fmt.Errorf("%w: expected answer, got %q", core.ErrNegotiation, desc.Type)
	}

	e.negMu.Lock()
	defer e.negMu.Unlock()

	pc, gen := e.current()
	if pc == nil || pc.LocalDescription() == nil {
		return fmt.Errorf("%w: no local offer", core.ErrNegotiation)
	}
	if pc.RemoteDescription() != nil {
		e.logger.Debug().Uint64("gen", gen).Msg("duplicate answer ignored")
		return nil
	}
	err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP})
	if err != nil {
		return fmt.Errorf("%w: set remote description: %w", core.ErrNegotiation, err)
	}
	e.logger.Info().Uint64("gen", gen).Msg("remote answer applied")
	return nil
}

func (e *Engine) SubmitRemoteCandidate(c domain.Candidate) error {
	e.negMu.Lock()
	defer e.negMu.Unlock()

	pc, _ := e.current()
	if pc == nil {
		return fmt.Errorf("%w: no active negotiation", core.ErrNegotiation)
	}
	idx := c.MLineIndex
	if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c.Value, SDPMLineIndex: &idx}); err != nil {
		return fmt.Errorf("%w: add candidate: %w", core.ErrNegotiation, err)
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.gen++
	e.closed = true
	e.mu.Unlock()

	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		e.logger.Error().Err(err).Msg("close error")
		return fmt.Errorf("close peer connection: %w", err)
	}
	e.logger.Info().Msg("closed")
	return nil
}

func (e *Engine) current() (*webrtc.PeerConnection, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc, e.gen
}

func connectionState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionStateClosed
	default:
		return domain.ConnectionStateNew
	}
}
