package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/Rover/internal/app"
	"github.com/dkeye/Rover/internal/app/broker"
	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
	"github.com/pion/webrtc/v4"
)

type eventLog struct {
	mu     sync.Mutex
	events []core.EngineEvent
}

func (l *eventLog) record(evt core.EngineEvent) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

func (l *eventLog) offers() []domain.SessionDescription {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SessionDescription
	for _, evt := range l.events {
		if o, ok := evt.(core.OfferProduced); ok {
			out = append(out, o.Desc)
		}
	}
	return out
}

func (l *eventLog) first() core.EngineEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil
	}
	return l.events[0]
}

func newTestEngine(t *testing.T) (*Engine, *eventLog) {
	t.Helper()
	e, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	events := &eventLog{}
	e.OnEvent(events.record)
	return e, events
}

func answerFor(t *testing.T, offer domain.SessionDescription) domain.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("answerer: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		t.Fatalf("answerer SetRemoteDescription: %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Fatalf("answerer SetLocalDescription: %v", err)
	}
	return domain.NewAnswer(answer.SDP)
}

func TestEngine_AnswerBeforeOffer(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.SubmitRemoteAnswer(domain.NewAnswer("v=0\r\n"))
	if !errors.Is(err, core.ErrNegotiation) {
		t.Fatalf("err = %v, want ErrNegotiation", err)
	}
	if err := e.SubmitRemoteCandidate(domain.Candidate{Value: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}); !errors.Is(err, core.ErrNegotiation) {
		t.Fatalf("candidate err = %v, want ErrNegotiation", err)
	}
}

func TestEngine_OfferComesFirst(t *testing.T) {
	e, events := newTestEngine(t)
	if err := e.StartNegotiation(context.Background()); err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}

	offer, ok := events.first().(core.OfferProduced)
	if !ok {
		t.Fatalf("first event = %T, want OfferProduced", events.first())
	}
	if offer.Desc.Type != domain.SDPTypeOffer {
		t.Fatalf("offer type = %q", offer.Desc.Type)
	}
	if !strings.Contains(offer.Desc.SDP, "m=video") || !strings.Contains(offer.Desc.SDP, "H264") {
		t.Fatalf("offer lacks the H264 video section:\n%s", offer.Desc.SDP)
	}
	if n := len(events.offers()); n != 1 {
		t.Fatalf("got %d offers", n)
	}
}

func TestEngine_AcceptsAnswerOnce(t *testing.T) {
	e, events := newTestEngine(t)
	if err := e.StartNegotiation(context.Background()); err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	answer := answerFor(t, events.offers()[0])

	if err := e.SubmitRemoteAnswer(answer); err != nil {
		t.Fatalf("SubmitRemoteAnswer: %v", err)
	}
	if err := e.SubmitRemoteAnswer(answer); err != nil {
		t.Fatalf("duplicate answer: %v", err)
	}
}

func TestEngine_RejectsOfferAsAnswer(t *testing.T) {
	e, events := newTestEngine(t)
	if err := e.StartNegotiation(context.Background()); err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	err := e.SubmitRemoteAnswer(events.offers()[0])
	if !errors.Is(err, core.ErrNegotiation) {
		t.Fatalf("err = %v, want ErrNegotiation", err)
	}
}

func TestEngine_NewCycleReplacesPeerConnection(t *testing.T) {
	e, events := newTestEngine(t)
	if err := e.StartNegotiation(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := e.StartNegotiation(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	offers := events.offers()
	if len(offers) != 2 {
		t.Fatalf("got %d offers, want 2", len(offers))
	}
	if offers[0].SDP == offers[1].SDP {
		t.Fatalf("second cycle reused the first offer")
	}

	// The new cycle takes an answer to its own offer.
	if err := e.SubmitRemoteAnswer(answerFor(t, offers[1])); err != nil {
		t.Fatalf("answer for new cycle: %v", err)
	}
}

func TestEngine_StartAfterClose(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.StartNegotiation(context.Background()); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestEngine_CanceledContext(t *testing.T) {
	e, events := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.StartNegotiation(ctx); !errors.Is(err, core.ErrNegotiation) {
		t.Fatalf("err = %v, want ErrNegotiation", err)
	}
	if n := len(events.offers()); n != 0 {
		t.Fatalf("canceled start produced %d offers", n)
	}
}

func TestConnectionStateMapping(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]domain.ConnectionState{
		webrtc.PeerConnectionStateNew:          domain.ConnectionStateNew,
		webrtc.PeerConnectionStateConnecting:   domain.ConnectionStateConnecting,
		webrtc.PeerConnectionStateConnected:    domain.ConnectionStateConnected,
		webrtc.PeerConnectionStateDisconnected: domain.ConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed:       domain.ConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:       domain.ConnectionStateClosed,
	}
	for in, want := range cases {
		if got := connectionState(in); got != want {
			t.Errorf("connectionState(%s) = %s, want %s", in, got, want)
		}
	}
}

type frameConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *frameConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *frameConn) Close() {}

func (c *frameConn) first() core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[0]
}

func iceUfrag(sdp string) string {
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "a=ice-ufrag:"); ok {
			return v
		}
	}
	return ""
}

func TestEngine_ConcurrentRestartsCacheLiveOffer(t *testing.T) {
	e, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	b := broker.New(e, app.NewRegistry(), nil, nil)
	t.Cleanup(func() { _ = b.Close() })
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Restart(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Restart: %v", err)
		}
	}

	v := &frameConn{}
	b.OnViewerJoin("v", v, nil)
	var msg struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(v.first(), &msg); err != nil {
		t.Fatalf("decode replayed frame %q: %v", v.first(), err)
	}
	if msg.Type != core.MsgSDPOffer {
		t.Fatalf("first frame type = %q", msg.Type)
	}

	pc, _ := e.current()
	if pc == nil || pc.LocalDescription() == nil {
		t.Fatalf("engine has no live offer")
	}
	got, want := iceUfrag(msg.SDP), iceUfrag(pc.LocalDescription().SDP)
	if got == "" || got != want {
		t.Fatalf("cached offer ufrag = %q, live peer connection ufrag = %q", got, want)
	}
}
