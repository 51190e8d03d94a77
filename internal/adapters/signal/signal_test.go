package signal

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Rover/internal/app"
	"github.com/dkeye/Rover/internal/app/broker"
	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type stubEngine struct {
	mu      sync.Mutex
	onEvent func(core.EngineEvent)
	answers []domain.SessionDescription
}

func (e *stubEngine) OnEvent(fn func(core.EngineEvent)) {
	e.mu.Lock()
	e.onEvent = fn
	e.mu.Unlock()
}

func (e *stubEngine) emit(evt core.EngineEvent) {
	e.mu.Lock()
	fn := e.onEvent
	e.mu.Unlock()
	fn(evt)
}

func (e *stubEngine) StartNegotiation(context.Context) error { return nil }

func (e *stubEngine) SubmitRemoteAnswer(d domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers = append(e.answers, d)
	return nil
}

func (e *stubEngine) SubmitRemoteCandidate(domain.Candidate) error { return nil }
func (e *stubEngine) Close() error                                 { return nil }

func (e *stubEngine) answerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.answers)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newSignalServer(t *testing.T, opts Options) (*broker.Broker, *stubEngine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := &stubEngine{}
	b := broker.New(engine, app.NewRegistry(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ctl := NewSignalWSController(b, opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		_ = b.Close()
		cancel()
		srv.Close()
	})
	return b, engine, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestSignal_LateJoinerReplayAndAnswer(t *testing.T) {
	b, engine, url := newSignalServer(t, Options{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	engine.emit(core.OfferProduced{Desc: domain.NewOffer("v=0 offer")})
	engine.emit(core.CandidateProduced{Candidate: domain.Candidate{MLineIndex: 0, Value: "candidate:1"}})

	ws := dial(t, url)
	if got := readText(t, ws); got != `{"type":"sdp-offer","sdp":"v=0 offer"}` {
		t.Fatalf("first frame = %s", got)
	}
	if got := readText(t, ws); got != `{"type":"ice-candidate","candidate":"candidate:1","sdpMLineIndex":0}` {
		t.Fatalf("second frame = %s", got)
	}

	// Live candidates follow the replay.
	engine.emit(core.CandidateProduced{Candidate: domain.Candidate{MLineIndex: 1, Value: "candidate:2"}})
	if got := readText(t, ws); got != `{"type":"ice-candidate","candidate":"candidate:2","sdpMLineIndex":1}` {
		t.Fatalf("broadcast frame = %s", got)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"sdp-answer","sdp":"v=0 answer"}`)); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	waitFor(t, "answer forwarded", func() bool { return engine.answerCount() == 1 })
}

func TestSignal_DisconnectUnregisters(t *testing.T) {
	b, _, url := newSignalServer(t, Options{})
	ws := dial(t, url)
	waitFor(t, "viewer registered", func() bool { return b.Status().Viewers == 1 })

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	waitFor(t, "viewer removed", func() bool { return b.Status().Viewers == 0 })
}

func TestSignal_MalformedMessageKeepsConnection(t *testing.T) {
	b, engine, url := newSignalServer(t, Options{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ws := dial(t, url)
	waitFor(t, "viewer registered", func() bool { return b.Status().Viewers == 1 })

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	engine.emit(core.OfferProduced{Desc: domain.NewOffer("v=0 offer")})
	if got := readText(t, ws); got != `{"type":"sdp-offer","sdp":"v=0 offer"}` {
		t.Fatalf("frame after malformed input = %s", got)
	}
	if b.Status().Viewers != 1 {
		t.Fatalf("malformed message dropped the viewer")
	}
}

func TestSignal_ReadLimitClosesConnection(t *testing.T) {
	b, _, url := newSignalServer(t, Options{ReadLimit: 64})
	ws := dial(t, url)
	waitFor(t, "viewer registered", func() bool { return b.Status().Viewers == 1 })

	big := `{"type":"gamepad-input","input":"` + strings.Repeat("x", 256) + `","value":1}`
	_ = ws.WriteMessage(websocket.TextMessage, []byte(big))
	waitFor(t, "viewer removed", func() bool { return b.Status().Viewers == 0 })
}

func TestWsSignalConn_TrySend(t *testing.T) {
	c := NewWsSignalConn(nil, 1)
	if err := c.TrySend(core.Frame("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.TrySend(core.Frame("b")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("full buffer: %v, want ErrBackpressure", err)
	}
	c.Close()
	c.Close()
	if err := c.TrySend(core.Frame("c")); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("after close: %v, want ErrConnClosed", err)
	}
}
