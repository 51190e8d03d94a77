package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Rover/internal/core"
	"github.com/dkeye/Rover/internal/domain"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeConn struct {
	mu     sync.Mutex
	frames []string
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.frames = append(c.frames, string(f))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeEngine struct {
	mu         sync.Mutex
	onEvent    func(core.EngineEvent)
	starts     int
	startErr   error
	answers    []domain.SessionDescription
	candidates []domain.Candidate
	answerErr  error
	closed     bool

	// gen counts StartNegotiation calls like the real engine's generation.
	gen uint64

	// autoOffer emits "offer-<gen>" from inside StartNegotiation.
	autoOffer bool
}

func (e *fakeEngine) OnEvent(fn func(core.EngineEvent)) {
	e.mu.Lock()
	e.onEvent = fn
	e.mu.Unlock()
}

func (e *fakeEngine) StartNegotiation(context.Context) error {
	e.mu.Lock()
	e.starts++
	e.gen++
	gen, auto, fn, err := e.gen, e.autoOffer, e.onEvent, e.startErr
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if auto {
		fn(core.OfferProduced{Desc: domain.NewOffer(fmt.Sprintf("offer-%d", gen)), Gen: gen})
	}
	return nil
}

func (e *fakeEngine) generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

func (e *fakeEngine) SubmitRemoteAnswer(d domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.answerErr != nil {
		return e.answerErr
	}
	e.answers = append(e.answers, d)
	return nil
}

func (e *fakeEngine) SubmitRemoteCandidate(c domain.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// emit delivers evt, stamped with the current generation unless it carries
// one already.
func (e *fakeEngine) emit(evt core.EngineEvent) {
	e.mu.Lock()
	fn, gen := e.onEvent, e.gen
	e.mu.Unlock()
	if evt.Generation() == 0 {
		switch v := evt.(type) {
		case core.OfferProduced:
			v.Gen = gen
			evt = v
		case core.CandidateProduced:
			v.Gen = gen
			evt = v
		case core.ConnectionStateChanged:
			v.Gen = gen
			evt = v
		case core.NegotiationFailed:
			v.Gen = gen
			evt = v
		}
	}
	fn(evt)
}

type controlCall struct {
	sid  core.SessionID
	kind string
	data string
}

type fakeControl struct {
	mu    sync.Mutex
	calls []controlCall
}

func (c *fakeControl) HandleControl(sid core.SessionID, _ core.SignalConnection, kind string, data []byte) {
	c.mu.Lock()
	c.calls = append(c.calls, controlCall{sid: sid, kind: kind, data: string(data)})
	c.mu.Unlock()
}
