package core

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Rover/internal/domain"
)

// SessionSnapshot is a detached copy of the cache, safe to replay.
type SessionSnapshot struct {
	Offer      *domain.SessionDescription
	Candidates []domain.Candidate
}

// SessionCache holds the local offer and candidates of the current cycle.
// ready implies offer != nil.
type SessionCache struct {
	mu         sync.Mutex
	offer      *domain.SessionDescription
	candidates []domain.Candidate
	ready      bool
}

func NewSessionCache() *SessionCache {
	return &SessionCache{}
}

func (c *SessionCache) BeginCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offer = nil
	c.candidates = nil
	c.ready = false
}

// SetOffer stores the first offer of a cycle.
func (c *SessionCache) SetOffer(desc domain.SessionDescription) error {
	if desc.Type != domain.SDPTypeOffer {
		return fmt.Errorf("%w: expected offer, got %q", ErrInvalidState, desc.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offer != nil {
		return fmt.Errorf("%w: offer already set for this cycle", ErrInvalidState)
	}
	c.offer = &desc
	c.ready = true
	return nil
}

func (c *SessionCache) AppendCandidate(cand domain.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
}

func (c *SessionCache) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *SessionCache) CandidateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

func (c *SessionCache) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := SessionSnapshot{Candidates: slices.Clone(c.candidates)}
	if c.offer != nil {
		offer := *c.offer
		snap.Offer = &offer
	}
	return snap
}
