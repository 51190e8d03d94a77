package control

import (
	"sync"
	"time"

	"github.com/dkeye/Rover/internal/core"
)

// RateLimiter is a per-viewer sliding window. Histories that fell out of the
// window are dropped on every call, so departed viewers are not remembered.
type RateLimiter struct {
	mu       sync.Mutex
	clock    Clock
	history  map[core.SessionID][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(clock Clock, limit int, interval time.Duration) *RateLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &RateLimiter{
		clock:    clock,
		history:  make(map[core.SessionID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) Allow(sid core.SessionID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	rl.sweepLocked(windowStart)

	attempts := rl.history[sid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}

	rl.history[sid] = append(fresh, now)
	return true
}

func (rl *RateLimiter) sweepLocked(windowStart time.Time) {
	for sid, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, sid)
		}
	}
}
