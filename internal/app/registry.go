package app

import (
	"context"
	"sync"

	"github.com/dkeye/Rover/internal/core"
	"github.com/rs/zerolog/log"
)

type Entry struct {
	SID  core.SessionID
	Conn core.SignalConnection
}

type registryEntry struct {
	conn   core.SignalConnection
	cancel context.CancelFunc
}

// Registry is the live set of viewer connections.
// Iteration always goes through Snapshot.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*registryEntry),
	}
}

// Add registers conn under sid. cancel, if set, stops the connection's pumps.
func (r *Registry) Add(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &registryEntry{conn: conn, cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("viewers", len(r.sessions)).Msg("bound viewer")
}

// Remove drops sid from the set. Unknown sids are a no-op.
func (r *Registry) Remove(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("viewers", len(r.sessions)).Msg("unbind viewer")
	return true
}

// Kick removes sid and tears its connection down.
func (r *Registry) Kick(sid core.SessionID) bool {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	if ok {
		delete(r.sessions, sid)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.close()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("kicked viewer")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, Entry{SID: sid, Conn: e.conn})
	}
	return out
}

// CloseAll empties the registry and closes every connection once.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.sessions
	r.sessions = make(map[core.SessionID]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
	log.Info().Str("module", "app.registry").Int("closed", len(entries)).Msg("closed all viewers")
}

func (e *registryEntry) close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.conn.Close()
}
