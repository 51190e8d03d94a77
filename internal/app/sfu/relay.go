// Package sfu forwards the encoder's RTP stream into the outgoing WebRTC
// track.
package sfu

import (
	"context"
	"io"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RTPReader is the source side of a relay.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

type Relay struct {
	Src RTPReader

	mu        sync.RWMutex
	outTracks map[string]*OutTrack

	logger zerolog.Logger
}

func NewRelay(src RTPReader) *Relay {
	return &Relay{
		Src:       src,
		outTracks: make(map[string]*OutTrack),
		logger:    log.With().Str("module", "sfu.relay").Logger(),
	}
}

// Run reads RTP packets from the source and forwards them to all OutTracks
// until ctx is done or the source fails. A source that implements io.Closer
// is closed when ctx is done so a blocked read returns.
func (r *Relay) Run(ctx context.Context) error {
	if c, ok := r.Src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	r.logger.Info().Msg("relay loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return nil
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			r.markAllDelete()
			if ctx.Err() != nil {
				r.logger.Info().Msg("relay stopped")
				return nil
			}
			r.logger.Error().Err(err).Msg("relay read RTP error, stopping")
			return err
		}
		r.forward(pkt)
	}
}

func (r *Relay) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for id, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, id)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				r.logger.Error().
					Err(err).
					Str("track", id).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		// A track re-added under the same id after it was marked stays.
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// AddOutTrack attaches ot under id, replacing any previous track.
func (r *Relay) AddOutTrack(id string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[id]; ok && old != ot {
		old.MarkDelete()
	}
	r.outTracks[id] = ot
}

// OutTrack returns the track registered under id.
func (r *Relay) OutTrack(id string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[id]
	return ot, ok
}

func (r *Relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
