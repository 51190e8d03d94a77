package sfu

import (
	"sync/atomic"

	"github.com/dkeye/Rover/internal/domain"
	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// RTPWriter is the sink side of a relay; *webrtc.TrackLocalStaticRTP
// satisfies it.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack represents a single outgoing track fed by the relay.
type OutTrack struct {
	Track RTPWriter
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(track RTPWriter) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

// MarkOk resumes a muted track. It reports false for a deleted track.
func (ot *OutTrack) MarkOk() bool {
	return ot.swap(TrackStateMuted, TrackStateOk)
}

// MarkMuted pauses forwarding. It reports false for a deleted track.
func (ot *OutTrack) MarkMuted() bool {
	return ot.swap(TrackStateOk, TrackStateMuted)
}

func (ot *OutTrack) swap(from, to TrackState) bool {
	if ot.state.CompareAndSwap(int32(from), int32(to)) {
		return true
	}
	return ot.GetState() == to
}

// FollowPeer forwards packets only while the remote peer is connected.
func (ot *OutTrack) FollowPeer(s domain.ConnectionState) {
	if s == domain.ConnectionStateConnected {
		ot.MarkOk()
		return
	}
	ot.MarkMuted()
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
