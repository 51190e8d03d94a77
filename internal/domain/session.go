// Package domain contains entity without logic, just meta-data
package domain

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is replaced wholesale, never mutated in place.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

func NewOffer(sdp string) SessionDescription {
	return SessionDescription{Type: SDPTypeOffer, SDP: sdp}
}

func NewAnswer(sdp string) SessionDescription {
	return SessionDescription{Type: SDPTypeAnswer, SDP: sdp}
}

// Candidate is one network path of the producing session.
// Duplicates are legal; nothing downstream may assume uniqueness.
type Candidate struct {
	MLineIndex uint16
	Value      string
}
