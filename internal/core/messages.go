package core

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Rover/internal/domain"
)

// Message types on the viewer channel.
const (
	MsgSDPOffer       = "sdp-offer"
	MsgSDPAnswer      = "sdp-answer"
	MsgICECandidate   = "ice-candidate"
	MsgGamepadInput   = "gamepad-input"
	MsgTestMQTT       = "test-mqtt-connection"
	MsgMQTTTestResult = "mqtt-test-result"
)

type SDPMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type CandidateMessage struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

type GamepadInputMessage struct {
	Type  string  `json:"type"`
	Input string  `json:"input"`
	Value float64 `json:"value"`
}

type MQTTSettings struct {
	Broker string `json:"broker"`
	Topic  string `json:"topic"`
}

type TestMQTTMessage struct {
	Type     string       `json:"type"`
	Settings MQTTSettings `json:"settings"`
}

type TestResultMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// TwistPayload is what the control bus receives every publish tick.
type TwistPayload struct {
	Linear struct {
		X float64 `json:"x"`
	} `json:"linear"`
	Angular struct {
		Z float64 `json:"z"`
	} `json:"angular"`
}

func NewTwist(cmd domain.ControlCommand) TwistPayload {
	var p TwistPayload
	p.Linear.X = cmd.Linear
	p.Angular.Z = cmd.Angular
	return p
}

// MessageType returns the envelope type of a viewer message.
func MessageType(data []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrParse)
	}
	return env.Type, nil
}

func EncodeOffer(desc domain.SessionDescription) (Frame, error) {
	return json.Marshal(SDPMessage{Type: MsgSDPOffer, SDP: desc.SDP})
}

func EncodeCandidate(c domain.Candidate) (Frame, error) {
	idx := c.MLineIndex
	return json.Marshal(CandidateMessage{
		Type:          MsgICECandidate,
		Candidate:     c.Value,
		SDPMLineIndex: &idx,
	})
}

func EncodeTestResult(success bool) (Frame, error) {
	return json.Marshal(TestResultMessage{Type: MsgMQTTTestResult, Success: success})
}

func DecodeAnswer(data []byte) (domain.SessionDescription, error) {
	var m SDPMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: answer: %v", ErrParse, err)
	}
	return domain.NewAnswer(m.SDP), nil
}

func DecodeCandidate(data []byte) (domain.Candidate, error) {
	var m CandidateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Candidate{}, fmt.Errorf("%w: candidate: %v", ErrParse, err)
	}
	if m.SDPMLineIndex == nil {
		return domain.Candidate{}, fmt.Errorf("%w: candidate: missing sdpMLineIndex", ErrParse)
	}
	return domain.Candidate{MLineIndex: *m.SDPMLineIndex, Value: m.Candidate}, nil
}

func DecodeGamepadInput(data []byte) (GamepadInputMessage, error) {
	var m GamepadInputMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: gamepad-input: %v", ErrParse, err)
	}
	return m, nil
}

func DecodeTestMQTT(data []byte) (MQTTSettings, error) {
	var m TestMQTTMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return MQTTSettings{}, fmt.Errorf("%w: test-mqtt-connection: %v", ErrParse, err)
	}
	return m.Settings, nil
}
