package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	MessageOffer     MessageType = "offer"
	MessageAnswer    MessageType = "answer"
	MessageCandidate MessageType = "candidate"
)

// CandidatePayload carries the ICE candidate fields exchanged through
// the store. Mid and MLineIndex are pointers because an end-of-candidates
// marker legitimately omits them.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalingMessage is the closed set of record shapes written to the
// signaling store: offers and answers carry SDP, candidates carry the
// ICE fields. Records are immutable once written.
type SignalingMessage struct {
	Type      MessageType      `json:"type"`
	From      ParticipantID    `json:"from"`
	To        ParticipantID    `json:"to"`
	SDP       string           `json:"sdp,omitempty"`
	Candidate CandidatePayload `json:"candidate_fields,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewOffer(from, to ParticipantID, sdp string) SignalingMessage {
	return SignalingMessage{Type: MessageOffer, From: from, To: to, SDP: sdp, Timestamp: time.Now()}
}

func NewAnswer(from, to ParticipantID, sdp string) SignalingMessage {
	return SignalingMessage{Type: MessageAnswer, From: from, To: to, SDP: sdp, Timestamp: time.Now()}
}

func NewCandidate(from, to ParticipantID, c CandidatePayload) SignalingMessage {
	return SignalingMessage{Type: MessageCandidate, From: from, To: to, Candidate: c, Timestamp: time.Now()}
}

func (m SignalingMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signaling message: %w", err)
	}
	return data, nil
}

// DecodeSignalingMessage validates a record read from the store
// boundary. Unrecognized shapes decode to ErrStaleMessage so a garbled
// or foreign record is skipped rather than crashing a watcher.
func DecodeSignalingMessage(data []byte) (SignalingMessage, error) {
	var m SignalingMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SignalingMessage{}, fmt.Errorf("%w: %v", ErrStaleMessage, err)
	}

	switch m.Type {
	case MessageOffer, MessageAnswer:
		if m.SDP == "" {
			return SignalingMessage{}, fmt.Errorf("%w: %s without sdp", ErrStaleMessage, m.Type)
		}
	case MessageCandidate:
		if m.Candidate.Candidate == "" {
			return SignalingMessage{}, fmt.Errorf("%w: candidate without fields", ErrStaleMessage)
		}
	default:
		return SignalingMessage{}, fmt.Errorf("%w: unknown type %q", ErrStaleMessage, m.Type)
	}

	if m.From == "" {
		return SignalingMessage{}, fmt.Errorf("%w: missing sender", ErrStaleMessage)
	}
	return m, nil
}
