package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SignalType discriminates call-control messages on the signaling channel.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalHangup       SignalType = "hangup"

	// Identity-topic events. "matched" is pushed to a queued user when the
	// matchmaker pairs them; "incoming_call" notifies a callee of a direct call.
	SignalMatched      SignalType = "matched"
	SignalIncomingCall SignalType = "incoming_call"
)

// SignalMessage is a transient, unpersisted call-control message. Delivery is
// at-least-once and unordered across types, so every consumer must be
// idempotent and must filter on From.
type SignalMessage struct {
	Type      SignalType `json:"type"`
	From      uuid.UUID  `json:"from"`
	SDP       string     `json:"sdp,omitempty"`       // offer/answer
	Candidate string     `json:"candidate,omitempty"` // ice-candidate (JSON-encoded candidate init)
	SessionID uuid.UUID  `json:"session_id,omitempty"`
	PeerID    uuid.UUID  `json:"peer_id,omitempty"`    // matched/incoming_call
	PeerName  string     `json:"peer_name,omitempty"`  // display info for the paired peer
	Timestamp time.Time  `json:"timestamp,omitempty"`
}

// Validate checks the per-type required fields. Payloads from the relay are
// untrusted; nothing past this point handles an open object.
func (m *SignalMessage) Validate() error {
	if m.From == uuid.Nil {
		return fmt.Errorf("signal %q missing sender", m.Type)
	}
	switch m.Type {
	case SignalOffer, SignalAnswer:
		if m.SDP == "" {
			return fmt.Errorf("signal %q missing sdp", m.Type)
		}
	case SignalICECandidate:
		if m.Candidate == "" {
			return fmt.Errorf("signal %q missing candidate", m.Type)
		}
	case SignalHangup:
		// sender only
	case SignalMatched, SignalIncomingCall:
		if m.SessionID == uuid.Nil {
			return fmt.Errorf("signal %q missing session_id", m.Type)
		}
		if m.PeerID == uuid.Nil {
			return fmt.Errorf("signal %q missing peer_id", m.Type)
		}
	default:
		return fmt.Errorf("unknown signal type %q", m.Type)
	}
	return nil
}

// ParseSignal decodes and validates one wire payload.
func ParseSignal(data []byte) (*SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode signal: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Encode marshals the message for the wire.
func (m *SignalMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal: %w", err)
	}
	return data, nil
}
