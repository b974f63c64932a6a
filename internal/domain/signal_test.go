package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalOffer(t *testing.T) {
	from := uuid.New()
	msg := &SignalMessage{Type: SignalOffer, From: from, SDP: "v=0..."}
	payload, err := msg.Encode()
	require.NoError(t, err)

	parsed, err := ParseSignal(payload)
	require.NoError(t, err)
	assert.Equal(t, SignalOffer, parsed.Type)
	assert.Equal(t, from, parsed.From)
	assert.Equal(t, "v=0...", parsed.SDP)
}

func TestParseSignalRejectsMissingFields(t *testing.T) {
	from := uuid.New()
	sessionID := uuid.New()

	cases := []struct {
		name string
		msg  SignalMessage
	}{
		{"missing sender", SignalMessage{Type: SignalOffer, SDP: "x"}},
		{"offer without sdp", SignalMessage{Type: SignalOffer, From: from}},
		{"answer without sdp", SignalMessage{Type: SignalAnswer, From: from}},
		{"candidate without payload", SignalMessage{Type: SignalICECandidate, From: from}},
		{"matched without session", SignalMessage{Type: SignalMatched, From: from, PeerID: from}},
		{"matched without peer", SignalMessage{Type: SignalMatched, From: from, SessionID: sessionID}},
		{"unknown type", SignalMessage{Type: "shout", From: from}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := tc.msg.Encode()
			require.NoError(t, err)
			_, err = ParseSignal(payload)
			assert.Error(t, err)
		})
	}
}

func TestParseSignalRejectsGarbage(t *testing.T) {
	_, err := ParseSignal([]byte("{not json"))
	assert.Error(t, err)
}

func TestHangupNeedsOnlySender(t *testing.T) {
	msg := &SignalMessage{Type: SignalHangup, From: uuid.New()}
	assert.NoError(t, msg.Validate())
}

func TestCallStatusCanAdvance(t *testing.T) {
	assert.True(t, CallStatusRinging.CanAdvance(CallStatusAccepted))
	assert.True(t, CallStatusRinging.CanAdvance(CallStatusEnded))
	assert.True(t, CallStatusAccepted.CanAdvance(CallStatusEnded))

	assert.False(t, CallStatusAccepted.CanAdvance(CallStatusRinging))
	assert.False(t, CallStatusEnded.CanAdvance(CallStatusRinging))
	assert.False(t, CallStatusEnded.CanAdvance(CallStatusAccepted))
	assert.False(t, CallStatusEnded.CanAdvance(CallStatusEnded))
}

func TestCallSessionPeerOf(t *testing.T) {
	session := NewCallSession(uuid.New(), uuid.New(), CallStatusRinging)

	assert.Equal(t, session.ReceiverID, session.PeerOf(session.CallerID))
	assert.Equal(t, session.CallerID, session.PeerOf(session.ReceiverID))
	assert.True(t, session.Participant(session.CallerID))
	assert.True(t, session.Participant(session.ReceiverID))
	assert.False(t, session.Participant(uuid.New()))
}
