package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the persisted state of a call session. The status ledger is
// forward-only: ringing -> accepted -> ended, never backwards.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusEnded    CallStatus = "ended"
)

// Valid reports whether s is a known call status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusRinging, CallStatusAccepted, CallStatusEnded:
		return true
	}
	return false
}

// CanAdvance reports whether next is a legal forward transition from s.
// Ended is terminal; nothing advances out of it.
func (s CallStatus) CanAdvance(next CallStatus) bool {
	switch s {
	case CallStatusRinging:
		return next == CallStatusAccepted || next == CallStatusEnded
	case CallStatusAccepted:
		return next == CallStatusEnded
	}
	return false
}

// CallSession represents one call attempt between two identified users
type CallSession struct {
	ID         uuid.UUID  `json:"id"`
	CallerID   uuid.UUID  `json:"caller_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	Status     CallStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Duration   int        `json:"duration,omitempty"` // in seconds
}

// NewCallSession creates a call session record with a fresh ID.
// Direct calls start in "ringing"; random matches start in "accepted"
// because both sides opted in by entering the queue.
func NewCallSession(callerID, receiverID uuid.UUID, status CallStatus) *CallSession {
	return &CallSession{
		ID:         uuid.New(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     status,
		CreatedAt:  time.Now(),
	}
}

// Participant reports whether userID is one of the two parties of the call.
func (c *CallSession) Participant(userID uuid.UUID) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// PeerOf returns the other party of the call.
func (c *CallSession) PeerOf(userID uuid.UUID) uuid.UUID {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

// MatchQueueEntry is a user waiting for a random match. It exists only while
// the user is in the pool: the atomic claim or an explicit cancel removes it.
type MatchQueueEntry struct {
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
