// Package call implements call session business logic: initiating direct
// calls, accepting, ending, and call history.
package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/errors"
	"campuslink-backend/pkg/metrics"
)

// CallRepository is the persistence port for call sessions
type CallRepository interface {
	Create(ctx context.Context, session *domain.CallSession) error
	Accept(ctx context.Context, sessionID uuid.UUID) (bool, error)
	End(ctx context.Context, sessionID uuid.UUID) (bool, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error)
	ActiveBetween(ctx context.Context, a, b uuid.UUID) (*domain.CallSession, error)
	GetUserSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error)
}

// Service handles call session business logic
type Service struct {
	callRepo CallRepository
	bus      signaling.Bus
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewService creates a new call service
func NewService(callRepo CallRepository, bus signaling.Bus, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		callRepo: callRepo,
		bus:      bus,
		metrics:  m,
		log:      log,
	}
}

// Initiate starts a direct call from caller to receiver. The session record
// is created in "ringing" and the receiver is notified on their identity
// topic. At most one non-ended session may exist per user pair.
func (s *Service) Initiate(ctx context.Context, callerID, receiverID uuid.UUID) (*domain.CallSession, error) {
	if callerID == receiverID {
		return nil, errors.InvalidInputError("cannot call yourself")
	}

	active, err := s.callRepo.ActiveBetween(ctx, callerID, receiverID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errors.CallAlreadyActiveError()
	}

	session := domain.NewCallSession(callerID, receiverID, domain.CallStatusRinging)
	if err := s.callRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.notify(ctx, signaling.UserTopic(receiverID), &domain.SignalMessage{
		Type:      domain.SignalIncomingCall,
		From:      callerID,
		SessionID: session.ID,
		PeerID:    callerID,
		Timestamp: time.Now().UTC(),
	})

	if s.metrics != nil {
		s.metrics.RecordCallCreated(string(domain.CallStatusRinging))
	}
	s.log.Info("call initiated",
		zap.String("session_id", session.ID.String()),
		zap.String("caller_id", callerID.String()),
		zap.String("receiver_id", receiverID.String()))

	return session, nil
}

// Accept moves the session to accepted. Only the receiver may accept, and
// only while the session is still ringing; a duplicate accept is a no-op.
func (s *Service) Accept(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.callRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ReceiverID != userID {
		return nil, errors.ForbiddenError("only the receiver can accept a call")
	}
	if session.Status == domain.CallStatusEnded {
		return nil, errors.CallEndedError()
	}

	advanced, err := s.callRepo.Accept(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if advanced {
		session.Status = domain.CallStatusAccepted
		if s.metrics != nil {
			s.metrics.RecordCallStatus(string(domain.CallStatusAccepted))
		}
		s.log.Info("call accepted", zap.String("session_id", sessionID.String()))
	}

	return session, nil
}

// End marks the session ended and broadcasts a hangup on the call topic so
// the peer tears down promptly even if their transport has not noticed yet.
// Idempotent: ending an ended call succeeds without side effects.
func (s *Service) End(ctx context.Context, sessionID, userID uuid.UUID) error {
	session, err := s.callRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Participant(userID) {
		return errors.ForbiddenError("not a participant of this call")
	}

	advanced, err := s.callRepo.End(ctx, sessionID)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	s.notify(ctx, signaling.CallTopic(sessionID), &domain.SignalMessage{
		Type:      domain.SignalHangup,
		From:      userID,
		Timestamp: time.Now().UTC(),
	})

	if s.metrics != nil {
		s.metrics.RecordCallStatus(string(domain.CallStatusEnded))
	}
	s.log.Info("call ended",
		zap.String("session_id", sessionID.String()),
		zap.String("ended_by", userID.String()))

	return nil
}

// Get returns a session visible to one of its participants
func (s *Service) Get(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.callRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Participant(userID) {
		return nil, errors.ForbiddenError("not a participant of this call")
	}
	return session, nil
}

// History returns the user's call sessions, newest first
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.callRepo.GetUserSessions(ctx, userID, limit, offset)
}

// notify publishes best effort; the relay gives no delivery guarantee and
// losing a notification only delays the peer, it never corrupts state.
func (s *Service) notify(ctx context.Context, topic string, msg *domain.SignalMessage) {
	payload, err := msg.Encode()
	if err != nil {
		s.log.Warn("failed to encode notification", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.log.Warn("failed to publish notification",
			zap.String("topic", topic), zap.Error(err))
	}
}
