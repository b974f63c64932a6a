// Package match implements the random-match queue: joining, cancelling, and
// the atomic claim that pairs two waiting users.
package match

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/metrics"
)

// QueueRepository is the waiting-pool port. Claim must be atomic: of two
// concurrent claimers racing for the same pair, exactly one wins.
type QueueRepository interface {
	Enqueue(ctx context.Context, userID uuid.UUID) error
	Cancel(ctx context.Context, userID uuid.UUID) (bool, error)
	Claim(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error)
	Depth(ctx context.Context) (int64, error)
}

// SessionCreator persists the session record for a successful match
type SessionCreator interface {
	Create(ctx context.Context, session *domain.CallSession) error
}

// Service handles matchmaking business logic
type Service struct {
	queue    QueueRepository
	sessions SessionCreator
	bus      signaling.Bus
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewService creates a new match service
func NewService(queue QueueRepository, sessions SessionCreator, bus signaling.Bus, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		queue:    queue,
		sessions: sessions,
		bus:      bus,
		metrics:  m,
		log:      log,
	}
}

// Join puts the user into the waiting pool. Re-joining refreshes their
// position instead of erroring.
func (s *Service) Join(ctx context.Context, userID uuid.UUID) error {
	if err := s.queue.Enqueue(ctx, userID); err != nil {
		return err
	}
	s.observeDepth(ctx)
	s.log.Info("user joined match queue", zap.String("user_id", userID.String()))
	return nil
}

// Cancel removes the user from the pool. The returned bool is the
// authoritative outcome: true means the cancel won and no match will be
// delivered, false means the user was already matched (or never queued) and
// the cancel came too late.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) (bool, error) {
	removed, err := s.queue.Cancel(ctx, userID)
	if err != nil {
		return false, err
	}
	s.observeDepth(ctx)
	s.log.Info("user left match queue",
		zap.String("user_id", userID.String()), zap.Bool("removed", removed))
	return removed, nil
}

// TryMatch attempts one atomic claim on behalf of userID. Returns nil with
// no error when no partner is available yet; the caller polls again later.
// On success both users are out of the pool, a session record exists in
// "accepted", and the partner has been notified on their identity topic.
func (s *Service) TryMatch(ctx context.Context, userID uuid.UUID) (*domain.CallSession, error) {
	partnerID, claimed, err := s.queue.Claim(ctx, userID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordClaim("error")
		}
		return nil, err
	}
	if !claimed {
		if s.metrics != nil {
			s.metrics.RecordClaim("empty")
		}
		return nil, nil
	}
	if s.metrics != nil {
		s.metrics.RecordClaim("won")
	}

	// both sides opted in by queuing, so the session starts accepted
	session := domain.NewCallSession(userID, partnerID, domain.CallStatusAccepted)
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.notifyPartner(ctx, session)
	s.observeDepth(ctx)

	if s.metrics != nil {
		s.metrics.RecordMatchMade()
		s.metrics.RecordCallCreated(string(domain.CallStatusAccepted))
	}
	s.log.Info("match made",
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("partner_id", partnerID.String()))

	return session, nil
}

func (s *Service) notifyPartner(ctx context.Context, session *domain.CallSession) {
	msg := &domain.SignalMessage{
		Type:      domain.SignalMatched,
		From:      session.CallerID,
		SessionID: session.ID,
		PeerID:    session.CallerID,
		Timestamp: time.Now().UTC(),
	}
	payload, err := msg.Encode()
	if err != nil {
		s.log.Warn("failed to encode match notification", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, signaling.UserTopic(session.ReceiverID), payload); err != nil {
		// the partner still learns of the match from the session record;
		// their next poll or reconnect picks it up
		s.log.Warn("failed to notify matched partner",
			zap.String("partner_id", session.ReceiverID.String()), zap.Error(err))
	}
}

func (s *Service) observeDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return
	}
	s.metrics.SetMatchQueueDepth(depth)
}
