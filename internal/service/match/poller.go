package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
)

// Poller drives one waiting user's side of matchmaking: join the pool, try a
// claim at a fixed interval, and deliver at most one match. The interval is
// liveness only; correctness rests entirely on the atomic claim, so two
// pollers firing at once can never double-pair anyone.
type Poller struct {
	service   *Service
	userID    uuid.UUID
	interval  time.Duration
	onMatched func(*domain.CallSession)
	log       *zap.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewPoller creates a poller for one user. onMatched is called at most once,
// from the polling goroutine.
func NewPoller(service *Service, userID uuid.UUID, interval time.Duration, onMatched func(*domain.CallSession), log *zap.Logger) *Poller {
	return &Poller{
		service:   service,
		userID:    userID,
		interval:  interval,
		onMatched: onMatched,
		log:       log.With(zap.String("user_id", userID.String())),
		done:      make(chan struct{}),
	}
}

// Start joins the queue and begins polling. An immediate claim runs before
// the first tick so two users joining together pair without waiting a full
// interval.
func (p *Poller) Start(ctx context.Context) error {
	if err := p.service.Join(ctx, p.userID); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.loop(loopCtx)
	return nil
}

// Stop leaves the queue. Returns true when the cancel won and no match was
// delivered; false means a match already claimed this user and the matched
// callback has fired (or is about to).
func (p *Poller) Stop(ctx context.Context) (bool, error) {
	var cancelled bool
	var err error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
		cancelled, err = p.service.Cancel(ctx, p.userID)
	})
	return cancelled, err
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		session, err := p.service.TryMatch(ctx, p.userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("match attempt failed", zap.Error(err))
		}
		if session != nil {
			p.onMatched(session)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
