// Package memory provides in-process repository implementations for tests
// and single-node development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"campuslink-backend/internal/domain"
)

// MatchQueueRepository is an in-memory waiting pool with the same claim
// semantics as the Redis one: removal is atomic under the store lock, so a
// waiter can be claimed at most once.
type MatchQueueRepository struct {
	mu      sync.Mutex
	waiting map[uuid.UUID]time.Time
}

// NewMatchQueueRepository creates an empty in-memory pool
func NewMatchQueueRepository() *MatchQueueRepository {
	return &MatchQueueRepository{waiting: make(map[uuid.UUID]time.Time)}
}

// Enqueue adds the user, refreshing the join time on re-join
func (r *MatchQueueRepository) Enqueue(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	r.waiting[userID] = time.Now()
	r.mu.Unlock()
	return nil
}

// Cancel removes the user, reporting whether they were still waiting
func (r *MatchQueueRepository) Cancel(_ context.Context, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waiting[userID]; !ok {
		return false, nil
	}
	delete(r.waiting, userID)
	return true, nil
}

// Claim pairs userID with the oldest other waiter, removing both
func (r *MatchQueueRepository) Claim(_ context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.waiting[userID]; !ok {
		return uuid.Nil, false, nil
	}

	var partnerID uuid.UUID
	var oldest time.Time
	found := false
	for id, joined := range r.waiting {
		if id == userID {
			continue
		}
		if !found || joined.Before(oldest) {
			partnerID = id
			oldest = joined
			found = true
		}
	}
	if !found {
		return uuid.Nil, false, nil
	}

	delete(r.waiting, userID)
	delete(r.waiting, partnerID)
	return partnerID, true, nil
}

// Depth returns the number of users currently waiting
func (r *MatchQueueRepository) Depth(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.waiting)), nil
}

// Entries returns a snapshot of the pool, used by tests
func (r *MatchQueueRepository) Entries() []domain.MatchQueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]domain.MatchQueueEntry, 0, len(r.waiting))
	for id, joined := range r.waiting {
		entries = append(entries, domain.MatchQueueEntry{UserID: id, JoinedAt: joined})
	}
	return entries
}
