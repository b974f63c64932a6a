package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"campuslink-backend/internal/database"
)

const matchQueueKey = "match:queue"

// claimScript pairs the claiming user with the oldest other waiter and
// removes both entries in one atomic step. Exactly one of two concurrent
// claimers can win a given pair; the loser sees an empty result and keeps
// waiting. A user already removed (cancelled or claimed by someone else)
// cannot claim at all.
var claimScript = redis.NewScript(`
local selfID = ARGV[1]
if redis.call('ZSCORE', KEYS[1], selfID) == false then
	return false
end
local waiting = redis.call('ZRANGE', KEYS[1], 0, 1)
for _, member in ipairs(waiting) do
	if member ~= selfID then
		redis.call('ZREM', KEYS[1], selfID, member)
		return member
	end
end
return false
`)

// MatchQueueRepository holds the random-match waiting pool in a Redis sorted
// set scored by join time, oldest first.
type MatchQueueRepository struct {
	client *database.RedisClient
}

// NewMatchQueueRepository creates a new MatchQueueRepository
func NewMatchQueueRepository(client *database.RedisClient) *MatchQueueRepository {
	return &MatchQueueRepository{client: client}
}

// Enqueue adds the user to the waiting pool. Re-joining refreshes the join
// time rather than erroring.
func (r *MatchQueueRepository) Enqueue(ctx context.Context, userID uuid.UUID) error {
	err := r.client.Client.ZAdd(ctx, matchQueueKey, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: userID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue for match: %w", err)
	}
	return nil
}

// Cancel removes the user from the pool. The return value is authoritative:
// true means the user was still waiting and is now out, false means they were
// already gone (matched or never queued).
func (r *MatchQueueRepository) Cancel(ctx context.Context, userID uuid.UUID) (bool, error) {
	removed, err := r.client.Client.ZRem(ctx, matchQueueKey, userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to leave match queue: %w", err)
	}
	return removed > 0, nil
}

// Claim atomically pairs userID with the oldest other waiter. Returns the
// partner and true on success; uuid.Nil and false when no partner is
// available or the claimer is no longer queued.
func (r *MatchQueueRepository) Claim(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	result, err := claimScript.Run(ctx, r.client.Client, []string{matchQueueKey}, userID.String()).Result()
	if err != nil {
		if err == redis.Nil {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to claim match: %w", err)
	}

	member, ok := result.(string)
	if !ok {
		return uuid.Nil, false, nil
	}
	partnerID, err := uuid.Parse(member)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt queue member %q: %w", member, err)
	}
	return partnerID, true, nil
}

// Depth returns the number of users currently waiting
func (r *MatchQueueRepository) Depth(ctx context.Context) (int64, error) {
	n, err := r.client.Client.ZCard(ctx, matchQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}
