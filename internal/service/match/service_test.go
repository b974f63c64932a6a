package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/repository/memory"
	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/metrics"
)

type sessionStore struct {
	mu       sync.Mutex
	sessions []*domain.CallSession
}

func (s *sessionStore) Create(_ context.Context, session *domain.CallSession) error {
	s.mu.Lock()
	s.sessions = append(s.sessions, session)
	s.mu.Unlock()
	return nil
}

func (s *sessionStore) all() []*domain.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.CallSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func newTestService() (*Service, *memory.MatchQueueRepository, *sessionStore, *signaling.MemoryBus) {
	queue := memory.NewMatchQueueRepository()
	store := &sessionStore{}
	bus := signaling.NewMemoryBus()
	return NewService(queue, store, bus, nil, zap.NewNop()), queue, store, bus
}

// TestTryMatchPairsTwoWaiters tests the basic claim path
func TestTryMatchPairsTwoWaiters(t *testing.T) {
	service, _, store, bus := newTestService()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	sub, err := bus.Subscribe(ctx, signaling.UserTopic(bob))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, service.Join(ctx, alice))
	require.NoError(t, service.Join(ctx, bob))

	session, err := service.TryMatch(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, alice, session.CallerID)
	assert.Equal(t, bob, session.ReceiverID)
	assert.Equal(t, domain.CallStatusAccepted, session.Status)
	assert.Len(t, store.all(), 1)

	payload := <-sub.Messages()
	msg, err := domain.ParseSignal(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalMatched, msg.Type)
	assert.Equal(t, session.ID, msg.SessionID)
	assert.Equal(t, alice, msg.PeerID)
}

// TestTryMatchAlone tests that a lone waiter stays queued
func TestTryMatchAlone(t *testing.T) {
	service, queue, store, _ := newTestService()
	ctx := context.Background()

	alice := uuid.New()
	require.NoError(t, service.Join(ctx, alice))

	session, err := service.TryMatch(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Empty(t, store.all())

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

// TestTryMatchNotQueued tests that a user outside the pool cannot claim
func TestTryMatchNotQueued(t *testing.T) {
	service, _, store, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, service.Join(ctx, uuid.New()))

	session, err := service.TryMatch(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Empty(t, store.all())
}

// TestCancelAuthoritative tests that a won cancel prevents any later match
func TestCancelAuthoritative(t *testing.T) {
	service, _, store, _ := newTestService()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	require.NoError(t, service.Join(ctx, alice))
	require.NoError(t, service.Join(ctx, bob))

	removed, err := service.Cancel(ctx, bob)
	require.NoError(t, err)
	assert.True(t, removed)

	session, err := service.TryMatch(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, session, "a cancelled user must never be paired")
	assert.Empty(t, store.all())

	// a second cancel reports too-late/no-op
	removed, err = service.Cancel(ctx, bob)
	require.NoError(t, err)
	assert.False(t, removed)
}

// TestConcurrentClaimsPairExactlyOnce tests the core matchmaking invariant:
// many users claiming at once, every user ends up in at most one pair.
func TestConcurrentClaimsPairExactlyOnce(t *testing.T) {
	service, queue, store, _ := newTestService()
	ctx := context.Background()

	const users = 20
	ids := make([]uuid.UUID, users)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, service.Join(ctx, ids[i]))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			_, err := service.TryMatch(ctx, userID)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	seen := make(map[uuid.UUID]int)
	for _, session := range store.all() {
		seen[session.CallerID]++
		seen[session.ReceiverID]++
	}
	for id, n := range seen {
		assert.Equalf(t, 1, n, "user %s paired %d times", id, n)
	}

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(users)-2*int64(len(store.all())), depth)
}

// TestPollerDeliversMatch tests the poll loop end to end
func TestPollerDeliversMatch(t *testing.T) {
	service, _, _, _ := newTestService()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	matched := make(chan *domain.CallSession, 1)
	poller := NewPoller(service, alice, 20*time.Millisecond, func(s *domain.CallSession) {
		matched <- s
	}, zap.NewNop())

	require.NoError(t, poller.Start(ctx))
	require.NoError(t, service.Join(ctx, bob))

	select {
	case session := <-matched:
		assert.True(t, session.Participant(alice))
		assert.True(t, session.Participant(bob))
	case <-time.After(2 * time.Second):
		t.Fatal("poller never delivered the match")
	}

	cancelled, err := poller.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, cancelled, "stop after a match must report too-late")
}

// TestPollerStopCancels tests that stopping an unmatched poller wins
func TestPollerStopCancels(t *testing.T) {
	service, queue, _, _ := newTestService()
	ctx := context.Background()

	poller := NewPoller(service, uuid.New(), 20*time.Millisecond, func(*domain.CallSession) {
		t.Error("no match should be delivered")
	}, zap.NewNop())

	require.NoError(t, poller.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	cancelled, err := poller.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, cancelled)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, uuid.UUID) error { return errors.New("redis down") }
func (failingQueue) Cancel(context.Context, uuid.UUID) (bool, error) {
	return false, errors.New("redis down")
}
func (failingQueue) Claim(context.Context, uuid.UUID) (uuid.UUID, bool, error) {
	return uuid.Nil, false, errors.New("redis down")
}
func (failingQueue) Depth(context.Context) (int64, error) { return 0, errors.New("redis down") }

func claimOutcome(t *testing.T, m *metrics.Metrics, outcome string) float64 {
	t.Helper()
	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "match_claims_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// TestTryMatchClaimOutcomeMetrics tests that every claim outcome is counted
func TestTryMatchClaimOutcomeMetrics(t *testing.T) {
	m := metrics.NewMetrics("match-test")
	ctx := context.Background()

	queue := memory.NewMatchQueueRepository()
	service := NewService(queue, &sessionStore{}, signaling.NewMemoryBus(), m, zap.NewNop())

	alice, bob := uuid.New(), uuid.New()
	require.NoError(t, service.Join(ctx, alice))
	require.NoError(t, service.Join(ctx, bob))
	_, err := service.TryMatch(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, float64(1), claimOutcome(t, m, "won"))

	carol := uuid.New()
	require.NoError(t, service.Join(ctx, carol))
	session, err := service.TryMatch(ctx, carol)
	require.NoError(t, err)
	require.Nil(t, session)
	assert.Equal(t, float64(1), claimOutcome(t, m, "empty"))

	broken := NewService(failingQueue{}, &sessionStore{}, signaling.NewMemoryBus(), m, zap.NewNop())
	_, err = broken.TryMatch(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, float64(1), claimOutcome(t, m, "error"))
}
