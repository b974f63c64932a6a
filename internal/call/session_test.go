package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/signaling"
)

type fakeTransport struct {
	mu             sync.Mutex
	offerCount     int
	answerSDPs     []string
	answerAttempts int
	answerFailures int // fail CreateAnswer this many times before succeeding
	appliedSDPs    []string
	candidates     []string
	pendingOffer   bool
	acceptErr      error
	closeCount     int

	onCandidate func(string)
	onTrack     func(RemoteTrack)
	onState     func(TransportState)
}

func (f *fakeTransport) CreateOffer(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerCount++
	f.pendingOffer = true
	return fmt.Sprintf("offer-sdp-%d", f.offerCount), nil
}

func (f *fakeTransport) CreateAnswer(_ context.Context, offerSDP string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerAttempts++
	if f.answerFailures > 0 {
		f.answerFailures--
		return "", errors.New("answer rejected")
	}
	sdp := fmt.Sprintf("answer-sdp-%d", len(f.answerSDPs)+1)
	f.answerSDPs = append(f.answerSDPs, offerSDP)
	return sdp, nil
}

func (f *fakeTransport) AcceptAnswer(_ context.Context, answerSDP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.appliedSDPs = append(f.appliedSDPs, answerSDP)
	f.pendingOffer = false
	return nil
}

func (f *fakeTransport) AddRemoteCandidate(candidate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeTransport) HasPendingOffer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingOffer
}

func (f *fakeTransport) OnLocalCandidate(fn func(string))    { f.onCandidate = fn }
func (f *fakeTransport) OnRemoteTrack(fn func(RemoteTrack))  { f.onTrack = fn }
func (f *fakeTransport) OnStateChange(fn func(TransportState)) { f.onState = fn }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return nil
}

func (f *fakeTransport) offers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offerCount
}

func (f *fakeTransport) answered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answerSDPs)
}

func (f *fakeTransport) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answerAttempts
}

func (f *fakeTransport) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func openTestChannel(t *testing.T, bus signaling.Bus, topic string) *signaling.Channel {
	t.Helper()
	ch, err := signaling.OpenChannel(context.Background(), bus, topic, zap.NewNop())
	require.NoError(t, err)
	return ch
}

func newTestSession(t *testing.T, bus signaling.Bus, topic string, self uuid.UUID, role Role, tr Transport, ended *atomic.Int32, reasons chan string) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		SessionID: uuid.New(),
		SelfID:    self,
		PeerID:    uuid.New(),
		Role:      role,
		Transport: tr,
		Channel:   openTestChannel(t, bus, topic),
		Logger:    zap.NewNop(),
		OnEnded: func(reason string) {
			if ended != nil {
				ended.Add(1)
			}
			if reasons != nil {
				reasons <- reason
			}
		},
	})
}

func TestSessionHandshake(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	callerTr := &fakeTransport{}
	calleeTr := &fakeTransport{}
	caller := newTestSession(t, bus, topic, callerID, RoleCaller, callerTr, nil, nil)
	callee := newTestSession(t, bus, topic, calleeID, RoleCallee, calleeTr, nil, nil)

	require.NoError(t, callee.Accept(context.Background()))
	require.NoError(t, caller.Start(context.Background()))
	assert.Equal(t, StateRinging, caller.State())

	require.Eventually(t, func() bool {
		return caller.State() == StateAccepted && callee.State() == StateAccepted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, callerTr.offers())
	assert.Equal(t, 1, calleeTr.answered())
}

func TestSessionOfferBeforeAccept(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	calleeTr := &fakeTransport{}
	callee := newTestSession(t, bus, topic, calleeID, RoleCallee, calleeTr, nil, nil)

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	offer := &domain.SignalMessage{Type: domain.SignalOffer, From: callerID, SDP: "offer-sdp-1"}
	require.NoError(t, pub.Send(context.Background(), offer))

	// offer parks until the user picks up
	require.Eventually(t, func() bool {
		callee.mu.Lock()
		defer callee.mu.Unlock()
		return callee.pendingOffer != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateIdle, callee.State())
	assert.Equal(t, 0, calleeTr.answered())

	require.NoError(t, callee.Accept(context.Background()))
	assert.Equal(t, StateAccepted, callee.State())
	assert.Equal(t, 1, calleeTr.answered())
}

func TestSessionDuplicateOfferAnsweredOnce(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	calleeTr := &fakeTransport{}
	callee := newTestSession(t, bus, topic, calleeID, RoleCallee, calleeTr, nil, nil)
	require.NoError(t, callee.Accept(context.Background()))

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	offer := &domain.SignalMessage{Type: domain.SignalOffer, From: callerID, SDP: "offer-sdp-1"}
	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Send(context.Background(), offer))
	}

	require.Eventually(t, func() bool {
		return calleeTr.answered() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, calleeTr.answered(), "redelivered offer must not produce a second answer")
}

func TestSessionAnswerRetryOnRedeliveredOffer(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	calleeTr := &fakeTransport{answerFailures: 1}
	var ended atomic.Int32
	callee := newTestSession(t, bus, topic, calleeID, RoleCallee, calleeTr, &ended, nil)
	require.NoError(t, callee.Accept(context.Background()))

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	offer := &domain.SignalMessage{Type: domain.SignalOffer, From: callerID, SDP: "offer-sdp-1"}

	require.NoError(t, pub.Send(context.Background(), offer))
	require.Eventually(t, func() bool {
		return calleeTr.attempts() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), ended.Load(), "one failed answer must not end the call")

	// the relay redelivers the offer; this time the answer goes through
	require.NoError(t, pub.Send(context.Background(), offer))
	require.Eventually(t, func() bool {
		return callee.State() == StateAccepted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, calleeTr.answered())
	assert.Equal(t, int32(0), ended.Load())
}

func TestSessionAnswerSecondFailureEnds(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	calleeTr := &fakeTransport{answerFailures: 2}
	var ended atomic.Int32
	reasons := make(chan string, 1)
	callee := newTestSession(t, bus, topic, calleeID, RoleCallee, calleeTr, &ended, reasons)
	require.NoError(t, callee.Accept(context.Background()))

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	offer := &domain.SignalMessage{Type: domain.SignalOffer, From: callerID, SDP: "offer-sdp-1"}

	require.NoError(t, pub.Send(context.Background(), offer))
	require.Eventually(t, func() bool {
		return calleeTr.attempts() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Send(context.Background(), offer))
	require.Eventually(t, func() bool {
		return callee.State() == StateEnded
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, calleeTr.attempts(), "exactly one retry")
	assert.Equal(t, 0, calleeTr.answered())
	assert.Equal(t, "answer_failed", <-reasons)
}

func TestSessionAcceptFailureRecoversOnRedelivery(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	calleeTr := &fakeTransport{answerFailures: 1}
	var ended atomic.Int32
	callee := newTestSession(t, bus, topic, calleeID, RoleCallee, calleeTr, &ended, nil)

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	offer := &domain.SignalMessage{Type: domain.SignalOffer, From: callerID, SDP: "offer-sdp-1"}
	require.NoError(t, pub.Send(context.Background(), offer))
	require.Eventually(t, func() bool {
		callee.mu.Lock()
		defer callee.mu.Unlock()
		return callee.pendingOffer != ""
	}, 2*time.Second, 10*time.Millisecond)

	// answering on accept fails once; the session waits for redelivery
	require.NoError(t, callee.Accept(context.Background()))
	assert.Equal(t, int32(0), ended.Load())

	require.NoError(t, pub.Send(context.Background(), offer))
	require.Eventually(t, func() bool {
		return callee.State() == StateAccepted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, calleeTr.answered())
}

func TestSessionReofferOnceOnBadAnswer(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	callerTr := &fakeTransport{acceptErr: errors.New("bad sdp")}
	var ended atomic.Int32
	reasons := make(chan string, 1)
	caller := newTestSession(t, bus, topic, callerID, RoleCaller, callerTr, &ended, reasons)
	require.NoError(t, caller.Start(context.Background()))

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	answer := &domain.SignalMessage{Type: domain.SignalAnswer, From: calleeID, SDP: "answer-sdp-1"}

	require.NoError(t, pub.Send(context.Background(), answer))
	require.Eventually(t, func() bool {
		return callerTr.offers() == 2
	}, 2*time.Second, 10*time.Millisecond, "one re-offer after a failed answer")

	require.NoError(t, pub.Send(context.Background(), answer))
	require.Eventually(t, func() bool {
		return caller.State() == StateEnded
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, callerTr.offers(), "no third offer")
	assert.Equal(t, "answer_failed", <-reasons)
}

func TestSessionCandidateAfterEndIgnored(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	calleeTr := &fakeTransport{}
	callee := newTestSession(t, bus, topic, calleeID, RoleCallee, calleeTr, nil, nil)
	callee.Close()

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	cand := &domain.SignalMessage{Type: domain.SignalICECandidate, From: callerID, Candidate: `{"candidate":"x"}`}
	require.NoError(t, pub.Send(context.Background(), cand))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, calleeTr.candidateCount())
}

func TestSessionTeardownIdempotent(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())

	tr := &fakeTransport{}
	var ended atomic.Int32
	s := newTestSession(t, bus, topic, uuid.New(), RoleCaller, tr, &ended, nil)
	require.NoError(t, s.Start(context.Background()))

	s.Hangup(context.Background())
	s.Hangup(context.Background())
	s.Close()
	tr.onState(TransportFailed)

	assert.Equal(t, int32(1), ended.Load(), "teardown must run once")
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, 1, tr.closeCount)
}

func TestSessionPeerHangup(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	callerID, calleeID := uuid.New(), uuid.New()

	tr := &fakeTransport{}
	var ended atomic.Int32
	reasons := make(chan string, 1)
	s := newTestSession(t, bus, topic, calleeID, RoleCallee, tr, &ended, reasons)
	require.NoError(t, s.Accept(context.Background()))

	pub := openTestChannel(t, bus, topic)
	defer pub.Close()
	require.NoError(t, pub.Send(context.Background(), &domain.SignalMessage{
		Type: domain.SignalHangup,
		From: callerID,
	}))

	assert.Equal(t, "peer_hangup", <-reasons)
	assert.Equal(t, StateEnded, s.State())
}

func TestSessionTransportFailureEndsCall(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())

	tr := &fakeTransport{}
	reasons := make(chan string, 1)
	s := newTestSession(t, bus, topic, uuid.New(), RoleCaller, tr, nil, reasons)
	require.NoError(t, s.Start(context.Background()))

	tr.onState(TransportDisconnected)

	assert.Equal(t, "transport", <-reasons)
	assert.Equal(t, StateEnded, s.State())
}

func TestSessionRingTimeout(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())

	tr := &fakeTransport{}
	reasons := make(chan string, 1)
	s := NewSession(SessionConfig{
		SessionID:   uuid.New(),
		SelfID:      uuid.New(),
		PeerID:      uuid.New(),
		Role:        RoleCaller,
		Transport:   tr,
		Channel:     openTestChannel(t, bus, topic),
		RingTimeout: 50 * time.Millisecond,
		Logger:      zap.NewNop(),
		OnEnded:     func(reason string) { reasons <- reason },
	})
	require.NoError(t, s.Start(context.Background()))

	select {
	case reason := <-reasons:
		assert.Equal(t, "ring_timeout", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("ring timer never fired")
	}
	assert.Equal(t, StateEnded, s.State())
}

func TestSessionIgnoresOwnSignals(t *testing.T) {
	bus := signaling.NewMemoryBus()
	topic := signaling.CallTopic(uuid.New())
	selfID := uuid.New()

	tr := &fakeTransport{}
	s := newTestSession(t, bus, topic, selfID, RoleCaller, tr, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	// the relay echoes our own offer back; it must not be treated as remote
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, tr.answered())
	assert.Equal(t, StateRinging, s.State())
}
