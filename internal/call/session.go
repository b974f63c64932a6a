package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/signaling"
)

// End reasons passed to OnEnded.
const (
	EndLocalHangup  = "local_hangup"
	EndPeerHangup   = "peer_hangup"
	EndRingTimeout  = "ring_timeout"
	EndAnswerFailed = "answer_failed"
	EndTransport    = "transport"
)

// SessionConfig wires one side of a call.
type SessionConfig struct {
	SessionID uuid.UUID
	SelfID    uuid.UUID
	PeerID    uuid.UUID
	Role      Role
	Transport Transport
	Channel   *signaling.Channel

	// RingTimeout bounds how long the caller waits for an answer.
	// Zero disables the timer.
	RingTimeout time.Duration

	Logger *zap.Logger

	OnState       func(State)
	OnRemoteTrack func(RemoteTrack)
	OnEnded       func(reason string)
}

// Session drives one participant's side of a call over an unreliable relay.
// Signals can be duplicated, reordered across types, or lost; every handler
// tolerates redelivery and the transport's connection state, not signaling,
// decides when the call is actually dead.
type Session struct {
	id     uuid.UUID
	selfID uuid.UUID
	peerID uuid.UUID
	role   Role

	tr  Transport
	ch  *signaling.Channel
	log *zap.Logger

	ringTimeout   time.Duration
	onState       func(State)
	onRemoteTrack func(RemoteTrack)
	onEnded       func(reason string)

	mu              sync.Mutex
	state           State
	lastOfferSDP    string // dedupes redelivered offers; a re-offer has new SDP
	answerRequested bool   // callee accepted before the offer arrived
	pendingOffer    string // offer arrived before the callee accepted
	offerRetryUsed  bool   // caller re-offers at most once after a bad answer
	answerRetryUsed bool   // callee retries a failed answer at most once
	ringTimer       *time.Timer

	endOnce sync.Once
}

// NewSession binds the transport and channel together and registers all
// handlers. The caller then invokes Start; the callee invokes Accept when the
// user picks up.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		id:          cfg.SessionID,
		selfID:      cfg.SelfID,
		peerID:      cfg.PeerID,
		role:        cfg.Role,
		tr:          cfg.Transport,
		ch:          cfg.Channel,
		ringTimeout: cfg.RingTimeout,
		log: cfg.Logger.With(
			zap.String("session_id", cfg.SessionID.String()),
			zap.String("role", cfg.Role.String()),
		),
		onState:       cfg.OnState,
		onRemoteTrack: cfg.OnRemoteTrack,
		onEnded:       cfg.OnEnded,
		state:         StateIdle,
	}

	s.ch.On(domain.SignalOffer, s.handleOffer)
	s.ch.On(domain.SignalAnswer, s.handleAnswer)
	s.ch.On(domain.SignalICECandidate, s.handleCandidate)
	s.ch.On(domain.SignalHangup, s.handleHangup)

	s.tr.OnLocalCandidate(s.sendCandidate)
	s.tr.OnRemoteTrack(s.handleRemoteTrack)
	s.tr.OnStateChange(s.handleTransportState)

	return s
}

// State returns the current local state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the handshake on the caller side: produce the offer, publish
// it, and arm the ring timer.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sdp, err := s.tr.CreateOffer(ctx)
	if err != nil {
		return err
	}

	if err := s.ch.Send(ctx, &domain.SignalMessage{
		Type:      domain.SignalOffer,
		From:      s.selfID,
		SDP:       sdp,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}

	s.mu.Lock()
	if s.ringTimeout > 0 {
		s.ringTimer = time.AfterFunc(s.ringTimeout, s.ringTimedOut)
	}
	s.mu.Unlock()

	s.advance(StateRinging)
	s.log.Info("offer sent, ringing")
	return nil
}

// Accept answers the call on the callee side. If the offer has not arrived
// yet the answer is produced as soon as it does; accepting and the offer
// race freely on the relay.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	s.answerRequested = true
	offer := s.pendingOffer
	s.pendingOffer = ""
	s.mu.Unlock()

	if offer == "" {
		s.log.Info("accepted before offer arrived, answer deferred")
		return nil
	}
	if err := s.answer(ctx, offer); err != nil {
		s.log.Error("failed to answer", zap.Error(err))
		if s.retryAnswer() {
			return nil
		}
		return err
	}
	return nil
}

// Hangup ends the call locally and tells the peer. Safe to call at any time,
// any number of times.
func (s *Session) Hangup(ctx context.Context) {
	s.sendHangup(ctx)
	s.end(EndLocalHangup)
}

// Close tears the session down without notifying the peer; used when the
// surface unmounts and the peer is told through other means.
func (s *Session) Close() {
	s.end(EndLocalHangup)
}

func (s *Session) handleOffer(msg *domain.SignalMessage) {
	if msg.From == s.selfID {
		return
	}

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	if msg.SDP == s.lastOfferSDP {
		// redelivery of an offer we already took
		s.mu.Unlock()
		return
	}
	s.lastOfferSDP = msg.SDP
	if !s.answerRequested {
		s.pendingOffer = msg.SDP
		s.mu.Unlock()
		s.log.Info("offer received, waiting for accept")
		return
	}
	s.mu.Unlock()

	if err := s.answer(context.Background(), msg.SDP); err != nil {
		s.log.Error("failed to answer", zap.Error(err))
		s.retryAnswer()
	}
}

// retryAnswer resets the offer dedup guard once after a failed answer, so the
// next delivery of the offer gets one more answer attempt. Reports whether a
// retry is pending; on a second failure the call ends instead.
func (s *Session) retryAnswer() bool {
	s.mu.Lock()
	if s.answerRetryUsed || s.state == StateEnded {
		s.mu.Unlock()
		s.end(EndAnswerFailed)
		return false
	}
	s.answerRetryUsed = true
	s.lastOfferSDP = ""
	s.mu.Unlock()
	s.log.Warn("answer failed, awaiting offer redelivery")
	return true
}

func (s *Session) answer(ctx context.Context, offerSDP string) error {
	sdp, err := s.tr.CreateAnswer(ctx, offerSDP)
	if err != nil {
		return err
	}
	if err := s.ch.Send(ctx, &domain.SignalMessage{
		Type:      domain.SignalAnswer,
		From:      s.selfID,
		SDP:       sdp,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.advance(StateAccepted)
	s.log.Info("answer sent")
	return nil
}

func (s *Session) handleAnswer(msg *domain.SignalMessage) {
	if msg.From == s.selfID {
		return
	}

	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// only one answer is honored per outstanding offer
	if !s.tr.HasPendingOffer() {
		return
	}

	if err := s.tr.AcceptAnswer(context.Background(), msg.SDP); err != nil {
		s.log.Warn("failed to apply answer", zap.Error(err))
		s.retryOffer()
		return
	}

	s.mu.Lock()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	s.mu.Unlock()

	s.advance(StateAccepted)
	s.log.Info("answer applied, call accepted")
}

// retryOffer re-runs the offer leg once after a failed answer. A second
// failure ends the call; endlessly re-offering against a broken peer only
// burns the relay.
func (s *Session) retryOffer() {
	s.mu.Lock()
	if s.offerRetryUsed || s.state != StateRinging {
		s.mu.Unlock()
		s.end(EndAnswerFailed)
		return
	}
	s.offerRetryUsed = true
	s.mu.Unlock()

	ctx := context.Background()
	sdp, err := s.tr.CreateOffer(ctx)
	if err != nil {
		s.log.Error("re-offer failed", zap.Error(err))
		s.end(EndAnswerFailed)
		return
	}
	if err := s.ch.Send(ctx, &domain.SignalMessage{
		Type:      domain.SignalOffer,
		From:      s.selfID,
		SDP:       sdp,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		s.log.Error("re-offer send failed", zap.Error(err))
		s.end(EndAnswerFailed)
		return
	}
	s.log.Warn("answer rejected, re-offered")
}

func (s *Session) handleCandidate(msg *domain.SignalMessage) {
	if msg.From == s.selfID {
		return
	}
	s.mu.Lock()
	ended := s.state == StateEnded
	s.mu.Unlock()
	if ended {
		return
	}
	if err := s.tr.AddRemoteCandidate(msg.Candidate); err != nil {
		// late or malformed candidates are routine on an unordered relay
		s.log.Debug("candidate not applied", zap.Error(err))
	}
}

func (s *Session) handleHangup(msg *domain.SignalMessage) {
	if msg.From == s.selfID {
		return
	}
	s.log.Info("peer hung up")
	s.end(EndPeerHangup)
}

func (s *Session) sendCandidate(candidate string) {
	s.mu.Lock()
	ended := s.state == StateEnded
	s.mu.Unlock()
	if ended {
		return
	}
	err := s.ch.Send(context.Background(), &domain.SignalMessage{
		Type:      domain.SignalICECandidate,
		From:      s.selfID,
		Candidate: candidate,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.log.Debug("failed to publish candidate", zap.Error(err))
	}
}

func (s *Session) handleRemoteTrack(track RemoteTrack) {
	s.log.Info("remote track",
		zap.String("kind", track.Kind), zap.String("track_id", track.ID))
	if s.onRemoteTrack != nil {
		s.onRemoteTrack(track)
	}
}

func (s *Session) handleTransportState(state TransportState) {
	s.log.Debug("transport state", zap.String("state", state.String()))
	if state.Terminal() {
		s.end(EndTransport)
	}
}

func (s *Session) ringTimedOut() {
	s.mu.Lock()
	stillRinging := s.state == StateRinging
	s.mu.Unlock()
	if !stillRinging {
		return
	}
	s.log.Info("ring timeout, ending call")
	s.sendHangup(context.Background())
	s.end(EndRingTimeout)
}

func (s *Session) sendHangup(ctx context.Context) {
	err := s.ch.Send(ctx, &domain.SignalMessage{
		Type:      domain.SignalHangup,
		From:      s.selfID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.log.Debug("failed to publish hangup", zap.Error(err))
	}
}

// advance moves state forward; backwards transitions are ignored so a stale
// redelivery can never regress an accepted or ended call.
func (s *Session) advance(next State) {
	s.mu.Lock()
	if next <= s.state {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	if s.onState != nil {
		s.onState(next)
	}
}

// end runs teardown exactly once regardless of which path got here first.
func (s *Session) end(reason string) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		if s.ringTimer != nil {
			s.ringTimer.Stop()
		}
		s.mu.Unlock()

		if err := s.tr.Close(); err != nil {
			s.log.Debug("transport close", zap.Error(err))
		}
		s.ch.Close()

		s.log.Info("call ended", zap.String("reason", reason))
		if s.onState != nil {
			s.onState(StateEnded)
		}
		if s.onEnded != nil {
			s.onEnded(reason)
		}
	})
}
