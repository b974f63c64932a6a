package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"campuslink-backend/pkg/config"
)

// PeerTransport implements Transport on a Pion peer connection with locally
// captured media attached.
type PeerTransport struct {
	pc        *webrtc.PeerConnection
	stopMedia func()
	log       *zap.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	closeOnce sync.Once
}

// NewPeerTransport builds the peer connection for one call: capture local
// camera/microphone (with the audio-only fallback), attach the tracks, and
// configure the relay list. Capture failure surfaces MEDIA_ACCESS_DENIED to
// the caller; there is no automatic retry.
func NewPeerTransport(cfg *config.WebRTCConfig, constraints MediaConstraints, log *zap.Logger) (*PeerTransport, error) {
	pc, stopMedia, audioOnly, err := newMediaPeerConnection(iceServers(cfg), constraints, log)
	if err != nil {
		return nil, err
	}
	if audioOnly {
		log.Warn("camera unavailable, continuing audio-only")
	}

	return &PeerTransport{
		pc:        pc,
		stopMedia: stopMedia,
		log:       log,
	}, nil
}

// newPeerTransportFromPC wraps an existing peer connection; used by the
// platform capture paths and tests that build their own PC.
func newPeerTransportFromPC(pc *webrtc.PeerConnection, stopMedia func(), log *zap.Logger) *PeerTransport {
	return &PeerTransport{pc: pc, stopMedia: stopMedia, log: log}
}

func iceServers(cfg *config.WebRTCConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// CreateOffer produces and installs the local offer
func (t *PeerTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer applies the remote offer and produces the local answer
func (t *PeerTransport) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	})
	if err != nil {
		return "", fmt.Errorf("failed to set remote offer: %w", err)
	}
	t.flushPendingCandidates()

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

// AcceptAnswer applies the remote answer
func (t *PeerTransport) AcceptAnswer(ctx context.Context, answerSDP string) error {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
	if err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	t.flushPendingCandidates()
	return nil
}

// AddRemoteCandidate applies one remote candidate, buffering it if the remote
// description is not set yet (candidates routinely outrun the description on
// an unordered relay).
func (t *PeerTransport) AddRemoteCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("invalid candidate payload: %w", err)
	}

	t.mu.Lock()
	if !t.remoteSet {
		t.pending = append(t.pending, init)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add candidate: %w", err)
	}
	return nil
}

func (t *PeerTransport) flushPendingCandidates() {
	t.mu.Lock()
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, init := range pending {
		if err := t.pc.AddICECandidate(init); err != nil {
			// stale candidates are expected and harmless
			t.log.Debug("dropping buffered candidate", zap.Error(err))
		}
	}
}

// HasPendingOffer reports whether the local offer is still outstanding
func (t *PeerTransport) HasPendingOffer() bool {
	return t.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer
}

// OnLocalCandidate registers the candidate-harvest callback
func (t *PeerTransport) OnLocalCandidate(fn func(candidate string)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// end of gathering
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			t.log.Warn("failed to encode local candidate", zap.Error(err))
			return
		}
		fn(string(payload))
	})
}

// OnRemoteTrack registers the remote-media callback
func (t *PeerTransport) OnRemoteTrack(fn func(RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(RemoteTrack{
			Kind: track.Kind().String(),
			ID:   track.ID(),
		})
	})
}

// OnStateChange registers the connection-state callback
func (t *PeerTransport) OnStateChange(fn func(TransportState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(mapConnectionState(state))
	})
}

func mapConnectionState(state webrtc.PeerConnectionState) TransportState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return TransportClosed
	}
	return TransportNew
}

// Close stops local media and closes the peer connection. Idempotent.
func (t *PeerTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.stopMedia != nil {
			t.stopMedia()
		}
		err = t.pc.Close()
	})
	return err
}
