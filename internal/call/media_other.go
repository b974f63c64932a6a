//go:build !linux || !cgo

package call

import (
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// newMediaPeerConnection on platforms without capture drivers builds a
// receive-only peer connection so the handshake still produces valid m-lines.
func newMediaPeerConnection(servers []webrtc.ICEServer, _ MediaConstraints, log *zap.Logger) (*webrtc.PeerConnection, func(), bool, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, nil, false, err
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Warn("failed to add video transceiver", zap.Error(err))
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Warn("failed to add audio transceiver", zap.Error(err))
	}

	log.Info("media capture unavailable on this platform, receive-only")
	return pc, func() {}, true, nil
}
