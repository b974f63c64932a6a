package call

import "context"

// TransportState mirrors the peer connection's connection state. It is the
// authoritative failure detector: signaling messages are advisory, connection
// state is ground truth.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether s unconditionally ends the call
func (s TransportState) Terminal() bool {
	return s == TransportDisconnected || s == TransportFailed || s == TransportClosed
}

// RemoteTrack describes incoming remote media exposed to the UI
type RemoteTrack struct {
	Kind string // audio, video
	ID   string
}

// Transport is the point-to-point media transport under one call. The
// production implementation is PeerTransport (Pion); tests use a fake.
type Transport interface {
	// CreateOffer produces the local session description and sets it as the
	// local description. The returned SDP goes out as the offer signal.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer applies the remote offer and produces the local answer,
	// setting both descriptions.
	CreateAnswer(ctx context.Context, offerSDP string) (string, error)

	// AcceptAnswer applies the remote answer description.
	AcceptAnswer(ctx context.Context, answerSDP string) error

	// AddRemoteCandidate applies one remote connectivity candidate. Candidates
	// arriving before the remote description are buffered by the
	// implementation; stale or invalid candidates return an error that the
	// caller is expected to swallow.
	AddRemoteCandidate(candidate string) error

	// HasPendingOffer reports whether the local side has an outstanding offer
	// (signaling state have-local-offer). An answer is only honored while this
	// holds.
	HasPendingOffer() bool

	// OnLocalCandidate registers the candidate-harvest callback. fn receives
	// each discovered local candidate, JSON-encoded.
	OnLocalCandidate(fn func(candidate string))

	// OnRemoteTrack registers the remote-media callback.
	OnRemoteTrack(fn func(RemoteTrack))

	// OnStateChange registers the connection-state callback.
	OnStateChange(fn func(TransportState))

	// Close stops local media and closes the transport. Idempotent.
	Close() error
}
