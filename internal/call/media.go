package call

// MediaConstraints is the capture contract for a call: one human face,
// voice-centric audio. The voice-processing flags are mandatory: capturing
// without echo cancellation produces audible feedback loops. Browser clients
// receive these from the call config endpoint; the native capture path honors
// the subset its drivers support.
type MediaConstraints struct {
	Video VideoConstraints `json:"video"`
	Audio AudioConstraints `json:"audio"`
}

// VideoConstraints bounds the camera capture
type VideoConstraints struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FacingMode string `json:"facing_mode"`
}

// AudioConstraints bounds the microphone capture
type AudioConstraints struct {
	SampleRate       int  `json:"sample_rate"`
	ChannelCount     int  `json:"channel_count"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGainControl  bool `json:"auto_gain_control"`
}

// DefaultConstraints returns the standard call constraints: front camera at
// 720p, mono voice audio at 48 kHz with full voice processing.
func DefaultConstraints() MediaConstraints {
	return MediaConstraints{
		Video: VideoConstraints{
			Width:      1280,
			Height:     720,
			FacingMode: "user",
		},
		Audio: AudioConstraints{
			SampleRate:       48000,
			ChannelCount:     1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}
}
