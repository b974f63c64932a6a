//go:build linux && cgo

package call

import (
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"campuslink-backend/pkg/errors"
)

// newMediaPeerConnection builds a peer connection with VP8+Opus codecs and
// camera/microphone tracks captured via pion/mediadevices. GetUserMedia fails
// as a unit when either track can't be opened, so try video+audio first and
// fall back to audio-only before giving up; a busy camera should not kill the
// whole call. Returns the PC, a cleanup func for the local tracks, and whether
// the call is running without video.
func newMediaPeerConnection(servers []webrtc.ICEServer, constraints MediaConstraints, log *zap.Logger) (*webrtc.PeerConnection, func(), bool, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, false, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, false, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, false, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, nil, false, err
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Warn("no media devices found")
	}

	type attempt struct {
		video bool
		label string
	}
	var lastErr error
	for _, a := range []attempt{
		{true, "video+audio"},
		{false, "audio-only"},
	} {
		streamConstraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			streamConstraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Some cameras expose an MJPEG node with malformed frames that
				// poison the VP8 encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: constraints.Video.Width}
				c.Height = prop.IntRanged{Max: constraints.Video.Height}
			}
		}
		streamConstraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.IntExact(constraints.Audio.SampleRate)
			c.ChannelCount = prop.IntExact(constraints.Audio.ChannelCount)
		}

		stream, err := mediadevices.GetUserMedia(streamConstraints)
		if err != nil {
			lastErr = err
			log.Warn("media capture attempt failed",
				zap.String("attempt", a.label), zap.Error(err))
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warn("local track ended", zap.Error(err))
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				log.Warn("failed to add local track", zap.Error(err))
			}
		}

		log.Info("local media captured",
			zap.String("attempt", a.label), zap.Int("tracks", len(tracks)))
		closeFn := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, closeFn, !a.video, nil
	}

	pc.Close()
	return nil, nil, false, errors.MediaAccessDeniedError(lastErr)
}
