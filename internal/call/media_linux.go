//go:build linux && cgo

package call

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/meridian-im/meridian-go/internal/model"
)

// NewMediaProvider returns the V4L2/malgo capture provider.
func NewMediaProvider() MediaProvider {
	return deviceProvider{}
}

type deviceProvider struct{}

// NewSessionPC builds a peer connection with VP8+Opus encoders and captures
// local camera/mic matching the call type. A VIDEO call degrades through
// video+audio → video-only → audio-only before failing, so a busy
// microphone does not block the camera and vice versa.
func (deviceProvider) NewSessionPC(label string, callType model.CallType, iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, LocalMedia, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Generous ICE timeouts: the default 5 s disconnectedTimeout terminates
	// the call on brief NAT hiccups that ICE would otherwise recover from.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, nil, err
	}

	media, err := capture(label, callType, codecSelector, pc)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, media, nil
}

// capture acquires local tracks with graceful degradation. GetUserMedia
// fails as a unit when either requested kind cannot be opened.
func capture(label string, callType model.CallType, codecSelector *mediadevices.CodecSelector, pc *webrtc.PeerConnection) (LocalMedia, error) {
	type attempt struct {
		video bool
		audio bool
		name  string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if callType == model.CallVideo {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG: some cameras expose an MJPEG V4L2 node
				// whose malformed frames poison the VP8 encoder. Raw
				// formats only, capped at 640×480 to bound encode latency.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warnf("call %s: GetUserMedia (%s): %v", label, a.name, err)
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		media := &capturedMedia{label: label, tracks: tracks}
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("call %s: local track ended: %v", label, err)
				}
			})
			sender, err := pc.AddTrack(track)
			if err != nil {
				log.Warnf("call %s: add track: %v", label, err)
				continue
			}
			media.slots = append(media.slots, senderSlot{
				kind:   track.Kind(),
				sender: sender,
				track:  track,
			})
		}
		log.Infof("call %s: local media captured (%s), %d tracks", label, a.name, len(tracks))
		return media, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no media capture attempt succeeded")
	}
	return nil, lastErr
}

// senderSlot pairs one outbound sender with the captured track it carries,
// so the track can be detached and re-attached without renegotiation.
type senderSlot struct {
	kind   webrtc.RTPCodecType
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// capturedMedia owns the live mediadevices tracks for one call.
type capturedMedia struct {
	label  string
	tracks []mediadevices.Track
	slots  []senderSlot

	mu       sync.Mutex
	muted    bool
	videoOff bool
	closed   bool
}

// ToggleAudio flips the mute state. Muting replaces the audio senders'
// tracks with nil so the microphone stream stops reaching the remote peer;
// unmuting re-attaches the original tracks.
func (m *capturedMedia) ToggleAudio() bool {
	muted := m.toggle(webrtc.RTPCodecTypeAudio, &m.muted)
	log.Infof("call %s: audio muted=%v", m.label, muted)
	return muted
}

// ToggleVideo flips the camera state the same way ToggleAudio handles audio.
func (m *capturedMedia) ToggleVideo() bool {
	off := m.toggle(webrtc.RTPCodecTypeVideo, &m.videoOff)
	log.Infof("call %s: video disabled=%v", m.label, off)
	return off
}

func (m *capturedMedia) toggle(kind webrtc.RTPCodecType, flag *bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	*flag = !*flag
	for _, s := range m.slots {
		if s.kind != kind {
			continue
		}
		var next webrtc.TrackLocal
		if !*flag {
			next = s.track
		}
		if err := s.sender.ReplaceTrack(next); err != nil {
			log.Warnf("call %s: replace %s track: %v", m.label, kind, err)
		}
	}
	return *flag
}

// Close stops every captured track, releasing the camera and microphone.
func (m *capturedMedia) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tracks := m.tracks
	m.tracks = nil
	m.mu.Unlock()
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			log.Warnf("call %s: track close: %v", m.label, err)
		}
	}
}
