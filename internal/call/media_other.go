//go:build !linux || !cgo

package call

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/meridian-im/meridian-go/internal/model"
)

// NewMediaProvider returns the receive-only provider on platforms without
// capture drivers. Camera/mic capture via pion/mediadevices needs V4L2 and
// malgo, which are wired on Linux only; elsewhere the call still negotiates
// and receives remote media.
func NewMediaProvider() MediaProvider {
	return recvOnlyProvider{}
}

type recvOnlyProvider struct{}

func (recvOnlyProvider) NewSessionPC(label string, _ model.CallType, iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, LocalMedia, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, nil, err
	}
	addRecvOnlyTransceivers(label, pc)
	log.Infof("call %s: peer connection ready (receive-only, no capture on this platform)", label)
	return pc, &recvOnlyMedia{}, nil
}

// recvOnlyMedia satisfies LocalMedia with no captured tracks; the toggles
// track state so the UI stays consistent.
type recvOnlyMedia struct {
	mu       sync.Mutex
	muted    bool
	videoOff bool
}

func (m *recvOnlyMedia) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = !m.muted
	return m.muted
}

func (m *recvOnlyMedia) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoOff = !m.videoOff
	return m.videoOff
}

func (m *recvOnlyMedia) Close() {}
