package call

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/meridian-im/meridian-go/internal/model"
)

// session is the per-call mutable state: the peer connection, the local
// capture, and negotiation bookkeeping. Exactly one session is alive at a
// time, owned by the Coordinator and destroyed in its teardown routine.
type session struct {
	call  model.Call
	other string // the remote party's user id

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	media      LocalMedia
	remoteSet  bool
	pendingICE []webrtc.ICECandidateInit
	remote     []*webrtc.TrackRemote
	closed     bool
}

func newSession(c model.Call, otherUserID string, pc *webrtc.PeerConnection, media LocalMedia) *session {
	return &session{call: c, other: otherUserID, pc: pc, media: media}
}

// setRemoteDescription applies the remote SDP and flushes any ICE candidates
// that arrived before it. Candidates cannot be added to a connection without
// a remote description, so they are buffered until this point.
func (s *session) setRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoActiveCall
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.remoteSet = true
	for _, cand := range s.pendingICE {
		if err := s.pc.AddICECandidate(cand); err != nil {
			log.Warnf("call %s: buffered ICE candidate rejected: %v", s.call.ID, err)
		}
	}
	s.pendingICE = nil
	return nil
}

// addICECandidate adds a remote candidate, buffering it when the remote
// description has not been applied yet.
func (s *session) addICECandidate(cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoActiveCall
	}
	if !s.remoteSet {
		s.pendingICE = append(s.pendingICE, cand)
		return nil
	}
	return s.pc.AddICECandidate(cand)
}

// answer generates the SDP answer for a received offer and installs it as
// the local description, which also starts local candidate gathering.
func (s *session) answer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return webrtc.SessionDescription{}, ErrNoActiveCall
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (s *session) addRemoteTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if !s.closed {
		s.remote = append(s.remote, track)
	}
	s.mu.Unlock()
}

func (s *session) toggleAudio() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.media == nil {
		return false, ErrNoActiveCall
	}
	return s.media.ToggleAudio(), nil
}

func (s *session) toggleVideo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.media == nil {
		return false, ErrNoActiveCall
	}
	return s.media.ToggleVideo(), nil
}

// close releases everything the session owns: the peer connection, every
// local track, the remote track references, and the candidate buffer.
// Idempotent; reports whether this invocation performed the release.
func (s *session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	pc, media := s.pc, s.media
	s.pc = nil
	s.media = nil
	s.remote = nil
	s.pendingICE = nil
	s.mu.Unlock()

	if media != nil {
		media.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Warnf("call %s: peer connection close: %v", s.call.ID, err)
		}
	}
	return true
}
