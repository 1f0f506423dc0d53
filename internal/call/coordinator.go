// Package call drives WebRTC call sessions over Pion: local media
// acquisition, offer/answer negotiation, trickle ICE, and teardown. The
// transport is reached through the Signaler interface and the server-side
// call record through the API interface, so the package couples to nothing
// else in the client.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/meridian-im/meridian-go/internal/model"
)

var log = logging.Logger("call")

// DefaultSTUNServers is the fallback ICE configuration. STUN only, no TURN
// relay: calls between two symmetric NATs may fail to establish a media
// path. Accepted limitation.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// Options configures a Coordinator.
type Options struct {
	Signaler Signaler
	API      API
	Media    MediaProvider

	// STUNServers overrides DefaultSTUNServers when non-empty.
	STUNServers []string
}

// Coordinator is the per-call state machine. At most one call is non-IDLE
// at any time; InitiateCall and AcceptCall reject while another call is
// live, and every exit path converges on the one teardown routine.
type Coordinator struct {
	sig        Signaler
	api        API
	media      MediaProvider
	iceServers []webrtc.ICEServer

	mu      sync.Mutex
	status  model.CallStatus
	session *session

	cbMu       sync.RWMutex
	onStatus   func(model.CallStatus)
	onIncoming func(model.Call)
	onEnded    func(callID string)
	onTrack    func(*webrtc.TrackRemote)
}

// New creates a Coordinator in the IDLE state.
func New(opts Options) *Coordinator {
	stun := opts.STUNServers
	if len(stun) == 0 {
		stun = DefaultSTUNServers
	}
	return &Coordinator{
		sig:        opts.Signaler,
		api:        opts.API,
		media:      opts.Media,
		iceServers: []webrtc.ICEServer{{URLs: stun}},
		status:     model.CallIdle,
	}
}

// OnStatusChange replaces the status consumer. May be nil.
func (c *Coordinator) OnStatusChange(fn func(model.CallStatus)) {
	c.cbMu.Lock()
	c.onStatus = fn
	c.cbMu.Unlock()
}

// OnIncomingCall replaces the incoming-call consumer. May be nil.
func (c *Coordinator) OnIncomingCall(fn func(model.Call)) {
	c.cbMu.Lock()
	c.onIncoming = fn
	c.cbMu.Unlock()
}

// OnCallEnded replaces the call-ended consumer. May be nil.
func (c *Coordinator) OnCallEnded(fn func(callID string)) {
	c.cbMu.Lock()
	c.onEnded = fn
	c.cbMu.Unlock()
}

// OnRemoteTrack replaces the remote-track consumer. May be nil.
func (c *Coordinator) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	c.cbMu.Lock()
	c.onTrack = fn
	c.cbMu.Unlock()
}

// Status returns the current state machine position.
func (c *Coordinator) Status() model.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Active returns the live call record, if any.
func (c *Coordinator) Active() (model.Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return model.Call{}, false
	}
	return c.session.call, true
}

// InitiateCall starts an outbound call. Rejected without side effects when
// another call is live: no media is acquired, no peer connection created.
// On success the state has moved IDLE → CALLING → RINGING, where RINGING
// means the offer was sent, not that the receiver saw it.
func (c *Coordinator) InitiateCall(ctx context.Context, receiverID string, callType model.CallType, conversationID string) (model.Call, error) {
	if !c.claim() {
		return model.Call{}, ErrCallInProgress
	}

	pc, media, err := c.media.NewSessionPC(conversationID, callType, c.iceServers)
	if err != nil {
		c.release()
		return model.Call{}, fmt.Errorf("acquire local media: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		closePartial(pc, media)
		c.release()
		return model.Call{}, fmt.Errorf("create offer: %w", err)
	}

	rec, err := c.api.InitiateCall(ctx, receiverID, callType, conversationID)
	if err != nil {
		closePartial(pc, media)
		c.release()
		return model.Call{}, fmt.Errorf("register call: %w", err)
	}

	sess := newSession(rec, receiverID, pc, media)
	c.wirePC(sess)
	c.adopt(sess)

	// Installing the local description starts candidate gathering; the call
	// id and target are wired above so trickled candidates route correctly.
	if err := pc.SetLocalDescription(offer); err != nil {
		c.teardown(sess, "set local description: "+err.Error())
		return model.Call{}, fmt.Errorf("set local description: %w", err)
	}
	if !c.publishSDP(sess, model.SignalOffer, offer) {
		c.teardown(sess, "offer publish failed")
		return model.Call{}, ErrSignalUnavailable
	}

	c.transition(sess, model.CallRinging)
	log.Infof("call %s: offer sent to %s (%s)", rec.ID, receiverID, callType)
	return rec, nil
}

// AcceptCall answers an incoming call previously delivered through the
// call-notification route. The SDP answer itself is produced when the
// caller's OFFER signal arrives.
func (c *Coordinator) AcceptCall(ctx context.Context, inc model.Call) error {
	if !c.claim() {
		return ErrCallInProgress
	}

	pc, media, err := c.media.NewSessionPC(inc.ID, inc.Type, c.iceServers)
	if err != nil {
		c.release()
		return fmt.Errorf("acquire local media: %w", err)
	}

	if _, err := c.api.AcceptCall(ctx, inc.ID); err != nil {
		closePartial(pc, media)
		c.release()
		return fmt.Errorf("accept call: %w", err)
	}

	sess := newSession(inc, inc.CallerID, pc, media)
	c.wirePC(sess)
	c.adopt(sess)
	c.transition(sess, model.CallConnected)
	log.Infof("call %s: accepted from %s", inc.ID, inc.CallerID)
	return nil
}

// RejectCall declines an incoming call. No peer connection is ever created;
// state stays IDLE.
func (c *Coordinator) RejectCall(ctx context.Context, callID string) error {
	if err := c.api.RejectCall(ctx, callID); err != nil {
		return fmt.Errorf("reject call: %w", err)
	}
	log.Infof("call %s: rejected", callID)
	return nil
}

// EndCall hangs up the live call: notifies the remote party, releases the
// server-side record, and runs teardown.
func (c *Coordinator) EndCall(ctx context.Context) error {
	sess := c.current()
	if sess == nil {
		return ErrNoActiveCall
	}
	c.sig.PublishSignal(model.SignalEnvelope{
		CallID:       sess.call.ID,
		Type:         model.SignalCallEnded,
		TargetUserID: sess.other,
	})
	if err := c.api.EndCall(ctx, sess.call.ID); err != nil {
		log.Warnf("call %s: end via REST failed: %v", sess.call.ID, err)
	}
	c.teardown(sess, "local hangup")
	return nil
}

// ToggleMute flips the local audio track and returns the new muted state.
func (c *Coordinator) ToggleMute() (bool, error) {
	sess := c.current()
	if sess == nil {
		return false, ErrNoActiveCall
	}
	return sess.toggleAudio()
}

// ToggleVideo flips the local video track and returns the new disabled state.
func (c *Coordinator) ToggleVideo() (bool, error) {
	sess := c.current()
	if sess == nil {
		return false, ErrNoActiveCall
	}
	return sess.toggleVideo()
}

// HandleNotification feeds an incoming-call notification to the registered
// consumer. Local state does not change; the consumer decides whether to
// call AcceptCall or RejectCall.
func (c *Coordinator) HandleNotification(inc model.Call) {
	log.Infof("call %s: incoming from %s (%s)", inc.ID, inc.CallerID, inc.Type)
	c.cbMu.RLock()
	fn := c.onIncoming
	c.cbMu.RUnlock()
	if fn != nil {
		fn(inc)
	}
}

// HandleSignal routes one negotiation envelope from the per-user signal
// queue to the live session.
func (c *Coordinator) HandleSignal(env model.SignalEnvelope) {
	sess := c.current()
	if sess == nil {
		if env.Type == model.SignalCallEnded {
			return
		}
		log.Warnf("signal %s for call %s ignored, no active call", env.Type, env.CallID)
		return
	}
	if env.CallID != "" && env.CallID != sess.call.ID {
		log.Warnf("signal %s for call %s ignored, active call is %s", env.Type, env.CallID, sess.call.ID)
		return
	}

	switch env.Type {
	case model.SignalOffer:
		c.handleOffer(sess, env)
	case model.SignalAnswer:
		c.handleAnswer(sess, env)
	case model.SignalICECandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(env.Data), &cand); err != nil {
			log.Warnf("call %s: malformed ICE candidate dropped: %v", sess.call.ID, err)
			return
		}
		if err := sess.addICECandidate(cand); err != nil {
			log.Warnf("call %s: add ICE candidate: %v", sess.call.ID, err)
		}
	case model.SignalCallEnded:
		c.teardown(sess, "remote hangup")
	default:
		log.Warnf("call %s: unknown signal type %q dropped", sess.call.ID, env.Type)
	}
}

func (c *Coordinator) handleOffer(sess *session, env model.SignalEnvelope) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(env.Data), &desc); err != nil {
		log.Warnf("call %s: malformed offer dropped: %v", sess.call.ID, err)
		return
	}
	if err := sess.setRemoteDescription(desc); err != nil {
		log.Warnf("call %s: set remote offer: %v", sess.call.ID, err)
		return
	}
	answer, err := sess.answer()
	if err != nil {
		log.Warnf("call %s: create answer: %v", sess.call.ID, err)
		return
	}
	if !c.publishSDP(sess, model.SignalAnswer, answer) {
		log.Warnf("call %s: answer publish failed, transport down", sess.call.ID)
	}
}

func (c *Coordinator) handleAnswer(sess *session, env model.SignalEnvelope) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(env.Data), &desc); err != nil {
		log.Warnf("call %s: malformed answer dropped: %v", sess.call.ID, err)
		return
	}
	if err := sess.setRemoteDescription(desc); err != nil {
		log.Warnf("call %s: set remote answer: %v", sess.call.ID, err)
		return
	}
	// The receiver accepted and answered: the caller's view of the call is
	// now connected.
	c.transition(sess, model.CallConnected)
}

// teardown is the single exit routine shared by local hangup, remote
// CALL_ENDED, and peer-connection failure. Closes the peer connection,
// stops every local track, clears the remote references, fires the
// call-ended consumer exactly once, and resets to IDLE.
func (c *Coordinator) teardown(sess *session, reason string) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.status = model.CallEnded
	c.mu.Unlock()

	c.notifyStatus(model.CallEnded)
	sess.close()

	// ENDED is terminal and resets immediately.
	c.mu.Lock()
	if c.status == model.CallEnded {
		c.status = model.CallIdle
	}
	c.mu.Unlock()
	c.notifyStatus(model.CallIdle)

	c.cbMu.RLock()
	fn := c.onEnded
	c.cbMu.RUnlock()
	if fn != nil {
		fn(sess.call.ID)
	}
	log.Infof("call %s: torn down (%s)", sess.call.ID, reason)
}

// claim atomically moves IDLE → CALLING, the busy marker that blocks a
// second concurrent call before any media is touched.
func (c *Coordinator) claim() bool {
	c.mu.Lock()
	if c.status != model.CallIdle {
		c.mu.Unlock()
		return false
	}
	c.status = model.CallCalling
	c.mu.Unlock()
	c.notifyStatus(model.CallCalling)
	return true
}

// release undoes a claim after a setup failure before a session existed.
func (c *Coordinator) release() {
	c.mu.Lock()
	c.status = model.CallIdle
	c.mu.Unlock()
	c.notifyStatus(model.CallIdle)
}

func (c *Coordinator) adopt(sess *session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

func (c *Coordinator) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// transition moves the state machine, skipped when sess is no longer the
// live session (teardown won the race).
func (c *Coordinator) transition(sess *session, to model.CallStatus) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.status = to
	c.mu.Unlock()
	c.notifyStatus(to)
}

func (c *Coordinator) notifyStatus(st model.CallStatus) {
	c.cbMu.RLock()
	fn := c.onStatus
	c.cbMu.RUnlock()
	if fn != nil {
		fn(st)
	}
}

// wirePC attaches the per-connection callbacks: trickle local candidates
// out, record remote tracks, and converge connection failure on teardown.
func (c *Coordinator) wirePC(sess *session) {
	pc := sess.pc
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		if !c.sig.PublishSignal(model.SignalEnvelope{
			CallID:       sess.call.ID,
			Type:         model.SignalICECandidate,
			Data:         string(data),
			TargetUserID: sess.other,
		}) {
			log.Debugf("call %s: local ICE candidate dropped, transport down", sess.call.ID)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Infof("call %s: remote %s track", sess.call.ID, track.Kind())
		sess.addRemoteTrack(track)
		c.cbMu.RLock()
		fn := c.onTrack
		c.cbMu.RUnlock()
		if fn != nil {
			fn(track)
		}
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Debugf("call %s: peer connection %s", sess.call.ID, st)
		switch st {
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			c.teardown(sess, "peer connection "+st.String())
		}
	})
}

func (c *Coordinator) publishSDP(sess *session, sigType string, desc webrtc.SessionDescription) bool {
	data, err := json.Marshal(desc)
	if err != nil {
		return false
	}
	return c.sig.PublishSignal(model.SignalEnvelope{
		CallID:       sess.call.ID,
		Type:         sigType,
		Data:         string(data),
		TargetUserID: sess.other,
	})
}

// closePartial releases resources created before a session took ownership.
func closePartial(pc *webrtc.PeerConnection, media LocalMedia) {
	if media != nil {
		media.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
}
