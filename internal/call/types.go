package call

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/meridian-im/meridian-go/internal/model"
)

var (
	// ErrCallInProgress is returned when a call is initiated or accepted
	// while the coordinator is not IDLE.
	ErrCallInProgress = errors.New("call: another call is in progress")

	// ErrNoActiveCall is returned by operations that need a live session.
	ErrNoActiveCall = errors.New("call: no active call")

	// ErrSignalUnavailable is returned when the signaling transport is
	// disconnected and an envelope could not be published.
	ErrSignalUnavailable = errors.New("call: signaling transport unavailable")
)

// Signaler is the only surface the call package needs from the transport
// layer. PublishSignal reports false when the connection is down; the caller
// decides whether that aborts the operation.
type Signaler interface {
	PublishSignal(env model.SignalEnvelope) bool
}

// API is the REST collaborator that owns the server-side call record.
type API interface {
	InitiateCall(ctx context.Context, receiverID string, callType model.CallType, conversationID string) (model.Call, error)
	AcceptCall(ctx context.Context, callID string) (model.Call, error)
	RejectCall(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
}

// LocalMedia owns the captured camera/microphone tracks for one call.
// Close must stop every track before returning; the devices are exclusive
// hardware held for the call's duration.
type LocalMedia interface {
	// ToggleAudio flips local audio and returns the new muted state.
	ToggleAudio() (muted bool)
	// ToggleVideo flips local video and returns the new disabled state.
	ToggleVideo() (disabled bool)
	Close()
}

// MediaProvider creates the peer connection together with the local capture
// matching the call type. The two are created as a unit because codec
// registration on the PC depends on which encoders the capture pipeline
// selected. label is log context only (the call id is not assigned yet on
// the initiating side).
type MediaProvider interface {
	NewSessionPC(label string, callType model.CallType, iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, LocalMedia, error)
}
