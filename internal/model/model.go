// Package model holds the wire and cache types shared across the client.
// Every inbound payload is normalized into these shapes at the boundary
// (see events.Normalize) so that no other package branches on field-name
// variants.
package model

import (
	"strings"
	"time"
)

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationDirect      ConversationType = "DIRECT"
	ConversationGroup       ConversationType = "GROUP"
	ConversationAIAssistant ConversationType = "AI_ASSISTANT"
)

// Conversation is one chat thread. Created via REST or pushed by a
// conversation-created event; never deleted by this core.
type Conversation struct {
	ID                 string           `json:"id"`
	Type               ConversationType `json:"type"`
	ParticipantIDs     []string         `json:"participantIds"`
	LastMessagePreview string           `json:"lastMessagePreview,omitempty"`
	LastMessageAt      time.Time        `json:"lastMessageAt,omitempty"`
}

// TempIDPrefix marks client-assigned message ids so they can never collide
// with server-assigned ones.
const TempIDPrefix = "temp-"

// Message is a single chat message as cached per conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
	Deleted        bool      `json:"deleted,omitempty"`
	Optimistic     bool      `json:"optimistic,omitempty"`
}

// IsTemp reports whether the message carries a client-assigned id.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// PresenceEvent is a transient online/offline notification for one user.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// TypingEvent reports that a user started or stopped typing in a conversation.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

// CallType selects the media kind of a call.
type CallType string

const (
	CallAudio CallType = "AUDIO"
	CallVideo CallType = "VIDEO"
)

// CallStatus is the local call state machine position.
type CallStatus string

const (
	CallIdle      CallStatus = "IDLE"
	CallCalling   CallStatus = "CALLING"
	CallRinging   CallStatus = "RINGING"
	CallConnected CallStatus = "CONNECTED"
	CallEnded     CallStatus = "ENDED"
)

// Call is the server's call record, fetched and mutated via REST.
type Call struct {
	ID             string     `json:"id"`
	CallerID       string     `json:"callerId"`
	ReceiverID     string     `json:"receiverId"`
	ConversationID string     `json:"conversationId,omitempty"`
	Type           CallType   `json:"type"`
	Status         CallStatus `json:"status"`
}

// Signal type values inside a SignalEnvelope.
const (
	SignalOffer        = "OFFER"
	SignalAnswer       = "ANSWER"
	SignalICECandidate = "ICE_CANDIDATE"
	SignalCallEnded    = "CALL_ENDED"
)

// SignalEnvelope relays one negotiation message between call peers.
// Data carries a JSON-encoded SDP description or ICE candidate as a string,
// matching the relay's wire format. Envelopes are consumed once, never cached.
type SignalEnvelope struct {
	CallID       string `json:"callId"`
	Type         string `json:"type"`
	Data         string `json:"data"`
	TargetUserID string `json:"targetUserId"`
}

// User is the profile shape returned by the user lookup endpoint.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Email       string `json:"email,omitempty"`
}
