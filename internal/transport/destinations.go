package transport

// ── Destination constants ─────────────────────────────────────────────────────
// Single source of truth for every STOMP destination the client publishes to
// or subscribes on.
const (
	// Outbound application destinations.
	DestSendMessage = "/app/chat.sendMessage"
	DestTyping      = "/app/chat.typing"
	DestCallSignal  = "/app/video/signal"

	// Per-user queues, resolved server-side from the authenticated principal.
	QueueMessages         = "/user/queue/messages"
	QueueCallNotification = "/user/queue/video/call-notification"
	QueueCallSignal       = "/user/queue/video/signal"
	QueueNewConversations = "/user/queue/conversations/new"

	// Global broadcast topics.
	TopicPresence = "/topic/presence"

	conversationTopicPrefix = "/topic/conversations/"
)

// ConversationTopic is the live-message topic for one conversation.
func ConversationTopic(conversationID string) string {
	return conversationTopicPrefix + conversationID
}

// ConversationTypingTopic is the typing-state topic for one conversation.
func ConversationTypingTopic(conversationID string) string {
	return conversationTopicPrefix + conversationID + "/typing"
}
