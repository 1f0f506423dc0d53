package store

import (
	"sync"

	"github.com/meridian-im/meridian-go/internal/model"
)

// ConversationList is the ordered conversation registry. Conversations are
// created via REST or pushed by a conversation-created event; this core
// never deletes them.
type ConversationList struct {
	mu    sync.RWMutex
	order []string // most recently created first
	byID  map[string]model.Conversation
}

// NewConversationList creates an empty registry.
func NewConversationList() *ConversationList {
	return &ConversationList{byID: make(map[string]model.Conversation)}
}

// Set replaces the registry from a REST listing.
func (l *ConversationList) Set(convs []model.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = l.order[:0]
	l.byID = make(map[string]model.Conversation, len(convs))
	for _, c := range convs {
		if _, dup := l.byID[c.ID]; dup {
			continue
		}
		l.order = append(l.order, c.ID)
		l.byID[c.ID] = c
	}
}

// Add prepends a newly created conversation. A duplicate event for an id
// already present is a no-op; reports whether the entry was inserted.
func (l *ConversationList) Add(conv model.Conversation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[conv.ID]; exists {
		return false
	}
	l.order = append([]string{conv.ID}, l.order...)
	l.byID[conv.ID] = conv
	return true
}

// TouchMessage refreshes a conversation's preview and last-activity time
// from a newly arrived message. Unknown conversations are ignored (the
// conversation-created event or a REST refresh will introduce them).
func (l *ConversationList) TouchMessage(msg model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conv, ok := l.byID[msg.ConversationID]
	if !ok {
		return
	}
	conv.LastMessagePreview = msg.Body
	conv.LastMessageAt = msg.CreatedAt
	l.byID[msg.ConversationID] = conv
}

// Get returns one conversation by id.
func (l *ConversationList) Get(id string) (model.Conversation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.byID[id]
	return c, ok
}

// All returns the registry in order, newest first.
func (l *ConversationList) All() []model.Conversation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Conversation, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// IDs returns the conversation ids in order.
func (l *ConversationList) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}
