// Package store is the client-side cache of conversation state: per-
// conversation message lists, the conversation registry, the online-user
// set, and typing indicators. It merges live events, optimistic local sends,
// and paginated history while preserving ordering and id uniqueness.
package store

import (
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/meridian-im/meridian-go/internal/model"
)

var log = logging.Logger("store")

// MessageStore owns the per-conversation message lists. Invariant after
// every mutation: ids unique, ascending createdAt order.
type MessageStore struct {
	mu             sync.RWMutex
	byConversation map[string][]model.Message
	optimistic     map[string]string // tempID → conversationID
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byConversation: make(map[string][]model.Message),
		optimistic:     make(map[string]string),
	}
}

// SetMessages replaces a conversation's list wholesale (initial page load,
// post-send refetch). The replacement is normalized like every other path,
// and supersedes the conversation's in-flight optimistic entries, which are
// forgotten.
func (s *MessageStore) SetMessages(conversationID string, msgs []model.Message) {
	s.mu.Lock()
	for tempID, convID := range s.optimistic {
		if convID == conversationID {
			delete(s.optimistic, tempID)
		}
	}
	s.byConversation[conversationID] = normalize(append([]model.Message(nil), msgs...))
	s.mu.Unlock()
}

// AddMessage appends a live message. Idempotent: a no-op when the id is
// already cached. Reports whether the message was actually inserted.
func (s *MessageStore) AddMessage(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byConversation[msg.ConversationID]
	for _, m := range list {
		if m.ID == msg.ID {
			return false
		}
	}
	s.byConversation[msg.ConversationID] = normalize(append(list, msg))
	return true
}

// MergeOlderPage prepends a page of history. The page is merged, sorted and
// deduplicated against the full list rather than assumed pre-ordered.
func (s *MessageStore) MergeOlderPage(conversationID string, page []model.Message) {
	s.mu.Lock()
	merged := append(append([]model.Message(nil), page...), s.byConversation[conversationID]...)
	s.byConversation[conversationID] = normalize(merged)
	s.mu.Unlock()
}

// AddOptimistic inserts a local-only message under a client-assigned temp id
// while the send is in flight.
func (s *MessageStore) AddOptimistic(tempID string, msg model.Message) {
	msg.ID = tempID
	msg.Optimistic = true
	s.mu.Lock()
	s.optimistic[tempID] = msg.ConversationID
	s.byConversation[msg.ConversationID] = normalize(append(s.byConversation[msg.ConversationID], msg))
	s.mu.Unlock()
}

// RemoveOptimistic drops an in-flight local message, used when the publish
// fails. Unknown temp ids are ignored.
func (s *MessageStore) RemoveOptimistic(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convID, ok := s.optimistic[tempID]
	if !ok {
		return
	}
	delete(s.optimistic, tempID)
	list := s.byConversation[convID]
	kept := list[:0]
	for _, m := range list {
		if m.ID != tempID {
			kept = append(kept, m)
		}
	}
	s.byConversation[convID] = kept
}

// Messages returns a copy of a conversation's cached list.
func (s *MessageStore) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.byConversation[conversationID]...)
}

// normalize enforces the list invariant: dedupe by id (first wins), then
// stable sort ascending by createdAt.
func normalize(list []model.Message) []model.Message {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, m := range list {
		if _, dup := seen[m.ID]; dup {
			log.Debugf("duplicate message %s dropped", m.ID)
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
