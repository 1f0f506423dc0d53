package store

import (
	"sort"
	"sync"
	"time"

	"github.com/meridian-im/meridian-go/internal/model"
)

// DefaultTypingExpiry bounds how long a typing indicator survives without a
// refresh. The remote "stopped typing" signal can be lost, so every entry
// carries a defensive timeout.
const DefaultTypingExpiry = 5 * time.Second

// TypingTracker maps conversation id → set of users currently typing.
type TypingTracker struct {
	expiry   time.Duration
	onChange func(conversationID string, userIDs []string)

	mu     sync.Mutex
	timers map[string]map[string]*time.Timer // conv → user → expiry timer
}

// NewTypingTracker creates a tracker. onChange, if non-nil, fires after any
// effective change with the conversation's new typing set. expiry ≤ 0 uses
// DefaultTypingExpiry.
func NewTypingTracker(expiry time.Duration, onChange func(conversationID string, userIDs []string)) *TypingTracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingTracker{
		expiry:   expiry,
		onChange: onChange,
		timers:   make(map[string]map[string]*time.Timer),
	}
}

// Apply folds one typing event in. A true event (re)arms the user's expiry
// timer; a false event removes the user immediately.
func (t *TypingTracker) Apply(evt model.TypingEvent) {
	t.mu.Lock()
	users := t.timers[evt.ConversationID]
	if evt.Typing {
		if users == nil {
			users = make(map[string]*time.Timer)
			t.timers[evt.ConversationID] = users
		}
		if old, ok := users[evt.UserID]; ok {
			old.Stop()
		}
		convID, userID := evt.ConversationID, evt.UserID
		users[userID] = time.AfterFunc(t.expiry, func() { t.expire(convID, userID) })
	} else {
		if users == nil {
			t.mu.Unlock()
			return
		}
		timer, ok := users[evt.UserID]
		if !ok {
			t.mu.Unlock()
			return
		}
		timer.Stop()
		delete(users, evt.UserID)
		if len(users) == 0 {
			delete(t.timers, evt.ConversationID)
		}
	}
	ids := t.idsLocked(evt.ConversationID)
	t.mu.Unlock()
	t.notify(evt.ConversationID, ids)
}

// expire drops a user whose quiet period elapsed without an explicit stop.
func (t *TypingTracker) expire(conversationID, userID string) {
	t.mu.Lock()
	users := t.timers[conversationID]
	if _, ok := users[userID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.timers, conversationID)
	}
	ids := t.idsLocked(conversationID)
	t.mu.Unlock()
	t.notify(conversationID, ids)
}

// TypingUsers returns who is typing in a conversation, sorted.
func (t *TypingTracker) TypingUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idsLocked(conversationID)
}

// Stop cancels every pending expiry timer.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, users := range t.timers {
		for _, timer := range users {
			timer.Stop()
		}
	}
	t.timers = make(map[string]map[string]*time.Timer)
}

func (t *TypingTracker) idsLocked(conversationID string) []string {
	users := t.timers[conversationID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *TypingTracker) notify(conversationID string, ids []string) {
	if t.onChange != nil {
		t.onChange(conversationID, ids)
	}
}
