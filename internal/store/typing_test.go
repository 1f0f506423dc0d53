package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-im/meridian-go/internal/model"
)

type typingRecorder struct {
	mu   sync.Mutex
	last map[string][]string
}

func (r *typingRecorder) record(conversationID string, userIDs []string) {
	r.mu.Lock()
	if r.last == nil {
		r.last = make(map[string][]string)
	}
	r.last[conversationID] = userIDs
	r.mu.Unlock()
}

func (r *typingRecorder) get(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[conversationID]
}

func TestTypingApplyAndExplicitStop(t *testing.T) {
	rec := &typingRecorder{}
	tr := NewTypingTracker(time.Minute, rec.record)
	defer tr.Stop()

	tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u2", Typing: true})
	tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u1", Typing: true})
	assert.Equal(t, []string{"u1", "u2"}, tr.TypingUsers("c1"))
	assert.Equal(t, []string{"u1", "u2"}, rec.get("c1"))

	tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u1", Typing: false})
	assert.Equal(t, []string{"u2"}, tr.TypingUsers("c1"))
	assert.Equal(t, []string{"u2"}, rec.get("c1"))

	// Stop for someone who was never typing is silent.
	tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u9", Typing: false})
	assert.Equal(t, []string{"u2"}, tr.TypingUsers("c1"))
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	rec := &typingRecorder{}
	tr := NewTypingTracker(30*time.Millisecond, rec.record)
	defer tr.Stop()

	tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u1", Typing: true})
	assert.Equal(t, []string{"u1"}, tr.TypingUsers("c1"))

	assert.Eventually(t, func() bool {
		return len(tr.TypingUsers("c1")) == 0
	}, time.Second, 5*time.Millisecond, "lost stop signal should expire the indicator")
	assert.Empty(t, rec.get("c1"))
}

func TestTypingRefreshRearmsExpiry(t *testing.T) {
	tr := NewTypingTracker(60*time.Millisecond, nil)
	defer tr.Stop()

	tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u1", Typing: true})
	// Keep refreshing past the original deadline; the entry must survive.
	for i := 0; i < 4; i++ {
		time.Sleep(25 * time.Millisecond)
		tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u1", Typing: true})
	}
	assert.Equal(t, []string{"u1"}, tr.TypingUsers("c1"))

	assert.Eventually(t, func() bool {
		return len(tr.TypingUsers("c1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingStopCancelsTimers(t *testing.T) {
	tr := NewTypingTracker(time.Minute, nil)
	tr.Apply(model.TypingEvent{ConversationID: "c1", UserID: "u1", Typing: true})
	tr.Apply(model.TypingEvent{ConversationID: "c2", UserID: "u2", Typing: true})

	tr.Stop()
	assert.Empty(t, tr.TypingUsers("c1"))
	assert.Empty(t, tr.TypingUsers("c2"))
}
