package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-im/meridian-go/internal/model"
)

func msg(id, conv string, at int64) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "u1",
		Body:           "body-" + id,
		CreatedAt:      time.UnixMilli(at),
	}
}

func ids(list []model.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func assertInvariant(t *testing.T, list []model.Message) {
	t.Helper()
	seen := map[string]bool{}
	for i, m := range list {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(list[i-1].CreatedAt),
				"list not ascending at index %d", i)
		}
	}
}

func TestAddMessageIdempotent(t *testing.T) {
	s := NewMessageStore()
	assert.True(t, s.AddMessage(msg("m1", "c1", 100)))
	assert.False(t, s.AddMessage(msg("m1", "c1", 100)), "duplicate id is a no-op")
	assert.Len(t, s.Messages("c1"), 1)
}

func TestAddMessageKeepsAscendingOrder(t *testing.T) {
	s := NewMessageStore()
	s.AddMessage(msg("m3", "c1", 300))
	s.AddMessage(msg("m1", "c1", 100))
	s.AddMessage(msg("m2", "c1", 200))

	got := s.Messages("c1")
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(got))
	assertInvariant(t, got)
}

func TestMergeOlderPageUnsorted(t *testing.T) {
	// The older page is merged-then-sorted-then-deduped against the full
	// list; no assumption that it is pre-ordered relative to the cache.
	s := NewMessageStore()
	s.SetMessages("c1", []model.Message{msg("m5", "c1", 500), msg("m6", "c1", 600)})

	s.MergeOlderPage("c1", []model.Message{
		msg("m2", "c1", 200),
		msg("m4", "c1", 400),
		msg("m1", "c1", 100),
		msg("m5", "c1", 500), // overlap with the cached window
	})

	got := s.Messages("c1")
	assert.Equal(t, []string{"m1", "m2", "m4", "m5", "m6"}, ids(got))
	assertInvariant(t, got)
}

func TestLoadMergeAppendCombination(t *testing.T) {
	s := NewMessageStore()
	s.SetMessages("c1", []model.Message{msg("m3", "c1", 300), msg("m4", "c1", 400)})
	s.MergeOlderPage("c1", []model.Message{msg("m1", "c1", 100), msg("m2", "c1", 200)})
	s.AddMessage(msg("m5", "c1", 500))
	s.AddMessage(msg("m4", "c1", 400)) // live echo of an already-cached message

	got := s.Messages("c1")
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, ids(got))
	assertInvariant(t, got)
}

func TestOptimisticInsertAndRemove(t *testing.T) {
	s := NewMessageStore()
	s.AddMessage(msg("m1", "c1", 100))

	pending := msg("", "c1", 200)
	s.AddOptimistic("temp-abc", pending)

	got := s.Messages("c1")
	assert.Equal(t, []string{"m1", "temp-abc"}, ids(got))
	assert.True(t, got[1].Optimistic)
	assert.True(t, got[1].IsTemp())

	// Publish failed: the optimistic entry disappears.
	s.RemoveOptimistic("temp-abc")
	assert.Equal(t, []string{"m1"}, ids(s.Messages("c1")))

	s.RemoveOptimistic("temp-unknown") // no-op
}

func TestSetMessagesReconcilesOptimisticState(t *testing.T) {
	// Post-send refetch: the authoritative page replaces the list wholesale,
	// including whatever optimistic entries were present.
	s := NewMessageStore()
	s.AddOptimistic("temp-1", msg("", "c1", 150))

	s.SetMessages("c1", []model.Message{msg("m1", "c1", 100), msg("m2", "c1", 150)})
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("c1")))

	// The superseded temp id is forgotten along with the entry: a late
	// RemoveOptimistic is a no-op, and the pending set does not accumulate.
	s.RemoveOptimistic("temp-1")
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("c1")))
	assert.Empty(t, s.optimistic)
}

func TestSetMessagesDropsOnlyOwnConversationsTempIDs(t *testing.T) {
	s := NewMessageStore()
	s.AddOptimistic("temp-1", msg("", "c1", 150))
	s.AddOptimistic("temp-2", msg("", "c2", 150))

	s.SetMessages("c1", []model.Message{msg("m1", "c1", 100)})

	// c2's in-flight send is untouched and still removable on failure.
	assert.Equal(t, []string{"temp-2"}, ids(s.Messages("c2")))
	s.RemoveOptimistic("temp-2")
	assert.Empty(t, s.Messages("c2"))
	assert.Empty(t, s.optimistic)
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewMessageStore()
	s.AddMessage(msg("m1", "c1", 100))
	got := s.Messages("c1")
	got[0].Body = "mutated"
	assert.Equal(t, "body-m1", s.Messages("c1")[0].Body)
}
