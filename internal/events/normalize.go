package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/meridian-im/meridian-go/internal/model"
)

// decode is strict JSON decoding into an event type. Unknown fields are
// tolerated; a syntactically broken payload is the caller's cue to drop it.
func decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, err
	}
	return v, nil
}

// flexTime accepts the two timestamp encodings observed on the wire:
// RFC 3339 strings and Unix-millisecond numbers.
type flexTime struct{ time.Time }

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(millis)
	return nil
}

// rawMessage is the loose inbound shape. Different backend paths name the
// text field body, content, text, or message; this is the single place that
// knows about the variants.
type rawMessage struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Body           string   `json:"body"`
	Content        string   `json:"content"`
	Text           string   `json:"text"`
	Message        string   `json:"message"`
	CreatedAt      flexTime `json:"createdAt"`
	Deleted        bool     `json:"deleted"`
}

// NormalizeMessage converts an inbound message payload to the canonical
// model.Message. Internal logic never branches on field-name variants again.
func NormalizeMessage(body []byte) (model.Message, error) {
	raw, err := decode[rawMessage](body)
	if err != nil {
		return model.Message{}, err
	}
	if raw.ID == "" || raw.ConversationID == "" {
		return model.Message{}, fmt.Errorf("message missing id or conversationId")
	}

	text := raw.Body
	for _, alt := range []string{raw.Content, raw.Text, raw.Message} {
		if text == "" {
			text = alt
		}
	}

	created := raw.CreatedAt.Time
	if created.IsZero() {
		created = time.Now()
	}

	return model.Message{
		ID:             raw.ID,
		ConversationID: raw.ConversationID,
		SenderID:       raw.SenderID,
		Body:           text,
		CreatedAt:      created,
		Deleted:        raw.Deleted,
	}, nil
}
