package meridian

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-im/meridian-go/internal/config"
	"github.com/meridian-im/meridian-go/internal/model"
	"github.com/meridian-im/meridian-go/internal/stomp"
	"github.com/meridian-im/meridian-go/internal/transport"
)

// fakeBroker answers the STOMP handshake, tracks SUBSCRIBE destinations,
// and lets tests push MESSAGE frames onto any subscribed destination.
type fakeBroker struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	subs  map[string]string // destination → subscription id

	frames chan *stomp.Frame
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{
		subs:   make(map[string]string),
		frames: make(chan *stomp.Frame, 64),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if stomp.IsHeartBeat(data) {
				continue
			}
			f, err := stomp.Parse(data)
			if err != nil {
				t.Errorf("broker got malformed frame: %v", err)
				return
			}
			switch f.Command {
			case stomp.CmdConnect:
				connected := stomp.New(stomp.CmdConnected,
					"version", "1.2",
					stomp.HdrHeartBeat, "0,0",
				)
				conn.WriteMessage(websocket.TextMessage, connected.Marshal())
			case stomp.CmdSubscribe:
				b.mu.Lock()
				b.subs[f.Get(stomp.HdrDestination)] = f.Get(stomp.HdrID)
				b.mu.Unlock()
			default:
				b.frames <- f
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBroker) subscribed(destination string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[destination]
	return ok
}

// push delivers a MESSAGE frame on a destination the client subscribed to.
func (b *fakeBroker) push(t *testing.T, destination string, body any) {
	t.Helper()
	b.mu.Lock()
	subID, ok := b.subs[destination]
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	require.True(t, ok, "client never subscribed to %s", destination)

	data, err := json.Marshal(body)
	require.NoError(t, err)
	f := stomp.New(stomp.CmdMessage,
		stomp.HdrSubscription, subID,
		stomp.HdrDestination, destination,
	)
	f.Body = data
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, f.Marshal()))
}

// nextSend returns the next SEND frame to the given destination.
func (b *fakeBroker) nextSend(t *testing.T, destination string) *stomp.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-b.frames:
			if f.Command == stomp.CmdSend && f.Get(stomp.HdrDestination) == destination {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for SEND to %s", destination)
			return nil
		}
	}
}

func testToken(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-me"}).
		SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

type restFixture struct {
	mu       sync.Mutex
	messages map[string][]model.Message
	convs    []model.Conversation
}

func (f *restFixture) setMessages(conversationID string, msgs []model.Message) {
	f.mu.Lock()
	f.messages[conversationID] = msgs
	f.mu.Unlock()
}

func newRESTFixture(t *testing.T) (*restFixture, string) {
	t.Helper()
	f := &restFixture{messages: make(map[string][]model.Message)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.URL.Path == "/api/conversations":
			json.NewEncoder(w).Encode(f.convs)
		case strings.HasSuffix(r.URL.Path, "/messages"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/conversations/"), "/messages")
			json.NewEncoder(w).Encode(f.messages[id])
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func newTestClient(t *testing.T, b *fakeBroker, apiBase string) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Server.WSURL = b.url()
	cfg.Server.APIBase = apiBase
	cfg.Server.Token = testToken(t)
	cfg.Transport.ReconnectDelaySec = 1

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitConnected(t *testing.T, c *Client, b *fakeBroker) {
	t.Helper()
	c.Connect()
	require.Eventually(t, func() bool {
		return c.Connected() && b.subscribed(transport.QueueMessages)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestConnectSubscribesPersonalQueues(t *testing.T) {
	b := newFakeBroker(t)
	_, api := newRESTFixture(t)
	c := newTestClient(t, b, api)
	waitConnected(t, c, b)

	for _, dest := range []string{
		transport.QueueMessages,
		transport.QueueCallNotification,
		transport.QueueCallSignal,
		transport.QueueNewConversations,
		transport.TopicPresence,
	} {
		assert.Eventually(t, func() bool { return b.subscribed(dest) },
			2*time.Second, 10*time.Millisecond, "missing subscription %s", dest)
	}
	assert.Equal(t, "u-me", c.UserID())
}

func TestInboundMessageReachesConsumerOnce(t *testing.T) {
	b := newFakeBroker(t)
	_, api := newRESTFixture(t)
	c := newTestClient(t, b, api)
	waitConnected(t, c, b)

	got := make(chan model.Message, 4)
	c.OnMessage(func(m model.Message) { got <- m })

	wire := map[string]any{
		"id":             "m-1",
		"conversationId": "conv-1",
		"senderId":       "u-alice",
		"content":        "hey",
		"createdAt":      time.Now().Format(time.RFC3339Nano),
	}
	b.push(t, transport.QueueMessages, wire)

	select {
	case m := <-got:
		assert.Equal(t, "m-1", m.ID)
		assert.Equal(t, "hey", m.Body, "content variant normalized to Body")
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the consumer")
	}

	// The live echo of the same id is deduplicated.
	b.push(t, transport.QueueMessages, wire)
	select {
	case m := <-got:
		t.Fatalf("duplicate delivered: %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Len(t, c.Messages("conv-1"), 1)
}

func TestSendOptimisticThenRefetch(t *testing.T) {
	b := newFakeBroker(t)
	rest, api := newRESTFixture(t)
	c := newTestClient(t, b, api)
	waitConnected(t, c, b)

	authoritative := model.Message{
		ID:             "m-srv",
		ConversationID: "conv-1",
		SenderID:       "u-me",
		Body:           "hello there",
		CreatedAt:      time.Now(),
	}
	rest.setMessages("conv-1", []model.Message{authoritative})

	require.True(t, c.Send("conv-1", "hello there"))

	f := b.nextSend(t, transport.DestSendMessage)
	var sent map[string]string
	require.NoError(t, json.Unmarshal(f.Body, &sent))
	assert.Equal(t, "conv-1", sent["conversationId"])
	assert.Equal(t, "hello there", sent["body"])

	// The background refetch replaces the optimistic entry wholesale.
	assert.Eventually(t, func() bool {
		msgs := c.Messages("conv-1")
		return len(msgs) == 1 && msgs[0].ID == "m-srv"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSendWhileDisconnectedReturnsFalse(t *testing.T) {
	b := newFakeBroker(t)
	_, api := newRESTFixture(t)
	c := newTestClient(t, b, api)
	// Never connected.

	assert.False(t, c.Send("conv-1", "hello"))
	assert.Empty(t, c.Messages("conv-1"), "optimistic entry removed on failure")
}

func TestConversationCreatedExtendsSubscriptions(t *testing.T) {
	b := newFakeBroker(t)
	_, api := newRESTFixture(t)
	c := newTestClient(t, b, api)
	waitConnected(t, c, b)

	created := make(chan model.Conversation, 2)
	c.OnConversationCreated(func(conv model.Conversation) { created <- conv })

	b.push(t, transport.QueueNewConversations, model.Conversation{ID: "conv-X", Type: model.ConversationDirect})
	select {
	case conv := <-created:
		assert.Equal(t, "conv-X", conv.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("conversation-created never delivered")
	}

	assert.Eventually(t, func() bool {
		return b.subscribed(transport.ConversationTopic("conv-X")) &&
			b.subscribed(transport.ConversationTypingTopic("conv-X"))
	}, 2*time.Second, 10*time.Millisecond)

	// A duplicate event is a no-op.
	b.push(t, transport.QueueNewConversations, model.Conversation{ID: "conv-X"})
	select {
	case conv := <-created:
		t.Fatalf("duplicate conversation delivered: %+v", conv)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendCancelsTypingDebounce(t *testing.T) {
	b := newFakeBroker(t)
	_, api := newRESTFixture(t)
	c := newTestClient(t, b, api)
	waitConnected(t, c, b)

	require.True(t, c.SendTyping("conv-1", true))
	f := b.nextSend(t, transport.DestTyping)
	var evt model.TypingEvent
	require.NoError(t, json.Unmarshal(f.Body, &evt))
	assert.True(t, evt.Typing)
	assert.Equal(t, "u-me", evt.UserID)

	// The explicit send emits the stop right away, ahead of the debounce.
	require.True(t, c.Send("conv-1", "done typing"))
	f = b.nextSend(t, transport.DestTyping)
	require.NoError(t, json.Unmarshal(f.Body, &evt))
	assert.False(t, evt.Typing)
}

func TestPresenceTracked(t *testing.T) {
	b := newFakeBroker(t)
	_, api := newRESTFixture(t)
	c := newTestClient(t, b, api)
	waitConnected(t, c, b)

	b.push(t, transport.TopicPresence, model.PresenceEvent{UserID: "u-alice", Online: true})
	assert.Eventually(t, func() bool { return c.Online("u-alice") }, 2*time.Second, 10*time.Millisecond)

	b.push(t, transport.TopicPresence, model.PresenceEvent{UserID: "u-alice", Online: false})
	assert.Eventually(t, func() bool { return !c.Online("u-alice") }, 2*time.Second, 10*time.Millisecond)
}
