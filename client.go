// Package meridian is the client SDK facade: one Client owns the broker
// connection, the per-conversation subscription set, the local caches, and
// the call coordinator, and exposes them behind a small UI-facing surface.
package meridian

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/meridian-im/meridian-go/internal/auth"
	"github.com/meridian-im/meridian-go/internal/cache"
	"github.com/meridian-im/meridian-go/internal/call"
	"github.com/meridian-im/meridian-go/internal/config"
	"github.com/meridian-im/meridian-go/internal/events"
	"github.com/meridian-im/meridian-go/internal/model"
	"github.com/meridian-im/meridian-go/internal/rest"
	"github.com/meridian-im/meridian-go/internal/store"
	"github.com/meridian-im/meridian-go/internal/transport"
)

var log = logging.Logger("client")

// Client is the top-level handle. Create with New, start with Connect, and
// stop with Close.
type Client struct {
	cfg    config.Config
	userID string

	broker     *transport.Manager
	mux        *transport.Mux
	dispatcher *events.Dispatcher
	api        *rest.Client
	calls      *call.Coordinator

	messages      *store.MessageStore
	conversations *store.ConversationList
	presence      *store.PresenceSet
	typing        *store.TypingTracker

	users *cache.Cache[string, model.User]

	cbMu           sync.RWMutex
	onMessage      func(model.Message)
	onTyping       func(conversationID string, userIDs []string)
	onPresence     func(model.PresenceEvent)
	onConversation func(model.Conversation)
	onState        func(connected bool)

	debounceMu sync.Mutex
	debounce   map[string]*time.Timer // conversation id → stop-typing timer
}

// New builds a Client from a validated config. The authenticated user id is
// derived from the token's subject claim; it names the per-user queues.
func New(cfg config.Config) (*Client, error) {
	userID, err := auth.UserID(cfg.Server.Token)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:           cfg,
		userID:        userID,
		api:           rest.NewClient(cfg.Server.APIBase, cfg.Server.Token),
		messages:      store.NewMessageStore(),
		conversations: store.NewConversationList(),
		presence:      store.NewPresenceSet(),
		users:         cache.New[string, model.User](time.Duration(cfg.Cache.UserTTLSec) * time.Second),
		dispatcher:    events.NewDispatcher(),
		debounce:      make(map[string]*time.Timer),
	}

	c.typing = store.NewTypingTracker(
		time.Duration(cfg.Chat.TypingExpirySec)*time.Second,
		func(conversationID string, userIDs []string) {
			c.cbMu.RLock()
			fn := c.onTyping
			c.cbMu.RUnlock()
			if fn != nil {
				fn(conversationID, userIDs)
			}
		},
	)

	c.broker = transport.New(transport.Options{
		URL:            cfg.Server.WSURL,
		Token:          cfg.Server.Token,
		HeartBeat:      time.Duration(cfg.Transport.HeartbeatSec) * time.Second,
		ReconnectDelay: time.Duration(cfg.Transport.ReconnectDelaySec) * time.Second,
	})
	c.mux = transport.NewMux(c.broker, c.dispatcher.HandleConversationMessage, c.dispatcher.HandleTyping)

	c.calls = call.New(call.Options{
		Signaler:    signalPublisher{c.broker},
		API:         c.api,
		Media:       call.NewMediaProvider(),
		STUNServers: cfg.Call.STUNServers,
	})

	c.wireRoutes()
	c.broker.OnStateChange(c.handleStateChange)
	return c, nil
}

// wireRoutes attaches the dispatcher consumers once; later consumer swaps
// via the OnX setters update the cells in place.
func (c *Client) wireRoutes() {
	ingest := func(msg model.Message) {
		if !c.messages.AddMessage(msg) {
			return // duplicate echo
		}
		c.conversations.TouchMessage(msg)
		c.cbMu.RLock()
		fn := c.onMessage
		c.cbMu.RUnlock()
		if fn != nil {
			fn(msg)
		}
	}
	c.dispatcher.OnDirectMessage(ingest)
	c.dispatcher.OnConversationMessage(ingest)

	c.dispatcher.OnTyping(func(evt model.TypingEvent) {
		if evt.UserID == c.userID {
			return // our own echo
		}
		c.typing.Apply(evt)
	})
	c.dispatcher.OnPresence(func(evt model.PresenceEvent) {
		c.presence.Apply(evt)
		c.cbMu.RLock()
		fn := c.onPresence
		c.cbMu.RUnlock()
		if fn != nil {
			fn(evt)
		}
	})
	c.dispatcher.OnConversationCreated(func(conv model.Conversation) {
		if !c.conversations.Add(conv) {
			return // duplicate event
		}
		c.mux.Apply(c.conversations.IDs())
		c.cbMu.RLock()
		fn := c.onConversation
		c.cbMu.RUnlock()
		if fn != nil {
			fn(conv)
		}
	})
	c.dispatcher.OnCallNotification(c.calls.HandleNotification)
	c.dispatcher.OnCallSignal(c.calls.HandleSignal)
}

// handleStateChange re-establishes the personal queues and the conversation
// topics after every reconnect; the broker invalidated all of them when the
// previous session died.
func (c *Client) handleStateChange(connected bool) {
	if connected {
		c.subscribePersonalQueues()
		c.mux.Resync()
	} else {
		c.mux.Clear()
	}
	c.cbMu.RLock()
	fn := c.onState
	c.cbMu.RUnlock()
	if fn != nil {
		fn(connected)
	}
}

func (c *Client) subscribePersonalQueues() {
	queues := []struct {
		dest    string
		handler transport.FrameHandler
	}{
		{transport.QueueMessages, c.dispatcher.HandleDirectMessage},
		{transport.QueueCallNotification, c.dispatcher.HandleCallNotification},
		{transport.QueueCallSignal, c.dispatcher.HandleCallSignal},
		{transport.QueueNewConversations, c.dispatcher.HandleConversationCreated},
		{transport.TopicPresence, c.dispatcher.HandlePresence},
	}
	for _, q := range queues {
		if _, err := c.broker.Subscribe(q.dest, q.handler); err != nil {
			// Lost the race against a dying connection; the next reconnect
			// passes through here again.
			log.Warnf("subscribe %s: %v", q.dest, err)
		}
	}
}

// Connect starts the broker session loop. Reconnection is automatic and
// indefinite until Close.
func (c *Client) Connect() { c.broker.Connect() }

// Close hangs up any live call, stops typing timers, and tears the
// connection down.
func (c *Client) Close() {
	_ = c.calls.EndCall(context.Background())
	c.debounceMu.Lock()
	for _, t := range c.debounce {
		t.Stop()
	}
	c.debounce = make(map[string]*time.Timer)
	c.debounceMu.Unlock()
	c.typing.Stop()
	c.broker.Disconnect()
}

// Connected reports whether the live connection is established.
func (c *Client) Connected() bool { return c.broker.Connected() }

// UserID returns the authenticated user's id.
func (c *Client) UserID() string { return c.userID }

// ── Consumer registration ────────────────────────────────────────────────────

// OnMessage replaces the new-message consumer. May be nil.
func (c *Client) OnMessage(fn func(model.Message)) {
	c.cbMu.Lock()
	c.onMessage = fn
	c.cbMu.Unlock()
}

// OnTypingChange replaces the typing-set consumer. May be nil.
func (c *Client) OnTypingChange(fn func(conversationID string, userIDs []string)) {
	c.cbMu.Lock()
	c.onTyping = fn
	c.cbMu.Unlock()
}

// OnPresence replaces the presence consumer. May be nil.
func (c *Client) OnPresence(fn func(model.PresenceEvent)) {
	c.cbMu.Lock()
	c.onPresence = fn
	c.cbMu.Unlock()
}

// OnConversationCreated replaces the new-conversation consumer. May be nil.
func (c *Client) OnConversationCreated(fn func(model.Conversation)) {
	c.cbMu.Lock()
	c.onConversation = fn
	c.cbMu.Unlock()
}

// OnConnectionState replaces the connection-state consumer. May be nil.
func (c *Client) OnConnectionState(fn func(connected bool)) {
	c.cbMu.Lock()
	c.onState = fn
	c.cbMu.Unlock()
}

// OnIncomingCall replaces the incoming-call consumer. May be nil.
func (c *Client) OnIncomingCall(fn func(model.Call)) { c.calls.OnIncomingCall(fn) }

// OnCallEnded replaces the call-ended consumer. May be nil.
func (c *Client) OnCallEnded(fn func(callID string)) { c.calls.OnCallEnded(fn) }

// OnCallStatus replaces the call-status consumer. May be nil.
func (c *Client) OnCallStatus(fn func(model.CallStatus)) { c.calls.OnStatusChange(fn) }

// OnRemoteTrack replaces the remote-media consumer. May be nil.
func (c *Client) OnRemoteTrack(fn func(*webrtc.TrackRemote)) { c.calls.OnRemoteTrack(fn) }

// ── Conversations and history ────────────────────────────────────────────────

// LoadConversations fetches the conversation list, replaces the registry,
// and points the live subscription set at it.
func (c *Client) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	convs, err := c.api.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	c.conversations.Set(convs)
	c.mux.Apply(c.conversations.IDs())
	return convs, nil
}

// SetConversations points the live subscription set at the given ids. The
// multiplexer converges to exactly these conversations' topics.
func (c *Client) SetConversations(conversationIDs []string) {
	c.mux.Apply(conversationIDs)
}

// LoadMessages fetches the newest history page and replaces the cached list.
func (c *Client) LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	page, err := c.api.Messages(ctx, conversationID, 0, c.cfg.Chat.PageSize)
	if err != nil {
		return nil, err
	}
	c.messages.SetMessages(conversationID, page)
	return c.messages.Messages(conversationID), nil
}

// LoadOlderMessages merges one older history page into the cached list.
func (c *Client) LoadOlderMessages(ctx context.Context, conversationID string, page int) ([]model.Message, error) {
	older, err := c.api.Messages(ctx, conversationID, page, c.cfg.Chat.PageSize)
	if err != nil {
		return nil, err
	}
	c.messages.MergeOlderPage(conversationID, older)
	return c.messages.Messages(conversationID), nil
}

// Messages returns the cached list for a conversation.
func (c *Client) Messages(conversationID string) []model.Message {
	return c.messages.Messages(conversationID)
}

// Conversations returns the cached registry, newest first.
func (c *Client) Conversations() []model.Conversation { return c.conversations.All() }

// Online reports whether a user is currently online.
func (c *Client) Online(userID string) bool { return c.presence.Online(userID) }

// TypingUsers returns who is typing in a conversation.
func (c *Client) TypingUsers(conversationID string) []string {
	return c.typing.TypingUsers(conversationID)
}

// ── Sending ──────────────────────────────────────────────────────────────────

// Send publishes one message. Returns false — never an error — when the
// connection is down or the publish fails; the optimistic local entry is
// removed again in that case. On success the newest page is refetched in the
// background so the authoritative copy replaces the optimistic one.
func (c *Client) Send(conversationID, body string) bool {
	tempID := model.TempIDPrefix + uuid.NewString()
	c.messages.AddOptimistic(tempID, model.Message{
		ConversationID: conversationID,
		SenderID:       c.userID,
		Body:           body,
		CreatedAt:      time.Now(),
	})

	// An explicit send ends the typing indicator immediately.
	c.cancelTypingDebounce(conversationID, true)

	payload, err := json.Marshal(map[string]string{
		"conversationId": conversationID,
		"body":           body,
	})
	if err != nil {
		c.messages.RemoveOptimistic(tempID)
		return false
	}
	if !c.broker.Publish(transport.DestSendMessage, payload) {
		c.messages.RemoveOptimistic(tempID)
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		page, err := c.api.Messages(ctx, conversationID, 0, c.cfg.Chat.PageSize)
		if err != nil {
			log.Warnf("post-send refetch for %s: %v", conversationID, err)
			return
		}
		c.messages.SetMessages(conversationID, page)
	}()
	return true
}

// SendTyping publishes a typing-state change. A true signal arms (or
// re-arms) a debounce timer that emits the stop automatically when the
// keystrokes go quiet. Returns false when the publish fails.
func (c *Client) SendTyping(conversationID string, typing bool) bool {
	if !typing {
		c.cancelTypingDebounce(conversationID, false)
	}
	ok := c.publishTyping(conversationID, typing)
	if ok && typing {
		c.armTypingDebounce(conversationID)
	}
	return ok
}

func (c *Client) publishTyping(conversationID string, typing bool) bool {
	payload, err := json.Marshal(model.TypingEvent{
		ConversationID: conversationID,
		UserID:         c.userID,
		Typing:         typing,
	})
	if err != nil {
		return false
	}
	return c.broker.Publish(transport.DestTyping, payload)
}

func (c *Client) armTypingDebounce(conversationID string) {
	d := time.Duration(c.cfg.Chat.TypingDebounceSec) * time.Second
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()
	if t, ok := c.debounce[conversationID]; ok {
		t.Stop()
	}
	c.debounce[conversationID] = time.AfterFunc(d, func() {
		c.debounceMu.Lock()
		delete(c.debounce, conversationID)
		c.debounceMu.Unlock()
		c.publishTyping(conversationID, false)
	})
}

// cancelTypingDebounce stops the pending stop-typing timer. When emitStop is
// set and a timer was pending, the stop signal goes out immediately instead.
func (c *Client) cancelTypingDebounce(conversationID string, emitStop bool) {
	c.debounceMu.Lock()
	t, ok := c.debounce[conversationID]
	if ok {
		t.Stop()
		delete(c.debounce, conversationID)
	}
	c.debounceMu.Unlock()
	if ok && emitStop {
		c.publishTyping(conversationID, false)
	}
}

// ── Calls ────────────────────────────────────────────────────────────────────

// InitiateCall starts an outbound call. Rejected while another call is live.
func (c *Client) InitiateCall(ctx context.Context, receiverID string, callType model.CallType, conversationID string) (model.Call, error) {
	return c.calls.InitiateCall(ctx, receiverID, callType, conversationID)
}

// AcceptCall answers a call previously delivered to the incoming-call
// consumer.
func (c *Client) AcceptCall(ctx context.Context, inc model.Call) error {
	return c.calls.AcceptCall(ctx, inc)
}

// RejectCall declines an incoming call.
func (c *Client) RejectCall(ctx context.Context, callID string) error {
	return c.calls.RejectCall(ctx, callID)
}

// EndCall hangs up the live call.
func (c *Client) EndCall(ctx context.Context) error { return c.calls.EndCall(ctx) }

// ToggleMute flips local audio; returns the new muted state.
func (c *Client) ToggleMute() (bool, error) { return c.calls.ToggleMute() }

// ToggleVideo flips local video; returns the new disabled state.
func (c *Client) ToggleVideo() (bool, error) { return c.calls.ToggleVideo() }

// CallStatus returns the call state machine position.
func (c *Client) CallStatus() model.CallStatus { return c.calls.Status() }

// ── Users ────────────────────────────────────────────────────────────────────

// User resolves a profile through the TTL cache, falling back to REST.
func (c *Client) User(ctx context.Context, userID string) (model.User, error) {
	if u, ok := c.users.Get(userID); ok {
		return u, nil
	}
	u, err := c.api.User(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	c.users.Set(userID, u)
	return u, nil
}

// signalPublisher adapts the broker's Publish to the call package's
// Signaler.
type signalPublisher struct {
	broker *transport.Manager
}

func (p signalPublisher) PublishSignal(env model.SignalEnvelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return p.broker.Publish(transport.DestCallSignal, payload)
}
