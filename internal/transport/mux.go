package transport

import "sync"

// Broker is the slice of Manager the multiplexer needs. Tests substitute a
// fake; production wires the *Manager itself.
type Broker interface {
	Connected() bool
	Subscribe(destination string, fn FrameHandler) (func() error, error)
}

// Mux maps the desired set of conversation ids onto live topic
// subscriptions. Each conversation owns two topics: its message topic and
// its typing topic. On every change the diff against the current registry is
// subscribed/unsubscribed; untouched ids see no churn.
type Mux struct {
	broker    Broker
	onMessage FrameHandler
	onTyping  FrameHandler

	mu      sync.Mutex
	desired []string
	active  map[string]func() error // topic → unsubscribe
}

// NewMux creates a multiplexer routing conversation-topic frames to
// onMessage and typing-topic frames to onTyping.
func NewMux(broker Broker, onMessage, onTyping FrameHandler) *Mux {
	return &Mux{
		broker:    broker,
		onMessage: onMessage,
		onTyping:  onTyping,
		active:    make(map[string]func() error),
	}
}

// Apply sets the desired conversation-id set and reconciles subscriptions.
// Subscription attempts are skipped entirely while the connection is down;
// the next Resync after reconnect re-establishes everything.
func (x *Mux) Apply(conversationIDs []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.desired = append(x.desired[:0], conversationIDs...)
	x.reconcile()
}

// Resync re-applies the last desired set. Called after a reconnect, when the
// registry has been cleared and every topic must be subscribed from scratch.
func (x *Mux) Resync() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reconcile()
}

// Clear drops the whole registry without unsubscribing. Used on transport
// disconnect: the server already invalidated every subscription.
func (x *Mux) Clear() {
	x.mu.Lock()
	x.active = make(map[string]func() error)
	x.mu.Unlock()
}

// ActiveTopics returns the currently subscribed topic names.
func (x *Mux) ActiveTopics() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.active))
	for topic := range x.active {
		out = append(out, topic)
	}
	return out
}

// reconcile computes toAdd/toRemove between the desired topic set and the
// registry. Caller holds x.mu.
func (x *Mux) reconcile() {
	want := make(map[string]FrameHandler, 2*len(x.desired))
	for _, id := range x.desired {
		if id == "" {
			continue
		}
		want[ConversationTopic(id)] = x.onMessage
		want[ConversationTypingTopic(id)] = x.onTyping
	}

	for topic, unsub := range x.active {
		if _, ok := want[topic]; ok {
			continue
		}
		delete(x.active, topic)
		if err := unsub(); err != nil {
			// Racing a torn-down transport is expected; the registry entry
			// is gone either way.
			log.Warnf("unsubscribe %s: %v", topic, err)
		}
	}

	if !x.broker.Connected() {
		return
	}
	for topic, handler := range want {
		if _, ok := x.active[topic]; ok {
			continue
		}
		unsub, err := x.broker.Subscribe(topic, handler)
		if err != nil {
			log.Warnf("subscribe %s: %v", topic, err)
			continue // retried on the next reconcile
		}
		x.active[topic] = unsub
	}
}
