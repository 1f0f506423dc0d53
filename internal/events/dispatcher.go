// Package events decodes inbound frames into typed domain events and routes
// each to the single registered consumer for its category.
package events

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/meridian-im/meridian-go/internal/model"
)

var log = logging.Logger("events")

// cell holds the current consumer for one route behind a mutable
// indirection. Subscriptions capture the cell, never the handler value, so
// swapping the consumer never requires resubscribing.
type cell[T any] struct {
	mu sync.RWMutex
	fn func(T)
}

func (c *cell[T]) set(fn func(T)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

func (c *cell[T]) invoke(v T) {
	c.mu.RLock()
	fn := c.fn
	c.mu.RUnlock()
	if fn != nil {
		fn(v)
	}
	// No consumer: matching events are dropped silently.
}

// Dispatcher owns one handler cell per inbound event category.
type Dispatcher struct {
	directMessage       cell[model.Message]
	conversationMessage cell[model.Message]
	typing              cell[model.TypingEvent]
	presence            cell[model.PresenceEvent]
	callNotification    cell[model.Call]
	callSignal          cell[model.SignalEnvelope]
	conversationCreated cell[model.Conversation]
}

// NewDispatcher creates a Dispatcher with every route unset.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Consumer registration. Passing nil detaches the route.

func (d *Dispatcher) OnDirectMessage(fn func(model.Message))          { d.directMessage.set(fn) }
func (d *Dispatcher) OnConversationMessage(fn func(model.Message))    { d.conversationMessage.set(fn) }
func (d *Dispatcher) OnTyping(fn func(model.TypingEvent))             { d.typing.set(fn) }
func (d *Dispatcher) OnPresence(fn func(model.PresenceEvent))         { d.presence.set(fn) }
func (d *Dispatcher) OnCallNotification(fn func(model.Call))          { d.callNotification.set(fn) }
func (d *Dispatcher) OnCallSignal(fn func(model.SignalEnvelope))      { d.callSignal.set(fn) }
func (d *Dispatcher) OnConversationCreated(fn func(model.Conversation)) { d.conversationCreated.set(fn) }

// Frame entry points, wired as transport handlers. A payload that fails to
// decode is logged and dropped; the stream continues unaffected.

func (d *Dispatcher) HandleDirectMessage(body []byte) {
	msg, err := NormalizeMessage(body)
	if err != nil {
		log.Warnf("malformed direct message dropped: %v", err)
		return
	}
	d.directMessage.invoke(msg)
}

func (d *Dispatcher) HandleConversationMessage(body []byte) {
	msg, err := NormalizeMessage(body)
	if err != nil {
		log.Warnf("malformed conversation message dropped: %v", err)
		return
	}
	d.conversationMessage.invoke(msg)
}

func (d *Dispatcher) HandleTyping(body []byte) {
	evt, err := decode[model.TypingEvent](body)
	if err != nil {
		log.Warnf("malformed typing event dropped: %v", err)
		return
	}
	d.typing.invoke(evt)
}

func (d *Dispatcher) HandlePresence(body []byte) {
	evt, err := decode[model.PresenceEvent](body)
	if err != nil {
		log.Warnf("malformed presence event dropped: %v", err)
		return
	}
	d.presence.invoke(evt)
}

func (d *Dispatcher) HandleCallNotification(body []byte) {
	call, err := decode[model.Call](body)
	if err != nil {
		log.Warnf("malformed call notification dropped: %v", err)
		return
	}
	d.callNotification.invoke(call)
}

func (d *Dispatcher) HandleCallSignal(body []byte) {
	env, err := decode[model.SignalEnvelope](body)
	if err != nil {
		log.Warnf("malformed call signal dropped: %v", err)
		return
	}
	d.callSignal.invoke(env)
}

func (d *Dispatcher) HandleConversationCreated(body []byte) {
	conv, err := decode[model.Conversation](body)
	if err != nil {
		log.Warnf("malformed conversation-created event dropped: %v", err)
		return
	}
	d.conversationCreated.invoke(conv)
}
