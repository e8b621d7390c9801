package transport

import (
	"sync"

	"github.com/quillchat/quill/internal/wire"
)

// Lifecycle and queue event names emitted to local listeners. Inbound wire
// messages are additionally emitted under their own wire type name.
const (
	EventConnected            = "connected"
	EventDisconnected         = "disconnected"
	EventReconnecting         = "reconnecting"
	EventUnauthorized         = "unauthorized"
	EventMessageQueued        = "message_queued"
	EventMessageRetrySuccess  = "message_retry_success"
	EventMessageRetryFailed   = "message_retry_failed"
	EventMaxReconnectAttempts = "max_reconnect_attempts_reached"
)

// Event is a raw transport event delivered to local listeners. Which fields
// are set depends on Name.
type Event struct {
	// Name is the event name (a lifecycle constant or an inbound wire type).
	Name string
	// Wire is the inbound envelope for wire-message events.
	Wire *wire.Message
	// Code is the websocket close code for EventDisconnected.
	Code int
	// Reason is the close reason for EventDisconnected.
	Reason string
	// Attempt is the reconnect attempt counter for EventReconnecting and
	// EventMaxReconnectAttempts.
	Attempt int
	// MessageID identifies the queued message for queue lifecycle events.
	MessageID string
}

// Handler receives raw transport events. Handlers run synchronously on the
// transport's dispatch path and must not block.
type Handler func(Event)

type registration struct {
	id int
	fn Handler
}

// registry is the local listener set, keyed by event name. Dispatch works
// on a snapshot so that subscription changes during a callback do not
// affect the in-flight event.
type registry struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]registration
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]registration)}
}

func (r *registry) on(name string, h Handler) int {
	if h == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[name] = append(r.handlers[name], registration{id: r.nextID, fn: h})
	return r.nextID
}

func (r *registry) off(name string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[name]
	for i, reg := range regs {
		if reg.id == id {
			r.handlers[name] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(r.handlers[name]) == 0 {
		delete(r.handlers, name)
	}
}

func (r *registry) snapshot(name string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[name]
	if len(regs) == 0 {
		return nil
	}
	out := make([]Handler, len(regs))
	for i, reg := range regs {
		out[i] = reg.fn
	}
	return out
}
