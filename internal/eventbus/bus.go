// Package eventbus provides a typed, synchronous, in-process
// publish/subscribe registry.
//
// The bus makes no ordering guarantees beyond call order and keeps no
// history: a handler registered after an emission never sees it.
package eventbus

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quillchat/quill/pkg/logger"
)

// Handler receives an event payload. Handlers run synchronously on the
// emitter's goroutine, in registration order.
type Handler func(payload any)

type subscription struct {
	id   int
	fn   Handler
	once bool
}

// Bus is an in-process event registry. The zero value is not usable; use
// New.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]*subscription
	log      *logger.Logger
}

// New creates an empty Bus.
func New(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{
		handlers: make(map[string][]*subscription),
		log:      log,
	}
}

// On registers a handler for event and returns a subscription id for Off.
func (b *Bus) On(event string, h Handler) int {
	return b.subscribe(event, h, false)
}

// Once registers a handler that is removed after its first invocation.
func (b *Bus) Once(event string, h Handler) int {
	return b.subscribe(event, h, true)
}

func (b *Bus) subscribe(event string, h Handler, once bool) int {
	if h == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[event] = append(b.handlers[event], &subscription{
		id:   b.nextID,
		fn:   h,
		once: once,
	})
	return b.nextID
}

// Off removes the subscription identified by id from event. Removing an
// unknown id is a no-op.
func (b *Bus) Off(event string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[event]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// Emit invokes every handler currently registered for event with payload.
//
// The handler set is snapshotted before dispatch: handlers added or removed
// during emission do not affect the in-flight dispatch. A panicking handler
// is recovered and logged; remaining handlers still run and the panic never
// reaches the emitter.
func (b *Bus) Emit(event string, payload any) {
	b.mu.Lock()
	subs := b.handlers[event]
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)
	// Once-handlers are consumed by this emission.
	remaining := subs[:0]
	for _, sub := range subs {
		if !sub.once {
			remaining = append(remaining, sub)
		}
	}
	if len(remaining) == 0 {
		delete(b.handlers, event)
	} else {
		b.handlers[event] = remaining
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.dispatch(event, sub, payload)
	}
}

func (b *Bus) dispatch(event string, sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event", event),
				zap.Any("panic", r))
		}
	}()
	sub.fn(payload)
}

// ListenerCount reports the number of handlers registered for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// EventNames returns the sorted set of event names with at least one
// registered handler. Intended for diagnostics and tests.
func (b *Bus) EventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
