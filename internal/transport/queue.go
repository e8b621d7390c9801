package transport

import (
	"encoding/json"
	"time"
)

// QueuedMessage is an outbound message awaiting transmission because the
// connection was down (or a send failed) at the time of the call.
type QueuedMessage struct {
	// ID is an opaque id for correlating queue lifecycle events.
	ID string `json:"id"`
	// Type is the wire message type.
	Type string `json:"messageType"`
	// Payload is the already-encoded envelope data.
	Payload json.RawMessage `json:"payload,omitempty"`
	// EnqueuedAt is when the message entered the queue.
	EnqueuedAt time.Time `json:"enqueuedAt"`
	// RetryCount is the number of failed drain attempts so far.
	RetryCount int `json:"retryCount"`
	// MaxRetries is the per-message retry ceiling.
	MaxRetries int `json:"maxRetries"`
}

// sendQueue is a bounded FIFO of queued messages. It is not safe for
// concurrent use; the Client guards it with its own mutex.
type sendQueue struct {
	capacity int
	items    []*QueuedMessage
}

func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &sendQueue{capacity: capacity}
}

// push appends m. When the queue is full the oldest entry is evicted and
// returned; the queue never grows past its capacity.
func (q *sendQueue) push(m *QueuedMessage) (evicted *QueuedMessage) {
	if len(q.items) >= q.capacity {
		evicted = q.items[0]
		q.items = q.items[1:]
	}
	q.items = append(q.items, m)
	return evicted
}

// takeAll removes and returns all queued messages in FIFO order.
func (q *sendQueue) takeAll() []*QueuedMessage {
	items := q.items
	q.items = nil
	return items
}

func (q *sendQueue) len() int {
	return len(q.items)
}
