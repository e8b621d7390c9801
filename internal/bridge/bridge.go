// Package bridge decouples the wire protocol from the rest of the
// application: every raw transport event is translated into exactly one
// (or, for inbound messages, two) typed domain events on the shared bus,
// and locally-originated actions are translated back into outbound wire
// traffic.
package bridge

import (
	"time"

	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/events"
	"github.com/quillchat/quill/internal/eventbus"
	"github.com/quillchat/quill/internal/transport"
	"github.com/quillchat/quill/internal/wire"
	"github.com/quillchat/quill/pkg/logger"
)

// Transport is the subset of the transport client the bridge uses.
type Transport interface {
	On(event string, h transport.Handler) int
	Off(event string, id int)
	Send(msgType string, payload any) bool
}

type subRef struct {
	name string
	id   int
}

// Bridge translates raw transport events into domain events and exposes
// send helpers for outbound traffic.
type Bridge struct {
	bus *eventbus.Bus
	log *logger.Logger

	// now is swappable in tests.
	now func() time.Time

	transport   Transport
	subs        []subRef
	initialized bool
}

// New creates a Bridge publishing on bus. Initialize must be called before
// the bridge translates anything.
func New(bus *eventbus.Bus, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{
		bus: bus,
		log: log,
		now: time.Now,
	}
}

// Initialize registers one handler per known raw event on tc. A second
// call is a no-op that logs a warning.
func (b *Bridge) Initialize(tc Transport) {
	if b.initialized {
		b.log.Warn("bridge already initialized")
		return
	}
	b.transport = tc
	b.initialized = true

	b.subscribe(transport.EventConnected, b.handleConnected)
	b.subscribe(transport.EventDisconnected, b.handleDisconnected)
	b.subscribe(transport.EventReconnecting, b.handleReconnecting)
	b.subscribe(transport.EventMaxReconnectAttempts, b.handleReconnectExhausted)
	b.subscribe(transport.EventMessageRetryFailed, b.handleMessageRetryFailed)
	b.subscribe(wire.TypeConnectionEstablished, b.handleConnected)
	b.subscribe(wire.TypeMessageReceived, b.handleMessageReceived)
	b.subscribe(wire.TypeMessageSent, b.handleMessageSent)
	b.subscribe(wire.TypeMessageStatusUpdated, b.handleMessageStatus)
	b.subscribe(wire.TypeMessagesMarkedRead, b.handleMessagesMarkedRead)
	b.subscribe(wire.TypeMessageReadReceipt, b.handleReadReceipt)
	b.subscribe(wire.TypeUserTyping, b.handleUserTyping)
	b.subscribe(wire.TypeUserOnline, b.handleUserOnline)
	b.subscribe(wire.TypeRoomJoined, b.handleRoomEvent)
	b.subscribe(wire.TypeRoomLeft, b.handleRoomEvent)
	b.subscribe(wire.TypeUserJoinedRoom, b.handleRoomEvent)
	b.subscribe(wire.TypeUserLeftRoom, b.handleRoomEvent)
	b.subscribe(wire.TypeConversationStatus, b.handleConversationStatus)
}

// Destroy unregisters all handlers. Safe to call when not initialized.
func (b *Bridge) Destroy() {
	if !b.initialized {
		return
	}
	for _, sub := range b.subs {
		b.transport.Off(sub.name, sub.id)
	}
	b.subs = nil
	b.transport = nil
	b.initialized = false
}

func (b *Bridge) subscribe(name string, h transport.Handler) {
	id := b.transport.On(name, h)
	b.subs = append(b.subs, subRef{name: name, id: id})
}

func (b *Bridge) publish(t events.Type, payload any) {
	b.bus.Emit(string(t), payload)
}

// decode unmarshals a wire payload, logging and reporting failure. A bad
// payload drops the event without interrupting the bridge.
func (b *Bridge) decode(ev transport.Event, out any) bool {
	if ev.Wire == nil {
		b.log.Warn("raw event without wire payload", zap.String("event", ev.Name))
		return false
	}
	if err := ev.Wire.DecodeData(out); err != nil {
		b.log.Warn("dropping malformed payload",
			zap.String("event", ev.Name), zap.Error(err))
		return false
	}
	return true
}

func (b *Bridge) handleConnected(transport.Event) {
	b.publish(events.TypeConnectionStatus, events.ConnectionStatus{
		Base:        events.NewBase(events.TypeConnectionStatus, b.now()),
		IsConnected: true,
	})
}

func (b *Bridge) handleDisconnected(transport.Event) {
	b.publish(events.TypeConnectionStatus, events.ConnectionStatus{
		Base:        events.NewBase(events.TypeConnectionStatus, b.now()),
		IsConnected: false,
	})
}

func (b *Bridge) handleReconnecting(ev transport.Event) {
	b.publish(events.TypeConnectionStatus, events.ConnectionStatus{
		Base:              events.NewBase(events.TypeConnectionStatus, b.now()),
		IsConnected:       false,
		ReconnectAttempts: ev.Attempt,
	})
}

// handleReconnectExhausted reports the end of automatic reconnection. The
// attempt counter is carried so the UI can tell a given-up client from an
// ordinary disconnect.
func (b *Bridge) handleReconnectExhausted(ev transport.Event) {
	b.publish(events.TypeConnectionStatus, events.ConnectionStatus{
		Base:              events.NewBase(events.TypeConnectionStatus, b.now()),
		IsConnected:       false,
		ReconnectAttempts: ev.Attempt,
	})
}

// handleMessageRetryFailed reports a queued message dropped at its retry
// ceiling as a failed delivery status.
func (b *Bridge) handleMessageRetryFailed(ev transport.Event) {
	b.publish(events.TypeMessageStatusUpdated, events.MessageStatusUpdated{
		Base:      events.NewBase(events.TypeMessageStatusUpdated, b.now()),
		MessageID: ev.MessageID,
		Status:    "failed",
	})
}

// handleMessageReceived emits both a message event and a notification
// event: the message list and the notification badge are independent
// consumers and must not depend on each other's presence.
func (b *Bridge) handleMessageReceived(ev transport.Event) {
	var data wire.MessageReceivedData
	if !b.decode(ev, &data) {
		return
	}
	msg := data.Message

	b.publish(events.TypeMessageReceived, events.MessageReceived{
		Base:           events.NewBase(events.TypeMessageReceived, b.now()),
		Message:        msg,
		ConversationID: msg.ConversationID,
	})
	b.publish(events.TypeNotificationNew, events.NotificationNew{
		Base:           events.NewBase(events.TypeNotificationNew, b.now()),
		Count:          1,
		ConversationID: msg.ConversationID,
		LatestMessage: events.MessageSummary{
			SenderName: msg.SenderName,
			Content:    msg.Content,
			Timestamp:  parseTimestamp(msg.Timestamp, b.now()),
		},
	})
}

func (b *Bridge) handleMessageSent(ev transport.Event) {
	var data wire.MessageSentData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeMessageSent, events.MessageSent{
		Base:    events.NewBase(events.TypeMessageSent, b.now()),
		Message: data.Message,
	})
}

func (b *Bridge) handleMessageStatus(ev transport.Event) {
	var data wire.MessageStatusData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeMessageStatusUpdated, events.MessageStatusUpdated{
		Base:           events.NewBase(events.TypeMessageStatusUpdated, b.now()),
		MessageID:      data.MessageID,
		Status:         data.Status,
		ConversationID: data.ConversationID,
	})
}

func (b *Bridge) handleMessagesMarkedRead(ev transport.Event) {
	var data wire.MessagesMarkedReadData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeMessageStatusUpdated, events.MessageStatusUpdated{
		Base:           events.NewBase(events.TypeMessageStatusUpdated, b.now()),
		Status:         "read",
		ConversationID: data.ConversationID,
	})
}

func (b *Bridge) handleReadReceipt(ev transport.Event) {
	var data wire.ReadReceiptData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeMessageStatusUpdated, events.MessageStatusUpdated{
		Base:           events.NewBase(events.TypeMessageStatusUpdated, b.now()),
		MessageID:      data.MessageID,
		Status:         "read",
		ConversationID: data.ConversationID,
	})
}

// handleUserTyping always reports typing start: the wire protocol has no
// typing-stop message, it is synthesized locally via EmitTypingStopped.
func (b *Bridge) handleUserTyping(ev transport.Event) {
	var data wire.TypingData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeUserTyping, events.UserTyping{
		Base:           events.NewBase(events.TypeUserTyping, b.now()),
		UserID:         data.UserID,
		ConversationID: data.ConversationID,
		UserName:       data.UserName,
		IsTyping:       true,
	})
}

func (b *Bridge) handleUserOnline(ev transport.Event) {
	var data wire.UserOnlineData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeUserOnline, events.UserOnline{
		Base:   events.NewBase(events.TypeUserOnline, b.now()),
		UserID: data.UserID,
		Online: data.Online,
	})
}

// handleRoomEvent folds room membership changes into conversation updates;
// consumers refetch details if they need more than the id.
func (b *Bridge) handleRoomEvent(ev transport.Event) {
	var data wire.RoomEventData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeConversationUpdated, events.ConversationUpdated{
		Base:         events.NewBase(events.TypeConversationUpdated, b.now()),
		Conversation: wire.Conversation{ID: data.ConversationID},
	})
}

func (b *Bridge) handleConversationStatus(ev transport.Event) {
	var data wire.ConversationStatusData
	if !b.decode(ev, &data) {
		return
	}
	b.publish(events.TypeConversationUpdated, events.ConversationUpdated{
		Base:         events.NewBase(events.TypeConversationUpdated, b.now()),
		Conversation: data.Conversation,
	})
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return ts
}
