// Package events defines the typed domain events published on the event
// bus. Events are immutable once constructed and flow by value.
package events

import (
	"time"

	"github.com/quillchat/quill/internal/wire"
)

// Type names the closed set of domain event variants. Bus subscriptions are
// keyed by these values.
type Type string

const (
	TypeConnectionStatus     Type = "connection-status"
	TypeMessageReceived      Type = "message-received"
	TypeMessageSent          Type = "message-sent"
	TypeMessageStatusUpdated Type = "message-status-updated"
	TypeUserTyping           Type = "user-typing"
	TypeUserOnline           Type = "user-online"
	TypeConversationOpened   Type = "conversation-opened"
	TypeConversationUpdated  Type = "conversation-updated"
	TypeNotificationNew      Type = "notification-new"
)

// Base carries the fields common to every domain event.
type Base struct {
	// Type discriminates the event variant.
	Type Type `json:"type"`
	// Timestamp is the local time the event was constructed.
	Timestamp time.Time `json:"timestamp"`
}

// NewBase constructs the common fields for an event of the given type.
func NewBase(t Type, now time.Time) Base {
	return Base{Type: t, Timestamp: now}
}

// ConnectionStatus reports connectivity changes of the underlying transport.
type ConnectionStatus struct {
	Base
	// IsConnected is true while the transport holds an open connection.
	IsConnected bool `json:"isConnected"`
	// ReconnectAttempts is the current reconnect attempt counter, when a
	// reconnect cycle is in progress.
	ReconnectAttempts int `json:"reconnectAttempts,omitempty"`
}

// MessageReceived carries an inbound chat message.
type MessageReceived struct {
	Base
	// Message is the delivered message.
	Message wire.ChatMessage `json:"message"`
	// ConversationID is the conversation the message belongs to.
	ConversationID string `json:"conversationId"`
}

// MessageSent confirms server receipt of an outbound message.
type MessageSent struct {
	Base
	// Message is the stored message as the server recorded it.
	Message wire.ChatMessage `json:"message"`
}

// MessageStatusUpdated reports a delivery-status change for a message.
type MessageStatusUpdated struct {
	Base
	// MessageID identifies the affected message. Empty when the update
	// covers a whole conversation.
	MessageID string `json:"messageId,omitempty"`
	// Status is the new delivery status.
	Status string `json:"status"`
	// ConversationID is the conversation the message belongs to.
	ConversationID string `json:"conversationId"`
}

// UserTyping reports a typing indicator change.
type UserTyping struct {
	Base
	// UserID identifies the typing user.
	UserID string `json:"userId"`
	// ConversationID is the conversation being typed in.
	ConversationID string `json:"conversationId"`
	// UserName is the display name of the typing user.
	UserName string `json:"userName,omitempty"`
	// IsTyping is true for typing start and false for the locally inferred
	// typing stop.
	IsTyping bool `json:"isTyping"`
}

// UserOnline reports a presence change.
type UserOnline struct {
	Base
	// UserID identifies the user whose presence changed.
	UserID string `json:"userId"`
	// Online reports the new presence state.
	Online bool `json:"online"`
}

// ConversationOpened reports that the user opened a conversation locally.
type ConversationOpened struct {
	Base
	// ConversationID identifies the opened conversation.
	ConversationID string `json:"conversationId"`
	// Participant is the id of the peer participant, when known.
	Participant string `json:"participant,omitempty"`
}

// ConversationUpdated carries new authoritative conversation state.
type ConversationUpdated struct {
	Base
	// Conversation is the updated conversation.
	Conversation wire.Conversation `json:"conversation"`
}

// MessageSummary is a condensed message used in notification events.
type MessageSummary struct {
	// SenderName is the display name of the sender.
	SenderName string `json:"senderName"`
	// Content is the message body.
	Content string `json:"content"`
	// Timestamp is the message creation time.
	Timestamp time.Time `json:"timestamp"`
}

// NotificationNew signals that new unread activity arrived, independent of
// which conversation view is open.
type NotificationNew struct {
	Base
	// Count is the number of new notifications in this event (always 1 for
	// wire-driven emissions).
	Count int `json:"count"`
	// ConversationID is the conversation the activity belongs to.
	ConversationID string `json:"conversationId"`
	// LatestMessage summarizes the triggering message.
	LatestMessage MessageSummary `json:"latestMessage"`
}
