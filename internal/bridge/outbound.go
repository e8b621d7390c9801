package bridge

import (
	"github.com/quillchat/quill/internal/events"
	"github.com/quillchat/quill/internal/wire"
)

// send forwards an outbound message through the transport. It reports false
// when the bridge is not initialized or the transport refused the message.
func (b *Bridge) send(msgType string, payload any) bool {
	if !b.initialized {
		b.log.Warn("send before bridge initialization")
		return false
	}
	return b.transport.Send(msgType, payload)
}

// SendMessage sends a chat message. msgType defaults to "text" when empty.
func (b *Bridge) SendMessage(conversationID, content, msgType string) bool {
	if msgType == "" {
		msgType = "text"
	}
	return b.send(wire.TypeSendMessage, wire.SendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		Type:           msgType,
	})
}

// TypingStart notifies the server that the local user started typing.
func (b *Bridge) TypingStart(conversationID string) bool {
	return b.send(wire.TypeTypingStart, wire.TypingPayload{ConversationID: conversationID})
}

// TypingStop notifies the server that the local user stopped typing.
func (b *Bridge) TypingStop(conversationID string) bool {
	return b.send(wire.TypeTypingStop, wire.TypingPayload{ConversationID: conversationID})
}

// MarkRead reports messages up to messageID as read in a conversation.
func (b *Bridge) MarkRead(conversationID, messageID string) bool {
	return b.send(wire.TypeMarkRead, wire.MarkReadPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// JoinRoom subscribes the connection to a conversation's live events.
func (b *Bridge) JoinRoom(conversationID string) bool {
	return b.send(wire.TypeJoinRoom, wire.RoomPayload{ConversationID: conversationID})
}

// LeaveRoom unsubscribes the connection from a conversation's live events.
func (b *Bridge) LeaveRoom(conversationID string) bool {
	return b.send(wire.TypeLeaveRoom, wire.RoomPayload{ConversationID: conversationID})
}

// RequestConversationStatus asks the server for authoritative conversation
// state; the reply arrives as a conversation-updated event.
func (b *Bridge) RequestConversationStatus(conversationID string) bool {
	return b.send(wire.TypeGetConversationStatus, wire.ConversationStatusRequest{
		ConversationID: conversationID,
	})
}

// EmitConversationOpened publishes a locally-originated conversation-opened
// event, used by views to reset unread state.
func (b *Bridge) EmitConversationOpened(conversationID, participant string) {
	b.publish(events.TypeConversationOpened, events.ConversationOpened{
		Base:           events.NewBase(events.TypeConversationOpened, b.now()),
		ConversationID: conversationID,
		Participant:    participant,
	})
}

// EmitTypingStopped synthesizes a typing-stop event. The wire protocol only
// signals typing start, so expiry is decided locally by the caller.
func (b *Bridge) EmitTypingStopped(userID, conversationID string) {
	b.publish(events.TypeUserTyping, events.UserTyping{
		Base:           events.NewBase(events.TypeUserTyping, b.now()),
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       false,
	})
}
