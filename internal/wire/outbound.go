package wire

// SendMessagePayload is the client -> server payload for TypeSendMessage.
type SendMessagePayload struct {
	// ConversationID is the target conversation.
	ConversationID string `json:"conversationId"`
	// Content is the message body.
	Content string `json:"content"`
	// Type is the message content type (e.g. "text").
	Type string `json:"type"`
}

// TypingPayload is the client -> server payload for TypeTypingStart and
// TypeTypingStop.
type TypingPayload struct {
	// ConversationID is the conversation being typed in.
	ConversationID string `json:"conversationId"`
}

// MarkReadPayload is the client -> server payload for TypeMarkRead.
type MarkReadPayload struct {
	// ConversationID identifies the conversation.
	ConversationID string `json:"conversationId"`
	// MessageID is the newest message covered by the read marker.
	MessageID string `json:"messageId"`
}

// RoomPayload is the client -> server payload for TypeJoinRoom and
// TypeLeaveRoom.
type RoomPayload struct {
	// ConversationID identifies the room.
	ConversationID string `json:"conversationId"`
}

// ConversationStatusRequest is the client -> server payload for
// TypeGetConversationStatus.
type ConversationStatusRequest struct {
	// ConversationID identifies the conversation to query.
	ConversationID string `json:"conversationId"`
}
