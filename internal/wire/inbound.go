package wire

// ChatMessage is a chat message as delivered by the server.
type ChatMessage struct {
	// ID is the server-assigned message id.
	ID string `json:"id"`
	// ConversationID is the conversation the message belongs to.
	ConversationID string `json:"conversationId"`
	// SenderID identifies the sending user.
	SenderID string `json:"senderId"`
	// SenderName is the display name of the sending user.
	SenderName string `json:"senderName"`
	// Content is the message body.
	Content string `json:"content"`
	// Type is the message content type (e.g. "text").
	Type string `json:"type,omitempty"`
	// Status is the delivery status ("sent", "delivered", "read").
	Status string `json:"status,omitempty"`
	// Timestamp is the server-side creation time (RFC 3339).
	Timestamp string `json:"timestamp"`
}

// Conversation is the server's view of a conversation.
type Conversation struct {
	// ID is the conversation id.
	ID string `json:"id"`
	// Title is the display title.
	Title string `json:"title,omitempty"`
	// Participants lists participating user ids.
	Participants []string `json:"participants,omitempty"`
	// UnreadCount is the server-side unread count for this conversation.
	UnreadCount int `json:"unreadCount,omitempty"`
	// LastMessage is the most recent message, when known.
	LastMessage *ChatMessage `json:"lastMessage,omitempty"`
}

// MessageReceivedData is the payload for TypeMessageReceived.
type MessageReceivedData struct {
	// Message is the delivered message.
	Message ChatMessage `json:"message"`
	// Conversation is optional conversation context.
	Conversation *Conversation `json:"conversation,omitempty"`
}

// MessageSentData is the payload for TypeMessageSent, confirming delivery of
// an outbound message.
type MessageSentData struct {
	// Message is the stored message as the server recorded it.
	Message ChatMessage `json:"message"`
}

// MessageStatusData is the payload for TypeMessageStatusUpdated.
type MessageStatusData struct {
	// MessageID identifies the message whose status changed.
	MessageID string `json:"messageId"`
	// Status is the new delivery status.
	Status string `json:"status"`
	// ConversationID is the conversation the message belongs to.
	ConversationID string `json:"conversationId"`
}

// MessagesMarkedReadData is the payload for TypeMessagesMarkedRead.
type MessagesMarkedReadData struct {
	// ConversationID identifies the affected conversation.
	ConversationID string `json:"conversationId"`
	// MessageIDs lists the messages marked read, when the server provides
	// them.
	MessageIDs []string `json:"messageIds,omitempty"`
}

// ReadReceiptData is the payload for TypeMessageReadReceipt.
type ReadReceiptData struct {
	// MessageID identifies the message that was read.
	MessageID string `json:"messageId"`
	// ConversationID is the conversation the message belongs to.
	ConversationID string `json:"conversationId"`
	// ReaderID identifies the user who read the message.
	ReaderID string `json:"readerId,omitempty"`
}

// TypingData is the payload for TypeUserTyping. The wire protocol only
// signals typing start; typing stop is inferred client-side.
type TypingData struct {
	// UserID identifies the typing user.
	UserID string `json:"userId"`
	// ConversationID is the conversation being typed in.
	ConversationID string `json:"conversationId"`
	// UserName is the display name of the typing user.
	UserName string `json:"userName"`
}

// UserOnlineData is the payload for TypeUserOnline.
type UserOnlineData struct {
	// UserID identifies the user whose presence changed.
	UserID string `json:"userId"`
	// Online reports the new presence state.
	Online bool `json:"online"`
}

// RoomEventData is the payload for room membership messages (TypeRoomJoined,
// TypeRoomLeft, TypeUserJoinedRoom, TypeUserLeftRoom).
type RoomEventData struct {
	// ConversationID identifies the room.
	ConversationID string `json:"conversationId"`
	// UserID identifies the joining/leaving user, when applicable.
	UserID string `json:"userId,omitempty"`
}

// ConversationStatusData is the payload for TypeConversationStatus.
type ConversationStatusData struct {
	// Conversation is the authoritative conversation state.
	Conversation Conversation `json:"conversation"`
}
