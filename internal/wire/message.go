// Package wire defines the JSON envelope and payloads exchanged with the
// Quill server over the realtime socket.
package wire

import "encoding/json"

// Inbound message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
	TypeError                 = "error"
	TypeRoomJoined            = "room_joined"
	TypeRoomLeft              = "room_left"
	TypeUserOnline            = "user_online"
	TypeMessageReceived       = "message_received"
	TypeMessageSent           = "message_sent"
	TypeMessageStatusUpdated  = "message_status_updated"
	TypeMessagesMarkedRead    = "messages_marked_read"
	TypeMessageReadReceipt    = "message_read_receipt"
	TypeUserTyping            = "user_typing"
	TypeUserJoinedRoom        = "user_joined_room"
	TypeUserLeftRoom          = "user_left_room"
	TypeConversationStatus    = "conversation_status"
)

// Outbound message types.
const (
	TypePing                  = "ping"
	TypeSendMessage           = "send_message"
	TypeTypingStart           = "typing_start"
	TypeTypingStop            = "typing_stop"
	TypeMarkRead              = "mark_read"
	TypeJoinRoom              = "join_room"
	TypeLeaveRoom             = "leave_room"
	TypeGetConversationStatus = "get_conversation_status"
)

// Error codes carried by TypeError messages.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMIT_EXCEEDED"
)

// Message is the on-the-wire envelope. Every frame is a JSON object with a
// type discriminant; the remaining fields depend on the type.
type Message struct {
	// Type discriminates the payload.
	Type string `json:"type"`
	// Data carries the typed payload for most message types.
	Data json.RawMessage `json:"data,omitempty"`
	// Message is human-readable error text (TypeError only).
	Message string `json:"message,omitempty"`
	// Code is a machine-readable error code (TypeError only).
	Code string `json:"code,omitempty"`
	// Retryable reports whether the error condition is transient
	// (TypeError only).
	Retryable bool `json:"retryable,omitempty"`
	// Timestamp is an optional server-side wall-clock timestamp (RFC 3339).
	Timestamp string `json:"timestamp,omitempty"`
}

// DecodeData unmarshals the envelope payload into out.
func (m Message) DecodeData(out any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, out)
}

// NewMessage builds an envelope of the given type with payload encoded into
// Data. A nil payload produces an envelope with no Data field.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}
