package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	// InboundTypeReady signals the client is ready to receive room events;
	// the server subscribes the connection to all of the user's chats.
	InboundTypeReady = "ready"
	// InboundTypeJoinChat subscribes the connection to a newly created chat.
	InboundTypeJoinChat = "join_chat"
	// InboundTypeSendMessage submits a chat message.
	InboundTypeSendMessage = "send_message"
	// InboundTypeMarkRead records a read receipt.
	InboundTypeMarkRead = "mark_read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	// EventMessageReceived carries a newly persisted message to the room.
	EventMessageReceived = "message_received"
	// EventReadReceiptUpdated carries a grown read set to the room.
	EventReadReceiptUpdated = "read_receipt_updated"
	// EventSendError is delivered only to the connection whose command failed.
	EventSendError = "send_error"
)

// ReadyData optionally announces the client's protocol version. A zero
// version means the client predates versioning and is accepted as current.
type ReadyData struct {
	Protocol int `json:"protocol"`
}

// JoinChatData requests a subscription to a specific chat.
type JoinChatData struct {
	ChatID int64 `json:"chat_id"`
}

// SendMessageData is a chat message from the client. Any client-supplied
// timestamp is ignored; the server stamps creation time.
type SendMessageData struct {
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
}

// MarkReadData acknowledges a message as read by the sender of this frame.
type MarkReadData struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// MessagePayload is the wire shape of a persisted message.
type MessagePayload struct {
	ID        int64   `json:"id"`
	ChatID    int64   `json:"chat_id"`
	SenderID  int64   `json:"sender_id"`
	Content   string  `json:"content"`
	TS        int64   `json:"ts"`
	ReadBy    []int64 `json:"read_by"`
}

// EventMessageReceivedData notifies the room about a new message.
type EventMessageReceivedData struct {
	ChatID  int64          `json:"chat_id"`
	Message MessagePayload `json:"message"`
}

// EventReadReceiptUpdatedData notifies the room about an updated read set.
type EventReadReceiptUpdatedData struct {
	ChatID    int64   `json:"chat_id"`
	MessageID int64   `json:"message_id"`
	ReadBy    []int64 `json:"read_by"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
