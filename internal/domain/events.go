package domain

// WebSocket event types from the client.
const (
	EventMessage     = "message"
	EventTyping      = "typing"
	EventReadReceipt = "read_receipt"
	EventDeliveryAck = "delivery_ack"
	EventHeartbeat   = "heartbeat"
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventRoomUpdate  = "room:update"
)

// WebSocket event types to the client.
const (
	EventConnected       = "connected"
	EventError           = "error"
	EventHeartbeatAck    = "heartbeat_ack"
	EventPresence        = "presence"
	EventRoomStateChange = "room:state_change"
	EventRoomError       = "room:error"
)

// Error codes on the wire.
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeNotAMember        = "NOT_A_MEMBER"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrCodeMessageTooLong    = "MESSAGE_TOO_LONG"
	ErrCodeThreadTooDeep     = "THREAD_TOO_DEEP"
	ErrCodeUnknownPersona    = "UNKNOWN_PERSONA"
	ErrCodeRoomNotFound      = "ROOM_NOT_FOUND"
	ErrCodeVersionConflict   = "VERSION_CONFLICT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeSendFailed        = "SEND_FAILED"
	ErrCodeQueueOverflow     = "QUEUE_OVERFLOW"
	ErrCodeUnknownEvent      = "UNKNOWN_EVENT"
	ErrCodeInvalidAttachment = "INVALID_ATTACHMENT"
)

// Envelope is the base structure all WebSocket events share.
type Envelope struct {
	Event string `json:"event"`
}

// Client -> Server events

// SendMessageEvent carries an outgoing chat message.
type SendMessageEvent struct {
	Event       string            `json:"event"`
	RoomID      string            `json:"room_id"`
	Type        MessageType       `json:"type"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	AIContext   *AIContext        `json:"ai_context,omitempty"`
}

// TypingEvent signals typing start/stop in a room.
type TypingEvent struct {
	Event    string `json:"event"`
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptEvent marks a message read by the sender of the event.
type ReadReceiptEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
}

// DeliveryAckEvent acknowledges receipt of a message.
type DeliveryAckEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
}

// HeartbeatEvent carries the client's send timestamp for RTT measurement.
type HeartbeatEvent struct {
	Event    string `json:"event"`
	SentAtMS int64  `json:"sent_at_ms"`
}

// RoomJoinEvent subscribes the connection to a room's live events.
type RoomJoinEvent struct {
	Event  string `json:"event"`
	RoomID string `json:"room_id"`
}

// RoomLeaveEvent unsubscribes the connection from a room.
type RoomLeaveEvent struct {
	Event  string `json:"event"`
	RoomID string `json:"room_id"`
}

// RoomUpdateEvent patches room metadata over the socket. Absent fields are
// left unchanged.
type RoomUpdateEvent struct {
	Event    string        `json:"event"`
	RoomID   string        `json:"room_id"`
	Name     *string       `json:"name,omitempty"`
	Settings *RoomSettings `json:"settings,omitempty"`
}

// Server -> Client events

// ConnectedEvent greets an authenticated connection.
type ConnectedEvent struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// MessageEvent delivers a message to room subscribers.
type MessageEvent struct {
	Event   string   `json:"event"`
	Message *Message `json:"message"`
}

// DeliveryStatusEvent reports aggregate delivery status back to the sender.
// It shares the delivery_ack wire name with the inbound ack; direction
// distinguishes the two.
type DeliveryStatusEvent struct {
	Event     string        `json:"event"`
	MessageID string        `json:"message_id"`
	Status    MessageStatus `json:"status"`
}

// TypingBroadcast fans a typing signal out to room subscribers.
type TypingBroadcast struct {
	Event    string `json:"event"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceEvent announces online/offline transitions to room subscribers.
type PresenceEvent struct {
	Event  string `json:"event"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// RoomStateChangeEvent broadcasts join/leave/update outcomes.
type RoomStateChangeEvent struct {
	Event  string `json:"event"`
	RoomID string `json:"room_id"`
	Change string `json:"change"` // joined | left | updated | archived | deleted
	UserID string `json:"user_id,omitempty"`
}

// HeartbeatAckEvent echoes the client timestamp so it can compute RTT too.
type HeartbeatAckEvent struct {
	Event    string `json:"event"`
	SentAtMS int64  `json:"sent_at_ms"`
	ServerMS int64  `json:"server_ms"`
}

// ErrorEvent reports a failure on the socket.
type ErrorEvent struct {
	Event         string `json:"event"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	RetryAfterSec int    `json:"retry_after_seconds,omitempty"`
}

// NewErrorEvent builds an error event for the generic error channel.
func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Event: EventError, Code: code, Message: message}
}

// NewRoomErrorEvent builds an error event for room-management failures.
func NewRoomErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Event: EventRoomError, Code: code, Message: message}
}
