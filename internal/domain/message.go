package domain

import (
	"strings"
	"time"
)

// MessageType identifies what kind of payload a message carries.
type MessageType string

const (
	MessageTypeText           MessageType = "text"
	MessageTypeSystem         MessageType = "system"
	MessageTypeAIResponse     MessageType = "ai_response"
	MessageTypeTravelPlan     MessageType = "travel_plan"
	MessageTypeBookingUpdate  MessageType = "booking_update"
	MessageTypeItineraryShare MessageType = "itinerary_share"
)

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeText, MessageTypeSystem, MessageTypeAIResponse,
		MessageTypeTravelPlan, MessageTypeBookingUpdate, MessageTypeItineraryShare:
		return true
	}
	return false
}

// MessageStatus is the lifecycle of a message from the sender's view.
// pending → sent → delivered → read, with failed reachable from pending.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Attachment references a blob held in the attachment store.
type Attachment struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// AIContext is present on ai_response messages.
type AIContext struct {
	PersonaID    string  `json:"persona_id"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// ThreadMetadata is present when a message is part of a reply thread.
type ThreadMetadata struct {
	RootID       string   `json:"root_id"`
	ReplyCount   int      `json:"reply_count"`
	Participants []string `json:"participants"`
}

// Message is a persisted chat message.
type Message struct {
	ID          string            `json:"id"`
	RoomID      string            `json:"room_id"`
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	Type        MessageType       `json:"type"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Status      MessageStatus     `json:"status"`
	ReadBy      []string          `json:"read_by,omitempty"` // set semantics; no duplicates
	ReplyTo     string            `json:"reply_to,omitempty"`
	Thread      *ThreadMetadata   `json:"thread,omitempty"`
	AIContext   *AIContext        `json:"ai_context,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HasRead reports whether userID appears in the message's read set.
func (m *Message) HasRead(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// NormalizeContent canonicalizes content for dedup hashing: trimmed, lower
// whitespace runs collapsed to single spaces.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}
