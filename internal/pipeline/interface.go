package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the persistence boundary for messages.
type MessageRepository interface {
	// SaveBatch persists messages in order. Commit order within a batch
	// defines history order for the affected room.
	SaveBatch(ctx context.Context, msgs []*domain.Message) error

	GetByID(ctx context.Context, id string) (*domain.Message, error)

	// ListByRoom returns a page of room history, oldest first within the
	// page, page 1 being the most recent window.
	ListByRoom(ctx context.Context, roomID string, page, limit int) ([]*domain.Message, error)

	// AddReadBy adds userID to the message's read set. Set add: calling it
	// twice is the same as calling it once.
	AddReadBy(ctx context.Context, roomID, messageID, userID string) error

	// BumpReplyCount increments the reply counter of a thread root.
	BumpReplyCount(ctx context.Context, rootID string) error

	Close() error
}

// DedupIndex remembers content hashes inside the dedup window.
type DedupIndex interface {
	// Reserve claims hash for messageID. When the hash was already claimed
	// inside the window, Reserve returns the prior message id and true.
	Reserve(ctx context.Context, hash, messageID string, window time.Duration) (existingID string, duplicate bool, err error)

	// Release drops the claim on hash, but only while messageID still owns
	// it. Called when persistence fails so a retry is not treated as a
	// duplicate of a message that never committed.
	Release(ctx context.Context, hash, messageID string) error
}

// Fanout is what the pipeline needs from the websocket hub.
type Fanout interface {
	SendToSession(sessionID string, event interface{}) bool
}

// Roster is what the pipeline needs from the session registry.
type Roster interface {
	ConnectedInRoom(roomID string) []*domain.ConnectionSession
}

// SendRequest is one message submission.
type SendRequest struct {
	RoomID          string
	SenderID        string
	SenderName      string
	OriginSessionID string // excluded from fan-out
	Type            domain.MessageType
	Content         string
	Metadata        map[string]string
	Attachments     []domain.Attachment
	ReplyTo         string
	AIContext       *domain.AIContext
}

// Pipeline validates, deduplicates, persists and fans out messages.
type Pipeline interface {
	Send(ctx context.Context, req SendRequest) (*domain.Message, error)
	History(ctx context.Context, roomID, requesterID string, page, limit int) ([]*domain.Message, error)
	MarkRead(ctx context.Context, roomID, messageID, userID string) error
	Close()
}
