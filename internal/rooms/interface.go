package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrVersionConflict = errors.New("room version conflict")
)

// Repository is the persistence boundary for rooms and their participants.
type Repository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id string) (*domain.Room, error)

	// UpdateVersioned writes room only if the stored version still equals
	// expectedVersion, returning ErrVersionConflict otherwise. room.Version
	// must already be incremented by the caller.
	UpdateVersioned(ctx context.Context, room *domain.Room, expectedVersion int64) error

	// TouchLastMessage bumps the room's lastMessageAt without a version
	// round trip; message traffic must not contend with settings updates.
	TouchLastMessage(ctx context.Context, roomID string, at time.Time) error

	// SetParticipantLastRead updates one participant's lastReadAt. Read
	// receipts are too frequent to ride the versioned update path.
	SetParticipantLastRead(ctx context.Context, roomID, userID string, at time.Time) error

	// ListActiveIdleBefore returns active rooms whose lastMessageAt is
	// older than cutoff, for the archival sweep.
	ListActiveIdleBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Room, error)
}

// Cache is a read-through cache over room lookups. Implementations must
// treat misses as a normal outcome, not an error.
type Cache interface {
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	Set(ctx context.Context, room *domain.Room, ttl time.Duration) error
	Invalidate(ctx context.Context, roomID string) error
}

// ErrCacheMiss is returned by Cache.Get when the room is not cached.
var ErrCacheMiss = errors.New("cache miss")

// CreateRequest is the input to Directory.Create.
type CreateRequest struct {
	Name         string
	Type         domain.RoomType
	Participants []ParticipantSpec
	Settings     *domain.RoomSettings
}

// ParticipantSpec names a participant to seed at creation.
type ParticipantSpec struct {
	UserID string
	Role   domain.Role
}

// Patch carries the mutable room fields for Directory.Update. Nil fields
// are left unchanged.
type Patch struct {
	Name     *string
	Settings *domain.RoomSettings
}

// Directory owns room and participant state and enforces the membership
// invariants and the permission matrix.
type Directory interface {
	Create(ctx context.Context, creatorID string, req CreateRequest) (*domain.Room, error)
	Get(ctx context.Context, roomID, requesterID string) (*domain.Room, error)
	Update(ctx context.Context, roomID, requesterID string, patch Patch) (*domain.Room, error)
	Delete(ctx context.Context, roomID, requesterID string) error
	AddParticipant(ctx context.Context, roomID, requesterID, userID string, role domain.Role) (*domain.Room, error)
	RemoveParticipant(ctx context.Context, roomID, requesterID, userID string) (*domain.Room, error)
	MarkRead(ctx context.Context, roomID, userID string, at time.Time) error

	// Membership is the pipeline's fast membership check; unlike Get it
	// does not require view permission evaluation for the caller.
	Membership(ctx context.Context, roomID, userID string) (*domain.Room, *domain.Participant, error)

	// RecordMessage bumps lastMessageAt after a persist commit.
	RecordMessage(ctx context.Context, roomID string, at time.Time) error
}
