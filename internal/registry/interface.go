package registry

import (
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
)

// PresenceUpdate is emitted when a session comes online or drops.
type PresenceUpdate struct {
	SessionID string
	UserID    string
	Rooms     []string
	Online    bool
}

// Registry tracks live connection sessions: who is connected, which rooms
// they subscribe to, and how healthy the link is.
type Registry interface {
	Register(session *domain.ConnectionSession) error
	Heartbeat(sessionID string, rtt time.Duration) error
	MarkDisconnected(sessionID string)
	Quality(sessionID string) domain.Quality

	Subscribe(sessionID, roomID string) error
	Unsubscribe(sessionID, roomID string)

	// ConnectedInRoom returns the live sessions subscribed to a room.
	ConnectedInRoom(roomID string) []*domain.ConnectionSession
	// UserOnlineInRoom reports whether any of userID's sessions subscribe
	// to roomID.
	UserOnlineInRoom(roomID, userID string) bool
	Session(sessionID string) (*domain.ConnectionSession, bool)
	// SessionsOfUser returns all live sessions for a user, across devices.
	SessionsOfUser(userID string) []*domain.ConnectionSession

	// Updates is the bounded presence event stream. Consumers must keep up;
	// the registry drops updates rather than blocking.
	Updates() <-chan PresenceUpdate

	Start()
	Stop()
}
