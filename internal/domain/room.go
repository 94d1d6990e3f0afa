package domain

import (
	"time"
)

// RoomType classifies a conversation container.
type RoomType string

const (
	RoomTypeDirect         RoomType = "direct"
	RoomTypeGroup          RoomType = "group"
	RoomTypeTravelPlanning RoomType = "travel_planning"
	RoomTypeConsultation   RoomType = "consultation"
)

// ValidRoomType reports whether t is a known room type.
func ValidRoomType(t RoomType) bool {
	switch t {
	case RoomTypeDirect, RoomTypeGroup, RoomTypeTravelPlanning, RoomTypeConsultation:
		return true
	}
	return false
}

// RoomStatus is a room's lifecycle state. Rooms are never physically
// deleted; deletion soft-marks the room.
type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "active"
	RoomStatusArchived RoomStatus = "archived"
	RoomStatusDeleted  RoomStatus = "deleted"
)

// Role governs what a participant may do in a room.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleMember       Role = "member"
	RoleAIPersona    Role = "ai_persona"
	RoleProfessional Role = "professional"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleAIPersona, RoleProfessional:
		return true
	}
	return false
}

// Action is a room operation subject to the permission matrix.
type Action string

const (
	ActionView               Action = "view"
	ActionUpdateRoom         Action = "update_room"
	ActionDeleteRoom         Action = "delete_room"
	ActionManageParticipants Action = "manage_participants"
)

// permissionMatrix is the explicit, total role × action map. Every
// role/action pair has an entry; absence means deny.
var permissionMatrix = map[Role]map[Action]bool{
	RoleOwner: {
		ActionView:               true,
		ActionUpdateRoom:         true,
		ActionDeleteRoom:         true,
		ActionManageParticipants: true,
	},
	RoleAdmin: {
		ActionView:               true,
		ActionUpdateRoom:         true,
		ActionDeleteRoom:         false,
		ActionManageParticipants: true,
	},
	RoleMember: {
		ActionView:               true,
		ActionUpdateRoom:         false,
		ActionDeleteRoom:         false,
		ActionManageParticipants: false,
	},
	RoleProfessional: {
		ActionView:               true,
		ActionUpdateRoom:         false,
		ActionDeleteRoom:         false,
		ActionManageParticipants: false,
	},
	RoleAIPersona: {
		ActionView:               true,
		ActionUpdateRoom:         false,
		ActionDeleteRoom:         false,
		ActionManageParticipants: false,
	},
}

// Allowed reports whether role may perform action.
func Allowed(role Role, action Action) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[action]
}

// Participant is a room member. Permissions derive from Role via the
// permission matrix and are not independently settable.
type Participant struct {
	UserID     string    `json:"user_id"`
	Role       Role      `json:"role"`
	JoinedAt   time.Time `json:"joined_at"`
	LastReadAt time.Time `json:"last_read_at,omitempty"`
}

// RoomSettings are per-room knobs.
type RoomSettings struct {
	IsPrivate       bool     `json:"is_private"`
	AllowAIPersonas bool     `json:"allow_ai_personas"`
	MaxParticipants int      `json:"max_participants"`
	RetentionDays   int      `json:"retention_days"`
	AllowedFeatures []string `json:"allowed_features,omitempty"`
}

// Room is a conversation container with bounded, role-tagged membership.
// Participants are ordered by join time and unique per user id.
type Room struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Type          RoomType      `json:"type"`
	Status        RoomStatus    `json:"status"`
	Participants  []Participant `json:"participants"`
	Settings      RoomSettings  `json:"settings"`
	LastMessageAt time.Time     `json:"last_message_at"`
	Version       int64         `json:"version"` // optimistic concurrency counter
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Participant returns the participant entry for userID, if any.
func (r *Room) Participant(userID string) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

// IsMember reports whether userID is a current participant.
func (r *Room) IsMember(userID string) bool {
	_, ok := r.Participant(userID)
	return ok
}

// OwnerCount returns the number of participants with role owner.
func (r *Room) OwnerCount() int {
	n := 0
	for i := range r.Participants {
		if r.Participants[i].Role == RoleOwner {
			n++
		}
	}
	return n
}

// MemberIDs returns all participant user ids in join order.
func (r *Room) MemberIDs() []string {
	ids := make([]string, len(r.Participants))
	for i := range r.Participants {
		ids[i] = r.Participants[i].UserID
	}
	return ids
}
