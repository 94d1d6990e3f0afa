package rooms

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
)

// SettingsColumn stores RoomSettings as a JSON text column so the schema
// stays portable between postgres and sqlite.
type SettingsColumn domain.RoomSettings

func (s SettingsColumn) Value() (driver.Value, error) {
	data, err := json.Marshal(domain.RoomSettings(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *SettingsColumn) Scan(value interface{}) error {
	if value == nil {
		*s = SettingsColumn{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported settings column type %T", value)
	}

	return json.Unmarshal(data, (*domain.RoomSettings)(s))
}

// RoomModel is the GORM model for the rooms table.
type RoomModel struct {
	ID            string         `gorm:"type:varchar(36);primaryKey"`
	Name          string         `gorm:"type:varchar(100);not null"`
	Type          string         `gorm:"type:varchar(20);index;not null"`
	Status        string         `gorm:"type:varchar(20);index;not null;default:'active'"`
	Settings      SettingsColumn `gorm:"type:text"`
	LastMessageAt time.Time      `gorm:"index"`
	Version       int64          `gorm:"not null;default:1"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`

	Participants []ParticipantModel `gorm:"foreignKey:RoomID;references:ID"`
}

func (RoomModel) TableName() string {
	return "rooms"
}

// ParticipantModel is the GORM model for the room_participants table.
type ParticipantModel struct {
	RoomID     string    `gorm:"type:varchar(36);primaryKey"`
	UserID     string    `gorm:"type:varchar(36);primaryKey"`
	Role       string    `gorm:"type:varchar(20);not null"`
	JoinedAt   time.Time `gorm:"not null"`
	LastReadAt time.Time
}

func (ParticipantModel) TableName() string {
	return "room_participants"
}

// ToDomain converts the model, keeping participants in join order.
func (m *RoomModel) ToDomain() *domain.Room {
	room := &domain.Room{
		ID:            m.ID,
		Name:          m.Name,
		Type:          domain.RoomType(m.Type),
		Status:        domain.RoomStatus(m.Status),
		Settings:      domain.RoomSettings(m.Settings),
		LastMessageAt: m.LastMessageAt,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Participants:  make([]domain.Participant, len(m.Participants)),
	}
	for i, p := range m.Participants {
		room.Participants[i] = domain.Participant{
			UserID:     p.UserID,
			Role:       domain.Role(p.Role),
			JoinedAt:   p.JoinedAt,
			LastReadAt: p.LastReadAt,
		}
	}
	return room
}

// RoomToModel converts a domain room to its GORM models.
func RoomToModel(r *domain.Room) *RoomModel {
	m := &RoomModel{
		ID:            r.ID,
		Name:          r.Name,
		Type:          string(r.Type),
		Status:        string(r.Status),
		Settings:      SettingsColumn(r.Settings),
		LastMessageAt: r.LastMessageAt,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Participants:  make([]ParticipantModel, len(r.Participants)),
	}
	for i, p := range r.Participants {
		m.Participants[i] = ParticipantModel{
			RoomID:     r.ID,
			UserID:     p.UserID,
			Role:       string(p.Role),
			JoinedAt:   p.JoinedAt,
			LastReadAt: p.LastReadAt,
		}
	}
	return m
}
