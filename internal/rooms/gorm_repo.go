package rooms

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// GormRepository implements Repository on a relational store.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates the repository and migrates the schema.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&RoomModel{}, &ParticipantModel{}); err != nil {
		return nil, err
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Create(ctx context.Context, room *domain.Room) error {
	l := log.Ctx(ctx)

	model := RoomToModel(room)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Msg("failed to create room")
		return err
	}

	room.CreatedAt = model.CreatedAt
	room.UpdatedAt = model.UpdatedAt
	l.Debug().Str(log.FieldRoomID, room.ID).Msg("room created")
	return nil
}

func (r *GormRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	var model RoomModel
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC")
		}).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, id).Msg("failed to load room")
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormRepository) UpdateVersioned(ctx context.Context, room *domain.Room, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RoomModel{}).
			Where("id = ? AND version = ?", room.ID, expectedVersion).
			Updates(map[string]interface{}{
				"name":            room.Name,
				"status":          string(room.Status),
				"settings":        SettingsColumn(room.Settings),
				"last_message_at": room.LastMessageAt,
				"version":         room.Version,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either the room vanished or someone got there first.
			var count int64
			if err := tx.Model(&RoomModel{}).Where("id = ?", room.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrRoomNotFound
			}
			return ErrVersionConflict
		}

		// Replace the participant set in the same transaction.
		if err := tx.Where("room_id = ?", room.ID).Delete(&ParticipantModel{}).Error; err != nil {
			return err
		}
		model := RoomToModel(room)
		if len(model.Participants) > 0 {
			if err := tx.Create(&model.Participants).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormRepository) TouchLastMessage(ctx context.Context, roomID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&RoomModel{}).
		Where("id = ?", roomID).
		Update("last_message_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *GormRepository) SetParticipantLastRead(ctx context.Context, roomID, userID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&ParticipantModel{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_read_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *GormRepository) ListActiveIdleBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Room, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []RoomModel
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("status = ? AND last_message_at < ?", string(domain.RoomStatusActive), cutoff).
		Order("last_message_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Room, len(models))
	for i := range models {
		out[i] = *models[i].ToDomain()
	}
	return out, nil
}
