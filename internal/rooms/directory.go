package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// minRetention bounds how aggressively a room's retention can be set; the
// sweeper also uses it as the widest candidate window.
const minRetention = 24 * time.Hour

type directory struct {
	repo     Repository
	cache    Cache // may be nil in single-node dev mode
	cfg      config.RoomsConfig
	cacheTTL time.Duration

	// onStateChange, when set, is called after archive transitions so the
	// live event surface can broadcast room:state_change.
	onStateChange func(roomID, change string)

	sweepCancel context.CancelFunc
}

// NewDirectory creates the room directory service.
func NewDirectory(repo Repository, cache Cache, cfg config.RoomsConfig, cacheTTL time.Duration) Directory {
	return &directory{
		repo:     repo,
		cache:    cache,
		cfg:      cfg,
		cacheTTL: cacheTTL,
	}
}

// SetStateChangeHook wires the broadcast callback. Must be called before
// StartSweeper.
func SetStateChangeHook(d Directory, fn func(roomID, change string)) {
	if impl, ok := d.(*directory); ok {
		impl.onStateChange = fn
	}
}

func (d *directory) Create(ctx context.Context, creatorID string, req CreateRequest) (*domain.Room, error) {
	if creatorID == "" {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "creator is required")
	}
	if req.Name == "" || len(req.Name) > d.cfg.MaxNameLength {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest,
			fmt.Sprintf("room name must be 1-%d characters", d.cfg.MaxNameLength))
	}
	if !domain.ValidRoomType(req.Type) {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "unknown room type")
	}

	settings := d.defaultSettings()
	if req.Settings != nil {
		settings = d.applySettings(settings, *req.Settings)
	}

	now := time.Now()
	room := &domain.Room{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Type:          req.Type,
		Status:        domain.RoomStatusActive,
		Settings:      settings,
		LastMessageAt: now,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	seen := map[string]bool{creatorID: true}
	room.Participants = append(room.Participants, domain.Participant{
		UserID:   creatorID,
		Role:     domain.RoleOwner,
		JoinedAt: now,
	})

	for _, spec := range req.Participants {
		if spec.UserID == "" {
			return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "participant user id is required")
		}
		if seen[spec.UserID] {
			continue
		}
		role := spec.Role
		if role == "" {
			role = domain.RoleMember
		}
		if !domain.ValidRole(role) {
			return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "unknown participant role")
		}
		if role == domain.RoleAIPersona && !settings.AllowAIPersonas {
			return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "room does not allow AI personas")
		}
		seen[spec.UserID] = true
		room.Participants = append(room.Participants, domain.Participant{
			UserID:   spec.UserID,
			Role:     role,
			JoinedAt: now,
		})
	}

	if req.Type == domain.RoomTypeDirect && len(room.Participants) != 2 {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest,
			"direct rooms must have exactly 2 participants")
	}
	if len(room.Participants) > settings.MaxParticipants {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest,
			fmt.Sprintf("room exceeds maximum of %d participants", settings.MaxParticipants))
	}

	if err := d.repo.Create(ctx, room); err != nil {
		return nil, domain.NewPersistenceError(err)
	}

	l := log.Ctx(ctx)
	l.Info().Str(log.FieldRoomID, room.ID).Str(log.FieldUserID, creatorID).
		Str("room_type", string(room.Type)).Msg("room created")
	return room, nil
}

func (d *directory) Get(ctx context.Context, roomID, requesterID string) (*domain.Room, error) {
	room, err := d.loadCached(ctx, roomID)
	if err != nil {
		return nil, err
	}

	p, ok := room.Participant(requesterID)
	if !ok {
		return nil, domain.NewAuthorizationError(domain.ErrCodeNotAMember, "not a room member")
	}
	if !domain.Allowed(p.Role, domain.ActionView) {
		return nil, domain.NewAuthorizationError(domain.ErrCodeForbidden, "role may not view this room")
	}
	return room, nil
}

func (d *directory) Update(ctx context.Context, roomID, requesterID string, patch Patch) (*domain.Room, error) {
	room, err := d.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := d.authorize(room, requesterID, domain.ActionUpdateRoom); err != nil {
			return err
		}
		if room.Status == domain.RoomStatusDeleted {
			return domain.NewNotFoundError(domain.ErrCodeRoomNotFound, "room is deleted")
		}
		if patch.Name != nil {
			if *patch.Name == "" || len(*patch.Name) > d.cfg.MaxNameLength {
				return domain.NewValidationError(domain.ErrCodeBadRequest,
					fmt.Sprintf("room name must be 1-%d characters", d.cfg.MaxNameLength))
			}
			room.Name = *patch.Name
		}
		if patch.Settings != nil {
			next := d.applySettings(room.Settings, *patch.Settings)
			if len(room.Participants) > next.MaxParticipants {
				return domain.NewValidationError(domain.ErrCodeBadRequest,
					"participant cap below current participant count")
			}
			room.Settings = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.onStateChange != nil {
		d.onStateChange(roomID, "updated")
	}
	return room, nil
}

func (d *directory) Delete(ctx context.Context, roomID, requesterID string) error {
	_, err := d.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := d.authorize(room, requesterID, domain.ActionDeleteRoom); err != nil {
			return err
		}
		room.Status = domain.RoomStatusDeleted
		return nil
	})
	if err != nil {
		return err
	}

	if d.onStateChange != nil {
		d.onStateChange(roomID, "deleted")
	}
	return nil
}

func (d *directory) AddParticipant(ctx context.Context, roomID, requesterID, userID string, role domain.Role) (*domain.Room, error) {
	if userID == "" {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "user id is required")
	}
	if role == "" {
		role = domain.RoleMember
	}
	if !domain.ValidRole(role) {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "unknown participant role")
	}

	return d.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := d.authorize(room, requesterID, domain.ActionManageParticipants); err != nil {
			return err
		}
		if room.Type == domain.RoomTypeDirect {
			return domain.NewValidationError(domain.ErrCodeBadRequest,
				"direct rooms have a fixed pair of participants")
		}
		if room.IsMember(userID) {
			return nil // idempotent
		}
		if len(room.Participants) >= room.Settings.MaxParticipants {
			return domain.NewValidationError(domain.ErrCodeBadRequest,
				fmt.Sprintf("room is full (max %d participants)", room.Settings.MaxParticipants))
		}
		if role == domain.RoleAIPersona && !room.Settings.AllowAIPersonas {
			return domain.NewValidationError(domain.ErrCodeBadRequest, "room does not allow AI personas")
		}
		room.Participants = append(room.Participants, domain.Participant{
			UserID:   userID,
			Role:     role,
			JoinedAt: time.Now(),
		})
		return nil
	})
}

func (d *directory) RemoveParticipant(ctx context.Context, roomID, requesterID, userID string) (*domain.Room, error) {
	return d.mutate(ctx, roomID, func(room *domain.Room) error {
		// Leaving a room yourself needs no manage permission.
		if requesterID != userID {
			if err := d.authorize(room, requesterID, domain.ActionManageParticipants); err != nil {
				return err
			}
		} else if !room.IsMember(requesterID) {
			return domain.NewAuthorizationError(domain.ErrCodeNotAMember, "not a room member")
		}

		if room.Type == domain.RoomTypeDirect {
			return domain.NewValidationError(domain.ErrCodeBadRequest,
				"direct rooms have a fixed pair of participants")
		}

		target, ok := room.Participant(userID)
		if !ok {
			return nil // idempotent
		}
		if target.Role == domain.RoleOwner && room.OwnerCount() == 1 {
			return domain.NewValidationError(domain.ErrCodeBadRequest,
				"a room must keep at least one owner")
		}

		kept := room.Participants[:0]
		for _, p := range room.Participants {
			if p.UserID != userID {
				kept = append(kept, p)
			}
		}
		room.Participants = kept
		return nil
	})
}

func (d *directory) MarkRead(ctx context.Context, roomID, userID string, at time.Time) error {
	room, err := d.loadCached(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsMember(userID) {
		return domain.NewAuthorizationError(domain.ErrCodeNotAMember, "not a room member")
	}

	if err := d.repo.SetParticipantLastRead(ctx, roomID, userID, at); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return domain.NewNotFoundError(domain.ErrCodeRoomNotFound, "room not found")
		}
		return domain.NewPersistenceError(err)
	}
	d.invalidate(ctx, roomID)
	return nil
}

func (d *directory) Membership(ctx context.Context, roomID, userID string) (*domain.Room, *domain.Participant, error) {
	room, err := d.loadCached(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	p, ok := room.Participant(userID)
	if !ok {
		return nil, nil, domain.NewAuthorizationError(domain.ErrCodeNotAMember, "not a room member")
	}
	return room, p, nil
}

func (d *directory) RecordMessage(ctx context.Context, roomID string, at time.Time) error {
	if err := d.repo.TouchLastMessage(ctx, roomID, at); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return domain.NewNotFoundError(domain.ErrCodeRoomNotFound, "room not found")
		}
		return domain.NewPersistenceError(err)
	}
	d.invalidate(ctx, roomID)
	return nil
}

// mutate runs the optimistic-concurrency loop: read, apply, versioned write,
// retry on conflict up to the configured bound.
func (d *directory) mutate(ctx context.Context, roomID string, apply func(*domain.Room) error) (*domain.Room, error) {
	retries := d.cfg.UpdateRetries
	if retries <= 0 {
		retries = 3
	}

	for attempt := 0; attempt < retries; attempt++ {
		room, err := d.loadRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}

		expected := room.Version
		if err := apply(room); err != nil {
			return nil, err
		}

		room.Version = expected + 1
		room.UpdatedAt = time.Now()

		err = d.repo.UpdateVersioned(ctx, room, expected)
		if err == nil {
			d.invalidate(ctx, roomID)
			return room, nil
		}
		if errors.Is(err, ErrRoomNotFound) {
			return nil, domain.NewNotFoundError(domain.ErrCodeRoomNotFound, "room not found")
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, domain.NewPersistenceError(err)
		}

		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldRoomID, roomID).Int("attempt", attempt+1).Msg("room update conflict, retrying")
	}

	return nil, domain.NewConflictError("room was modified concurrently; update exhausted retries")
}

func (d *directory) authorize(room *domain.Room, requesterID string, action domain.Action) error {
	p, ok := room.Participant(requesterID)
	if !ok {
		return domain.NewAuthorizationError(domain.ErrCodeNotAMember, "not a room member")
	}
	if !domain.Allowed(p.Role, action) {
		return domain.NewAuthorizationError(domain.ErrCodeForbidden,
			fmt.Sprintf("role %s may not %s", p.Role, action))
	}
	return nil
}

func (d *directory) defaultSettings() domain.RoomSettings {
	return domain.RoomSettings{
		IsPrivate:       false,
		AllowAIPersonas: true,
		MaxParticipants: d.cfg.MaxParticipants,
		RetentionDays:   d.cfg.DefaultRetention,
	}
}

// applySettings merges an override onto current, clamping the participant
// cap to the service-wide maximum.
func (d *directory) applySettings(current, override domain.RoomSettings) domain.RoomSettings {
	next := current
	next.IsPrivate = override.IsPrivate
	next.AllowAIPersonas = override.AllowAIPersonas
	if override.MaxParticipants > 0 {
		next.MaxParticipants = override.MaxParticipants
		if next.MaxParticipants > d.cfg.MaxParticipants {
			next.MaxParticipants = d.cfg.MaxParticipants
		}
	}
	if override.RetentionDays > 0 {
		next.RetentionDays = override.RetentionDays
	}
	if override.AllowedFeatures != nil {
		next.AllowedFeatures = override.AllowedFeatures
	}
	return next
}

func (d *directory) loadCached(ctx context.Context, roomID string) (*domain.Room, error) {
	if d.cache != nil {
		if room, err := d.cache.Get(ctx, roomID); err == nil {
			return room, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room cache read failed")
		}
	}

	room, err := d.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, room, d.cacheTTL); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room cache write failed")
		}
	}
	return room, nil
}

func (d *directory) loadRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := d.repo.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil, domain.NewNotFoundError(domain.ErrCodeRoomNotFound, "room not found")
		}
		return nil, domain.NewPersistenceError(err)
	}
	return room, nil
}

func (d *directory) invalidate(ctx context.Context, roomID string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Invalidate(ctx, roomID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room cache invalidation failed")
	}
}
