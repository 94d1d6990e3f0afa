package rooms

import (
	"context"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// StartSweeper launches the background archival sweep: active rooms whose
// last message predates their retention period are transitioned to archived.
// Messages are never purged here; archiving only closes the room.
func StartSweeper(ctx context.Context, d Directory, interval time.Duration) {
	impl, ok := d.(*directory)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	impl.sweepCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				impl.sweep(ctx)
			}
		}
	}()

	l := log.L()
	l.Info().Dur("interval", interval).Msg("room archival sweeper started")
}

// StopSweeper cancels a running sweep loop.
func StopSweeper(d Directory) {
	if impl, ok := d.(*directory); ok && impl.sweepCancel != nil {
		impl.sweepCancel()
	}
}

func (d *directory) sweep(ctx context.Context) {
	l := log.L()

	// Widest candidate window: no room retains for less than minRetention.
	cutoff := time.Now().Add(-minRetention)
	candidates, err := d.repo.ListActiveIdleBefore(ctx, cutoff, 200)
	if err != nil {
		l.Error().Err(err).Msg("archival sweep query failed")
		return
	}

	now := time.Now()
	archived := 0
	for i := range candidates {
		room := &candidates[i]

		retention := time.Duration(room.Settings.RetentionDays) * 24 * time.Hour
		if retention < minRetention {
			retention = minRetention
		}
		if now.Sub(room.LastMessageAt) < retention {
			continue
		}

		_, err := d.mutate(ctx, room.ID, func(r *domain.Room) error {
			if r.Status != domain.RoomStatusActive {
				return nil
			}
			r.Status = domain.RoomStatusArchived
			return nil
		})
		if err != nil {
			l.Warn().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to archive idle room")
			continue
		}

		archived++
		if d.onStateChange != nil {
			d.onStateChange(room.ID, "archived")
		}
	}

	if archived > 0 {
		l.Info().Int("archived", archived).Msg("archival sweep completed")
	}
}
