package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// RoomIndex announces which instance currently serves a room so a fleet of
// messaging nodes can route cross-node traffic. Keys carry a TTL and are
// refreshed by a heartbeat loop; a crashed instance's claims simply expire.
type RoomIndex struct {
	client            *redis.Client
	instanceAddress   string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration

	mu          sync.RWMutex
	ownedRooms  map[string]struct{}
	cancelHeart context.CancelFunc
}

// NewRoomIndex connects to redis and returns a RoomIndex for this instance.
func NewRoomIndex(cfg config.RedisConfig, instanceAddress string) (*RoomIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RoomIndex{
		client:            client,
		instanceAddress:   instanceAddress,
		prefix:            cfg.IndexPrefix,
		keyTTL:            cfg.IndexTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		ownedRooms:        make(map[string]struct{}),
	}, nil
}

func (x *RoomIndex) keyFor(roomID string) string {
	return fmt.Sprintf("%s:room:%s", x.prefix, roomID)
}

// Announce claims a room for this instance.
func (x *RoomIndex) Announce(ctx context.Context, roomID string) error {
	if err := x.client.Set(ctx, x.keyFor(roomID), x.instanceAddress, x.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to announce room: %w", err)
	}

	x.mu.Lock()
	x.ownedRooms[roomID] = struct{}{}
	x.mu.Unlock()
	return nil
}

// Withdraw releases a room claim.
func (x *RoomIndex) Withdraw(ctx context.Context, roomID string) error {
	if err := x.client.Del(ctx, x.keyFor(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to withdraw room: %w", err)
	}

	x.mu.Lock()
	delete(x.ownedRooms, roomID)
	x.mu.Unlock()
	return nil
}

// Lookup returns the instance address serving roomID.
func (x *RoomIndex) Lookup(ctx context.Context, roomID string) (string, error) {
	addr, err := x.client.Get(ctx, x.keyFor(roomID)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("room %s not announced", roomID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lookup room: %w", err)
	}
	return addr, nil
}

// StartHeartbeat refreshes all owned claims on an interval.
func (x *RoomIndex) StartHeartbeat(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	x.cancelHeart = cancel

	go func() {
		ticker := time.NewTicker(x.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				x.refresh(ctx)
			}
		}
	}()

	l := log.L()
	l.Info().Dur("interval", x.heartbeatInterval).Dur("ttl", x.keyTTL).Msg("room index heartbeat started")
}

func (x *RoomIndex) refresh(ctx context.Context) {
	x.mu.RLock()
	rooms := make([]string, 0, len(x.ownedRooms))
	for id := range x.ownedRooms {
		rooms = append(rooms, id)
	}
	x.mu.RUnlock()

	for _, roomID := range rooms {
		if err := x.client.Set(ctx, x.keyFor(roomID), x.instanceAddress, x.keyTTL).Err(); err != nil {
			l := log.L()
			l.Error().Str(log.FieldRoomID, roomID).Err(err).Msg("failed to refresh room claim")
		}
	}
}

// Close stops the heartbeat and closes the redis connection.
func (x *RoomIndex) Close() error {
	if x.cancelHeart != nil {
		x.cancelHeart()
	}
	return x.client.Close()
}
