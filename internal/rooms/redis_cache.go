package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
)

// RedisCache caches room lookups. Invalidation happens on every directory
// write; TTL covers whatever invalidation misses.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redis and returns a room cache.
func NewRedisCache(cfg config.RedisConfig, prefix string) (*RedisCache, error) {
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

	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) key(roomID string) string {
	return fmt.Sprintf("%s:room:%s", c.prefix, roomID)
}

func (c *RedisCache) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	data, err := c.client.Get(ctx, c.key(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cached room: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached room: %w", err)
	}
	return &room, nil
}

func (c *RedisCache) Set(ctx context.Context, room *domain.Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	if err := c.client.Set(ctx, c.key(room.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache room: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, roomID string) error {
	if err := c.client.Del(ctx, c.key(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached room: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
