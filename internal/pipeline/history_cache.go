package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

var errHistoryCacheMiss = errors.New("history cache miss")

// CachingRepository decorates a MessageRepository with a redis cache over
// history pages. Page 1 always goes to the store so new messages show up
// immediately; deeper pages are immutable enough to cache. Singleflight
// collapses concurrent reads of the same page into one store query.
type CachingRepository struct {
	MessageRepository

	client *redis.Client
	prefix string
	ttl    time.Duration
	sf     singleflight.Group
}

func NewCachingRepository(inner MessageRepository, cfg config.RedisConfig) (*CachingRepository, error) {
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

	return &CachingRepository{
		MessageRepository: inner,
		client:            client,
		prefix:            cfg.IndexPrefix,
		ttl:               cfg.CacheTTL,
	}, nil
}

func (r *CachingRepository) ListByRoom(ctx context.Context, roomID string, page, limit int) ([]*domain.Message, error) {
	if page <= 1 {
		return r.MessageRepository.ListByRoom(ctx, roomID, page, limit)
	}

	key := fmt.Sprintf("%s:history:%s:%d:%d", r.prefix, roomID, page, limit)

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.fetchWithCache(ctx, key, roomID, page, limit)
	})
	if err != nil {
		return nil, err
	}

	msgs, ok := result.([]*domain.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return msgs, nil
}

func (r *CachingRepository) fetchWithCache(ctx context.Context, key, roomID string, page, limit int) ([]*domain.Message, error) {
	cached, err := r.cacheGet(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, errHistoryCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Msg("history cache read failed")
	}

	msgs, err := r.MessageRepository.ListByRoom(ctx, roomID, page, limit)
	if err != nil {
		return nil, err
	}

	// Cache writes stay off the read path.
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.cacheSet(cacheCtx, key, msgs); err != nil {
			log.L().Warn().Err(err).Msg("history cache write failed")
		}
	}()

	return msgs, nil
}

func (r *CachingRepository) cacheGet(ctx context.Context, key string) ([]*domain.Message, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errHistoryCacheMiss
		}
		return nil, err
	}

	var msgs []*domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached history: %w", err)
	}
	return msgs, nil
}

func (r *CachingRepository) cacheSet(ctx context.Context, key string, msgs []*domain.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, r.ttl).Err()
}

func (r *CachingRepository) Close() error {
	if err := r.client.Close(); err != nil {
		log.L().Warn().Err(err).Msg("failed to close history cache client")
	}
	return r.MessageRepository.Close()
}
