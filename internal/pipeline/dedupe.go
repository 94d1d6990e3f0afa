package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
)

// ContentHash builds the dedup key for a submission. Content is normalized
// and the timestamp coarsened to the window so two rapid identical sends
// land on the same key.
func ContentHash(senderID, roomID, content string, at time.Time, window time.Duration) string {
	bucket := int64(0)
	if secs := int64(window / time.Second); secs > 0 {
		bucket = at.Unix() / secs
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		senderID, roomID, domain.NormalizeContent(content), bucket)))
	return hex.EncodeToString(sum[:])
}

// RedisDedupIndex claims hashes with SET NX so the check works across
// instances.
type RedisDedupIndex struct {
	client *redis.Client
	prefix string
}

// releaseScript deletes the key only while the caller still owns it, so an
// instance cannot drop a claim that has since been re-taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisDedupIndex(cfg config.RedisConfig) (*RedisDedupIndex, error) {
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

	return &RedisDedupIndex{client: client, prefix: cfg.IndexPrefix}, nil
}

func (d *RedisDedupIndex) Close() error {
	return d.client.Close()
}

func (d *RedisDedupIndex) Reserve(ctx context.Context, hash, messageID string, window time.Duration) (string, bool, error) {
	key := d.prefix + ":dedup:" + hash

	ok, err := d.client.SetNX(ctx, key, messageID, window).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve dedup key: %w", err)
	}
	if ok {
		return "", false, nil
	}

	existing, err := d.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Claim expired between SetNX and Get; treat as fresh.
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read dedup key: %w", err)
	}
	return existing, true, nil
}

func (d *RedisDedupIndex) Release(ctx context.Context, hash, messageID string) error {
	key := d.prefix + ":dedup:" + hash
	if err := releaseScript.Run(ctx, d.client, []string{key}, messageID).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}
	return nil
}

// MemoryDedupIndex is the single-node index used when redis is not
// configured, and in tests.
type MemoryDedupIndex struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
	now     func() time.Time
}

type dedupEntry struct {
	messageID string
	expiresAt time.Time
}

func NewMemoryDedupIndex() *MemoryDedupIndex {
	return &MemoryDedupIndex{
		entries: make(map[string]dedupEntry),
		now:     time.Now,
	}
}

func (d *MemoryDedupIndex) Reserve(_ context.Context, hash, messageID string, window time.Duration) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if entry, ok := d.entries[hash]; ok && now.Before(entry.expiresAt) {
		return entry.messageID, true, nil
	}

	d.entries[hash] = dedupEntry{messageID: messageID, expiresAt: now.Add(window)}

	// Opportunistic sweep keeps the map from growing unbounded.
	if len(d.entries) > 4096 {
		for k, e := range d.entries {
			if now.After(e.expiresAt) {
				delete(d.entries, k)
			}
		}
	}
	return "", false, nil
}

func (d *MemoryDedupIndex) Release(_ context.Context, hash, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.entries[hash]; ok && entry.messageID == messageID {
		delete(d.entries, hash)
	}
	return nil
}
