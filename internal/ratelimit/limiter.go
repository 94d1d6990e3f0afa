package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripconnect/messaging-service/internal/config"
)

// Rate-limited actions.
const (
	ActionMessage = "message"
	ActionTyping  = "typing"
	ActionReceipt = "receipt"
)

// Pool holds one token bucket per user, room and action. Buckets that stay
// idle are evicted so a busy service does not hold a limiter for every user
// it ever saw.
type Pool struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const idleBucketTTL = 10 * time.Minute

func NewPool(cfg config.RateLimitConfig) *Pool {
	return &Pool{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for the action. When the bucket is empty it
// returns false and a hint for how long the caller should wait.
func (p *Pool) Allow(userID, roomID, action string) (bool, time.Duration) {
	perMinute := p.perMinute(action)
	if perMinute <= 0 {
		return true, 0
	}

	key := userID + ":" + roomID + ":" + action

	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		limit := rate.Limit(float64(perMinute) / 60.0)
		b = &bucket{limiter: rate.NewLimiter(limit, perMinute)}
		p.buckets[key] = b
	}
	b.lastSeen = time.Now()
	if len(p.buckets) > 8192 {
		p.evictIdleLocked()
	}
	p.mu.Unlock()

	if b.limiter.Allow() {
		return true, 0
	}

	reservation := b.limiter.Reserve()
	wait := reservation.Delay()
	reservation.Cancel()
	return false, wait
}

func (p *Pool) perMinute(action string) int {
	switch action {
	case ActionMessage:
		return p.cfg.MessagesPerMinute
	case ActionTyping:
		return p.cfg.TypingPerMinute
	case ActionReceipt:
		return p.cfg.ReceiptsPerMinute
	}
	return 0
}

func (p *Pool) evictIdleLocked() {
	cutoff := time.Now().Add(-idleBucketTTL)
	for key, b := range p.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(p.buckets, key)
		}
	}
}
