package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripconnect/messaging-service/internal/config"
)

func TestAllowWithinBurst(t *testing.T) {
	p := NewPool(config.RateLimitConfig{MessagesPerMinute: 5})

	for i := 0; i < 5; i++ {
		ok, _ := p.Allow("alice", "room-1", ActionMessage)
		assert.True(t, ok, "send %d should pass", i+1)
	}
}

func TestDenyReturnsRetryHint(t *testing.T) {
	p := NewPool(config.RateLimitConfig{MessagesPerMinute: 2})

	p.Allow("alice", "room-1", ActionMessage)
	p.Allow("alice", "room-1", ActionMessage)

	ok, wait := p.Allow("alice", "room-1", ActionMessage)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

func TestBucketsAreIndependent(t *testing.T) {
	p := NewPool(config.RateLimitConfig{MessagesPerMinute: 1, TypingPerMinute: 1})

	ok, _ := p.Allow("alice", "room-1", ActionMessage)
	assert.True(t, ok)
	ok, _ = p.Allow("alice", "room-1", ActionMessage)
	assert.False(t, ok)

	// Other users, rooms and actions keep their own buckets.
	ok, _ = p.Allow("bob", "room-1", ActionMessage)
	assert.True(t, ok)
	ok, _ = p.Allow("alice", "room-2", ActionMessage)
	assert.True(t, ok)
	ok, _ = p.Allow("alice", "room-1", ActionTyping)
	assert.True(t, ok)
}

func TestUnconfiguredActionIsUnlimited(t *testing.T) {
	p := NewPool(config.RateLimitConfig{})

	for i := 0; i < 100; i++ {
		ok, wait := p.Allow("alice", "room-1", ActionMessage)
		assert.True(t, ok)
		assert.Zero(t, wait)
	}
}
