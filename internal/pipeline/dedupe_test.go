package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashNormalizesWhitespace(t *testing.T) {
	at := time.Unix(1_700_000_100, 0)
	a := ContentHash("alice", "room-1", "see  you   there", at, 5*time.Second)
	b := ContentHash("alice", "room-1", " see you there ", at, 5*time.Second)
	assert.Equal(t, a, b)
}

func TestContentHashBucketsByWindow(t *testing.T) {
	window := 5 * time.Second
	at := time.Unix(1_700_000_100, 0)

	same := ContentHash("alice", "room-1", "hi", at.Add(2*time.Second), window)
	assert.Equal(t, ContentHash("alice", "room-1", "hi", at, window), same)

	later := ContentHash("alice", "room-1", "hi", at.Add(10*time.Second), window)
	assert.NotEqual(t, ContentHash("alice", "room-1", "hi", at, window), later)
}

func TestContentHashDistinguishesSenderAndRoom(t *testing.T) {
	at := time.Unix(1_700_000_100, 0)
	base := ContentHash("alice", "room-1", "hi", at, 5*time.Second)
	assert.NotEqual(t, base, ContentHash("bob", "room-1", "hi", at, 5*time.Second))
	assert.NotEqual(t, base, ContentHash("alice", "room-2", "hi", at, 5*time.Second))
}

func TestMemoryDedupReserve(t *testing.T) {
	d := NewMemoryDedupIndex()
	ctx := context.Background()

	existing, dup, err := d.Reserve(ctx, "h1", "msg-1", time.Second)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Empty(t, existing)

	existing, dup, err = d.Reserve(ctx, "h1", "msg-2", time.Second)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "msg-1", existing)
}

func TestMemoryDedupExpires(t *testing.T) {
	d := NewMemoryDedupIndex()
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	_, dup, err := d.Reserve(ctx, "h1", "msg-1", time.Second)
	require.NoError(t, err)
	require.False(t, dup)

	now = now.Add(2 * time.Second)
	existing, dup, err := d.Reserve(ctx, "h1", "msg-2", time.Second)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Empty(t, existing)
}

func TestMemoryDedupRelease(t *testing.T) {
	d := NewMemoryDedupIndex()
	ctx := context.Background()

	_, dup, err := d.Reserve(ctx, "h1", "msg-1", time.Minute)
	require.NoError(t, err)
	require.False(t, dup)

	// A release by a non-owner leaves the claim in place.
	require.NoError(t, d.Release(ctx, "h1", "msg-other"))
	_, dup, err = d.Reserve(ctx, "h1", "msg-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, dup)

	require.NoError(t, d.Release(ctx, "h1", "msg-1"))
	existing, dup, err := d.Reserve(ctx, "h1", "msg-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Empty(t, existing)
}
