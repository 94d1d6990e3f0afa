package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripconnect/messaging-service/internal/domain"
)

func newTestRegistry() Registry {
	return New(Config{
		HeartbeatInterval: 30 * time.Second,
		MissedHeartbeats:  2,
		UpdateBuffer:      16,
	})
}

func TestRegisterRejectsDuplicateSession(t *testing.T) {
	r := newTestRegistry()

	s := domain.NewConnectionSession("s1", "alice", "Alice")
	require.NoError(t, r.Register(s))
	assert.ErrorIs(t, r.Register(s), ErrSessionExists)
}

func TestSubscribeTracksRoomMembership(t *testing.T) {
	r := newTestRegistry()

	s1 := domain.NewConnectionSession("s1", "alice", "Alice")
	s2 := domain.NewConnectionSession("s2", "bob", "Bob")
	require.NoError(t, r.Register(s1))
	require.NoError(t, r.Register(s2))

	require.NoError(t, r.Subscribe("s1", "room-1"))
	require.NoError(t, r.Subscribe("s2", "room-1"))

	assert.Len(t, r.ConnectedInRoom("room-1"), 2)
	assert.True(t, r.UserOnlineInRoom("room-1", "alice"))

	r.Unsubscribe("s1", "room-1")
	assert.Len(t, r.ConnectedInRoom("room-1"), 1)
	assert.False(t, r.UserOnlineInRoom("room-1", "alice"))
}

func TestSubscribeUnknownSessionFails(t *testing.T) {
	r := newTestRegistry()
	assert.ErrorIs(t, r.Subscribe("ghost", "room-1"), ErrSessionNotFound)
}

func TestMarkDisconnectedRemovesFromRooms(t *testing.T) {
	r := newTestRegistry()

	s := domain.NewConnectionSession("s1", "alice", "Alice")
	require.NoError(t, r.Register(s))
	require.NoError(t, r.Subscribe("s1", "room-1"))

	r.MarkDisconnected("s1")

	assert.Empty(t, r.ConnectedInRoom("room-1"))
	assert.Equal(t, domain.QualityDisconnected, r.Quality("s1"))
	_, ok := r.Session("s1")
	assert.False(t, ok)
}

func TestPresenceUpdatesFlowOnRegisterAndDisconnect(t *testing.T) {
	r := newTestRegistry()

	s := domain.NewConnectionSession("s1", "alice", "Alice")
	require.NoError(t, r.Register(s))
	require.NoError(t, r.Subscribe("s1", "room-1"))
	r.MarkDisconnected("s1")

	online := <-r.Updates()
	assert.True(t, online.Online)
	assert.Equal(t, "alice", online.UserID)

	offline := <-r.Updates()
	assert.False(t, offline.Online)
	assert.Equal(t, []string{"room-1"}, offline.Rooms)
}

func TestSessionsOfUserSpansDevices(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(domain.NewConnectionSession("s1", "alice", "Alice")))
	require.NoError(t, r.Register(domain.NewConnectionSession("s2", "alice", "Alice")))
	require.NoError(t, r.Register(domain.NewConnectionSession("s3", "bob", "Bob")))

	assert.Len(t, r.SessionsOfUser("alice"), 2)
	assert.Len(t, r.SessionsOfUser("bob"), 1)
	assert.Empty(t, r.SessionsOfUser("carol"))
}

func TestQualityDerivesFromHeartbeatLatency(t *testing.T) {
	r := newTestRegistry()

	s := domain.NewConnectionSession("s1", "alice", "Alice")
	require.NoError(t, r.Register(s))

	// Low, stable latency.
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Heartbeat("s1", 40*time.Millisecond))
	}
	assert.Equal(t, domain.QualityExcellent, r.Quality("s1"))

	// Higher but still stable latency.
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Heartbeat("s1", 150*time.Millisecond))
	}
	assert.Equal(t, domain.QualityGood, r.Quality("s1"))

	// Slow round trips degrade the tier.
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Heartbeat("s1", 400*time.Millisecond))
	}
	assert.Equal(t, domain.QualityPoor, r.Quality("s1"))
}

func TestQualityUnstableJitterIsPoor(t *testing.T) {
	r := newTestRegistry()

	s := domain.NewConnectionSession("s1", "alice", "Alice")
	require.NoError(t, r.Register(s))

	rtts := []time.Duration{
		10 * time.Millisecond,
		90 * time.Millisecond,
		10 * time.Millisecond,
		90 * time.Millisecond,
		10 * time.Millisecond,
	}
	for _, rtt := range rtts {
		require.NoError(t, r.Heartbeat("s1", rtt))
	}
	assert.Equal(t, domain.QualityPoor, r.Quality("s1"))
}
