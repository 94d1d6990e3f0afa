package offline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
)

func testConfig() config.OfflineConfig {
	return config.OfflineConfig{
		Capacity:   3,
		MaxAge:     5 * time.Minute,
		MaxRetries: 3,
	}
}

func msg(id string) *domain.Message {
	return &domain.Message{ID: id, RoomID: "room-1"}
}

func TestQueueDrainsInOrder(t *testing.T) {
	q := NewQueue(testConfig(), nil)

	q.Enqueue("alice", msg("m1"))
	q.Enqueue("alice", msg("m2"))

	var got []string
	q.Drain("alice", func(m *domain.Message) bool {
		got = append(got, m.ID)
		return true
	})

	assert.Equal(t, []string{"m1", "m2"}, got)
	assert.Equal(t, 0, q.Depth("alice"))
}

func TestQueueEvictsOldestWhenFull(t *testing.T) {
	var dropped []string
	q := NewQueue(testConfig(), func(_ string, m *domain.Message) {
		dropped = append(dropped, m.ID)
	})

	for i := 1; i <= 5; i++ {
		q.Enqueue("alice", msg(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, 3, q.Depth("alice"))
	assert.Equal(t, []string{"m1", "m2"}, dropped)

	var got []string
	q.Drain("alice", func(m *domain.Message) bool {
		got = append(got, m.ID)
		return true
	})
	assert.Equal(t, []string{"m3", "m4", "m5"}, got)
}

func TestQueueRequeuesOnSendFailure(t *testing.T) {
	q := NewQueue(testConfig(), nil)

	q.Enqueue("alice", msg("m1"))
	q.Drain("alice", func(*domain.Message) bool { return false })

	assert.Equal(t, 1, q.Depth("alice"))

	var got []string
	q.Drain("alice", func(m *domain.Message) bool {
		got = append(got, m.ID)
		return true
	})
	assert.Equal(t, []string{"m1"}, got)
}

func TestQueueDropsAfterMaxRetries(t *testing.T) {
	var dropped []string
	q := NewQueue(testConfig(), func(_ string, m *domain.Message) {
		dropped = append(dropped, m.ID)
	})

	q.Enqueue("alice", msg("m1"))
	for i := 0; i < 3; i++ {
		q.Drain("alice", func(*domain.Message) bool { return false })
	}

	assert.Equal(t, 0, q.Depth("alice"))
	assert.Equal(t, []string{"m1"}, dropped)
}

func TestQueueDropsStaleMessages(t *testing.T) {
	var dropped []string
	q := NewQueue(testConfig(), func(_ string, m *domain.Message) {
		dropped = append(dropped, m.ID)
	})

	q.Enqueue("alice", msg("m1"))

	// Push the clock past the max age before draining.
	base := time.Now()
	q.now = func() time.Time { return base.Add(10 * time.Minute) }

	sent := false
	q.Drain("alice", func(*domain.Message) bool {
		sent = true
		return true
	})

	assert.False(t, sent)
	assert.Equal(t, []string{"m1"}, dropped)
}

func TestQueueKeepsUsersIndependent(t *testing.T) {
	q := NewQueue(testConfig(), nil)

	q.Enqueue("alice", msg("m1"))
	q.Enqueue("bob", msg("m2"))

	var got []string
	q.Drain("alice", func(m *domain.Message) bool {
		got = append(got, m.ID)
		return true
	})

	require.Equal(t, []string{"m1"}, got)
	assert.Equal(t, 1, q.Depth("bob"))
}
