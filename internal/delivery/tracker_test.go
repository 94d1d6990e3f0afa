package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripconnect/messaging-service/internal/domain"
)

func testMessage(id string) *domain.Message {
	return &domain.Message{
		ID:       id,
		RoomID:   "room-1",
		SenderID: "sender",
	}
}

func TestTrackerAggregateFollowsSlowestRecipient(t *testing.T) {
	var changes []StatusChange
	tr := NewTracker(30*time.Second, func(c StatusChange) { changes = append(changes, c) })

	tr.Open(testMessage("m1"), []string{"u1", "u2"})
	assert.Equal(t, domain.MessageStatusSent, tr.Aggregate("m1"))

	tr.Ack("m1", "u1")
	assert.Equal(t, domain.MessageStatusSent, tr.Aggregate("m1"))
	assert.Empty(t, changes)

	tr.Ack("m1", "u2")
	require.Len(t, changes, 1)
	assert.Equal(t, domain.MessageStatusDelivered, changes[0].Status)
	assert.Equal(t, "sender", changes[0].SenderID)

	tr.Read("m1", "u1")
	tr.Read("m1", "u2")
	require.Len(t, changes, 2)
	assert.Equal(t, domain.MessageStatusRead, tr.Aggregate("m1"))
}

func TestTrackerTransitionsAreIdempotent(t *testing.T) {
	count := 0
	tr := NewTracker(30*time.Second, func(StatusChange) { count++ })

	tr.Open(testMessage("m1"), []string{"u1"})
	tr.Ack("m1", "u1")
	tr.Ack("m1", "u1")
	tr.Ack("m1", "u1")

	assert.Equal(t, 1, count)
	assert.Equal(t, domain.MessageStatusDelivered, tr.Aggregate("m1"))

	tr.Read("m1", "u1")
	tr.Read("m1", "u1")

	assert.Equal(t, 2, count)
	assert.Equal(t, domain.MessageStatusRead, tr.Aggregate("m1"))
}

func TestTrackerLateAckNeverDemotesRead(t *testing.T) {
	tr := NewTracker(30*time.Second, nil)

	tr.Open(testMessage("m1"), []string{"u1"})
	tr.Read("m1", "u1")
	tr.Ack("m1", "u1")

	states := tr.Recipients("m1")
	assert.Equal(t, StateRead, states["u1"])
	assert.Equal(t, domain.MessageStatusRead, tr.Aggregate("m1"))
}

func TestTrackerReadImpliesDelivered(t *testing.T) {
	tr := NewTracker(30*time.Second, nil)

	tr.Open(testMessage("m1"), []string{"u1"})
	tr.Read("m1", "u1")

	assert.Equal(t, domain.MessageStatusRead, tr.Aggregate("m1"))
}

func TestTrackerNoRecipientsIsDelivered(t *testing.T) {
	tr := NewTracker(30*time.Second, nil)
	tr.Open(testMessage("m1"), nil)
	assert.Equal(t, domain.MessageStatusDelivered, tr.Aggregate("m1"))
}

func TestTrackerUnknownMessageIgnored(t *testing.T) {
	tr := NewTracker(30*time.Second, nil)
	tr.Ack("missing", "u1")
	assert.Equal(t, domain.MessageStatusSent, tr.Aggregate("missing"))
}

func TestTrackerTimeoutFailsPendingRecipients(t *testing.T) {
	var changes []StatusChange
	tr := NewTracker(time.Second, func(c StatusChange) { changes = append(changes, c) })

	tr.Open(testMessage("m1"), []string{"u1", "u2"})
	tr.Ack("m1", "u1")

	tr.sweep(time.Now().Add(2 * time.Second))

	states := tr.Recipients("m1")
	assert.Equal(t, StateDelivered, states["u1"])
	assert.Equal(t, StateFailed, states["u2"])
	require.NotEmpty(t, changes)
	assert.Equal(t, domain.MessageStatusFailed, tr.Aggregate("m1"))
}

func TestTrackerFailedRecipientRecoversOnAck(t *testing.T) {
	tr := NewTracker(time.Second, nil)

	tr.Open(testMessage("m1"), []string{"u1"})
	tr.sweep(time.Now().Add(2 * time.Second))
	assert.Equal(t, domain.MessageStatusFailed, tr.Aggregate("m1"))

	tr.Ack("m1", "u1")
	assert.Equal(t, domain.MessageStatusDelivered, tr.Aggregate("m1"))
}

func TestTrackerFailOnlyAffectsPending(t *testing.T) {
	tr := NewTracker(30*time.Second, nil)

	tr.Open(testMessage("m1"), []string{"u1", "u2"})
	tr.Ack("m1", "u1")
	tr.Fail("m1", "u1")
	tr.Fail("m1", "u2")

	states := tr.Recipients("m1")
	assert.Equal(t, StateDelivered, states["u1"])
	assert.Equal(t, StateFailed, states["u2"])
	assert.Equal(t, domain.MessageStatusFailed, tr.Aggregate("m1"))
}

func TestTrackerSweepDropsOldRecords(t *testing.T) {
	tr := NewTracker(time.Second, nil)

	tr.Open(testMessage("m1"), []string{"u1"})
	tr.sweep(time.Now().Add(2 * time.Hour))

	assert.Nil(t, tr.Recipients("m1"))
}
