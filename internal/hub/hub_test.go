package hub

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		SendBufferSize:    16,
		HeartbeatInterval: time.Second,
		MissedHeartbeats:  2,
		WriteWait:         time.Second,
		MaxMessageSize:    4096,
	}
}

// newTestClient builds a client with no underlying socket; tests read the
// Send channel directly instead of running the pumps.
func newTestClient(h *Hub, sessionID, userID string) *Client {
	session := domain.NewConnectionSession(sessionID, userID, userID)
	return NewClient(session, h, nil, testWSConfig())
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(time.Second):
		t.Fatalf("session %s received nothing", c.ID)
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("session %s unexpectedly received %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendToSession(t *testing.T) {
	h := NewHub(testWSConfig(), nil)
	go h.Run()

	c := newTestClient(h, "sess-1", "alice")
	h.Register(c)

	require.Eventually(t, func() bool {
		return h.SendToSession("sess-1", map[string]string{"event": "connected"})
	}, time.Second, 5*time.Millisecond)

	var got map[string]string
	require.NoError(t, json.Unmarshal(receive(t, c), &got))
	assert.Equal(t, "connected", got["event"])

	assert.False(t, h.SendToSession("sess-unknown", "x"))
}

func TestBroadcastToRoomExcludesSession(t *testing.T) {
	h := NewHub(testWSConfig(), nil)
	go h.Run()

	origin := newTestClient(h, "sess-1", "alice")
	peer := newTestClient(h, "sess-2", "bob")
	outsider := newTestClient(h, "sess-3", "carol")
	for _, c := range []*Client{origin, peer, outsider} {
		h.Register(c)
	}
	h.JoinRoom(origin, "room-a")
	h.JoinRoom(peer, "room-a")

	require.NoError(t, h.BroadcastToRoom("room-a", map[string]string{"event": "typing"}, "sess-1"))

	var got map[string]string
	require.NoError(t, json.Unmarshal(receive(t, peer), &got))
	assert.Equal(t, "typing", got["event"])
	assertSilent(t, origin)
	assertSilent(t, outsider)
}

func TestLeaveRoomStopsBroadcasts(t *testing.T) {
	h := NewHub(testWSConfig(), nil)
	go h.Run()

	c := newTestClient(h, "sess-1", "alice")
	h.Register(c)
	h.JoinRoom(c, "room-a")
	assert.Equal(t, 1, h.RoomClientCount("room-a"))

	h.LeaveRoom(c, "room-a")
	assert.Equal(t, 0, h.RoomClientCount("room-a"))

	require.NoError(t, h.BroadcastToRoom("room-a", map[string]string{"event": "message"}, ""))
	assertSilent(t, c)
}

func TestUnregisterClosesSendAndNotifies(t *testing.T) {
	disconnected := make(chan string, 1)
	h := NewHub(testWSConfig(), func(sessionID string) { disconnected <- sessionID })
	go h.Run()

	c := newTestClient(h, "sess-1", "alice")
	h.Register(c)
	h.JoinRoom(c, "room-a")

	h.Unregister(c)

	select {
	case id := <-disconnected:
		assert.Equal(t, "sess-1", id)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}

	_, open := <-c.Send
	assert.False(t, open)
	assert.Equal(t, 0, h.RoomClientCount("room-a"))
}

// Sends racing an unregister must miss or land in the buffer, never hit a
// closed channel.
func TestSendToSessionDuringUnregister(t *testing.T) {
	h := NewHub(testWSConfig(), nil)
	go h.Run()

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("sess-%d", i)
		c := newTestClient(h, id, "alice")
		h.Register(c)
		require.Eventually(t, func() bool {
			return h.SendToSession(id, "ping")
		}, time.Second, time.Millisecond)

		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				default:
					h.SendToSession(id, "ping")
				}
			}
		}()

		h.Unregister(c)
		require.Eventually(t, func() bool {
			return !h.SendToSession(id, "ping")
		}, time.Second, time.Millisecond)
		close(done)
	}
}
