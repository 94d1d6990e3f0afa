package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/hub"
)

// stubService records dispatched events.
type stubService struct {
	messages []domain.SendMessageEvent
	updates  []domain.RoomUpdateEvent
	joins    []domain.RoomJoinEvent
}

func (s *stubService) HandleConnect(context.Context, *hub.Client) error { return nil }

func (s *stubService) HandleMessage(_ context.Context, _ *hub.Client, ev domain.SendMessageEvent) error {
	s.messages = append(s.messages, ev)
	return nil
}

func (s *stubService) HandleTyping(context.Context, *hub.Client, domain.TypingEvent) error {
	return nil
}

func (s *stubService) HandleReadReceipt(context.Context, *hub.Client, domain.ReadReceiptEvent) error {
	return nil
}

func (s *stubService) HandleDeliveryAck(context.Context, *hub.Client, domain.DeliveryAckEvent) error {
	return nil
}

func (s *stubService) HandleHeartbeat(context.Context, *hub.Client, domain.HeartbeatEvent) error {
	return nil
}

func (s *stubService) HandleRoomJoin(_ context.Context, _ *hub.Client, ev domain.RoomJoinEvent) error {
	s.joins = append(s.joins, ev)
	return nil
}

func (s *stubService) HandleRoomLeave(context.Context, *hub.Client, domain.RoomLeaveEvent) error {
	return nil
}

func (s *stubService) HandleRoomUpdate(_ context.Context, _ *hub.Client, ev domain.RoomUpdateEvent) error {
	s.updates = append(s.updates, ev)
	return nil
}

func (s *stubService) HandleDisconnect(string) {}

func (s *stubService) Start(context.Context) error { return nil }

func (s *stubService) Stop() error { return nil }

func newDispatchFixture(t *testing.T) (*WSHandler, *stubService, *hub.Client) {
	t.Helper()
	wsCfg := config.WebSocketConfig{
		SendBufferSize:    16,
		HeartbeatInterval: time.Second,
		WriteWait:         time.Second,
		MaxMessageSize:    4096,
	}
	svc := &stubService{}
	h := hub.NewHub(wsCfg, nil)
	handler := NewWSHandler(h, svc, nil, wsCfg)
	client := hub.NewClient(domain.NewConnectionSession("sess-1", "alice", "alice"), h, nil, wsCfg)
	return handler, svc, client
}

func TestDispatchMessage(t *testing.T) {
	handler, svc, client := newDispatchFixture(t)

	handler.handleEvent(client, []byte(`{"event":"message","room_id":"room-1","type":"text","content":"hi"}`))

	require.Len(t, svc.messages, 1)
	assert.Equal(t, "room-1", svc.messages[0].RoomID)
	assert.Equal(t, "hi", svc.messages[0].Content)
}

func TestDispatchRoomUpdate(t *testing.T) {
	handler, svc, client := newDispatchFixture(t)

	handler.handleEvent(client, []byte(`{"event":"room:update","room_id":"room-1","name":"new name"}`))

	require.Len(t, svc.updates, 1)
	assert.Equal(t, "room-1", svc.updates[0].RoomID)
	require.NotNil(t, svc.updates[0].Name)
	assert.Equal(t, "new name", *svc.updates[0].Name)
}

func TestDispatchUnknownEvent(t *testing.T) {
	handler, _, client := newDispatchFixture(t)

	handler.handleEvent(client, []byte(`{"event":"teleport"}`))

	select {
	case data := <-client.Send:
		var ev domain.ErrorEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, domain.ErrCodeUnknownEvent, ev.Code)
	default:
		t.Fatal("expected an error event")
	}
}
