package service

import (
	"context"

	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/hub"
)

// MessagingService handles the websocket event surface: one method per
// client event, plus lifecycle hooks.
type MessagingService interface {
	HandleConnect(ctx context.Context, client *hub.Client) error
	HandleMessage(ctx context.Context, client *hub.Client, ev domain.SendMessageEvent) error
	HandleTyping(ctx context.Context, client *hub.Client, ev domain.TypingEvent) error
	HandleReadReceipt(ctx context.Context, client *hub.Client, ev domain.ReadReceiptEvent) error
	HandleDeliveryAck(ctx context.Context, client *hub.Client, ev domain.DeliveryAckEvent) error
	HandleHeartbeat(ctx context.Context, client *hub.Client, ev domain.HeartbeatEvent) error
	HandleRoomJoin(ctx context.Context, client *hub.Client, ev domain.RoomJoinEvent) error
	HandleRoomLeave(ctx context.Context, client *hub.Client, ev domain.RoomLeaveEvent) error
	HandleRoomUpdate(ctx context.Context, client *hub.Client, ev domain.RoomUpdateEvent) error
	HandleDisconnect(sessionID string)

	Start(ctx context.Context) error
	Stop() error
}
