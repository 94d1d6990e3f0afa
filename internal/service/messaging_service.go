package service

import (
	"context"
	"time"

	"github.com/tripconnect/messaging-service/internal/audit"
	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/delivery"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/hub"
	"github.com/tripconnect/messaging-service/internal/offline"
	"github.com/tripconnect/messaging-service/internal/pipeline"
	"github.com/tripconnect/messaging-service/internal/presence"
	"github.com/tripconnect/messaging-service/internal/ratelimit"
	"github.com/tripconnect/messaging-service/internal/registry"
	"github.com/tripconnect/messaging-service/internal/rooms"
	"github.com/tripconnect/messaging-service/pkg/log"
)

type messagingService struct {
	cfg       *config.Config
	hub       *hub.Hub
	registry  registry.Registry
	directory rooms.Directory
	pipeline  pipeline.Pipeline
	tracker   *delivery.Tracker
	queue     *offline.Queue
	presence  *presence.Broadcaster
	limiter   *ratelimit.Pool
	roomIndex *registry.RoomIndex // nil when redis is not configured
}

// Options wires the messaging service.
type Options struct {
	Config    *config.Config
	Hub       *hub.Hub
	Registry  registry.Registry
	Directory rooms.Directory
	Pipeline  pipeline.Pipeline
	Tracker   *delivery.Tracker
	Queue     *offline.Queue
	Presence  *presence.Broadcaster
	Limiter   *ratelimit.Pool
	RoomIndex *registry.RoomIndex
}

func NewMessagingService(opts Options) MessagingService {
	return &messagingService{
		cfg:       opts.Config,
		hub:       opts.Hub,
		registry:  opts.Registry,
		directory: opts.Directory,
		pipeline:  opts.Pipeline,
		tracker:   opts.Tracker,
		queue:     opts.Queue,
		presence:  opts.Presence,
		limiter:   opts.Limiter,
		roomIndex: opts.RoomIndex,
	}
}

// HandleConnect registers the authenticated session and greets the client.
// Messages queued while the user was away drain immediately after.
func (s *messagingService) HandleConnect(ctx context.Context, c *hub.Client) error {
	if err := s.registry.Register(c.Session); err != nil {
		return err
	}

	audit.Log(ctx, audit.ActionConnect, c.Session.UserID, "websocket connected")

	err := c.SendEvent(&domain.ConnectedEvent{
		Event:     domain.EventConnected,
		SessionID: c.Session.ID,
		UserID:    c.Session.UserID,
	})
	if err != nil {
		return err
	}

	s.drainQueued(c.Session.UserID)
	return nil
}

// HandleMessage runs a submission through the pipeline and echoes the
// committed message back to the sender with its assigned id.
func (s *messagingService) HandleMessage(ctx context.Context, c *hub.Client, ev domain.SendMessageEvent) error {
	msg, err := s.pipeline.Send(ctx, pipeline.SendRequest{
		RoomID:          ev.RoomID,
		SenderID:        c.Session.UserID,
		SenderName:      c.Session.Username,
		OriginSessionID: c.Session.ID,
		Type:            ev.Type,
		Content:         ev.Content,
		Metadata:        ev.Metadata,
		Attachments:     ev.Attachments,
		ReplyTo:         ev.ReplyTo,
		AIContext:       ev.AIContext,
	})
	if err != nil {
		return c.SendEvent(errorEventFor(err))
	}

	audit.LogWithTarget(ctx, audit.ActionSendMessage, c.Session.UserID, msg.ID, "message sent")

	return c.SendEvent(&domain.MessageEvent{Event: domain.EventMessage, Message: msg})
}

func (s *messagingService) HandleTyping(ctx context.Context, c *hub.Client, ev domain.TypingEvent) error {
	if ok, _ := s.limiter.Allow(c.Session.UserID, ev.RoomID, ratelimit.ActionTyping); !ok {
		// Typing is advisory; a limited signal is silently dropped.
		return nil
	}
	if !c.Session.InRoom(ev.RoomID) {
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeNotAMember, "not joined to room"))
	}

	s.presence.Typing(ev.RoomID, c.Session.UserID, c.Session.ID, ev.IsTyping)
	return nil
}

func (s *messagingService) HandleReadReceipt(ctx context.Context, c *hub.Client, ev domain.ReadReceiptEvent) error {
	if err := s.pipeline.MarkRead(ctx, ev.RoomID, ev.MessageID, c.Session.UserID); err != nil {
		return c.SendEvent(errorEventFor(err))
	}
	s.tracker.Read(ev.MessageID, c.Session.UserID)
	return nil
}

func (s *messagingService) HandleDeliveryAck(_ context.Context, c *hub.Client, ev domain.DeliveryAckEvent) error {
	s.tracker.Ack(ev.MessageID, c.Session.UserID)
	return nil
}

// HandleHeartbeat records liveness and round trip, then echoes the client
// timestamp back. A link that recovered to an acceptable tier gets its
// queued messages replayed.
func (s *messagingService) HandleHeartbeat(_ context.Context, c *hub.Client, ev domain.HeartbeatEvent) error {
	var rtt time.Duration
	if ev.SentAtMS > 0 {
		rtt = time.Since(time.UnixMilli(ev.SentAtMS))
		if rtt < 0 {
			rtt = 0
		}
	}

	wasAcceptable := c.Session.Quality().Acceptable()
	if err := s.registry.Heartbeat(c.Session.ID, rtt); err != nil {
		return err
	}

	if !wasAcceptable && c.Session.Quality().Acceptable() {
		s.drainQueued(c.Session.UserID)
	}

	return c.SendEvent(&domain.HeartbeatAckEvent{
		Event:    domain.EventHeartbeatAck,
		SentAtMS: ev.SentAtMS,
		ServerMS: time.Now().UnixMilli(),
	})
}

// HandleRoomJoin subscribes the session to a room's live events after a
// membership check.
func (s *messagingService) HandleRoomJoin(ctx context.Context, c *hub.Client, ev domain.RoomJoinEvent) error {
	if _, _, err := s.directory.Membership(ctx, ev.RoomID, c.Session.UserID); err != nil {
		if appErr, ok := domain.AsError(err); ok {
			return c.SendEvent(domain.NewRoomErrorEvent(appErr.Code, appErr.Message))
		}
		return c.SendEvent(domain.NewRoomErrorEvent(domain.ErrCodeInternalError, "internal error"))
	}

	s.hub.JoinRoom(c, ev.RoomID)
	if err := s.registry.Subscribe(c.Session.ID, ev.RoomID); err != nil {
		s.hub.LeaveRoom(c, ev.RoomID)
		return err
	}

	if s.roomIndex != nil {
		if err := s.roomIndex.Announce(ctx, ev.RoomID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, ev.RoomID).Msg("failed to announce room in index")
		}
	}

	audit.LogWithTarget(ctx, audit.ActionJoinRoom, c.Session.UserID, ev.RoomID, "joined room")

	return s.hub.BroadcastToRoom(ev.RoomID, &domain.RoomStateChangeEvent{
		Event:  domain.EventRoomStateChange,
		RoomID: ev.RoomID,
		Change: "joined",
		UserID: c.Session.UserID,
	}, c.Session.ID)
}

// HandleRoomUpdate patches room metadata over the socket. The directory's
// state-change hook broadcasts the update to subscribers.
func (s *messagingService) HandleRoomUpdate(ctx context.Context, c *hub.Client, ev domain.RoomUpdateEvent) error {
	_, err := s.directory.Update(ctx, ev.RoomID, c.Session.UserID, rooms.Patch{
		Name:     ev.Name,
		Settings: ev.Settings,
	})
	if err != nil {
		if appErr, ok := domain.AsError(err); ok {
			return c.SendEvent(domain.NewRoomErrorEvent(appErr.Code, appErr.Message))
		}
		return c.SendEvent(domain.NewRoomErrorEvent(domain.ErrCodeInternalError, "internal error"))
	}

	audit.LogWithTarget(ctx, audit.ActionUpdateRoom, c.Session.UserID, ev.RoomID, "room updated")
	return nil
}

func (s *messagingService) HandleRoomLeave(ctx context.Context, c *hub.Client, ev domain.RoomLeaveEvent) error {
	s.leaveRoom(ctx, c.Session, c, ev.RoomID)
	audit.LogWithTarget(ctx, audit.ActionLeaveRoom, c.Session.UserID, ev.RoomID, "left room")
	return nil
}

// HandleDisconnect tears the session down after the hub drops the client.
func (s *messagingService) HandleDisconnect(sessionID string) {
	session, ok := s.registry.Session(sessionID)
	if !ok {
		return
	}

	ctx := context.Background()
	for _, roomID := range session.SubscribedRooms() {
		s.withdrawIfEmpty(ctx, roomID)
	}
	s.registry.MarkDisconnected(sessionID)

	audit.Log(ctx, audit.ActionDisconnect, session.UserID, "websocket disconnected")
}

func (s *messagingService) leaveRoom(ctx context.Context, session *domain.ConnectionSession, c *hub.Client, roomID string) {
	s.hub.LeaveRoom(c, roomID)
	s.registry.Unsubscribe(session.ID, roomID)
	s.withdrawIfEmpty(ctx, roomID)

	s.hub.BroadcastToRoom(roomID, &domain.RoomStateChangeEvent{
		Event:  domain.EventRoomStateChange,
		RoomID: roomID,
		Change: "left",
		UserID: session.UserID,
	}, session.ID)
}

func (s *messagingService) withdrawIfEmpty(ctx context.Context, roomID string) {
	if s.roomIndex == nil {
		return
	}
	if s.hub.RoomClientCount(roomID) > 0 {
		return
	}
	if err := s.roomIndex.Withdraw(ctx, roomID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to withdraw room from index")
	}
}

// drainQueued replays the user's offline queue through their healthiest
// session.
func (s *messagingService) drainQueued(userID string) {
	s.queue.Drain(userID, func(msg *domain.Message) bool {
		for _, session := range s.registry.SessionsOfUser(userID) {
			if !session.Quality().Acceptable() {
				continue
			}
			if s.hub.SendToSession(session.ID, &domain.MessageEvent{
				Event:   domain.EventMessage,
				Message: msg,
			}) {
				return true
			}
		}
		return false
	})
}

// NewDeliveryNotifier builds the tracker callback that pushes aggregate
// status changes to every live session of the sender.
func NewDeliveryNotifier(reg registry.Registry, h *hub.Hub) func(delivery.StatusChange) {
	return func(change delivery.StatusChange) {
		event := &domain.DeliveryStatusEvent{
			Event:     domain.EventDeliveryAck,
			MessageID: change.MessageID,
			Status:    change.Status,
		}
		for _, session := range reg.SessionsOfUser(change.SenderID) {
			h.SendToSession(session.ID, event)
		}
	}
}

func (s *messagingService) Start(ctx context.Context) error {
	s.registry.Start()
	s.tracker.Start()
	s.presence.Start()
	if s.roomIndex != nil {
		s.roomIndex.StartHeartbeat(ctx)
	}
	log.L().Info().Msg("messaging service started")
	return nil
}

func (s *messagingService) Stop() error {
	s.presence.Stop()
	s.tracker.Stop()
	s.registry.Stop()
	s.pipeline.Close()
	if s.roomIndex != nil {
		if err := s.roomIndex.Close(); err != nil {
			log.L().Warn().Err(err).Msg("failed to close room index")
		}
	}
	return nil
}

// errorEventFor translates a pipeline error into its wire representation.
func errorEventFor(err error) *domain.ErrorEvent {
	appErr, ok := domain.AsError(err)
	if !ok {
		return domain.NewErrorEvent(domain.ErrCodeInternalError, "internal error")
	}

	event := &domain.ErrorEvent{
		Event:         domain.EventError,
		Code:          appErr.Code,
		Message:       appErr.Message,
		CorrelationID: appErr.CorrelationID,
	}
	if appErr.Kind == domain.KindRateLimit {
		event.Code = domain.ErrCodeRateLimited
		event.RetryAfterSec = int(appErr.RetryAfter.Seconds() + 0.5)
		if event.RetryAfterSec < 1 {
			event.RetryAfterSec = 1
		}
	}
	return event
}
