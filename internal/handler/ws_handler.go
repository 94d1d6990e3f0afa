package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/hub"
	"github.com/tripconnect/messaging-service/internal/service"
	"github.com/tripconnect/messaging-service/pkg/jwt"
	"github.com/tripconnect/messaging-service/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades authenticated connections and dispatches client events
// to the messaging service.
type WSHandler struct {
	hub       *hub.Hub
	service   service.MessagingService
	validator *jwt.Validator
	wsCfg     config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.MessagingService, validator *jwt.Validator, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:       h,
		service:   svc,
		validator: validator,
		wsCfg:     wsCfg,
	}
}

// HandleWebSocket authenticates the request, upgrades it, and starts the
// client's pumps. The token rides the Authorization header or, for browser
// clients, a query parameter.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	claims, err := h.validator.Validate(token)
	if err != nil {
		log.Ctx(c.Request.Context()).Debug().Err(err).Msg("websocket auth rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := domain.NewConnectionSession(uuid.New().String(), claims.UserID, claims.Username)
	client := hub.NewClient(session, h.hub, conn, h.wsCfg)

	h.hub.Register(client)

	if err := h.service.HandleConnect(context.Background(), client); err != nil {
		log.L().Warn().Err(err).
			Str(log.FieldSessionID, session.ID).
			Msg("connect handling failed")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(h.handleEvent)
}

func (h *WSHandler) handleEvent(client *hub.Client, message []byte) {
	var envelope domain.Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		client.SendEvent(domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid event format"))
		return
	}

	ctx := log.WithLogger(context.Background(), log.L().With().
		Str(log.FieldSessionID, client.Session.ID).
		Str(log.FieldUserID, client.Session.UserID).
		Logger())

	switch envelope.Event {
	case domain.EventMessage:
		var ev domain.SendMessageEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleMessage(ctx, client, ev)
		})

	case domain.EventTyping:
		var ev domain.TypingEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleTyping(ctx, client, ev)
		})

	case domain.EventReadReceipt:
		var ev domain.ReadReceiptEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleReadReceipt(ctx, client, ev)
		})

	case domain.EventDeliveryAck:
		var ev domain.DeliveryAckEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleDeliveryAck(ctx, client, ev)
		})

	case domain.EventHeartbeat:
		var ev domain.HeartbeatEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleHeartbeat(ctx, client, ev)
		})

	case domain.EventRoomJoin:
		var ev domain.RoomJoinEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleRoomJoin(ctx, client, ev)
		})

	case domain.EventRoomLeave:
		var ev domain.RoomLeaveEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleRoomLeave(ctx, client, ev)
		})

	case domain.EventRoomUpdate:
		var ev domain.RoomUpdateEvent
		if !decode(client, message, &ev) {
			return
		}
		h.dispatch(ctx, client, envelope.Event, func() error {
			return h.service.HandleRoomUpdate(ctx, client, ev)
		})

	default:
		client.SendEvent(domain.NewErrorEvent(domain.ErrCodeUnknownEvent, "unknown event type"))
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *hub.Client, event string, fn func() error) {
	if err := fn(); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("event", event).
			Msg("event handling failed")
	}
}

func decode(client *hub.Client, message []byte, ev interface{}) bool {
	if err := json.Unmarshal(message, ev); err != nil {
		client.SendEvent(domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid event payload"))
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WSHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", h.HandleWebSocket)
}
