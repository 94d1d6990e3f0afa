package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// Client is one websocket connection. ID doubles as the session id.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.ConnectionSession
	cfg     config.WebSocketConfig
}

// NewClient wraps an upgraded connection.
func NewClient(session *domain.ConnectionSession, h *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	bufSize := cfg.SendBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Client{
		ID:      session.ID,
		Hub:     h,
		Conn:    conn,
		Send:    make(chan []byte, bufSize),
		Session: session,
		cfg:     cfg,
	}
}

func (c *Client) readDeadline() time.Duration {
	missed := c.cfg.MissedHeartbeats
	if missed <= 0 {
		missed = 2
	}
	return time.Duration(missed) * c.cfg.HeartbeatInterval
}

// ReadPump consumes inbound frames and hands them to handler. It exits on
// any read error, unregistering the client on the way out.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.readDeadline()))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.readDeadline()))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Debug().Str(log.FieldSessionID, c.ID).Err(err).Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump drains the send channel onto the socket and keeps the transport
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent marshals an event onto the send channel. A full buffer drops the
// event; slow consumers are cut loose by the hub, not parked.
func (c *Client) SendEvent(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
	default:
	}
	return nil
}
