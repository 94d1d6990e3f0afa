package hub

import (
	"encoding/json"
	"sync"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// Hub owns the live clients of this instance and fans events out to room
// subscribers. All membership/permission decisions happen upstream; the hub
// only routes bytes.
type Hub struct {
	clients    map[string]*Client            // sessionID -> client
	rooms      map[string]map[string]*Client // roomID -> sessionID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEnvelope
	mu         sync.RWMutex
	cfg        config.WebSocketConfig

	onDisconnect func(sessionID string)
}

type roomEnvelope struct {
	roomID  string
	payload []byte
	exclude string // sessionID to skip
}

// NewHub creates a hub. onDisconnect fires after a client is torn down so
// the session registry and presence layer can react.
func NewHub(cfg config.WebSocketConfig, onDisconnect func(sessionID string)) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		rooms:        make(map[string]map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *roomEnvelope, 256),
		cfg:          cfg,
		onDisconnect: onDisconnect,
	}
}

// Run processes register/unregister/broadcast until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			_, known := h.clients[client.ID]
			if known {
				for roomID, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, roomID)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()

			if known && h.onDisconnect != nil {
				h.onDisconnect(client.ID)
			}

		case env := <-h.broadcast:
			h.mu.RLock()
			for sessionID, client := range h.rooms[env.roomID] {
				if sessionID == env.exclude {
					continue
				}
				select {
				case client.Send <- env.payload:
				default:
					// Send buffer full: the connection is not keeping up.
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom subscribes a client to a room's broadcasts.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client
}

// LeaveRoom unsubscribes a client from a room.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[roomID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// BroadcastToRoom fans an event out to a room's subscribers, optionally
// excluding one session. The broadcast channel is bounded; when it is full
// the event is dropped rather than blocking the caller.
func (h *Hub) BroadcastToRoom(roomID string, event interface{}, excludeSessionID string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- &roomEnvelope{roomID: roomID, payload: data, exclude: excludeSessionID}:
	default:
		l := log.L()
		l.Warn().Str(log.FieldRoomID, roomID).Msg("broadcast dropped: hub backlog full")
	}
	return nil
}

// SendToSession delivers an event to one specific session, if connected.
// Returns false when the session is not on this instance. The lock is held
// across the send: unregister closes the Send channel under the write lock,
// so the channel cannot close between the lookup and the send.
func (h *Hub) SendToSession(sessionID string, event interface{}) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return false
	}
	select {
	case client.Send <- data:
	default:
		// Full buffer drops the event; slow consumers are cut loose by
		// the broadcast path.
	}
	return true
}

// RoomClientCount returns the number of clients subscribed to a room.
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
