package presence

import (
	"sync"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/registry"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// RoomBroadcaster is what the broadcaster needs from the websocket hub.
type RoomBroadcaster interface {
	BroadcastToRoom(roomID string, event interface{}, excludeSessionID string) error
}

// Roster answers whether a user still has another live session in a room.
type Roster interface {
	UserOnlineInRoom(roomID, userID string) bool
}

// Broadcaster turns registry presence updates and typing signals into room
// broadcasts. Typing indicators clear themselves when the client forgets to
// send a stop.
type Broadcaster struct {
	hub        RoomBroadcaster
	roster     Roster
	updates    <-chan registry.PresenceUpdate
	clearAfter time.Duration

	mu     sync.Mutex
	typing map[string]*time.Timer // room:user -> auto-clear timer

	stop chan struct{}
	done chan struct{}
}

func NewBroadcaster(hub RoomBroadcaster, roster Roster, updates <-chan registry.PresenceUpdate, clearAfter time.Duration) *Broadcaster {
	return &Broadcaster{
		hub:        hub,
		roster:     roster,
		updates:    updates,
		clearAfter: clearAfter,
		typing:     make(map[string]*time.Timer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins consuming presence updates.
func (b *Broadcaster) Start() {
	go b.run()
}

// Stop halts the update consumer and cancels pending typing timers.
func (b *Broadcaster) Stop() {
	close(b.stop)
	<-b.done

	b.mu.Lock()
	for key, timer := range b.typing {
		timer.Stop()
		delete(b.typing, key)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for {
		select {
		case update, ok := <-b.updates:
			if !ok {
				return
			}
			b.handleUpdate(update)
		case <-b.stop:
			return
		}
	}
}

// handleUpdate fans a session transition out to the session's rooms. An
// offline transition is suppressed while the user has another live session
// in the room; multi-device users do not flicker.
func (b *Broadcaster) handleUpdate(update registry.PresenceUpdate) {
	for _, roomID := range update.Rooms {
		if !update.Online && b.roster.UserOnlineInRoom(roomID, update.UserID) {
			continue
		}
		b.hub.BroadcastToRoom(roomID, &domain.PresenceEvent{
			Event:  domain.EventPresence,
			RoomID: roomID,
			UserID: update.UserID,
			Online: update.Online,
		}, update.SessionID)

		if !update.Online {
			b.clearTyping(roomID, update.UserID, update.SessionID)
		}
	}
}

// Typing broadcasts a typing signal to the room, excluding the origin
// session. A start arms an auto-clear; a stop cancels it.
func (b *Broadcaster) Typing(roomID, userID, originSessionID string, isTyping bool) {
	key := roomID + ":" + userID

	b.mu.Lock()
	if timer, ok := b.typing[key]; ok {
		timer.Stop()
		delete(b.typing, key)
	}
	if isTyping {
		b.typing[key] = time.AfterFunc(b.clearAfter, func() {
			log.L().Debug().
				Str(log.FieldRoomID, roomID).
				Str(log.FieldUserID, userID).
				Msg("auto-clearing stale typing indicator")
			b.clearTyping(roomID, userID, originSessionID)
		})
	}
	b.mu.Unlock()

	b.hub.BroadcastToRoom(roomID, &domain.TypingBroadcast{
		Event:    domain.EventTyping,
		RoomID:   roomID,
		UserID:   userID,
		IsTyping: isTyping,
	}, originSessionID)
}

func (b *Broadcaster) clearTyping(roomID, userID, originSessionID string) {
	key := roomID + ":" + userID

	b.mu.Lock()
	timer, ok := b.typing[key]
	if ok {
		timer.Stop()
		delete(b.typing, key)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	b.hub.BroadcastToRoom(roomID, &domain.TypingBroadcast{
		Event:    domain.EventTyping,
		RoomID:   roomID,
		UserID:   userID,
		IsTyping: false,
	}, originSessionID)
}
