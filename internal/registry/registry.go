package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

var (
	ErrSessionExists   = errors.New("session already registered")
	ErrSessionNotFound = errors.New("session not found")
)

// Config holds registry timing knobs.
type Config struct {
	HeartbeatInterval time.Duration
	MissedHeartbeats  int
	UpdateBuffer      int
}

// memoryRegistry is the in-process session registry. One instance owns all
// connection sessions of this node; the monitor goroutine expires sessions
// that miss heartbeats so no half-dead connection lingers in fan-out paths.
type memoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ConnectionSession
	byRoom   map[string]map[string]*domain.ConnectionSession // roomID -> sessionID

	cfg     Config
	updates chan PresenceUpdate
	stop    chan struct{}
	stopped sync.Once
}

// New creates a session registry.
func New(cfg Config) Registry {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MissedHeartbeats <= 0 {
		cfg.MissedHeartbeats = 2
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 256
	}
	return &memoryRegistry{
		sessions: make(map[string]*domain.ConnectionSession),
		byRoom:   make(map[string]map[string]*domain.ConnectionSession),
		cfg:      cfg,
		updates:  make(chan PresenceUpdate, cfg.UpdateBuffer),
		stop:     make(chan struct{}),
	}
}

func (r *memoryRegistry) Register(session *domain.ConnectionSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return ErrSessionExists
	}
	r.sessions[session.ID] = session

	r.publish(PresenceUpdate{
		SessionID: session.ID,
		UserID:    session.UserID,
		Online:    true,
	})

	l := log.L()
	l.Debug().Str(log.FieldSessionID, session.ID).Str(log.FieldUserID, session.UserID).Msg("session registered")
	return nil
}

func (r *memoryRegistry) Heartbeat(sessionID string, rtt time.Duration) error {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.Heartbeat(rtt)
	return nil
}

func (r *memoryRegistry) MarkDisconnected(sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	rooms := session.SubscribedRooms()
	for _, roomID := range rooms {
		if members, ok := r.byRoom[roomID]; ok {
			delete(members, sessionID)
			if len(members) == 0 {
				delete(r.byRoom, roomID)
			}
		}
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	session.MarkDisconnected()

	r.publish(PresenceUpdate{
		SessionID: sessionID,
		UserID:    session.UserID,
		Rooms:     rooms,
		Online:    false,
	})

	l := log.L()
	l.Debug().Str(log.FieldSessionID, sessionID).Str(log.FieldUserID, session.UserID).Msg("session disconnected")
}

func (r *memoryRegistry) Quality(sessionID string) domain.Quality {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return domain.QualityDisconnected
	}
	return session.Quality()
}

func (r *memoryRegistry) Subscribe(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	session.Subscribe(roomID)
	if _, ok := r.byRoom[roomID]; !ok {
		r.byRoom[roomID] = make(map[string]*domain.ConnectionSession)
	}
	r.byRoom[roomID][sessionID] = session
	return nil
}

func (r *memoryRegistry) Unsubscribe(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[sessionID]; ok {
		session.Unsubscribe(roomID)
	}
	if members, ok := r.byRoom[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.byRoom, roomID)
		}
	}
}

func (r *memoryRegistry) ConnectedInRoom(roomID string) []*domain.ConnectionSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.byRoom[roomID]
	if !ok {
		return nil
	}
	out := make([]*domain.ConnectionSession, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

func (r *memoryRegistry) UserOnlineInRoom(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.byRoom[roomID] {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

func (r *memoryRegistry) Session(sessionID string) (*domain.ConnectionSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *memoryRegistry) SessionsOfUser(userID string) []*domain.ConnectionSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ConnectionSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (r *memoryRegistry) Updates() <-chan PresenceUpdate {
	return r.updates
}

// publish never blocks; when the consumer lags, presence updates are dropped
// and counted in the log rather than parking the caller.
func (r *memoryRegistry) publish(u PresenceUpdate) {
	select {
	case r.updates <- u:
	default:
		l := log.L()
		l.Warn().Str(log.FieldSessionID, u.SessionID).Msg("presence update dropped: consumer lagging")
	}
}

func (r *memoryRegistry) Start() {
	go r.monitorLoop()
}

// monitorLoop expires sessions that missed too many heartbeats.
func (r *memoryRegistry) monitorLoop() {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	deadline := time.Duration(r.cfg.MissedHeartbeats) * r.cfg.HeartbeatInterval

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-deadline)

			r.mu.RLock()
			var stale []string
			for id, s := range r.sessions {
				if s.LastHeartbeat().Before(cutoff) {
					stale = append(stale, id)
				}
			}
			r.mu.RUnlock()

			for _, id := range stale {
				l := log.L()
				l.Info().Str(log.FieldSessionID, id).Msg("session expired: missed heartbeats")
				r.MarkDisconnected(id)
			}
		}
	}
}

func (r *memoryRegistry) Stop() {
	r.stopped.Do(func() { close(r.stop) })
}
