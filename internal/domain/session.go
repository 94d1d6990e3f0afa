package domain

import (
	"sync"
	"time"
)

// Quality is a coarse classification of connection health derived from
// heartbeat round-trip latency.
type Quality string

const (
	QualityExcellent    Quality = "excellent"
	QualityGood         Quality = "good"
	QualityPoor         Quality = "poor"
	QualityDisconnected Quality = "disconnected"
)

// Acceptable reports whether the quality permits live sends. Poor and
// disconnected links queue instead.
func (q Quality) Acceptable() bool {
	return q == QualityExcellent || q == QualityGood
}

const rttWindow = 5

// ConnectionSession is the ephemeral state of one live connection. It is
// never persisted.
type ConnectionSession struct {
	ID       string
	UserID   string
	Username string

	mu              sync.RWMutex
	connected       bool
	lastHeartbeatAt time.Time
	rooms           map[string]struct{}
	rtts            []time.Duration // most recent heartbeat round trips
	createdAt       time.Time
}

// NewConnectionSession creates a session for an authenticated connection.
func NewConnectionSession(id, userID, username string) *ConnectionSession {
	now := time.Now()
	return &ConnectionSession{
		ID:              id,
		UserID:          userID,
		Username:        username,
		connected:       true,
		lastHeartbeatAt: now,
		rooms:           make(map[string]struct{}),
		createdAt:       now,
	}
}

// Heartbeat records a heartbeat with its measured round trip.
func (s *ConnectionSession) Heartbeat(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatAt = time.Now()
	s.rtts = append(s.rtts, rtt)
	if len(s.rtts) > rttWindow {
		s.rtts = s.rtts[len(s.rtts)-rttWindow:]
	}
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (s *ConnectionSession) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeatAt
}

// MarkDisconnected flags the session as gone.
func (s *ConnectionSession) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Connected reports whether the session is live.
func (s *ConnectionSession) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Subscribe adds a room to the session's subscriptions.
func (s *ConnectionSession) Subscribe(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = struct{}{}
}

// Unsubscribe removes a room from the session's subscriptions.
func (s *ConnectionSession) Unsubscribe(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// SubscribedRooms returns the rooms this session listens to.
func (s *ConnectionSession) SubscribedRooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

// InRoom reports whether the session subscribes to roomID.
func (s *ConnectionSession) InRoom(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Quality derives the connection quality tier from recent round trips.
// Latency under 100ms with low jitter is excellent, under 200ms good,
// anything else poor. A disconnected session is always disconnected.
func (s *ConnectionSession) Quality() Quality {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return QualityDisconnected
	}
	if len(s.rtts) == 0 {
		// No samples yet; assume the link is fine until told otherwise.
		return QualityGood
	}

	var sum, min, max time.Duration
	min = s.rtts[0]
	max = s.rtts[0]
	for _, rtt := range s.rtts {
		sum += rtt
		if rtt < min {
			min = rtt
		}
		if rtt > max {
			max = rtt
		}
	}
	avg := sum / time.Duration(len(s.rtts))
	stable := max-min < 50*time.Millisecond

	switch {
	case avg < 100*time.Millisecond && stable:
		return QualityExcellent
	case avg < 200*time.Millisecond && stable:
		return QualityGood
	default:
		return QualityPoor
	}
}
