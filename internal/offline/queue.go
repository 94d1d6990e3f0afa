package offline

import (
	"sync"
	"time"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

type entry struct {
	msg        *domain.Message
	enqueuedAt time.Time
	retries    int
}

// Queue spools messages for users who are offline or on a link too poor for
// live delivery. Each user gets a bounded FIFO; when it fills, the oldest
// message gives way. Contents are in memory only and expire with age.
type Queue struct {
	capacity   int
	maxAge     time.Duration
	maxRetries int

	// onDrop fires when a message leaves the queue undelivered.
	onDrop func(userID string, msg *domain.Message)

	mu     sync.Mutex
	queues map[string][]*entry
	now    func() time.Time
}

func NewQueue(cfg config.OfflineConfig, onDrop func(userID string, msg *domain.Message)) *Queue {
	return &Queue{
		capacity:   cfg.Capacity,
		maxAge:     cfg.MaxAge,
		maxRetries: cfg.MaxRetries,
		onDrop:     onDrop,
		queues:     make(map[string][]*entry),
		now:        time.Now,
	}
}

// Enqueue spools a message for the user, evicting the oldest entry when the
// queue is full.
func (q *Queue) Enqueue(userID string, msg *domain.Message) {
	var evicted *entry

	q.mu.Lock()
	queue := q.queues[userID]
	if len(queue) >= q.capacity {
		evicted = queue[0]
		queue = queue[1:]
	}
	queue = append(queue, &entry{msg: msg, enqueuedAt: q.now()})
	q.queues[userID] = queue
	q.mu.Unlock()

	if evicted != nil {
		log.L().Debug().
			Str(log.FieldUserID, userID).
			Str(log.FieldMessageID, evicted.msg.ID).
			Msg("offline queue full, evicting oldest message")
		q.drop(userID, evicted.msg)
	}
}

// Drain replays a user's queued messages in order through send, typically on
// reconnect. A send failure puts the message back for the next drain until
// its retries run out; stale messages are dropped outright.
func (q *Queue) Drain(userID string, send func(msg *domain.Message) bool) {
	q.mu.Lock()
	queue := q.queues[userID]
	delete(q.queues, userID)
	q.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	now := q.now()
	var retry []*entry
	var dropped []*entry

	for _, e := range queue {
		if now.Sub(e.enqueuedAt) > q.maxAge {
			dropped = append(dropped, e)
			continue
		}
		if send(e.msg) {
			continue
		}
		e.retries++
		if e.retries >= q.maxRetries {
			dropped = append(dropped, e)
		} else {
			retry = append(retry, e)
		}
	}

	if len(retry) > 0 {
		q.mu.Lock()
		// Reconnect during the drain may have spooled new entries; retries
		// go back in front to keep FIFO order.
		q.queues[userID] = append(retry, q.queues[userID]...)
		q.mu.Unlock()
	}

	for _, e := range dropped {
		log.L().Debug().
			Str(log.FieldUserID, userID).
			Str(log.FieldMessageID, e.msg.ID).
			Int("retries", e.retries).
			Msg("dropping undeliverable queued message")
		q.drop(userID, e.msg)
	}
}

// Depth returns how many messages are queued for a user.
func (q *Queue) Depth(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID])
}

func (q *Queue) drop(userID string, msg *domain.Message) {
	if q.onDrop != nil {
		q.onDrop(userID, msg)
	}
}
