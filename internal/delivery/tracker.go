package delivery

import (
	"sync"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// RecipientState is one recipient's position in the delivery lifecycle.
type RecipientState string

const (
	StatePending   RecipientState = "pending"
	StateDelivered RecipientState = "delivered"
	StateRead      RecipientState = "read"
	StateFailed    RecipientState = "failed"
)

func (s RecipientState) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateDelivered:
		return 1
	case StateRead:
		return 2
	}
	return -1
}

// StatusChange is pushed to the callback whenever a message's aggregate
// status moves.
type StatusChange struct {
	MessageID string
	RoomID    string
	SenderID  string
	Status    domain.MessageStatus
}

type record struct {
	roomID     string
	senderID   string
	recipients map[string]RecipientState
	aggregate  domain.MessageStatus
	openedAt   time.Time
	timedOut   bool
}

// Tracker keeps per-recipient delivery state for recent messages. State is
// in memory only; restart loses in-flight tracking, persisted read sets
// remain the durable record.
type Tracker struct {
	timeout  time.Duration
	onChange func(StatusChange)

	mu      sync.Mutex
	records map[string]*record

	stop chan struct{}
	done chan struct{}
}

const (
	recordRetention = time.Hour
	sweepInterval   = time.Minute
)

// NewTracker creates a tracker. onChange fires outside the tracker lock and
// may be nil.
func NewTracker(timeout time.Duration, onChange func(StatusChange)) *Tracker {
	return &Tracker{
		timeout:  timeout,
		onChange: onChange,
		records:  make(map[string]*record),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the timeout and retention sweeper.
func (t *Tracker) Start() {
	go t.sweepLoop()
}

// Stop shuts the sweeper down.
func (t *Tracker) Stop() {
	close(t.stop)
	<-t.done
}

// Open begins tracking a committed message for its recipients. A message
// with no recipients is immediately delivered from the sender's view.
func (t *Tracker) Open(msg *domain.Message, recipients []string) {
	rec := &record{
		roomID:     msg.RoomID,
		senderID:   msg.SenderID,
		recipients: make(map[string]RecipientState, len(recipients)),
		aggregate:  domain.MessageStatusSent,
		openedAt:   time.Now(),
	}
	for _, userID := range recipients {
		rec.recipients[userID] = StatePending
	}
	if len(recipients) == 0 {
		rec.aggregate = domain.MessageStatusDelivered
	}

	t.mu.Lock()
	t.records[msg.ID] = rec
	t.mu.Unlock()
}

// Ack records that a recipient's device received the message. Acks for
// unknown messages or repeat acks are ignored.
func (t *Tracker) Ack(messageID, userID string) {
	t.transition(messageID, userID, StateDelivered)
}

// Read records that a recipient read the message. Read implies delivered.
func (t *Tracker) Read(messageID, userID string) {
	t.transition(messageID, userID, StateRead)
}

// Fail marks a still-pending recipient as undeliverable, typically when the
// offline queue gives up on them. Recipients already past pending keep their
// state.
func (t *Tracker) Fail(messageID, userID string) {
	t.mu.Lock()
	rec, ok := t.records[messageID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if current, tracked := rec.recipients[userID]; !tracked || current != StatePending {
		t.mu.Unlock()
		return
	}
	rec.recipients[userID] = StateFailed

	change, moved := t.recomputeLocked(messageID, rec)
	t.mu.Unlock()

	if moved {
		t.notify(change)
	}
}

func (t *Tracker) transition(messageID, userID string, to RecipientState) {
	t.mu.Lock()
	rec, ok := t.records[messageID]
	if !ok {
		t.mu.Unlock()
		return
	}
	current, tracked := rec.recipients[userID]
	// Only forward moves; a late ack never demotes a read. A failed
	// recipient can still recover when the offline queue drains.
	if !tracked || current.rank() >= to.rank() {
		t.mu.Unlock()
		return
	}
	rec.recipients[userID] = to

	change, moved := t.recomputeLocked(messageID, rec)
	t.mu.Unlock()

	if moved {
		t.notify(change)
	}
}

// Aggregate returns the sender-facing status for a tracked message, or
// sent when the message is no longer tracked.
func (t *Tracker) Aggregate(messageID string) domain.MessageStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[messageID]; ok {
		return rec.aggregate
	}
	return domain.MessageStatusSent
}

// Recipients returns a copy of the per-recipient states for a message.
func (t *Tracker) Recipients(messageID string) map[string]RecipientState {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[messageID]
	if !ok {
		return nil
	}
	out := make(map[string]RecipientState, len(rec.recipients))
	for k, v := range rec.recipients {
		out[k] = v
	}
	return out
}

// recomputeLocked derives the aggregate: the slowest recipient defines it,
// with any timed-out pending recipient pinning it to failed.
func (t *Tracker) recomputeLocked(messageID string, rec *record) (StatusChange, bool) {
	lowest := StateRead
	anyFailed := false
	for _, state := range rec.recipients {
		if state == StateFailed {
			anyFailed = true
			continue
		}
		if state.rank() < lowest.rank() {
			lowest = state
		}
	}

	var next domain.MessageStatus
	switch {
	case anyFailed:
		next = domain.MessageStatusFailed
	case lowest == StatePending:
		next = domain.MessageStatusSent
	case lowest == StateDelivered:
		next = domain.MessageStatusDelivered
	default:
		next = domain.MessageStatusRead
	}
	if len(rec.recipients) == 0 {
		next = domain.MessageStatusDelivered
	}

	if next == rec.aggregate {
		return StatusChange{}, false
	}
	rec.aggregate = next
	return StatusChange{
		MessageID: messageID,
		RoomID:    rec.roomID,
		SenderID:  rec.senderID,
		Status:    next,
	}, true
}

func (t *Tracker) notify(change StatusChange) {
	if t.onChange != nil {
		t.onChange(change)
	}
}

func (t *Tracker) sweepLoop() {
	defer close(t.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep(time.Now())
		case <-t.stop:
			return
		}
	}
}

// sweep fails recipients still pending past the delivery timeout and drops
// records past retention.
func (t *Tracker) sweep(now time.Time) {
	var changes []StatusChange

	t.mu.Lock()
	for id, rec := range t.records {
		if now.Sub(rec.openedAt) > recordRetention {
			delete(t.records, id)
			continue
		}
		if rec.timedOut || now.Sub(rec.openedAt) < t.timeout {
			continue
		}
		rec.timedOut = true
		failed := 0
		for userID, state := range rec.recipients {
			if state == StatePending {
				rec.recipients[userID] = StateFailed
				failed++
			}
		}
		if failed > 0 {
			log.L().Debug().
				Str(log.FieldMessageID, id).
				Str(log.FieldRoomID, rec.roomID).
				Int("failed_recipients", failed).
				Msg("delivery timed out for pending recipients")
			if change, moved := t.recomputeLocked(id, rec); moved {
				changes = append(changes, change)
			}
		}
	}
	t.mu.Unlock()

	for _, change := range changes {
		t.notify(change)
	}
}
