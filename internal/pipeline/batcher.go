package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// Batcher groups writes per room so a burst becomes a handful of batch
// inserts instead of a row at a time, while keeping rooms independent.
// Each room gets its own flusher goroutine, which also serializes that
// room's commit order.
type Batcher struct {
	repo          MessageRepository
	batchSize     int
	batchInterval time.Duration
	maxRetries    int

	mu     sync.Mutex
	rooms  map[string]*roomFlusher
	closed bool
	wg     sync.WaitGroup
}

type pendingWrite struct {
	msg  *domain.Message
	done chan error
}

type roomFlusher struct {
	queue chan pendingWrite
}

func NewBatcher(repo MessageRepository, batchSize int, batchInterval time.Duration, maxRetries int) *Batcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchInterval <= 0 {
		batchInterval = 250 * time.Millisecond
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Batcher{
		repo:          repo,
		batchSize:     batchSize,
		batchInterval: batchInterval,
		maxRetries:    maxRetries,
		rooms:         make(map[string]*roomFlusher),
	}
}

// Submit hands a message to its room's flusher and waits for the batch it
// lands in to commit. The returned error is the per-message persistence
// outcome.
func (b *Batcher) Submit(ctx context.Context, msg *domain.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return context.Canceled
	}
	rf, ok := b.rooms[msg.RoomID]
	if !ok {
		rf = &roomFlusher{queue: make(chan pendingWrite, 4*b.batchSize)}
		b.rooms[msg.RoomID] = rf
		b.wg.Add(1)
		go b.flushLoop(msg.RoomID, rf)
	}
	b.mu.Unlock()

	write := pendingWrite{msg: msg, done: make(chan error, 1)}
	select {
	case rf.queue <- write:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-write.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) flushLoop(roomID string, rf *roomFlusher) {
	defer b.wg.Done()

	timer := time.NewTimer(b.batchInterval)
	defer timer.Stop()

	var batch []pendingWrite
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.flush(roomID, batch)
		batch = nil
	}

	for {
		select {
		case write, ok := <-rf.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, write)
			if len(batch) >= b.batchSize {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(b.batchInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(b.batchInterval)
		}
	}
}

// flush commits one batch, retrying with bounded exponential backoff before
// reporting failure to every waiter.
func (b *Batcher) flush(roomID string, batch []pendingWrite) {
	msgs := make([]*domain.Message, len(batch))
	for i, w := range batch {
		msgs[i] = w.msg
	}

	var err error
	backoff := 50 * time.Millisecond
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = b.repo.SaveBatch(ctx, msgs)
		cancel()
		if err == nil {
			break
		}
		log.L().Warn().Err(err).
			Str(log.FieldRoomID, roomID).
			Int("attempt", attempt).
			Int("batch_size", len(msgs)).
			Msg("message batch persist failed")
		if attempt < b.maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	if err != nil {
		log.L().Error().Err(err).
			Str(log.FieldRoomID, roomID).
			Int("batch_size", len(msgs)).
			Msg("message batch dropped after retries")
	}
	for _, w := range batch {
		w.done <- err
	}
}

// Close flushes whatever is buffered and stops the flushers.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, rf := range b.rooms {
		close(rf.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
