package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tripconnect/messaging-service/internal/domain"
)

// MemoryRepository keeps messages in process. It backs single-node
// deployments without a cassandra cluster, and the pipeline tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Message
	byRoom  map[string][]*domain.Message
	replies map[string]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.Message),
		byRoom:  make(map[string][]*domain.Message),
		replies: make(map[string]int),
	}
}

func (r *MemoryRepository) SaveBatch(_ context.Context, msgs []*domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		clone := cloneMessage(m)
		r.byID[clone.ID] = clone
		r.byRoom[clone.RoomID] = append(r.byRoom[clone.RoomID], clone)
	}
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	out := cloneMessage(m)
	if m.Thread != nil {
		out.Thread.ReplyCount = r.replies[m.Thread.RootID]
	}
	return out, nil
}

func (r *MemoryRepository) ListByRoom(_ context.Context, roomID string, page, limit int) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if page < 1 {
		page = 1
	}
	history := r.byRoom[roomID]

	// History is stored oldest first; page 1 is the most recent window.
	end := len(history) - (page-1)*limit
	if end <= 0 {
		return nil, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]*domain.Message, 0, end-start)
	for _, m := range history[start:end] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (r *MemoryRepository) AddReadBy(_ context.Context, _, messageID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if !m.HasRead(userID) {
		m.ReadBy = append(m.ReadBy, userID)
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (r *MemoryRepository) BumpReplyCount(_ context.Context, rootID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[rootID]++
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

func cloneMessage(m *domain.Message) *domain.Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	if m.Thread != nil {
		thread := *m.Thread
		thread.Participants = append([]string(nil), m.Thread.Participants...)
		out.Thread = &thread
	}
	if m.AIContext != nil {
		ai := *m.AIContext
		out.AIContext = &ai
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	return &out
}
