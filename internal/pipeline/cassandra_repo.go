package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
)

// CassandraRepository persists messages to two tables: messages_by_room for
// history reads and messages_by_id for point lookups (thread walks, dedup
// hits, read receipts). Both are written per message; thread reply counters
// live in their own counter table.
type CassandraRepository struct {
	session *gocql.Session
}

// NewCassandraRepository connects to the cluster.
func NewCassandraRepository(cfg config.CassandraConfig) (*CassandraRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	switch cfg.Consistency {
	case "LOCAL_ONE":
		cluster.Consistency = gocql.LocalOne
	case "ONE":
		cluster.Consistency = gocql.One
	case "QUORUM":
		cluster.Consistency = gocql.Quorum
	default:
		cluster.Consistency = gocql.LocalQuorum
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraRepository{session: session}, nil
}

const (
	insertByRoom = `INSERT INTO messages_by_room (
		room_id, created_at, message_id, sender_id, sender_name, type, content,
		metadata, attachments, status, read_by, reply_to, thread_root,
		thread_participants, ai_context, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertByID = `INSERT INTO messages_by_id (
		message_id, room_id, created_at, sender_id, sender_name, type, content,
		metadata, attachments, status, read_by, reply_to, thread_root,
		thread_participants, ai_context, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectColumns = `message_id, room_id, created_at, sender_id, sender_name, type, content,
		metadata, attachments, status, read_by, reply_to, thread_root,
		thread_participants, ai_context, updated_at`
)

func (r *CassandraRepository) SaveBatch(ctx context.Context, msgs []*domain.Message) error {
	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	for _, m := range msgs {
		attachments, aiContext, threadRoot, threadParticipants, err := encodeExtras(m)
		if err != nil {
			return err
		}

		args := func(leadWithRoom bool) []interface{} {
			lead := []interface{}{m.RoomID, m.CreatedAt, m.ID}
			if !leadWithRoom {
				lead = []interface{}{m.ID, m.RoomID, m.CreatedAt}
			}
			return append(lead,
				m.SenderID, m.SenderName, string(m.Type), m.Content,
				m.Metadata, attachments, string(m.Status), m.ReadBy, m.ReplyTo,
				threadRoot, threadParticipants, aiContext, m.UpdatedAt,
			)
		}

		batch.Query(insertByRoom, args(true)...)
		batch.Query(insertByID, args(false)...)
	}

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to persist message batch: %w", err)
	}
	return nil
}

func (r *CassandraRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages_by_id WHERE message_id = ?`, selectColumns)

	m, err := scanMessage(r.session.Query(query, id).WithContext(ctx))
	if err == gocql.ErrNotFound {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return m, nil
}

func (r *CassandraRepository) ListByRoom(ctx context.Context, roomID string, page, limit int) ([]*domain.Message, error) {
	if page < 1 {
		page = 1
	}

	// Clustering order is newest-first; skip past earlier pages and keep
	// one page worth of rows, returned oldest-first.
	query := fmt.Sprintf(
		`SELECT %s FROM messages_by_room WHERE room_id = ? LIMIT ?`, selectColumns)

	iter := r.session.Query(query, roomID, page*limit).WithContext(ctx).Iter()

	var all []*domain.Message
	for {
		m, err := scanMessageFromIter(iter)
		if err != nil {
			break
		}
		all = append(all, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list room history: %w", err)
	}

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	window := all[start:]
	if len(window) > limit {
		window = window[:limit]
	}

	// Reverse into chronological order.
	out := make([]*domain.Message, len(window))
	for i, m := range window {
		out[len(window)-1-i] = m
	}
	return out, nil
}

func (r *CassandraRepository) AddReadBy(ctx context.Context, roomID, messageID, userID string) error {
	// The by-room row's key includes created_at; fetch it first.
	msg, err := r.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`UPDATE messages_by_id SET read_by = read_by + ?, updated_at = ? WHERE message_id = ?`,
		[]string{userID}, time.Now(), messageID)
	batch.Query(`UPDATE messages_by_room SET read_by = read_by + ?, updated_at = ? WHERE room_id = ? AND created_at = ? AND message_id = ?`,
		[]string{userID}, time.Now(), msg.RoomID, msg.CreatedAt, messageID)

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to record read receipt: %w", err)
	}
	return nil
}

func (r *CassandraRepository) BumpReplyCount(ctx context.Context, rootID string) error {
	err := r.session.Query(
		`UPDATE thread_reply_counts SET replies = replies + 1 WHERE root_id = ?`, rootID).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to bump thread reply count: %w", err)
	}
	return nil
}

func (r *CassandraRepository) Close() error {
	r.session.Close()
	return nil
}

func encodeExtras(m *domain.Message) (attachments string, aiContext string, threadRoot string, threadParticipants []string, err error) {
	if len(m.Attachments) > 0 {
		data, e := json.Marshal(m.Attachments)
		if e != nil {
			return "", "", "", nil, fmt.Errorf("failed to encode attachments: %w", e)
		}
		attachments = string(data)
	}
	if m.AIContext != nil {
		data, e := json.Marshal(m.AIContext)
		if e != nil {
			return "", "", "", nil, fmt.Errorf("failed to encode ai context: %w", e)
		}
		aiContext = string(data)
	}
	if m.Thread != nil {
		threadRoot = m.Thread.RootID
		threadParticipants = m.Thread.Participants
	}
	return attachments, aiContext, threadRoot, threadParticipants, nil
}

func scanMessageFields(scan func(dest ...interface{}) error) (*domain.Message, error) {
	var (
		m                  domain.Message
		msgType            string
		status             string
		attachments        string
		aiContext          string
		threadRoot         string
		threadParticipants []string
	)

	err := scan(
		&m.ID, &m.RoomID, &m.CreatedAt, &m.SenderID, &m.SenderName,
		&msgType, &m.Content, &m.Metadata, &attachments, &status,
		&m.ReadBy, &m.ReplyTo, &threadRoot, &threadParticipants,
		&aiContext, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Type = domain.MessageType(msgType)
	m.Status = domain.MessageStatus(status)
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	if aiContext != "" {
		m.AIContext = &domain.AIContext{}
		if err := json.Unmarshal([]byte(aiContext), m.AIContext); err != nil {
			return nil, fmt.Errorf("failed to decode ai context: %w", err)
		}
	}
	if threadRoot != "" {
		m.Thread = &domain.ThreadMetadata{
			RootID:       threadRoot,
			Participants: threadParticipants,
		}
	}
	return &m, nil
}

func scanMessage(q *gocql.Query) (*domain.Message, error) {
	return scanMessageFields(q.Scan)
}

func scanMessageFromIter(iter *gocql.Iter) (*domain.Message, error) {
	m, err := scanMessageFields(func(dest ...interface{}) error {
		if !iter.Scan(dest...) {
			return gocql.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
