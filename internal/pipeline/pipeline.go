package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/ratelimit"
	"github.com/tripconnect/messaging-service/internal/rooms"
	"github.com/tripconnect/messaging-service/pkg/log"
)

// Limiter is what the pipeline needs from the rate limiter pool.
type Limiter interface {
	Allow(userID, roomID, action string) (bool, time.Duration)
}

// Tracker opens per-recipient delivery records once a message commits.
type Tracker interface {
	Open(msg *domain.Message, recipients []string)
}

// Spooler queues messages for members who cannot take a live send.
type Spooler interface {
	Enqueue(userID string, msg *domain.Message)
}

// Producer publishes committed messages to the downstream stream. Publishing
// is best effort; a broker outage must not fail the send.
type Producer interface {
	Publish(ctx context.Context, msg *domain.Message) error
}

type messagePipeline struct {
	cfg       config.MessagesConfig
	repo      MessageRepository
	batcher   *Batcher
	dedup     DedupIndex
	directory rooms.Directory
	limiter   Limiter
	tracker   Tracker
	spooler   Spooler
	roster    Roster
	fanout    Fanout
	producer  Producer
}

// Options wires the pipeline's collaborators.
type Options struct {
	Config    config.MessagesConfig
	Repo      MessageRepository
	Dedup     DedupIndex
	Directory rooms.Directory
	Limiter   Limiter
	Tracker   Tracker
	Spooler   Spooler
	Roster    Roster
	Fanout    Fanout
	Producer  Producer
}

func New(opts Options) Pipeline {
	return &messagePipeline{
		cfg:       opts.Config,
		repo:      opts.Repo,
		batcher:   NewBatcher(opts.Repo, opts.Config.BatchSize, opts.Config.BatchInterval, opts.Config.PersistRetries),
		dedup:     opts.Dedup,
		directory: opts.Directory,
		limiter:   opts.Limiter,
		tracker:   opts.Tracker,
		spooler:   opts.Spooler,
		roster:    opts.Roster,
		fanout:    opts.Fanout,
		producer:  opts.Producer,
	}
}

// Send runs one submission through the full path: rate limit, validation,
// dedup, batched persist, delivery tracking, fan-out, stream publish.
func (p *messagePipeline) Send(ctx context.Context, req SendRequest) (*domain.Message, error) {
	if ok, wait := p.limiter.Allow(req.SenderID, req.RoomID, ratelimit.ActionMessage); !ok {
		return nil, domain.NewRateLimitError(wait)
	}

	room, err := p.validate(ctx, &req)
	if err != nil {
		return nil, err
	}

	msg := p.buildMessage(req)

	hash := ContentHash(req.SenderID, req.RoomID, req.Content, msg.CreatedAt, p.cfg.DedupWindow)
	existingID, duplicate, err := p.dedup.Reserve(ctx, hash, msg.ID, p.cfg.DedupWindow)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("dedup index unavailable, accepting message")
	}
	if duplicate {
		prior, err := p.repo.GetByID(ctx, existingID)
		if err == nil {
			return prior, nil
		}
		// The original is still in flight inside a batch. Acknowledge with
		// its id rather than persisting a second copy.
		if errors.Is(err, ErrMessageNotFound) {
			dup := *msg
			dup.ID = existingID
			dup.Status = domain.MessageStatusSent
			return &dup, nil
		}
		return nil, domain.NewPersistenceError(err)
	}

	if err := p.batcher.Submit(ctx, msg); err != nil {
		msg.Status = domain.MessageStatusFailed
		// Drop the dedup claim so a client retry is not resolved as a
		// duplicate of a message that never committed.
		if rerr := p.dedup.Release(ctx, hash, msg.ID); rerr != nil {
			log.Ctx(ctx).Warn().Err(rerr).
				Str(log.FieldMessageID, msg.ID).
				Msg("failed to release dedup claim for uncommitted message")
		}
		return nil, domain.NewPersistenceError(err)
	}
	msg.Status = domain.MessageStatusSent

	if msg.ReplyTo != "" && msg.Thread != nil {
		if err := p.repo.BumpReplyCount(ctx, msg.Thread.RootID); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str(log.FieldMessageID, msg.ID).
				Msg("failed to bump thread reply count")
		}
	}

	if err := p.directory.RecordMessage(ctx, msg.RoomID, msg.CreatedAt); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str(log.FieldRoomID, msg.RoomID).
			Msg("failed to record room activity")
	}

	p.deliver(msg, req.OriginSessionID, recipientsOf(room, msg.SenderID))

	if p.producer != nil {
		if err := p.producer.Publish(ctx, msg); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str(log.FieldMessageID, msg.ID).
				Msg("failed to publish message to stream")
		}
	}

	return msg, nil
}

func (p *messagePipeline) validate(ctx context.Context, req *SendRequest) (*domain.Room, error) {
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "message has no content")
	}
	if len(req.Content) > p.cfg.MaxContentLength {
		return nil, domain.NewValidationError(domain.ErrCodeMessageTooLong,
			fmt.Sprintf("content exceeds %d characters", p.cfg.MaxContentLength))
	}
	if !domain.ValidMessageType(req.Type) {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest,
			fmt.Sprintf("unknown message type %q", req.Type))
	}
	if req.Type == domain.MessageTypeAIResponse && req.AIContext == nil {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest,
			"ai_response messages require ai context")
	}

	room, participant, err := p.directory.Membership(ctx, req.RoomID, req.SenderID)
	if err != nil {
		return nil, err
	}
	if room.Status != domain.RoomStatusActive {
		return nil, domain.NewValidationError(domain.ErrCodeBadRequest, "room is not active")
	}
	if req.Type == domain.MessageTypeAIResponse {
		if !room.Settings.AllowAIPersonas || participant.Role != domain.RoleAIPersona {
			return nil, domain.NewAuthorizationError(domain.ErrCodeUnknownPersona,
				"ai responses require an ai persona member in a room that allows them")
		}
	}

	if req.ReplyTo != "" {
		if err := p.checkThreadDepth(ctx, req.ReplyTo); err != nil {
			return nil, err
		}
	}
	return room, nil
}

// checkThreadDepth walks the reply chain up to the configured bound. The
// walk is bounded so a corrupted chain cannot spin the pipeline.
func (p *messagePipeline) checkThreadDepth(ctx context.Context, parentID string) error {
	depth := 0
	id := parentID
	for id != "" {
		depth++
		if depth > p.cfg.MaxThreadDepth {
			return domain.NewValidationError(domain.ErrCodeThreadTooDeep,
				fmt.Sprintf("thread exceeds depth %d", p.cfg.MaxThreadDepth))
		}
		parent, err := p.repo.GetByID(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			return domain.NewValidationError(domain.ErrCodeBadRequest, "reply target does not exist")
		}
		if err != nil {
			return domain.NewPersistenceError(err)
		}
		// Thread roots record the whole chain; one hop is enough there.
		if parent.Thread != nil && parent.ReplyTo == "" {
			return nil
		}
		id = parent.ReplyTo
	}
	return nil
}

func (p *messagePipeline) buildMessage(req SendRequest) *domain.Message {
	now := time.Now()
	msg := &domain.Message{
		ID:          uuid.New().String(),
		RoomID:      req.RoomID,
		SenderID:    req.SenderID,
		SenderName:  req.SenderName,
		Type:        req.Type,
		Content:     req.Content,
		Metadata:    req.Metadata,
		Attachments: req.Attachments,
		Status:      domain.MessageStatusPending,
		ReplyTo:     req.ReplyTo,
		AIContext:   req.AIContext,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ReplyTo != "" {
		msg.Thread = &domain.ThreadMetadata{
			RootID:       p.threadRoot(req.ReplyTo),
			Participants: []string{req.SenderID},
		}
	}
	return msg
}

// threadRoot resolves which root a reply belongs to. Falls back to the
// direct parent when the parent cannot be read; the chain stays usable.
func (p *messagePipeline) threadRoot(parentID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	parent, err := p.repo.GetByID(ctx, parentID)
	if err != nil {
		return parentID
	}
	if parent.Thread != nil && parent.Thread.RootID != "" {
		return parent.Thread.RootID
	}
	return parentID
}

// deliver fans the committed message out to live sessions, opens delivery
// records for recipients with a session in the room, and spools the message
// for members connected on a link too poor to take the send. Fully offline
// members read the message from history on their next connect; no record or
// spool entry is kept for them.
func (p *messagePipeline) deliver(msg *domain.Message, originSessionID string, recipients []string) {
	event := &domain.MessageEvent{Event: domain.EventMessage, Message: msg}

	sessions := p.roster.ConnectedInRoom(msg.RoomID)
	present := make(map[string]bool, len(sessions))
	delivered := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if s.ID == originSessionID {
			continue
		}
		present[s.UserID] = true
		if !s.Quality().Acceptable() {
			continue
		}
		if p.fanout.SendToSession(s.ID, event) {
			delivered[s.UserID] = true
		}
	}

	online := make([]string, 0, len(recipients))
	for _, userID := range recipients {
		if !present[userID] {
			continue
		}
		online = append(online, userID)
		if !delivered[userID] && p.spooler != nil {
			p.spooler.Enqueue(userID, msg)
		}
	}
	p.tracker.Open(msg, online)
}

func recipientsOf(room *domain.Room, senderID string) []string {
	members := room.MemberIDs()
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}

// History returns a page of room history for a member.
func (p *messagePipeline) History(ctx context.Context, roomID, requesterID string, page, limit int) ([]*domain.Message, error) {
	if _, _, err := p.directory.Membership(ctx, roomID, requesterID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = p.cfg.HistoryPageSize
	}
	if limit > p.cfg.HistoryPageLimit {
		limit = p.cfg.HistoryPageLimit
	}
	if page < 1 {
		page = 1
	}

	msgs, err := p.repo.ListByRoom(ctx, roomID, page, limit)
	if err != nil {
		return nil, domain.NewPersistenceError(err)
	}
	return msgs, nil
}

// MarkRead adds the reader to the message's read set and advances the
// reader's last-read marker on the room.
func (p *messagePipeline) MarkRead(ctx context.Context, roomID, messageID, userID string) error {
	if ok, wait := p.limiter.Allow(userID, roomID, ratelimit.ActionReceipt); !ok {
		return domain.NewRateLimitError(wait)
	}

	if _, _, err := p.directory.Membership(ctx, roomID, userID); err != nil {
		return err
	}

	if err := p.repo.AddReadBy(ctx, roomID, messageID, userID); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return domain.NewNotFoundError(domain.ErrCodeBadRequest, "message not found")
		}
		return domain.NewPersistenceError(err)
	}

	if err := p.directory.MarkRead(ctx, roomID, userID, time.Now()); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str(log.FieldRoomID, roomID).
			Msg("failed to advance last-read marker")
	}
	return nil
}

func (p *messagePipeline) Close() {
	p.batcher.Close()
}
