package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/rooms"
)

// fakeDirectory serves one room and records activity calls.
type fakeDirectory struct {
	room     *domain.Room
	recorded int
	readAt   map[string]time.Time
}

func (f *fakeDirectory) Create(context.Context, string, rooms.CreateRequest) (*domain.Room, error) {
	panic("not used")
}

func (f *fakeDirectory) Get(context.Context, string, string) (*domain.Room, error) {
	panic("not used")
}

func (f *fakeDirectory) Update(context.Context, string, string, rooms.Patch) (*domain.Room, error) {
	panic("not used")
}

func (f *fakeDirectory) Delete(context.Context, string, string) error { panic("not used") }

func (f *fakeDirectory) AddParticipant(context.Context, string, string, string, domain.Role) (*domain.Room, error) {
	panic("not used")
}

func (f *fakeDirectory) RemoveParticipant(context.Context, string, string, string) (*domain.Room, error) {
	panic("not used")
}

func (f *fakeDirectory) MarkRead(_ context.Context, _ string, userID string, at time.Time) error {
	if f.readAt == nil {
		f.readAt = make(map[string]time.Time)
	}
	f.readAt[userID] = at
	return nil
}

func (f *fakeDirectory) Membership(_ context.Context, roomID, userID string) (*domain.Room, *domain.Participant, error) {
	if f.room == nil || f.room.ID != roomID {
		return nil, nil, domain.NewNotFoundError(domain.ErrCodeRoomNotFound, "room not found")
	}
	p, ok := f.room.Participant(userID)
	if !ok {
		return nil, nil, domain.NewAuthorizationError(domain.ErrCodeNotAMember, "not a room member")
	}
	return f.room, p, nil
}

func (f *fakeDirectory) RecordMessage(context.Context, string, time.Time) error {
	f.recorded++
	return nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string, string, string) (bool, time.Duration) { return true, 0 }

type denyLimiter struct{ wait time.Duration }

func (d denyLimiter) Allow(string, string, string) (bool, time.Duration) { return false, d.wait }

type fakeTracker struct {
	mu     sync.Mutex
	opened map[string][]string // messageID -> recipients
}

func (f *fakeTracker) Open(msg *domain.Message, recipients []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened == nil {
		f.opened = make(map[string][]string)
	}
	f.opened[msg.ID] = recipients
}

type fakeSpooler struct {
	mu     sync.Mutex
	queued map[string][]*domain.Message
}

func (f *fakeSpooler) Enqueue(userID string, msg *domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued == nil {
		f.queued = make(map[string][]*domain.Message)
	}
	f.queued[userID] = append(f.queued[userID], msg)
}

type fakeRoster struct {
	sessions []*domain.ConnectionSession
}

func (f *fakeRoster) ConnectedInRoom(string) []*domain.ConnectionSession { return f.sessions }

type fakeFanout struct {
	mu   sync.Mutex
	sent map[string]int // sessionID -> event count
	fail map[string]bool
}

func (f *fakeFanout) SendToSession(sessionID string, _ interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[sessionID] {
		return false
	}
	if f.sent == nil {
		f.sent = make(map[string]int)
	}
	f.sent[sessionID]++
	return true
}

type fakeProducer struct {
	mu        sync.Mutex
	published []*domain.Message
}

func (f *fakeProducer) Publish(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func testMessagesConfig() config.MessagesConfig {
	return config.MessagesConfig{
		MaxContentLength: 200,
		MaxThreadDepth:   3,
		DedupWindow:      5 * time.Second,
		BatchSize:        1,
		BatchInterval:    5 * time.Millisecond,
		PersistRetries:   1,
		HistoryPageSize:  20,
		HistoryPageLimit: 50,
	}
}

func activeRoom() *domain.Room {
	return &domain.Room{
		ID:     "room-1",
		Name:   "planning",
		Type:   domain.RoomTypeGroup,
		Status: domain.RoomStatusActive,
		Participants: []domain.Participant{
			{UserID: "alice", Role: domain.RoleOwner},
			{UserID: "bob", Role: domain.RoleMember},
			{UserID: "carol", Role: domain.RoleMember},
		},
		Settings: domain.RoomSettings{MaxParticipants: 10},
	}
}

type pipelineFixture struct {
	pipeline  Pipeline
	repo      *MemoryRepository
	directory *fakeDirectory
	tracker   *fakeTracker
	spooler   *fakeSpooler
	roster    *fakeRoster
	fanout    *fakeFanout
	producer  *fakeProducer
}

func newFixture(t *testing.T, opts ...func(*Options)) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		repo:      NewMemoryRepository(),
		directory: &fakeDirectory{room: activeRoom()},
		tracker:   &fakeTracker{},
		spooler:   &fakeSpooler{},
		roster:    &fakeRoster{},
		fanout:    &fakeFanout{},
		producer:  &fakeProducer{},
	}
	o := Options{
		Config:    testMessagesConfig(),
		Repo:      f.repo,
		Dedup:     NewMemoryDedupIndex(),
		Directory: f.directory,
		Limiter:   allowAllLimiter{},
		Tracker:   f.tracker,
		Spooler:   f.spooler,
		Roster:    f.roster,
		Fanout:    f.fanout,
		Producer:  f.producer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.pipeline = New(o)
	t.Cleanup(f.pipeline.Close)
	return f
}

func textSend(content string) SendRequest {
	return SendRequest{
		RoomID:   "room-1",
		SenderID: "alice",
		Type:     domain.MessageTypeText,
		Content:  content,
	}
}

func liveSession(id, userID string) *domain.ConnectionSession {
	s := domain.NewConnectionSession(id, userID, userID)
	s.Heartbeat(30 * time.Millisecond)
	return s
}

func TestSendPersistsAndFansOut(t *testing.T) {
	f := newFixture(t)
	f.roster.sessions = []*domain.ConnectionSession{
		liveSession("sess-bob", "bob"),
		liveSession("sess-carol", "carol"),
	}

	msg, err := f.pipeline.Send(context.Background(), textSend("where do we meet?"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, msg.Status)
	assert.NotEmpty(t, msg.ID)

	stored, err := f.repo.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "where do we meet?", stored.Content)

	assert.Equal(t, 1, f.fanout.sent["sess-bob"])
	assert.Equal(t, 1, f.fanout.sent["sess-carol"])
	assert.ElementsMatch(t, []string{"bob", "carol"}, f.tracker.opened[msg.ID])
	assert.Empty(t, f.spooler.queued)
	assert.Len(t, f.producer.published, 1)
	assert.Equal(t, 1, f.directory.recorded)
}

func TestSendExcludesOriginSession(t *testing.T) {
	f := newFixture(t)
	f.roster.sessions = []*domain.ConnectionSession{
		liveSession("sess-alice", "alice"),
		liveSession("sess-bob", "bob"),
	}

	req := textSend("hello")
	req.OriginSessionID = "sess-alice"
	_, err := f.pipeline.Send(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, f.fanout.sent["sess-alice"])
	assert.Equal(t, 1, f.fanout.sent["sess-bob"])
}

func TestSendSkipsOfflineRecipients(t *testing.T) {
	f := newFixture(t)
	f.roster.sessions = []*domain.ConnectionSession{liveSession("sess-bob", "bob")}

	msg, err := f.pipeline.Send(context.Background(), textSend("carol reads this later"))
	require.NoError(t, err)

	// Carol is fully offline: no spool entry, no delivery record. She picks
	// the message up from history on her next connect.
	assert.Empty(t, f.spooler.queued["carol"])
	assert.Equal(t, []string{"bob"}, f.tracker.opened[msg.ID])
	assert.Equal(t, 1, f.fanout.sent["sess-bob"])
}

func TestSendSpoolsPoorQualityRecipients(t *testing.T) {
	f := newFixture(t)
	poor := domain.NewConnectionSession("sess-bob", "bob", "bob")
	for i := 0; i < 5; i++ {
		poor.Heartbeat(400 * time.Millisecond)
	}
	f.roster.sessions = []*domain.ConnectionSession{poor, liveSession("sess-carol", "carol")}

	_, err := f.pipeline.Send(context.Background(), textSend("bad link"))
	require.NoError(t, err)

	assert.Zero(t, f.fanout.sent["sess-bob"])
	assert.Len(t, f.spooler.queued["bob"], 1)
	assert.Empty(t, f.spooler.queued["carol"])
}

func TestSendDuplicateReturnsOriginalID(t *testing.T) {
	f := newFixture(t)

	first, err := f.pipeline.Send(context.Background(), textSend("same words"))
	require.NoError(t, err)

	second, err := f.pipeline.Send(context.Background(), textSend("same words"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only one copy persisted.
	page, err := f.repo.ListByRoom(context.Background(), "room-1", 1, 10)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestSendRetryAfterPersistFailureNotDuplicate(t *testing.T) {
	flaky := &flakyRepo{MemoryRepository: NewMemoryRepository(), failures: 1}
	f := newFixture(t, func(o *Options) {
		o.Repo = flaky
	})
	ctx := context.Background()

	_, err := f.pipeline.Send(ctx, textSend("storage hiccup"))
	require.Error(t, err)
	assert.Equal(t, domain.KindPersistence, domain.KindOf(err))

	// The failed submission released its dedup claim, so an identical retry
	// must persist instead of resolving as a duplicate of the dead id.
	msg, err := f.pipeline.Send(ctx, textSend("storage hiccup"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, msg.Status)

	stored, err := flaky.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "storage hiccup", stored.Content)

	page, err := flaky.ListByRoom(ctx, "room-1", 1, 10)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Limiter = denyLimiter{wait: 2 * time.Second}
	})

	_, err := f.pipeline.Send(context.Background(), textSend("too fast"))
	require.Error(t, err)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindRateLimit, de.Kind)
	assert.Equal(t, 2*time.Second, de.RetryAfter)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Send(ctx, textSend(""))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.pipeline.Send(ctx, textSend(string(long)))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	bad := textSend("hi")
	bad.Type = domain.MessageType("carrier_pigeon")
	_, err = f.pipeline.Send(ctx, bad)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSendNonMemberRejected(t *testing.T) {
	f := newFixture(t)

	req := textSend("let me in")
	req.SenderID = "mallory"
	_, err := f.pipeline.Send(context.Background(), req)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestSendInactiveRoomRejected(t *testing.T) {
	f := newFixture(t)
	f.directory.room.Status = domain.RoomStatusArchived

	_, err := f.pipeline.Send(context.Background(), textSend("anyone here?"))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSendAIResponseRequiresPersona(t *testing.T) {
	f := newFixture(t)
	f.directory.room.Settings.AllowAIPersonas = true

	req := textSend("I suggest the museum")
	req.Type = domain.MessageTypeAIResponse
	req.AIContext = &domain.AIContext{PersonaID: "guide", ModelVersion: "guide-v2"}
	_, err := f.pipeline.Send(context.Background(), req)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	f.directory.room.Participants = append(f.directory.room.Participants,
		domain.Participant{UserID: "guide", Role: domain.RoleAIPersona})
	req.SenderID = "guide"
	msg, err := f.pipeline.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeAIResponse, msg.Type)
}

func TestSendReplyBuildsThread(t *testing.T) {
	f := newFixture(t)

	root, err := f.pipeline.Send(context.Background(), textSend("root"))
	require.NoError(t, err)

	reply := textSend("a reply")
	reply.ReplyTo = root.ID
	msg, err := f.pipeline.Send(context.Background(), reply)
	require.NoError(t, err)
	require.NotNil(t, msg.Thread)
	assert.Equal(t, root.ID, msg.Thread.RootID)

	nested := textSend("deeper")
	nested.ReplyTo = msg.ID
	deep, err := f.pipeline.Send(context.Background(), nested)
	require.NoError(t, err)
	assert.Equal(t, root.ID, deep.Thread.RootID)
}

func TestSendReplyChainDepthBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.pipeline.Send(ctx, textSend("root"))
	require.NoError(t, err)

	// The chain may grow to the configured depth.
	for i := 0; i < 3; i++ {
		reply := textSend("reply")
		reply.ReplyTo = parent.ID
		parent, err = f.pipeline.Send(ctx, reply)
		require.NoError(t, err)
	}

	over := textSend("one too deep")
	over.ReplyTo = parent.ID
	_, err = f.pipeline.Send(ctx, over)
	require.Error(t, err)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindValidation, de.Kind)
	assert.Equal(t, domain.ErrCodeThreadTooDeep, de.Code)
}

func TestSendReplyToMissingMessage(t *testing.T) {
	f := newFixture(t)

	req := textSend("reply to nothing")
	req.ReplyTo = "no-such-message"
	_, err := f.pipeline.Send(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		_, err := f.pipeline.Send(ctx, textSend(content))
		require.NoError(t, err)
	}

	page, err := f.pipeline.History(ctx, "room-1", "bob", 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "four", page[0].Content)
	assert.Equal(t, "five", page[1].Content)

	page, err = f.pipeline.History(ctx, "room-1", "bob", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content)
	assert.Equal(t, "three", page[1].Content)
}

func TestHistoryClampsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.pipeline.Send(ctx, textSend("only one"))
	require.NoError(t, err)

	page, err := f.pipeline.History(ctx, "room-1", "bob", 1, 10000)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = f.pipeline.History(ctx, "room-1", "mallory", 1, 10)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.pipeline.Send(ctx, textSend("read me"))
	require.NoError(t, err)

	require.NoError(t, f.pipeline.MarkRead(ctx, "room-1", msg.ID, "bob"))

	stored, err := f.repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasRead("bob"))
	assert.Contains(t, f.directory.readAt, "bob")

	err = f.pipeline.MarkRead(ctx, "room-1", "no-such-message", "bob")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	err = f.pipeline.MarkRead(ctx, "room-1", msg.ID, "mallory")
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.pipeline.Send(ctx, textSend("read twice"))
	require.NoError(t, err)

	require.NoError(t, f.pipeline.MarkRead(ctx, "room-1", msg.ID, "bob"))
	require.NoError(t, f.pipeline.MarkRead(ctx, "room-1", msg.ID, "bob"))

	stored, err := f.repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, stored.ReadBy)
}
