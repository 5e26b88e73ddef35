package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/unread"
	"chat-realtime/internal/ws"
)

type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(token, "token-"))
	if err != nil || !strings.HasPrefix(token, "token-") {
		return 0, errors.New("bad token")
	}
	return id, nil
}

type inbox struct {
	mu     sync.Mutex
	frames [][]byte
	closed string
}

func (i *inbox) Send(payload []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.frames = append(i.frames, payload)
	return nil
}

func (i *inbox) Close(reason string) {
	i.mu.Lock()
	i.closed = reason
	i.mu.Unlock()
}

func (i *inbox) kinds(t *testing.T) []models.EventKind {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []models.EventKind
	for _, f := range i.frames {
		var ev models.Event
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev.Kind)
	}
	return out
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAuditor) Action(_ context.Context, _ string, action string, _ int, _ int, _ string) {
	a.mu.Lock()
	a.actions = append(a.actions, action)
	a.mu.Unlock()
}

type fixture struct {
	svc      *Service
	store    *repositories.MemoryStore
	registry *ws.Registry
	audit    *recordingAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	store.AddParticipant(models.ParticipantState{ChatID: 1, UserID: 1, Active: true})
	store.AddParticipant(models.ParticipantState{ChatID: 1, UserID: 2, Active: true})
	store.AddParticipant(models.ParticipantState{ChatID: 2, UserID: 1, Active: false})

	registry := ws.NewRegistry()
	audit := &recordingAuditor{}
	svc := NewService(Deps{
		Verifier:     tokenVerifier{},
		Participants: store,
		Messages:     store,
		Registry:     registry,
		Fanout:       fanout.New(registry),
		Unread:       unread.NewAccountant(store, store),
		Audit:        audit,
	})
	return &fixture{svc: svc, store: store, registry: registry, audit: audit}
}

func (f *fixture) attach(t *testing.T, userID int, chatIDs ...int) (Handle, *inbox) {
	t.Helper()
	box := &inbox{}
	h, err := f.svc.Attach(context.Background(), "token-"+strconv.Itoa(userID), chatIDs, ws.ConnInfo{}, func(string) (ws.Sink, error) {
		return box, nil
	})
	require.NoError(t, err)
	return h, box
}

func TestTypingUnreadAndSeenBetweenTwoUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, boxA := f.attach(t, 1, 1)
	_, boxB := f.attach(t, 2, 1)

	require.NoError(t, f.svc.SendTyping(ctx, 1, 1, true))
	assert.Equal(t, []models.EventKind{models.EventTyping}, boxB.kinds(t))
	assert.Empty(t, boxA.kinds(t))

	msg, err := f.svc.SendMessage(ctx, 2, 1, "hello")
	require.NoError(t, err)
	assert.Equal(t, []models.EventKind{models.EventMessageCreated}, boxA.kinds(t))

	n, err := f.svc.UnreadCount(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.svc.UnreadCount(ctx, 2, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.svc.MarkMessageSeen(ctx, 1, 1, msg.ID))
	assert.Contains(t, boxB.kinds(t), models.EventSeen)

	n, err = f.svc.UnreadCount(ctx, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	snap, err := f.svc.Unread(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
}

func TestAttachRejectsBadTokenWithoutOpening(t *testing.T) {
	f := newFixture(t)
	opened := false
	_, err := f.svc.Attach(context.Background(), "garbage", []int{1}, ws.ConnInfo{}, func(string) (ws.Sink, error) {
		opened = true
		return &inbox{}, nil
	})
	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, opened)
}

func TestAttachRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)
	opened := false
	open := func(string) (ws.Sink, error) {
		opened = true
		return &inbox{}, nil
	}

	_, err := f.svc.Attach(context.Background(), "token-3", []int{1}, ws.ConnInfo{}, open)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.Attach(context.Background(), "token-1", []int{1, 2}, ws.ConnInfo{}, open)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.False(t, opened)
	assert.Zero(t, f.registry.Status().ActiveConnections)
	assert.Contains(t, f.audit.actions, "access_denied")
}

func TestAttachSubscribesChatsAndUserTopic(t *testing.T) {
	f := newFixture(t)
	h, _ := f.attach(t, 1, 1, 1)

	assert.Equal(t, []int{1}, h.ChatIDs)
	snap, ok := f.registry.Connection(h.ConnID)
	require.True(t, ok)
	assert.ElementsMatch(t, []models.Topic{models.ChatTopic(1), models.UserTopic(1)}, snap.Topics)
	assert.Equal(t, h.ConnID, snap.Info.ConnID)
	assert.False(t, snap.Info.ConnectedAt.IsZero())
}

func TestAttachOpenFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Attach(context.Background(), "token-1", []int{1}, ws.ConnInfo{}, func(string) (ws.Sink, error) {
		return nil, errors.New("upgrade failed")
	})
	require.Error(t, err)
	assert.Zero(t, f.registry.Status().ActiveConnections)
}

func TestDetachRemovesEverything(t *testing.T) {
	f := newFixture(t)
	h, _ := f.attach(t, 1, 1)
	assert.True(t, f.svc.Detach(h))
	assert.False(t, f.svc.Detach(h))
	assert.Empty(t, f.registry.SubscribersOf(models.ChatTopic(1)))
	assert.Equal(t, StateDisconnected, f.svc.State(h.ConnID))
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t)
	var during State
	var connID string
	_, err := f.svc.Attach(context.Background(), "token-1", []int{1}, ws.ConnInfo{}, func(id string) (ws.Sink, error) {
		connID = id
		during = f.svc.State(id)
		return &inbox{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, during)
	assert.Equal(t, StateJoined, f.svc.State(connID))

	require.NoError(t, f.svc.Activity(Handle{ConnID: connID}))
	assert.Equal(t, StateActive, f.svc.State(connID))

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, StateIdle, f.svc.State(connID))

	assert.ErrorIs(t, f.svc.Activity(Handle{ConnID: "gone"}), ws.ErrUnknownConnection)
}

func TestSendTypingRequiresParticipation(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SendTyping(context.Background(), 3, 1, true)
	assert.ErrorIs(t, err, ErrAccessDenied)

	err = f.svc.SendTyping(context.Background(), 1, 2, true)
	assert.ErrorIs(t, err, ErrAccessDenied)

	assert.NoError(t, f.svc.SendTyping(context.Background(), 2, 1, false))
}

func TestSendTypingRechecksParticipation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.attach(t, 1, 1)
	require.NoError(t, f.svc.SendTyping(ctx, 1, 1, true))

	require.NoError(t, f.store.SetActive(ctx, 1, 1, false))
	assert.ErrorIs(t, f.svc.SendTyping(ctx, 1, 1, true), ErrAccessDenied)
}

func TestMarkMessageSeenErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own, err := f.svc.SendMessage(ctx, 1, 1, "mine")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.MarkMessageSeen(ctx, 1, 1, own.ID), ErrCannotSeeOwnMessage)
	assert.ErrorIs(t, f.svc.MarkMessageSeen(ctx, 2, 1, 999), ErrNotFound)

	f.store.AddParticipant(models.ParticipantState{ChatID: 5, UserID: 2, Active: true})
	assert.ErrorIs(t, f.svc.MarkMessageSeen(ctx, 2, 5, own.ID), ErrNotFound)
	assert.ErrorIs(t, f.svc.MarkMessageSeen(ctx, 3, 1, own.ID), ErrAccessDenied)
}

func TestMarkMessageSeenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, boxA := f.attach(t, 1, 1)
	msg, err := f.svc.SendMessage(ctx, 1, 1, "hi")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkMessageSeen(ctx, 2, 1, msg.ID))
	require.NoError(t, f.svc.MarkMessageSeen(ctx, 2, 1, msg.ID))

	seen := 0
	for _, k := range boxA.kinds(t) {
		if k == models.EventSeen {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendMessage(context.Background(), 1, 1, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = f.svc.SendMessage(context.Background(), 3, 1, "hi")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestJoinAndLeaveUpdateSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h, _ := f.attach(t, 1, 1)

	require.NoError(t, f.svc.JoinChat(ctx, 1, 2))
	assert.True(t, f.registry.IsSubscribed(h.ConnID, models.ChatTopic(2)))
	p, _ := f.store.GetParticipant(ctx, 2, 1)
	assert.True(t, p.Active)

	require.NoError(t, f.svc.LeaveChat(ctx, 1, 1))
	assert.False(t, f.registry.IsSubscribed(h.ConnID, models.ChatTopic(1)))
	assert.ErrorIs(t, f.svc.SendTyping(ctx, 1, 1, true), ErrAccessDenied)

	assert.ErrorIs(t, f.svc.JoinChat(ctx, 1, 42), ErrAccessDenied)
	assert.Contains(t, f.audit.actions, "join")
	assert.Contains(t, f.audit.actions, "leave")
}

type failingActive struct {
	*repositories.MemoryStore
}

func (failingActive) SetActive(context.Context, int, int, bool) error {
	return errors.New("db down")
}

func TestJoinStoreFailureLeavesRegistryUntouched(t *testing.T) {
	f := newFixture(t)
	h, _ := f.attach(t, 1, 1)
	f.svc.participants = failingActive{f.store}

	require.Error(t, f.svc.JoinChat(context.Background(), 1, 2))
	assert.False(t, f.registry.IsSubscribed(h.ConnID, models.ChatTopic(2)))
}

func TestUnreadNotAParticipant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UnreadCount(context.Background(), 9, 1)
	assert.ErrorIs(t, err, unread.ErrNotAParticipant)
	assert.ErrorIs(t, f.svc.MarkRead(context.Background(), 9, 1, time.Time{}), unread.ErrNotAParticipant)
}

func TestMessagesSinceForCatchUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := f.svc.SendMessage(ctx, 1, 1, "a")
	_, _ = f.svc.SendMessage(ctx, 2, 1, "b")

	msgs, err := f.svc.MessagesSince(ctx, 2, 1, first.CreatedAt)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].Content)

	_, err = f.svc.MessagesSince(ctx, 3, 1, time.Time{})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestDebugStatus(t *testing.T) {
	f := newFixture(t)
	f.attach(t, 1, 1)
	f.attach(t, 2, 1)
	status := f.svc.DebugStatus()
	assert.Equal(t, 2, status.ActiveConnections)
	assert.Equal(t, 2, status.PerTopicSubscribers[models.ChatTopic(1)])
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-9")
	assert.Equal(t, "req-9", requestIDFrom(ctx))
	assert.Empty(t, requestIDFrom(context.Background()))
}
