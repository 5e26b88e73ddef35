package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
	"chat-realtime/internal/ws"
)

type memorySink struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     error
}

func (s *memorySink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *memorySink) Close(string) {}

func (s *memorySink) events(t *testing.T) []models.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, 0, len(s.payloads))
	for _, p := range s.payloads {
		var ev models.Event
		require.NoError(t, json.Unmarshal(p, &ev))
		out = append(out, ev)
	}
	return out
}

type fakeBroker struct {
	mu        sync.Mutex
	published []Envelope
	err       error
}

func (b *fakeBroker) PublishExternal(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return b.err
}

func (b *fakeBroker) SubscribeExternal(context.Context, string, func(Envelope)) error { return nil }

func durableMessage(chatID int) models.Message {
	return models.Message{ID: 10, ChatID: chatID, AuthorID: 1, Content: "hi", CreatedAt: time.Now().UTC()}
}

func TestPublishDeliversToEverySubscriber(t *testing.T) {
	reg := ws.NewRegistry()
	a, b := &memorySink{}, &memorySink{}
	require.NoError(t, reg.Register("a", 1, []models.Topic{models.ChatTopic(5)}, a, ws.ConnInfo{}))
	require.NoError(t, reg.Register("b", 2, []models.Topic{models.ChatTopic(5)}, b, ws.ConnInfo{}))

	f := New(reg)
	ev := models.NewEvent(models.EventSeen, models.ChatTopic(5), 1, models.SeenPayload{ChatID: 5, UserID: 1, MessageID: 3})
	report, err := f.Publish(context.Background(), models.ChatTopic(5), ev)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Delivered)
	assert.Empty(t, report.Failures)
	require.Len(t, a.events(t), 1)
	assert.Equal(t, models.EventSeen, a.events(t)[0].Kind)
	assert.Equal(t, models.ChatTopic(5), b.events(t)[0].Topic)
}

func TestPublishReportsFailuresWithoutErroring(t *testing.T) {
	reg := ws.NewRegistry()
	ok := &memorySink{}
	broken := &memorySink{fail: ws.ErrBufferExceeded}
	require.NoError(t, reg.Register("ok", 1, []models.Topic{models.ChatTopic(1)}, ok, ws.ConnInfo{}))
	require.NoError(t, reg.Register("broken", 2, []models.Topic{models.ChatTopic(1)}, broken, ws.ConnInfo{}))

	report, err := New(reg).Publish(context.Background(), models.ChatTopic(1),
		models.NewEvent(models.EventTyping, models.ChatTopic(1), 3, models.TypingPayload{ChatID: 1, UserID: 3, IsTyping: true}))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken", report.Failures[0].ConnID)
	assert.ErrorIs(t, report.Failures[0].Err, ws.ErrBufferExceeded)
	assert.Len(t, ok.events(t), 1)
}

func TestPublishExceptSkipsExcludedUser(t *testing.T) {
	reg := ws.NewRegistry()
	sender, peer := &memorySink{}, &memorySink{}
	require.NoError(t, reg.Register("s", 1, []models.Topic{models.ChatTopic(2)}, sender, ws.ConnInfo{}))
	require.NoError(t, reg.Register("p", 2, []models.Topic{models.ChatTopic(2)}, peer, ws.ConnInfo{}))

	report, err := New(reg).PublishExcept(context.Background(), models.ChatTopic(2),
		models.NewEvent(models.EventTyping, models.ChatTopic(2), 1, models.TypingPayload{ChatID: 2, UserID: 1, IsTyping: true}), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Attempted)
	assert.Empty(t, sender.events(t))
	assert.Len(t, peer.events(t), 1)
}

func TestPublishEmptyTopic(t *testing.T) {
	report, err := New(ws.NewRegistry()).Publish(context.Background(), models.ChatTopic(99),
		models.NewEvent(models.EventSeen, models.ChatTopic(99), 1, nil))
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestPublishRejectsNonDurableMessage(t *testing.T) {
	reg := ws.NewRegistry()
	sink := &memorySink{}
	require.NoError(t, reg.Register("a", 1, []models.Topic{models.ChatTopic(1)}, sink, ws.ConnInfo{}))
	f := New(reg)

	_, err := f.Publish(context.Background(), models.ChatTopic(1),
		models.NewEvent(models.EventMessageCreated, models.ChatTopic(1), 1, models.MessagePayload{Message: models.Message{ChatID: 1, Content: "draft"}}))
	assert.ErrorIs(t, err, ErrNotDurable)
	assert.Empty(t, sink.events(t))

	_, err = f.Publish(context.Background(), models.ChatTopic(1),
		models.NewEvent(models.EventMessageCreated, models.ChatTopic(1), 1, models.MessagePayload{Message: durableMessage(1)}))
	require.NoError(t, err)
	assert.Len(t, sink.events(t), 1)
}

func TestPublishPreservesOrderPerTopic(t *testing.T) {
	reg := ws.NewRegistry()
	sink := &memorySink{}
	require.NoError(t, reg.Register("a", 1, []models.Topic{models.ChatTopic(1)}, sink, ws.ConnInfo{}))
	f := New(reg)

	for i := 1; i <= 50; i++ {
		_, err := f.Publish(context.Background(), models.ChatTopic(1),
			models.NewEvent(models.EventSeen, models.ChatTopic(1), 1, models.SeenPayload{ChatID: 1, MessageID: i}))
		require.NoError(t, err)
	}

	events := sink.events(t)
	require.Len(t, events, 50)
	for i, ev := range events {
		payload, ok := ev.Payload.(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, i+1, payload["message_id"])
	}
}

func TestConcurrentPublishesDeliverEverything(t *testing.T) {
	reg := ws.NewRegistry()
	sink := &memorySink{}
	require.NoError(t, reg.Register("a", 1, []models.Topic{models.ChatTopic(1), models.ChatTopic(2)}, sink, ws.ConnInfo{}))
	f := New(reg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := models.ChatTopic(1 + i%2)
			_, _ = f.Publish(context.Background(), topic, models.NewEvent(models.EventSeen, topic, 1, nil))
		}(i)
	}
	wg.Wait()

	assert.Len(t, sink.events(t), 20)
	assert.Zero(t, f.locks.size())
}

func TestBrokerForwardingAndOriginFilter(t *testing.T) {
	reg := ws.NewRegistry()
	sink := &memorySink{}
	require.NoError(t, reg.Register("a", 1, []models.Topic{models.ChatTopic(1)}, sink, ws.ConnInfo{}))
	broker := &fakeBroker{}
	f := New(reg, WithBroker(broker, "node-a"))

	_, err := f.PublishExcept(context.Background(), models.ChatTopic(1),
		models.NewEvent(models.EventSeen, models.ChatTopic(1), 2, nil), 2)
	require.NoError(t, err)
	require.Len(t, broker.published, 1)
	assert.Equal(t, "node-a", broker.published[0].Event.Origin)
	assert.Equal(t, 2, broker.published[0].ExcludeUserID)

	report := f.DeliverExternal(broker.published[0])
	assert.Zero(t, report.Attempted)
	assert.Len(t, sink.events(t), 1)

	remote := models.NewEvent(models.EventSeen, models.ChatTopic(1), 3, nil)
	remote.Origin = "node-b"
	report = f.DeliverExternal(Envelope{Event: remote})
	assert.Equal(t, 1, report.Delivered)
	assert.Len(t, sink.events(t), 2)
	assert.Len(t, broker.published, 1)
}

func TestBrokerErrorIsReported(t *testing.T) {
	broker := &fakeBroker{err: errors.New("down")}
	f := New(ws.NewRegistry(), WithBroker(broker, "node-a"))

	report, err := f.Publish(context.Background(), models.ChatTopic(1), models.NewEvent(models.EventSeen, models.ChatTopic(1), 1, nil))
	require.NoError(t, err)
	assert.EqualError(t, report.ExternalErr, "down")
}

func TestBrokerForwardsTypingAlongsideDurableKinds(t *testing.T) {
	reg := ws.NewRegistry()
	broker := &fakeBroker{}
	f := New(reg, WithBroker(broker, "node-a"))
	topic := models.ChatTopic(4)

	_, err := f.PublishExcept(context.Background(), topic,
		models.NewEvent(models.EventTyping, topic, 2, models.TypingPayload{ChatID: 4, UserID: 2, IsTyping: true}), 2)
	require.NoError(t, err)
	_, err = f.Publish(context.Background(), topic, models.NewEvent(models.EventSeen, topic, 2, nil))
	require.NoError(t, err)

	require.Len(t, broker.published, 2)
	assert.Equal(t, models.EventTyping, broker.published[0].Event.Kind)
	assert.True(t, broker.published[0].Event.Kind.Transient())
	assert.Equal(t, models.EventSeen, broker.published[1].Event.Kind)
	assert.False(t, broker.published[1].Event.Kind.Transient())
}
