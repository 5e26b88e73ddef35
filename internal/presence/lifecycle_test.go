package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/fanout"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/ws"
)

type captureSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed string
}

func (s *captureSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, payload)
	return nil
}

func (s *captureSink) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = reason
}

func (s *captureSink) closedWith() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *captureSink) presence(t *testing.T) []models.PresencePayload {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PresencePayload
	for _, f := range s.frames {
		var ev struct {
			Kind    models.EventKind       `json:"kind"`
			Payload models.PresencePayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(f, &ev))
		if ev.Kind == models.EventPresenceChanged {
			out = append(out, ev.Payload)
		}
	}
	return out
}

func TestReapedConnectionGoesOfflineForContacts(t *testing.T) {
	contacts := new(mocks.ContactRepositoryMock)
	contacts.On("ContactsOf", mock.Anything, 1).Return([]int{3}, nil)
	contacts.On("ContactsOf", mock.Anything, 3).Return([]int{}, nil).Maybe()

	registry := ws.NewRegistry()
	tracker := NewTracker(contacts, fanout.New(registry), WithGrace(10*time.Millisecond))
	registry.SetListener(tracker)
	reaper := ws.NewReaper(registry, 20*time.Millisecond, time.Hour)

	idle := &captureSink{}
	require.NoError(t, registry.Register("c1", 1, []models.Topic{models.ChatTopic(9), models.UserTopic(1)}, idle, ws.ConnInfo{}))
	assert.True(t, tracker.IsOnline(1))
	require.Eventually(t, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		return tracker.records[1].announced
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	watcher := &captureSink{}
	require.NoError(t, registry.Register("c3", 3, []models.Topic{models.UserTopic(3)}, watcher, ws.ConnInfo{}))

	assert.Equal(t, 1, reaper.Sweep())
	assert.Equal(t, "idle timeout", idle.closedWith())
	assert.False(t, tracker.IsOnline(1))
	assert.True(t, tracker.IsOnline(3))
	assert.Empty(t, registry.SubscribersOf(models.ChatTopic(9)))
	assert.Empty(t, registry.SubscribersOf(models.UserTopic(1)))

	require.Eventually(t, func() bool {
		return len(watcher.presence(t)) == 1
	}, time.Second, 5*time.Millisecond)
	got := watcher.presence(t)[0]
	assert.Equal(t, 1, got.UserID)
	assert.False(t, got.Online)
	assert.Empty(t, idle.presence(t))
}
