// Package presence derives online/offline state from the connection registry
// and announces debounced transitions to each user's contacts.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-realtime/internal/fanout"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// DefaultGrace is how long an offline transition is held back so that a
// quick reconnect produces no events.
const DefaultGrace = 2 * time.Second

const emitTimeout = 5 * time.Second

// ContactSource is the social graph: who should hear about a user's presence.
type ContactSource interface {
	ContactsOf(ctx context.Context, userID int) ([]int, error)
}

// Publisher delivers presence events.
type Publisher interface {
	Publish(ctx context.Context, topic models.Topic, event models.Event) (fanout.Report, error)
}

// LastSeenStore persists last-seen times across restarts.
type LastSeenStore interface {
	SetLastSeen(ctx context.Context, userID int, at time.Time) error
	GetLastSeen(ctx context.Context, userID int) (time.Time, bool, error)
}

type stopper interface {
	Stop() bool
}

type record struct {
	conns     map[string]struct{}
	lastSeen  time.Time
	gen       uint64
	announced bool
	timer     stopper
}

// Tracker implements ws.Listener. Its callbacks only touch in-memory state;
// contact lookups and publishes run on their own goroutines or timers.
type Tracker struct {
	mu      sync.Mutex
	records map[int]*record

	contacts  ContactSource
	publisher Publisher
	store     LastSeenStore
	grace     time.Duration
	logger    zerolog.Logger

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) stopper
	spawn     func(f func())
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithGrace overrides the offline debounce window.
func WithGrace(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.grace = d
		}
	}
}

// WithLastSeenStore persists last-seen on every confirmed offline transition.
func WithLastSeenStore(store LastSeenStore) Option {
	return func(t *Tracker) { t.store = store }
}

// NewTracker builds a tracker announcing through publisher.
func NewTracker(contacts ContactSource, publisher Publisher, opts ...Option) *Tracker {
	t := &Tracker{
		records:   make(map[int]*record),
		contacts:  contacts,
		publisher: publisher,
		grace:     DefaultGrace,
		logger:    logging.With("presence"),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		spawn:     func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnConnect records a new connection for userID.
func (t *Tracker) OnConnect(userID int, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.recordLocked(userID)
	first := len(rec.conns) == 0
	rec.conns[connID] = struct{}{}
	if !first {
		return
	}

	rec.gen++
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if rec.announced {
		observability.IncPresenceTransition("online", "suppressed")
		t.logger.Debug().Int("user_id", userID).Msg("presence flap suppressed")
		return
	}
	gen := rec.gen
	t.spawn(func() { t.announceOnline(userID, gen) })
}

// OnDisconnect drops a connection and, if it was the user's last one,
// schedules the offline announcement after the grace window.
func (t *Tracker) OnDisconnect(userID int, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userID]
	if !ok {
		return
	}
	if _, ok := rec.conns[connID]; !ok {
		return
	}
	delete(rec.conns, connID)
	if len(rec.conns) > 0 {
		return
	}

	rec.lastSeen = t.now().UTC()
	rec.gen++
	gen := rec.gen
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.timer = t.afterFunc(t.grace, func() { t.announceOffline(userID, gen) })
}

// IsOnline reports whether userID has at least one live connection.
func (t *Tracker) IsOnline(userID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[userID]
	return ok && len(rec.conns) > 0
}

// LastSeen returns when userID was last connected. Online users report now.
func (t *Tracker) LastSeen(ctx context.Context, userID int) (time.Time, bool) {
	t.mu.Lock()
	rec, ok := t.records[userID]
	switch {
	case ok && len(rec.conns) > 0:
		t.mu.Unlock()
		return t.now().UTC(), true
	case ok && !rec.lastSeen.IsZero():
		at := rec.lastSeen
		t.mu.Unlock()
		return at, true
	}
	t.mu.Unlock()

	if t.store == nil {
		return time.Time{}, false
	}
	at, found, err := t.store.GetLastSeen(ctx, userID)
	if err != nil {
		t.logger.Warn().Err(err).Int("user_id", userID).Msg("load last seen")
		return time.Time{}, false
	}
	return at, found
}

// Record returns a copy of the presence record for userID.
func (t *Tracker) Record(userID int) models.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := models.PresenceRecord{UserID: userID}
	rec, ok := t.records[userID]
	if !ok {
		return out
	}
	out.Online = len(rec.conns) > 0
	out.LastSeen = rec.lastSeen
	for id := range rec.conns {
		out.ConnectionIDs = append(out.ConnectionIDs, id)
	}
	return out
}

func (t *Tracker) recordLocked(userID int) *record {
	rec, ok := t.records[userID]
	if !ok {
		rec = &record{conns: make(map[string]struct{})}
		t.records[userID] = rec
	}
	return rec
}

func (t *Tracker) announceOnline(userID int, gen uint64) {
	t.mu.Lock()
	rec, ok := t.records[userID]
	if !ok || rec.gen != gen || len(rec.conns) == 0 || rec.announced {
		t.mu.Unlock()
		return
	}
	rec.announced = true
	t.mu.Unlock()

	t.broadcast(userID, models.PresencePayload{UserID: userID, Online: true, LastSeen: t.now().UTC()})
}

func (t *Tracker) announceOffline(userID int, gen uint64) {
	t.mu.Lock()
	rec, ok := t.records[userID]
	if !ok || rec.gen != gen || len(rec.conns) > 0 {
		t.mu.Unlock()
		return
	}
	rec.timer = nil
	wasAnnounced := rec.announced
	rec.announced = false
	lastSeen := rec.lastSeen
	t.mu.Unlock()

	if t.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		if err := t.store.SetLastSeen(ctx, userID, lastSeen); err != nil {
			t.logger.Warn().Err(err).Int("user_id", userID).Msg("persist last seen")
		}
		cancel()
	}
	if !wasAnnounced {
		return
	}
	t.broadcast(userID, models.PresencePayload{UserID: userID, Online: false, LastSeen: lastSeen})
}

func (t *Tracker) broadcast(userID int, payload models.PresencePayload) {
	state := "offline"
	if payload.Online {
		state = "online"
	}

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	contacts, err := t.contacts.ContactsOf(ctx, userID)
	if err != nil {
		observability.IncPresenceTransition(state, "error")
		t.logger.Warn().Err(err).Int("user_id", userID).Msg("load contacts")
		return
	}
	for _, contact := range contacts {
		topic := models.UserTopic(contact)
		ev := models.NewEvent(models.EventPresenceChanged, topic, userID, payload)
		if _, err := t.publisher.Publish(ctx, topic, ev); err != nil {
			t.logger.Warn().Err(err).Int("user_id", userID).Int("contact_id", contact).Msg("publish presence")
		}
	}
	observability.IncPresenceTransition(state, "emitted")
	t.logger.Debug().Int("user_id", userID).Str("state", state).Int("contacts", len(contacts)).Msg("presence changed")
}
