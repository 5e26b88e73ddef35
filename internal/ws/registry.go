package ws

import (
	"errors"
	"sort"
	"sync"
	"time"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

var (
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrUnknownConnection   = errors.New("unknown connection")
)

// Sink is the outbound half of a live client transport. Send must not block.
type Sink interface {
	Send(payload []byte) error
	Close(reason string)
}

// Listener observes connection lifecycle. It is invoked while the registry
// write lock is held, so implementations must not block or call back into
// the registry.
type Listener interface {
	OnConnect(userID int, connID string)
	OnDisconnect(userID int, connID string)
}

// Subscriber is a point-in-time view of one subscribed connection.
type Subscriber struct {
	ConnID string
	UserID int
	Sink   Sink
}

// Snapshot describes a registered connection.
type Snapshot struct {
	ConnID       string
	UserID       int
	Topics       []models.Topic
	LastActivity time.Time
	Touched      bool
	Info         ConnInfo
}

// Status is the operational view exposed on the debug endpoint.
type Status struct {
	ActiveConnections   int                  `json:"active_connections"`
	Topics              int                  `json:"topics"`
	PerTopicSubscribers map[models.Topic]int `json:"per_topic_subscribers"`
}

type connection struct {
	id           string
	userID       int
	info         ConnInfo
	sink         Sink
	topics       map[models.Topic]struct{}
	lastActivity time.Time
	touched      bool
}

// Registry owns every live connection of the process and the topic
// subscriber sets derived from them.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	topics   map[models.Topic]map[string]*connection
	users    map[int]map[string]*connection
	listener Listener
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*connection),
		topics: make(map[models.Topic]map[string]*connection),
		users:  make(map[int]map[string]*connection),
		now:    time.Now,
	}
}

// SetListener installs the lifecycle listener. Call before the registry is shared.
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Register adds a connection and subscribes it to topics.
func (r *Registry) Register(connID string, userID int, topics []models.Topic, sink Sink, info ConnInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		return ErrDuplicateConnection
	}

	conn := &connection{
		id:           connID,
		userID:       userID,
		info:         info,
		sink:         sink,
		topics:       make(map[models.Topic]struct{}, len(topics)),
		lastActivity: r.now(),
	}
	r.conns[connID] = conn
	if _, ok := r.users[userID]; !ok {
		r.users[userID] = make(map[string]*connection)
	}
	r.users[userID][connID] = conn
	for _, topic := range topics {
		r.subscribeLocked(conn, topic)
	}

	observability.IncWSActive("chat")
	if r.listener != nil {
		r.listener.OnConnect(userID, connID)
	}
	return nil
}

// Unregister removes a connection from every topic. Unknown ids are a no-op.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.removeLocked(connID)
	return ok
}

// UnregisterIfIdle removes the connection only if it has had no activity
// since cutoff. It returns the sink so the caller can close the transport.
func (r *Registry) UnregisterIfIdle(connID string, cutoff time.Time) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok || conn.lastActivity.After(cutoff) {
		return nil, false
	}
	return r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) (Sink, bool) {
	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)
	for topic := range conn.topics {
		r.unsubscribeLocked(conn, topic)
	}
	if conns, ok := r.users[conn.userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.users, conn.userID)
		}
	}

	observability.DecWSActive("chat")
	if r.listener != nil {
		r.listener.OnDisconnect(conn.userID, connID)
	}
	return conn.sink, true
}

// SubscribersOf returns a consistent snapshot of the connections subscribed
// to topic, ordered by connection id.
func (r *Registry) SubscribersOf(topic models.Topic) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.topics[topic]
	subs := make([]Subscriber, 0, len(conns))
	for _, conn := range conns {
		subs = append(subs, Subscriber{ConnID: conn.id, UserID: conn.userID, Sink: conn.sink})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ConnID < subs[j].ConnID })
	return subs
}

// Touch records activity on a connection.
func (r *Registry) Touch(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	conn.lastActivity = r.now()
	conn.touched = true
	return nil
}

// Subscribe adds a single connection to topic.
func (r *Registry) Subscribe(connID string, topic models.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	r.subscribeLocked(conn, topic)
	return nil
}

// Unsubscribe removes a single connection from topic.
func (r *Registry) Unsubscribe(connID string, topic models.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	r.unsubscribeLocked(conn, topic)
	return nil
}

// SubscribeUser subscribes every connection of userID to topic and returns
// how many connections were affected.
func (r *Registry) SubscribeUser(userID int, topic models.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.users[userID]
	for _, conn := range conns {
		r.subscribeLocked(conn, topic)
	}
	return len(conns)
}

// UnsubscribeUser removes every connection of userID from topic.
func (r *Registry) UnsubscribeUser(userID int, topic models.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.users[userID]
	for _, conn := range conns {
		r.unsubscribeLocked(conn, topic)
	}
	return len(conns)
}

// IsSubscribed reports whether connID currently receives topic.
func (r *Registry) IsSubscribed(connID string, topic models.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, ok = conn.topics[topic]
	return ok
}

// UserSubscribed reports whether any connection of userID receives topic.
func (r *Registry) UserSubscribed(userID int, topic models.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.users[userID] {
		if _, ok := conn.topics[topic]; ok {
			return true
		}
	}
	return false
}

// ConnectionsOf lists the connection ids owned by userID.
func (r *Registry) ConnectionsOf(userID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connection returns a snapshot of one connection.
func (r *Registry) Connection(connID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return Snapshot{}, false
	}
	topics := make([]models.Topic, 0, len(conn.topics))
	for topic := range conn.topics {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return Snapshot{
		ConnID:       conn.id,
		UserID:       conn.userID,
		Topics:       topics,
		LastActivity: conn.lastActivity,
		Touched:      conn.touched,
		Info:         conn.info,
	}, true
}

// IdleSince lists connections with no activity after cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, conn := range r.conns {
		if !conn.lastActivity.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Status summarises the registry for operators.
func (r *Registry) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	per := make(map[models.Topic]int, len(r.topics))
	for topic, conns := range r.topics {
		per[topic] = len(conns)
	}
	return Status{
		ActiveConnections:   len(r.conns),
		Topics:              len(r.topics),
		PerTopicSubscribers: per,
	}
}

// Close unregisters and closes every connection.
func (r *Registry) Close(reason string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	var sinks []Sink
	for _, id := range ids {
		if sink, ok := r.removeLocked(id); ok && sink != nil {
			sinks = append(sinks, sink)
		}
	}
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Close(reason)
	}
}

func (r *Registry) subscribeLocked(conn *connection, topic models.Topic) {
	conn.topics[topic] = struct{}{}
	if _, ok := r.topics[topic]; !ok {
		r.topics[topic] = make(map[string]*connection)
	}
	r.topics[topic][conn.id] = conn
}

func (r *Registry) unsubscribeLocked(conn *connection, topic models.Topic) {
	delete(conn.topics, topic)
	if conns, ok := r.topics[topic]; ok {
		delete(conns, conn.id)
		if len(conns) == 0 {
			delete(r.topics, topic)
		}
	}
}
