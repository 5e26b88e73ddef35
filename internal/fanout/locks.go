package fanout

import (
	"sync"

	"chat-realtime/internal/models"
)

// topicLocks hands out one mutex per topic and forgets it once unused.
type topicLocks struct {
	mu    sync.Mutex
	locks map[models.Topic]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newTopicLocks() *topicLocks {
	return &topicLocks{locks: make(map[models.Topic]*refMutex)}
}

func (l *topicLocks) lock(topic models.Topic) func() {
	l.mu.Lock()
	m, ok := l.locks[topic]
	if !ok {
		m = &refMutex{}
		l.locks[topic] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, topic)
		}
		l.mu.Unlock()
	}
}

func (l *topicLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
