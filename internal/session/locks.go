package session

import "sync"

// userLocks serialises membership changes per user.
type userLocks struct {
	mu    sync.Mutex
	locks map[int]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int]*userLock)}
}

func (l *userLocks) lock(userID int) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &userLock{}
		l.locks[userID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
