package store

import "sync"

// sessionLocks hands out one mutex per session id and frees it when the
// last holder releases it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*refMutex)}
}

// lock blocks until the session lock is held and returns its release func.
func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &refMutex{}
		l.locks[sessionID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
