package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes turns per session within this process. Entries are
// reference counted so the map does not grow with session history.
type sessionLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{m: make(map[uuid.UUID]*sessionLock)}
}

// acquire blocks until the session's lock is held and returns the release func.
func (l *sessionLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.m[id]
	if !ok {
		entry = &sessionLock{}
		l.m[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
