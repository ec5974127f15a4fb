package service

import "sync"

// Locks provides per-site mutual exclusion with fail-fast acquisition.
// A lock is held for the whole create/delete sequence of one site, so
// operations on different sites proceed fully in parallel while operations
// on the same site never overlap. Acquisition never queues.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// TryAcquire attempts to take the exclusive lock for siteName without
// blocking. On success the returned release func must be called exactly
// once. Entries are kept once created; the map is bounded by the number of
// distinct site names ever operated on.
func (l *Locks) TryAcquire(siteName string) (release func(), ok bool) {
	l.mu.Lock()
	m, found := l.locks[siteName]
	if !found {
		m = &sync.Mutex{}
		l.locks[siteName] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
