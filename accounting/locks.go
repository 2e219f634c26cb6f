package accounting

import "sync"

// policyLocks serializes operations per policy. Entries are reference
// counted and dropped when the last holder releases them.
type policyLocks struct {
	mu    sync.Mutex
	locks map[PolicyID]*policyLock
}

type policyLock struct {
	mu   sync.Mutex
	refs int
}

func newPolicyLocks() *policyLocks {
	return &policyLocks{locks: make(map[PolicyID]*policyLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *policyLocks) lock(id PolicyID) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &policyLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
