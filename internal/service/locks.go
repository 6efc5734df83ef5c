package service

import (
	"sync"
	"time"
)

const lockIdleEviction = 5 * time.Second

type recordLock struct {
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
}

// lockTable serializes writers per record id. Entries are created on demand
// and evicted once idle, so the table stays proportional to concurrent
// activity rather than corpus size.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*recordLock)}
}

// Lock acquires the per-id mutex and returns its unlock func.
func (t *lockTable) Lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &recordLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.release(id, l)
	}
}

func (t *lockTable) release(id string, l *recordLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	l.lastUsed = time.Now()
	if l.refs == 0 {
		t.evictIdle()
	}
}

// evictIdle is called with t.mu held.
func (t *lockTable) evictIdle() {
	cutoff := time.Now().Add(-lockIdleEviction)
	for id, l := range t.locks {
		if l.refs == 0 && l.lastUsed.Before(cutoff) {
			delete(t.locks, id)
		}
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
