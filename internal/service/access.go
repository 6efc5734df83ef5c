package service

import (
	"sync"
	"time"
)

// Window lengths the placement rules care about.
const (
	accessWindowDay   = 24 * time.Hour
	accessWindowWeek  = 7 * 24 * time.Hour
	accessWindowMonth = 30 * 24 * time.Hour
)

// accessTracker keeps per-record access timestamps inside the longest window
// the placement rules consult. It is in-process state: after a restart the
// windows rebuild from live traffic, which only delays promotions, never
// loses records.
type accessTracker struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func newAccessTracker() *accessTracker {
	return &accessTracker{events: make(map[string][]time.Time)}
}

func (t *accessTracker) Record(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[id] = pruneBefore(append(t.events[id], at), at.Add(-accessWindowMonth))
}

// CountSince reports accesses for id in [since, now].
func (t *accessTracker) CountSince(id string, since time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, at := range t.events[id] {
		if !at.Before(since) {
			n++
		}
	}
	return n
}

func (t *accessTracker) CountLastDay(id string, now time.Time) int {
	return t.CountSince(id, now.Add(-accessWindowDay))
}

func (t *accessTracker) CountLastWeek(id string, now time.Time) int {
	return t.CountSince(id, now.Add(-accessWindowWeek))
}

func (t *accessTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.events, id)
}

// Compact drops events older than the month window and empty entries.
func (t *accessTracker) Compact(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now.Add(-accessWindowMonth)
	for id, evs := range t.events {
		evs = pruneBefore(evs, cutoff)
		if len(evs) == 0 {
			delete(t.events, id)
			continue
		}
		t.events[id] = evs
	}
}

func pruneBefore(evs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(evs); i++ {
		if !evs[i].Before(cutoff) {
			break
		}
	}
	return evs[i:]
}
