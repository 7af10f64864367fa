// Package window counts timestamped events per key over a trailing interval.
package window

import (
	"sync"
	"time"
)

type Tracker struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{events: make(map[string][]time.Time)}
}

// Record appends an event for key. Events are expected in time order.
func (t *Tracker) Record(key string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[key] = append(t.events[key], ts)
}

// CountInWindow returns the number of events for key newer than now-window and
// drops the older ones. A zero window counts only events stamped exactly now.
func (t *Tracker) CountInWindow(key string, window time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(key, window, now)
}

// RecordAndCount records ts and returns the count including it.
func (t *Tracker) RecordAndCount(key string, ts time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[key] = append(t.events[key], ts)
	return t.countLocked(key, window, ts)
}

// RecordAndTrip records ts, counts the window and, when trip accepts the count,
// clears the key before releasing the lock. Concurrent callers for one key see
// at most one trip per accumulated burst.
func (t *Tracker) RecordAndTrip(key string, ts time.Time, window time.Duration, trip func(count int) bool) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[key] = append(t.events[key], ts)
	count := t.countLocked(key, window, ts)
	if !trip(count) {
		return count, false
	}
	delete(t.events, key)
	return count, true
}

func (t *Tracker) countLocked(key string, window time.Duration, now time.Time) int {
	hits := t.events[key]
	if len(hits) == 0 {
		delete(t.events, key)
		return 0
	}
	if window < 0 {
		window = 0
	}

	hits = prune(hits, now.Add(-window), window == 0)
	if len(hits) == 0 {
		delete(t.events, key)
		return 0
	}
	t.events[key] = hits

	count := 0
	for _, hit := range hits {
		if hit.After(now) {
			continue
		}
		count++
	}
	return count
}

func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.events, key)
}

// Sweep prunes every key against maxWindow and removes keys left empty.
func (t *Tracker) Sweep(now time.Time, maxWindow time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := now.Add(-maxWindow)
	for key, hits := range t.events {
		hits = prune(hits, cutoff, false)
		if len(hits) == 0 {
			delete(t.events, key)
			removed++
			continue
		}
		t.events[key] = hits
	}
	return removed
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// prune drops the leading events at or before cutoff. With inclusive set, an
// event exactly at cutoff survives.
func prune(hits []time.Time, cutoff time.Time, inclusive bool) []time.Time {
	idx := 0
	for _, hit := range hits {
		if hit.After(cutoff) || (inclusive && hit.Equal(cutoff)) {
			break
		}
		idx++
	}
	if idx == 0 {
		return hits
	}
	kept := make([]time.Time, len(hits)-idx)
	copy(kept, hits[idx:])
	return kept
}
