package window

import (
	"sync"
	"testing"
	"time"
)

func TestCountInWindow(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	tracker.Record("u1:g1", now)
	tracker.Record("u1:g1", now.Add(500*time.Millisecond))
	if count := tracker.CountInWindow("u1:g1", 2*time.Second, now.Add(1*time.Second)); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := tracker.CountInWindow("u1:g1", 2*time.Second, now.Add(3*time.Second)); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
	if tracker.Len() != 0 {
		t.Fatalf("expected empty key to be collected")
	}
}

func TestEventAtWindowEdgeIsExpired(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	tracker.Record("k", now)
	if count := tracker.CountInWindow("k", 5*time.Second, now.Add(5*time.Second)); count != 0 {
		t.Fatalf("event exactly window old must not count, got %d", count)
	}
}

func TestEmptyKeyAndZeroWindow(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	if count := tracker.CountInWindow("missing", time.Second, now); count != 0 {
		t.Fatalf("expected 0 for empty key, got %d", count)
	}
	tracker.Record("k", now.Add(-time.Millisecond))
	tracker.Record("k", now)
	if count := tracker.CountInWindow("k", 0, now); count != 1 {
		t.Fatalf("zero window should count only events at now, got %d", count)
	}
}

func TestResetAndSweep(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	tracker.Record("a", now)
	tracker.Record("b", now.Add(-time.Minute))
	tracker.Reset("a")
	if count := tracker.CountInWindow("a", time.Minute, now); count != 0 {
		t.Fatalf("expected reset key to be empty, got %d", count)
	}
	tracker.Record("c", now)
	if removed := tracker.Sweep(now, 10*time.Second); removed != 1 {
		t.Fatalf("expected 1 key swept, got %d", removed)
	}
	if tracker.Len() != 1 {
		t.Fatalf("expected one live key, got %d", tracker.Len())
	}
}

func TestRecordAndCountIncludesCurrentEvent(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	for i := 0; i < 4; i++ {
		tracker.RecordAndCount("k", now.Add(time.Duration(i)*time.Second), 5*time.Second)
	}
	if count := tracker.RecordAndCount("k", now.Add(4*time.Second), 5*time.Second); count != 5 {
		t.Fatalf("expected 5, got %d", count)
	}
}

func TestConcurrentKeys(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := string(rune('a' + id))
			for j := 0; j < 100; j++ {
				tracker.RecordAndCount(key, now, time.Second)
			}
		}(i)
	}
	wg.Wait()
	if count := tracker.CountInWindow("a", time.Second, now); count != 100 {
		t.Fatalf("expected 100, got %d", count)
	}
}

func TestRecordAndTripClearsUnderLock(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	trip := func(count int) bool { return count >= 3 }

	var mu sync.Mutex
	trips := 0
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, tripped := tracker.RecordAndTrip("k", now, time.Second, trip); tripped {
				mu.Lock()
				trips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if trips != 1 {
		t.Fatalf("expected one trip, got %d", trips)
	}
	if count := tracker.CountInWindow("k", time.Second, now); count != 2 {
		t.Fatalf("expected the two events after the trip, got %d", count)
	}
}
