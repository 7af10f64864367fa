package antispam

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guild-warden/internal/config"
)

func TestBurstTriggersOnceAndResets(t *testing.T) {
	cfg := config.DefaultModeration()
	cfg.SpamThreshold = 5
	cfg.SpamWindowMs = 5000
	module := New(nil)
	now := time.Unix(1000, 0)

	triggers := 0
	for i := 0; i < 6; i++ {
		if _, flagged := module.HandleMessage("g1", "u1", now.Add(time.Duration(i)*500*time.Millisecond), cfg); flagged {
			triggers++
		}
	}
	if triggers != 1 {
		t.Fatalf("expected exactly one trigger, got %d", triggers)
	}
	count, _ := module.HandleMessage("g1", "u1", now.Add(3500*time.Millisecond), cfg)
	if count != 2 {
		t.Fatalf("expected fresh count after reset, got %d", count)
	}
}

func TestSlowMessagesDoNotTrigger(t *testing.T) {
	cfg := config.DefaultModeration()
	module := New(nil)
	now := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		if _, flagged := module.HandleMessage("g1", "u1", now.Add(time.Duration(i)*2*time.Second), cfg); flagged {
			t.Fatalf("unexpected flag at message %d", i)
		}
	}
}

func TestDisabledSpamNeverRecords(t *testing.T) {
	cfg := config.DefaultModeration()
	cfg.SpamEnabled = false
	module := New(nil)
	if _, flagged := module.HandleMessage("g1", "u1", time.Unix(1000, 0), cfg); flagged {
		t.Fatalf("disabled module must not flag")
	}
	if module.Tracked() != 0 {
		t.Fatalf("disabled module must not track")
	}
}

func TestForgetDropsAuthorHistory(t *testing.T) {
	cfg := config.DefaultModeration()
	module := New(nil)
	now := time.Unix(1000, 0)
	module.HandleMessage("g1", "u1", now, cfg)
	module.HandleMessage("g2", "u1", now, cfg)

	module.Forget("g1", "u1")
	if module.Tracked() != 1 {
		t.Fatalf("expected only the other guild's key to remain, got %d", module.Tracked())
	}
}

func TestParallelBurstTriggersOnce(t *testing.T) {
	cfg := config.DefaultModeration()
	cfg.SpamThreshold = 5
	cfg.SpamWindowMs = 5000
	module := New(nil)
	now := time.Unix(1000, 0)

	var triggers int32
	var wg sync.WaitGroup
	for i := 0; i < 2*cfg.SpamThreshold-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, flagged := module.HandleMessage("g1", "u1", now, cfg); flagged {
				atomic.AddInt32(&triggers, 1)
			}
		}()
	}
	wg.Wait()
	if triggers != 1 {
		t.Fatalf("expected exactly one trigger, got %d", triggers)
	}
}
