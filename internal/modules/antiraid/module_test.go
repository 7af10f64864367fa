package antiraid

import (
	"testing"
	"time"

	"guild-warden/internal/config"
)

func TestRaidJoinCounter(t *testing.T) {
	cfg := config.DefaultModeration()
	cfg.RaidThreshold = 3
	cfg.RaidWindowMs = 5000
	module := New(nil, nil)
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-365 * 24 * time.Hour)

	if module.HandleJoin("g1", "u1", old, now, cfg).Raid {
		t.Fatalf("unexpected raid after one join")
	}
	module.HandleJoin("g1", "u2", old, now.Add(time.Second), cfg)
	result := module.HandleJoin("g1", "u3", old, now.Add(2*time.Second), cfg)
	if !result.Raid || result.Joins != 3 {
		t.Fatalf("expected raid at third join, got %+v", result)
	}
	if again := module.HandleJoin("g1", "u4", old, now.Add(3*time.Second), cfg); again.Raid {
		t.Fatalf("window should be reset after a raid trigger")
	}
}

func TestNewAccountsFlaggedWithoutRaid(t *testing.T) {
	cfg := config.DefaultModeration()
	module := New(nil, nil)
	now := time.Unix(1_700_000_000, 0)

	result := module.HandleJoin("g1", "young", now.Add(-2*time.Hour), now, cfg)
	if !result.NewAccount || result.Raid {
		t.Fatalf("expected new-account flag only, got %+v", result)
	}
	if _, ok := module.Suspicions().Get("g1", "young", now); !ok {
		t.Fatalf("expected suspicion record")
	}
}

func TestRaidReturnsFlaggedMembers(t *testing.T) {
	cfg := config.DefaultModeration()
	cfg.RaidThreshold = 2
	module := New(nil, nil)
	now := time.Unix(1_700_000_000, 0)

	module.HandleJoin("g1", "young", now.Add(-time.Hour), now, cfg)
	result := module.HandleJoin("g1", "old", now.Add(-1000*time.Hour), now.Add(time.Second), cfg)
	if !result.Raid || len(result.Flagged) != 1 || result.Flagged[0].SubjectID != "young" {
		t.Fatalf("expected the young account in the raid response, got %+v", result)
	}
}

func TestSuspicionExpiresAfterRetention(t *testing.T) {
	set := NewSuspicionSet()
	now := time.Unix(1_700_000_000, 0)
	retention := 7 * 24 * time.Hour
	set.Flag("g1", "u1", "new account", now, retention)

	if _, ok := set.Get("g1", "u1", now.Add(retention-time.Second)); !ok {
		t.Fatalf("record should still be live")
	}
	if _, ok := set.Get("g1", "u1", now.Add(retention)); ok {
		t.Fatalf("record should be gone after retention without a sweep")
	}
	if len(set.Flagged("g1", now.Add(retention+time.Hour))) != 0 {
		t.Fatalf("expired record must not be listed")
	}
	if removed := set.Sweep(now.Add(retention)); removed != 1 {
		t.Fatalf("expected sweep to remove 1, got %d", removed)
	}
}

func TestSuspicionClear(t *testing.T) {
	set := NewSuspicionSet()
	now := time.Unix(1_700_000_000, 0)
	set.Flag("g1", "u1", "new account", now, time.Hour)
	if !set.Clear("g1", "u1") {
		t.Fatalf("expected clear to succeed")
	}
	if set.Clear("g1", "u1") {
		t.Fatalf("second clear should report nothing removed")
	}
}
