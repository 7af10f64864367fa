package antiraid

import (
	"fmt"
	"time"

	"guild-warden/internal/classifier"
	"guild-warden/internal/config"
	"guild-warden/internal/window"
)

type Result struct {
	Joins       int
	Raid        bool
	NewAccount  bool
	Suspicion   SuspicionRecord
	Flagged     []SuspicionRecord
	Description string
}

type Module struct {
	tracker    *window.Tracker
	suspicions *SuspicionSet
}

func New(tracker *window.Tracker, suspicions *SuspicionSet) *Module {
	if tracker == nil {
		tracker = window.NewTracker()
	}
	if suspicions == nil {
		suspicions = NewSuspicionSet()
	}
	return &Module{tracker: tracker, suspicions: suspicions}
}

// HandleJoin flags young accounts independently of raid detection, then counts
// the join against the guild window. On a raid the guild window is cleared and
// the live suspicion records are returned for the response.
func (m *Module) HandleJoin(guildID, userID string, accountCreated, now time.Time, cfg config.ModerationConfig) Result {
	var result Result
	if !cfg.RaidEnabled || guildID == "" {
		return result
	}

	if classifier.NewAccount(accountCreated, now, cfg) {
		age := now.Sub(accountCreated)
		reason := fmt.Sprintf("account age %dd below %dd", int(age.Hours()/24), cfg.AccountAgeHours/24)
		result.NewAccount = true
		result.Suspicion = m.suspicions.Flag(guildID, userID, reason, now, cfg.SuspicionRetention())
	}

	key := guildID
	result.Joins = m.tracker.RecordAndCount(key, now, cfg.RaidWindow())
	if !classifier.Raid(result.Joins, cfg) {
		return result
	}

	m.tracker.Reset(key)
	result.Raid = true
	result.Flagged = m.suspicions.Flagged(guildID, now)
	result.Description = fmt.Sprintf("type=RAID joins=%d window=%dms threshold=%d flagged=%d", result.Joins, cfg.RaidWindowMs, cfg.RaidThreshold, len(result.Flagged))
	return result
}

func (m *Module) Suspicions() *SuspicionSet {
	return m.suspicions
}

func (m *Module) Sweep(now time.Time, maxWindow time.Duration) (int, int) {
	return m.tracker.Sweep(now, maxWindow), m.suspicions.Sweep(now)
}
