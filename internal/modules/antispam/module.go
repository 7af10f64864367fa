package antispam

import (
	"time"

	"guild-warden/internal/classifier"
	"guild-warden/internal/config"
	"guild-warden/internal/window"
)

type Module struct {
	tracker *window.Tracker
}

func New(tracker *window.Tracker) *Module {
	if tracker == nil {
		tracker = window.NewTracker()
	}
	return &Module{tracker: tracker}
}

// HandleMessage records the message and reports whether the author crossed the
// frequency threshold. The author's window is cleared on trigger so the rest of
// the burst does not re-trigger against stale events.
func (m *Module) HandleMessage(guildID, userID string, now time.Time, cfg config.ModerationConfig) (int, bool) {
	if !cfg.SpamEnabled {
		return 0, false
	}
	key := userID + ":" + guildID
	return m.tracker.RecordAndTrip(key, now, cfg.SpamWindow(), func(count int) bool {
		return classifier.FrequencySpam(count, cfg)
	})
}

func (m *Module) Sweep(now time.Time, maxWindow time.Duration) int {
	return m.tracker.Sweep(now, maxWindow)
}

func (m *Module) Tracked() int {
	return m.tracker.Len()
}

// Forget drops the author's history, used when the member leaves the guild.
func (m *Module) Forget(guildID, userID string) {
	m.tracker.Reset(userID + ":" + guildID)
}
