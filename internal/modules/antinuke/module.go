package antinuke

import (
	"sync"
	"time"

	"guild-warden/internal/classifier"
	"guild-warden/internal/config"
	"guild-warden/internal/platform"
)

type cycle struct {
	start time.Time
	count int
}

// Module counts destructive actions per guild and action type. A cycle starts
// at the first action; actions inside the window increment the counter and an
// action after the window starts a new cycle at 1.
//
// Only the action that reaches the threshold triggers. Further actions in the
// same cycle are counted but rely on the response to that first trigger, which
// strips the actor's roles; a sustained attack is stopped there or in the next
// cycle.
type Module struct {
	mu     sync.Mutex
	cycles map[string]*cycle
}

func New() *Module {
	return &Module{cycles: make(map[string]*cycle)}
}

// Track records one action and reports the cycle count and whether this action
// reached the configured threshold. A cycle triggers at most once.
func (m *Module) Track(guildID string, action platform.NukeAction, now time.Time, cfg config.ModerationConfig) (int, bool) {
	if !cfg.NukeEnabled || guildID == "" {
		return 0, false
	}
	threshold := cfg.NukeThreshold(action)
	if threshold <= 0 {
		return 0, false
	}

	key := guildID + ":" + string(action)
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.cycles[key]
	if current == nil || now.Sub(current.start) > cfg.NukeWindow() {
		current = &cycle{start: now}
		m.cycles[key] = current
	}
	current.count++
	return current.count, classifier.NukeTriggered(current.count, threshold)
}

func (m *Module) Reset(guildID string, action platform.NukeAction) {
	m.mu.Lock()
	delete(m.cycles, guildID+":"+string(action))
	m.mu.Unlock()
}

// Sweep drops cycles whose window has passed.
func (m *Module) Sweep(now time.Time, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, current := range m.cycles {
		if now.Sub(current.start) > window {
			delete(m.cycles, key)
			removed++
		}
	}
	return removed
}
