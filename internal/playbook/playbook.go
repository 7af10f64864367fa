// Package playbook tracks per-guild raid protection windows. While a guild is
// protected, new accounts are removed on join; the window ends on its own.
package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guild-warden/internal/clock"
	"guild-warden/internal/modules/audit"
)

type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

type Config struct {
	ProtectionMinutes int
}

type State struct {
	Active bool
	Since  time.Time
	Until  time.Time
	Raids  int
}

type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	clock  clock.Clock
	audit  Auditor
	states map[string]*State
	timers map[string]clock.Timer
}

func New(cfg Config, auditor Auditor) *Engine {
	return &Engine{
		cfg:    cfg,
		clock:  clock.Real{},
		audit:  auditor,
		states: make(map[string]*State),
		timers: make(map[string]clock.Timer),
	}
}

func (e *Engine) WithClock(clk clock.Clock) {
	e.clock = clk
}

// TriggerRaidProtection starts or extends the guild's protection window and
// reports whether protection was newly entered.
func (e *Engine) TriggerRaidProtection(ctx context.Context, guildID string) bool {
	now := e.clock.Now()
	duration := e.duration()

	e.mu.Lock()
	state := e.stateLocked(guildID)
	entered := !state.Active
	if entered {
		state.Active = true
		state.Since = now
		state.Raids = 0
	}
	state.Raids++
	state.Until = now.Add(duration)
	if timer, ok := e.timers[guildID]; ok {
		timer.Stop()
	}
	e.timers[guildID] = e.clock.AfterFunc(duration, func() {
		e.expire(ctx, guildID)
	})
	raids := state.Raids
	e.mu.Unlock()

	if entered {
		e.audit.Log(ctx, audit.LevelCrit, guildID, "", "raid_protection", fmt.Sprintf("raid protection enabled for %s", duration))
	} else {
		e.audit.Log(ctx, audit.LevelWarn, guildID, "", "raid_protection", fmt.Sprintf("raid protection extended raids=%d", raids))
	}
	return entered
}

// Release ends protection early.
func (e *Engine) Release(ctx context.Context, guildID string) bool {
	e.mu.Lock()
	state := e.states[guildID]
	if state == nil || !state.Active {
		e.mu.Unlock()
		return false
	}
	if timer, ok := e.timers[guildID]; ok {
		timer.Stop()
		delete(e.timers, guildID)
	}
	*state = State{}
	e.mu.Unlock()

	e.audit.Log(ctx, audit.LevelInfo, guildID, "", "raid_protection", "raid protection released manually")
	return true
}

func (e *Engine) Status(guildID string) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[guildID]
	if state == nil {
		return State{}
	}
	return *state
}

func (e *Engine) Active(guildID string) bool {
	return e.Status(guildID).Active
}

func (e *Engine) expire(ctx context.Context, guildID string) {
	e.mu.Lock()
	state := e.stateLocked(guildID)
	if !state.Active || e.clock.Now().Before(state.Until) {
		e.mu.Unlock()
		return
	}
	raids := state.Raids
	*state = State{}
	delete(e.timers, guildID)
	e.mu.Unlock()

	e.audit.Log(ctx, audit.LevelInfo, guildID, "", "raid_protection", fmt.Sprintf("raid protection ended raids=%d", raids))
}

func (e *Engine) duration() time.Duration {
	if e.cfg.ProtectionMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(e.cfg.ProtectionMinutes) * time.Minute
}

func (e *Engine) stateLocked(guildID string) *State {
	state := e.states[guildID]
	if state == nil {
		state = &State{}
		e.states[guildID] = state
	}
	return state
}
