// Package ratelimit gates command invocations with per-class cooldowns and a
// per-subject quota that escalates to a temporary blacklist.
package ratelimit

import (
	"sync"
	"time"

	"guild-warden/internal/config"
)

type Outcome int

const (
	Allowed Outcome = iota
	Cooldown
	Warning
	Blacklisted
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Cooldown:
		return "cooldown"
	case Warning:
		return "warning"
	case Blacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

type Decision struct {
	Outcome   Outcome
	Remaining time.Duration
	Warnings  int
}

func (d Decision) Allowed() bool {
	return d.Outcome == Allowed
}

type quota struct {
	windowStart    time.Time
	count          int
	warnings       int
	suspendedUntil time.Time
	lastSeen       time.Time
}

type Gate struct {
	mu        sync.Mutex
	cfg       config.RateLimitConfig
	cooldowns map[string]time.Time
	quotas    map[string]*quota
}

func NewGate(cfg config.RateLimitConfig) *Gate {
	return &Gate{
		cfg:       cfg,
		cooldowns: make(map[string]time.Time),
		quotas:    make(map[string]*quota),
	}
}

// CheckAndConsume decides whether subject may run an action of class now.
// Only allowed calls consume cooldown and quota. Exceeding the quota issues
// a warning; reaching the warning limit blacklists the subject for the
// suspension period.
func (g *Gate) CheckAndConsume(subjectID, class string, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	q := g.quotas[subjectID]
	if q == nil {
		q = &quota{windowStart: now}
		g.quotas[subjectID] = q
	}
	q.lastSeen = now

	if now.Before(q.suspendedUntil) {
		return Decision{Outcome: Blacklisted, Remaining: q.suspendedUntil.Sub(now), Warnings: q.warnings}
	}
	if !q.suspendedUntil.IsZero() {
		q.suspendedUntil = time.Time{}
		q.warnings = 0
	}

	key := subjectID + ":" + class
	if last, ok := g.cooldowns[key]; ok {
		if elapsed := now.Sub(last); elapsed < g.cooldown(class) {
			return Decision{Outcome: Cooldown, Remaining: g.cooldown(class) - elapsed, Warnings: q.warnings}
		}
	}

	if now.Sub(q.windowStart) >= g.quotaWindow() {
		q.windowStart = now
		q.count = 0
	}
	if g.cfg.MaxPerMinute > 0 && q.count >= g.cfg.MaxPerMinute {
		q.warnings++
		remaining := q.windowStart.Add(g.quotaWindow()).Sub(now)
		if g.cfg.MaxWarnings > 0 && q.warnings >= g.cfg.MaxWarnings {
			q.suspendedUntil = now.Add(g.suspension())
			return Decision{Outcome: Blacklisted, Remaining: g.suspension(), Warnings: q.warnings}
		}
		return Decision{Outcome: Warning, Remaining: remaining, Warnings: q.warnings}
	}

	q.count++
	g.cooldowns[key] = now
	return Decision{Outcome: Allowed, Warnings: q.warnings}
}

// Sweep drops cooldowns and quotas idle longer than the configured idle time.
// Subjects still suspended are kept.
func (g *Gate) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	idle := g.idle()
	removed := 0
	for key, last := range g.cooldowns {
		if now.Sub(last) > idle {
			delete(g.cooldowns, key)
			removed++
		}
	}
	for subject, q := range g.quotas {
		if now.Before(q.suspendedUntil) {
			continue
		}
		if now.Sub(q.lastSeen) > idle {
			delete(g.quotas, subject)
			removed++
		}
	}
	return removed
}

// Pardon lifts a suspension and clears warnings for subject.
func (g *Gate) Pardon(subjectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.quotas, subjectID)
}

func (g *Gate) cooldown(class string) time.Duration {
	if ms, ok := g.cfg.CooldownsMs[class]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Duration(g.cfg.DefaultCooldownMs) * time.Millisecond
}

func (g *Gate) quotaWindow() time.Duration {
	if g.cfg.QuotaWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(g.cfg.QuotaWindowSeconds) * time.Second
}

func (g *Gate) suspension() time.Duration {
	if g.cfg.SuspendMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(g.cfg.SuspendMinutes) * time.Minute
}

func (g *Gate) idle() time.Duration {
	if g.cfg.IdleMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(g.cfg.IdleMinutes) * time.Minute
}
