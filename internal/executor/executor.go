// Package executor turns detection verdicts into platform actions. Every
// action is issued once; failures are reported to the audit trail and never
// retried.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"guild-warden/internal/apperr"
	"guild-warden/internal/clock"
	"guild-warden/internal/config"
	"guild-warden/internal/modules/audit"
	"guild-warden/internal/platform"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindNone    Kind = ""
	KindDelete  Kind = "delete"
	KindTimeout Kind = "timeout"
	KindKick    Kind = "kick"
	KindBan     Kind = "ban"
	KindElevate Kind = "elevate_verification"
)

const raidParallel = 4

type Action struct {
	Kind      Kind
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Duration  time.Duration
	Reason    string
}

type Gateway interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
	SetGuildVerificationLevel(ctx context.Context, guildID string, level platform.VerificationLevel) error
	FetchAuditLogEntry(ctx context.Context, guildID string, action platform.NukeAction) (platform.AuditEntry, error)
	FetchMember(ctx context.Context, guildID, userID string) (platform.Member, error)
	StripRoles(ctx context.Context, guildID, userID string) error
	GuildOwner(ctx context.Context, guildID string) (string, error)
	BotUserID() string
}

type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

type Executor struct {
	gateway Gateway
	audit   Auditor
	clock   clock.Clock
	logger  *zap.Logger
}

func New(gateway Gateway, auditor Auditor, clk clock.Clock, logger *zap.Logger) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{gateway: gateway, audit: auditor, clock: clk, logger: logger}
}

// Apply issues exactly one terminal action. A failed call is audited as
// action_failed and returned wrapped in ErrExternalCallFailed.
func (e *Executor) Apply(ctx context.Context, action Action) error {
	var err error
	switch action.Kind {
	case KindDelete:
		err = e.gateway.DeleteMessage(ctx, action.ChannelID, action.MessageID)
	case KindTimeout:
		err = e.gateway.TimeoutMember(ctx, action.GuildID, action.UserID, e.clock.Now().Add(action.Duration), action.Reason)
	case KindKick:
		err = e.gateway.KickMember(ctx, action.GuildID, action.UserID, action.Reason)
	case KindBan:
		err = e.gateway.BanMember(ctx, action.GuildID, action.UserID, action.Reason)
	case KindElevate:
		err = e.gateway.SetGuildVerificationLevel(ctx, action.GuildID, platform.VerificationHighest)
	default:
		return fmt.Errorf("%w: unknown action kind %q", apperr.ErrConfiguration, action.Kind)
	}
	if err != nil {
		err = apperr.External(string(action.Kind), err)
		e.log(ctx, audit.LevelWarn, action.GuildID, action.UserID, "action_failed", fmt.Sprintf("action=%s reason=%s error=%v", action.Kind, action.Reason, err))
		return err
	}
	details := fmt.Sprintf("action=%s reason=%s", action.Kind, action.Reason)
	if action.Kind == KindTimeout {
		details += fmt.Sprintf(" duration=%s", action.Duration)
	}
	e.log(ctx, audit.LevelWarn, action.GuildID, action.UserID, "action_"+string(action.Kind), details)
	return nil
}

type NukeOutcome struct {
	ActorID  string
	Stripped bool
	Skipped  string
}

// RespondToNuke attributes the action through the audit log, using the most
// recent entry of the matching type, and strips the actor's roles. The owner
// and the bot itself are never penalized. When attribution fails nothing
// punitive happens and ErrAttributionFailed is returned.
func (e *Executor) RespondToNuke(ctx context.Context, guildID string, action platform.NukeAction, count int) (NukeOutcome, error) {
	entry, err := e.gateway.FetchAuditLogEntry(ctx, guildID, action)
	if err == nil && entry.ActorID == "" {
		err = errors.New("no audit entry")
	}
	if err != nil {
		e.log(ctx, audit.LevelCrit, guildID, "", "nuke_unattributed", fmt.Sprintf("action=%s count=%d error=%v", action, count, err))
		return NukeOutcome{}, fmt.Errorf("%w: %s: %w", apperr.ErrAttributionFailed, action, err)
	}

	outcome := NukeOutcome{ActorID: entry.ActorID}
	if entry.ActorID == e.gateway.BotUserID() {
		outcome.Skipped = "self"
		e.log(ctx, audit.LevelInfo, guildID, entry.ActorID, "nuke_skipped", fmt.Sprintf("action=%s actor=self", action))
		return outcome, nil
	}
	owner, err := e.gateway.GuildOwner(ctx, guildID)
	if err != nil {
		err = apperr.External("guild owner", err)
		e.log(ctx, audit.LevelCrit, guildID, entry.ActorID, "nuke_unattributed", fmt.Sprintf("action=%s owner lookup failed: %v", action, err))
		return outcome, fmt.Errorf("%w: %w", apperr.ErrAttributionFailed, err)
	}
	if entry.ActorID == owner {
		outcome.Skipped = "owner"
		e.log(ctx, audit.LevelCrit, guildID, entry.ActorID, "nuke_skipped", fmt.Sprintf("action=%s count=%d actor=owner", action, count))
		return outcome, nil
	}

	if err := e.gateway.StripRoles(ctx, guildID, entry.ActorID); err != nil {
		err = apperr.External("strip roles", err)
		e.log(ctx, audit.LevelCrit, guildID, entry.ActorID, "action_failed", fmt.Sprintf("action=strip_roles nuke=%s error=%v", action, err))
		return outcome, err
	}
	outcome.Stripped = true
	e.log(ctx, audit.LevelCrit, guildID, entry.ActorID, "nuke_roles_stripped", fmt.Sprintf("action=%s count=%d", action, count))
	return outcome, nil
}

type RaidOutcome struct {
	Elevated bool
	Removed  []string
}

// RespondToRaid raises verification to the highest level and then removes
// every flagged member with the configured mode. Each member is handled
// independently; failures are combined into the returned error.
func (e *Executor) RespondToRaid(ctx context.Context, guildID string, flagged []string, mode string) (RaidOutcome, error) {
	var (
		outcome RaidOutcome
		errs    error
		mu      sync.Mutex
	)

	if err := e.Apply(ctx, Action{Kind: KindElevate, GuildID: guildID, Reason: "raid detected"}); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		outcome.Elevated = true
	}

	kind := KindKick
	if mode == "ban" {
		kind = KindBan
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(raidParallel)
	for _, userID := range flagged {
		userID := userID
		group.Go(func() error {
			if _, err := e.gateway.FetchMember(groupCtx, guildID, userID); err != nil {
				err = apperr.External("fetch member "+userID, err)
				e.log(groupCtx, audit.LevelWarn, guildID, userID, "action_failed", fmt.Sprintf("action=%s raid member lookup: %v", kind, err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}
			err := e.Apply(groupCtx, Action{Kind: kind, GuildID: guildID, UserID: userID, Reason: "suspicious account during raid"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			outcome.Removed = append(outcome.Removed, userID)
			return nil
		})
	}
	_ = group.Wait()

	e.logger.Info("raid response finished",
		zap.String("guild_id", guildID),
		zap.Int("flagged", len(flagged)),
		zap.Int("removed", len(outcome.Removed)),
		zap.Bool("elevated", outcome.Elevated),
		zap.Int("failures", len(multierr.Errors(errs))),
	)
	return outcome, errs
}

// WarningPenalty picks the escalation for a member's warning count.
func WarningPenalty(warnings int, cfg config.WarningConfig) Kind {
	switch {
	case cfg.BanAt > 0 && warnings >= cfg.BanAt:
		return KindBan
	case cfg.KickAt > 0 && warnings >= cfg.KickAt:
		return KindKick
	case cfg.TimeoutAt > 0 && warnings >= cfg.TimeoutAt:
		return KindTimeout
	default:
		return KindNone
	}
}

func (e *Executor) ApplyWarningPenalty(ctx context.Context, guildID, userID string, warnings int, cfg config.WarningConfig) (Kind, error) {
	kind := WarningPenalty(warnings, cfg)
	if kind == KindNone {
		return KindNone, nil
	}
	action := Action{
		Kind:    kind,
		GuildID: guildID,
		UserID:  userID,
		Reason:  fmt.Sprintf("%d warnings", warnings),
	}
	if kind == KindTimeout {
		action.Duration = time.Duration(cfg.TimeoutMinutes) * time.Minute
	}
	return kind, e.Apply(ctx, action)
}

func (e *Executor) log(ctx context.Context, level, guildID, userID, event, details string) {
	if e.audit == nil {
		e.logger.Info("moderation", zap.String("event", event), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("details", details))
		return
	}
	e.audit.Log(ctx, level, guildID, userID, event, details)
}
