package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guild-warden/internal/apperr"
	"guild-warden/internal/classifier"
	"guild-warden/internal/clock"
	"guild-warden/internal/config"
	"guild-warden/internal/executor"
	"guild-warden/internal/modules/antinuke"
	"guild-warden/internal/modules/antiraid"
	"guild-warden/internal/modules/antispam"
	"guild-warden/internal/modules/audit"
	"guild-warden/internal/platform"
	"guild-warden/internal/playbook"

	"go.uber.org/zap"
)

const sweepHorizon = time.Hour

type ConfigSource interface {
	GetModerationConfig(ctx context.Context, guildID string, defaults config.ModerationConfig) (config.ModerationConfig, error)
}

// TicketChannels settles ticket state for a deleted channel and reports whether
// the deletion was the ticket lifecycle's own cleanup.
type TicketChannels interface {
	ChannelRemoved(ctx context.Context, channelID string) (bool, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) error
}

// Pipeline runs every normalized gateway event through detection and the
// executor. It holds no platform client, only the narrow interfaces above.
type Pipeline struct {
	defaults config.ModerationConfig
	configs  ConfigSource
	tickets  TicketChannels
	notifier Notifier
	antispam *antispam.Module
	antiraid *antiraid.Module
	antinuke *antinuke.Module
	executor *executor.Executor
	playbook *playbook.Engine
	audit    executor.Auditor
	clock    clock.Clock
	logger   *zap.Logger
}

type PipelineDeps struct {
	Defaults config.ModerationConfig
	Configs  ConfigSource
	Tickets  TicketChannels
	Notifier Notifier
	AntiSpam *antispam.Module
	AntiRaid *antiraid.Module
	AntiNuke *antinuke.Module
	Executor *executor.Executor
	Playbook *playbook.Engine
	Audit    executor.Auditor
	Clock    clock.Clock
	Logger   *zap.Logger
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		defaults: deps.Defaults,
		configs:  deps.Configs,
		tickets:  deps.Tickets,
		notifier: deps.Notifier,
		antispam: deps.AntiSpam,
		antiraid: deps.AntiRaid,
		antinuke: deps.AntiNuke,
		executor: deps.Executor,
		playbook: deps.Playbook,
		audit:    deps.Audit,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	if p.antispam == nil {
		p.antispam = antispam.New(nil)
	}
	if p.antiraid == nil {
		p.antiraid = antiraid.New(nil, nil)
	}
	if p.antinuke == nil {
		p.antinuke = antinuke.New()
	}
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Handle processes one event to completion. Unknown event types are ignored.
func (p *Pipeline) Handle(ctx context.Context, event platform.Event) error {
	if event.Guild() == "" {
		return nil
	}
	switch ev := event.(type) {
	case platform.MessageCreate:
		return p.handleMessage(ctx, ev.Message)
	case platform.MemberJoin:
		return p.handleJoin(ctx, ev)
	case platform.MemberRemove:
		p.antispam.Forget(ev.GuildID, ev.UserID)
		return nil
	case platform.BanAdd:
		return p.handleNuke(ctx, ev.GuildID, platform.ActionBan)
	case platform.ChannelDelete:
		if p.ticketCleanup(ctx, ev.ChannelID) {
			return nil
		}
		return p.handleNuke(ctx, ev.GuildID, platform.ActionChannelDelete)
	case platform.RoleDelete:
		return p.handleNuke(ctx, ev.GuildID, platform.ActionRoleDelete)
	default:
		return nil
	}
}

func (p *Pipeline) handleMessage(ctx context.Context, msg platform.Message) error {
	if msg.AuthorBot || msg.AuthorID == "" {
		return nil
	}
	cfg := p.moderation(ctx, msg.GuildID)

	if cfg.NSFWEnabled {
		if verdict := classifier.NSFW(msg); verdict.Flagged {
			return p.punishNSFW(ctx, msg, cfg, verdict)
		}
	}

	if count, triggered := p.antispam.HandleMessage(msg.GuildID, msg.AuthorID, p.clock.Now(), cfg); triggered {
		p.log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "spam_detected", fmt.Sprintf("messages=%d window=%dms", count, cfg.SpamWindowMs))
		err := p.executor.Apply(ctx, executor.Action{
			Kind:     executor.KindTimeout,
			GuildID:  msg.GuildID,
			UserID:   msg.AuthorID,
			Duration: cfg.SpamMute(),
			Reason:   "spam detection",
		})
		if err == nil {
			p.notice(ctx, msg.ChannelID, fmt.Sprintf("<@%s> has been muted for spamming.", msg.AuthorID))
		}
		return err
	}

	if cfg.ContentFilterEnabled {
		if verdict := classifier.ContentSpam(msg, cfg); verdict.Flagged {
			p.log(ctx, audit.LevelInfo, msg.GuildID, msg.AuthorID, "content_filtered", fmt.Sprintf("reason=%s detail=%s", verdict.Reason, verdict.Detail))
			err := p.executor.Apply(ctx, executor.Action{
				Kind:      executor.KindDelete,
				GuildID:   msg.GuildID,
				ChannelID: msg.ChannelID,
				MessageID: msg.ID,
				UserID:    msg.AuthorID,
				Reason:    verdict.Reason,
			})
			if err == nil {
				p.notice(ctx, msg.ChannelID, fmt.Sprintf("<@%s>, that type of content is not allowed!", msg.AuthorID))
			}
			return err
		}
	}
	return nil
}

func (p *Pipeline) punishNSFW(ctx context.Context, msg platform.Message, cfg config.ModerationConfig, verdict classifier.Verdict) error {
	p.log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "nsfw_detected", fmt.Sprintf("action=%s detail=%s", cfg.NSFWAction, verdict.Detail))
	if err := p.executor.Apply(ctx, executor.Action{
		Kind:      executor.KindDelete,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		UserID:    msg.AuthorID,
		Reason:    classifier.ReasonNSFW,
	}); err != nil {
		return err
	}

	var (
		action executor.Action
		notice string
	)
	switch cfg.NSFWAction {
	case "mute":
		action = executor.Action{Kind: executor.KindTimeout, Duration: cfg.NSFWMute()}
		notice = fmt.Sprintf("<@%s> has been muted for posting NSFW content.", msg.AuthorID)
	case "kick":
		action = executor.Action{Kind: executor.KindKick}
		notice = fmt.Sprintf("<@%s> has been kicked for posting NSFW content.", msg.AuthorID)
	default:
		return nil
	}
	action.GuildID = msg.GuildID
	action.UserID = msg.AuthorID
	action.Reason = "NSFW content"
	if err := p.executor.Apply(ctx, action); err != nil {
		return err
	}
	p.notice(ctx, msg.ChannelID, notice)
	return nil
}

func (p *Pipeline) handleJoin(ctx context.Context, ev platform.MemberJoin) error {
	guildID := ev.Member.GuildID
	userID := ev.Member.UserID
	cfg := p.moderation(ctx, guildID)
	now := p.clock.Now()

	result := p.antiraid.HandleJoin(guildID, userID, ev.Member.AccountCreated, now, cfg)
	if result.NewAccount {
		p.log(ctx, audit.LevelWarn, guildID, userID, "suspicious_account", result.Suspicion.Reason)
		if !result.Raid && p.playbook != nil && p.playbook.Active(guildID) {
			return p.removeDuringProtection(ctx, guildID, userID, cfg)
		}
	}
	if !result.Raid {
		return nil
	}

	p.log(ctx, audit.LevelCrit, guildID, userID, "raid_detected", result.Description)
	if p.playbook != nil {
		p.playbook.TriggerRaidProtection(context.WithoutCancel(ctx), guildID)
	}
	flagged := make([]string, 0, len(result.Flagged))
	for _, record := range result.Flagged {
		flagged = append(flagged, record.SubjectID)
	}
	outcome, err := p.executor.RespondToRaid(ctx, guildID, flagged, cfg.RaidAction)
	for _, removed := range outcome.Removed {
		p.antiraid.Suspicions().Clear(guildID, removed)
	}
	return err
}

// removeDuringProtection applies the raid action to a new account joining
// while protection is still active.
func (p *Pipeline) removeDuringProtection(ctx context.Context, guildID, userID string, cfg config.ModerationConfig) error {
	kind := executor.KindKick
	if cfg.RaidAction == "ban" {
		kind = executor.KindBan
	}
	err := p.executor.Apply(ctx, executor.Action{Kind: kind, GuildID: guildID, UserID: userID, Reason: "new account during raid protection"})
	if err != nil {
		return err
	}
	p.antiraid.Suspicions().Clear(guildID, userID)
	return nil
}

func (p *Pipeline) handleNuke(ctx context.Context, guildID string, action platform.NukeAction) error {
	cfg := p.moderation(ctx, guildID)
	count, triggered := p.antinuke.Track(guildID, action, p.clock.Now(), cfg)
	if !triggered {
		return nil
	}
	p.log(ctx, audit.LevelCrit, guildID, "", "nuke_detected", fmt.Sprintf("action=%s count=%d window=%dms", action, count, cfg.NukeWindowMs))
	_, err := p.executor.RespondToNuke(ctx, guildID, action, count)
	if errors.Is(err, apperr.ErrAttributionFailed) {
		p.logger.Warn("nuke attribution failed", zap.String("guild_id", guildID), zap.String("action", string(action)), zap.Error(err))
		return nil
	}
	return err
}

// ticketCleanup reports whether a channel deletion is the ticket manager
// removing a closed ticket's channel. Anything else still counts toward
// nuke detection.
func (p *Pipeline) ticketCleanup(ctx context.Context, channelID string) bool {
	if p.tickets == nil || channelID == "" {
		return false
	}
	expected, err := p.tickets.ChannelRemoved(ctx, channelID)
	if err != nil {
		p.logger.Warn("ticket channel bookkeeping failed", zap.String("channel_id", channelID), zap.Error(err))
		return false
	}
	return expected
}

// moderation returns the guild's stored config, falling back to the process
// defaults when the store is unavailable.
func (p *Pipeline) moderation(ctx context.Context, guildID string) config.ModerationConfig {
	if p.configs == nil {
		return p.defaults
	}
	cfg, err := p.configs.GetModerationConfig(ctx, guildID, p.defaults)
	if err != nil {
		p.logger.Warn("moderation config load failed", zap.String("guild_id", guildID), zap.Error(err))
		return p.defaults
	}
	return cfg
}

func (p *Pipeline) notice(ctx context.Context, channelID, content string) {
	if p.notifier == nil || channelID == "" {
		return
	}
	if err := p.notifier.SendMessage(ctx, channelID, platform.OutgoingMessage{Content: content}); err != nil {
		p.logger.Warn("notice send failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (p *Pipeline) log(ctx context.Context, level, guildID, userID, event, details string) {
	if p.audit == nil {
		p.logger.Info("moderation", zap.String("event", event), zap.String("guild_id", guildID), zap.String("details", details))
		return
	}
	p.audit.Log(ctx, level, guildID, userID, event, details)
}

// Sweep expires idle window entries, suspicion records and nuke cycles. Guild
// overrides may widen windows, so nothing younger than sweepHorizon is dropped.
func (p *Pipeline) Sweep() {
	now := p.clock.Now()
	horizon := sweepHorizon
	for _, window := range []time.Duration{p.defaults.SpamWindow(), p.defaults.RaidWindow(), p.defaults.NukeWindow()} {
		if window > horizon {
			horizon = window
		}
	}
	spam := p.antispam.Sweep(now, horizon)
	joins, suspicions := p.antiraid.Sweep(now, horizon)
	cycles := p.antinuke.Sweep(now, horizon)
	p.logger.Debug("detection sweep",
		zap.Int("spam_keys", spam),
		zap.Int("join_keys", joins),
		zap.Int("suspicions", suspicions),
		zap.Int("nuke_cycles", cycles),
	)
}
