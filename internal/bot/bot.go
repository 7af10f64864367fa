package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"guild-warden/internal/analytics"
	"guild-warden/internal/apperr"
	"guild-warden/internal/clock"
	"guild-warden/internal/config"
	"guild-warden/internal/executor"
	"guild-warden/internal/modules/antinuke"
	"guild-warden/internal/modules/antiraid"
	"guild-warden/internal/modules/antispam"
	"guild-warden/internal/modules/audit"
	"guild-warden/internal/platform"
	"guild-warden/internal/playbook"
	"guild-warden/internal/ratelimit"
	"guild-warden/internal/serverstatus"
	"guild-warden/internal/storage"
	"guild-warden/internal/ticket"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	colorInfo     = 0x3498DB
	colorWarn     = 0xF1C40F
	colorCritical = 0xE74C3C
	colorSuccess  = 0x2ECC71

	eventTimeout       = 30 * time.Second
	auditAggregateSpan = 10 * time.Minute
	fallbackLogChannel = "mod-logs"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	session   *discordgo.Session
	gateway   *discordGateway
	clock     clock.Clock
	audit     *audit.Logger
	analytics *analytics.Service
	playbook  *playbook.Engine
	executor  *executor.Executor
	pipeline  *Pipeline
	antiraid  *antiraid.Module
	tickets   *ticket.Manager
	gate      *ratelimit.Gate
	status    *serverstatus.Client

	auditAgg   map[string]*auditAggregate
	auditAggMu sync.Mutex

	cancel context.CancelFunc
	group  *errgroup.Group
}

type auditAggregate struct {
	channelID string
	messageID string
	count     int
	lastAt    time.Time
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, playbookEngine *playbook.Engine, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		session:   session,
		gateway:   newGateway(session),
		clock:     clock.Real{},
		audit:     auditLogger,
		analytics: analyticsService,
		playbook:  playbookEngine,
		gate:      ratelimit.NewGate(cfg.RateLimit),
		status:    serverstatus.New(cfg.ServerStatus),
		auditAgg:  make(map[string]*auditAggregate),
	}

	b.executor = executor.New(b.gateway, auditLogger, b.clock, logger.Named("executor"))
	b.antiraid = antiraid.New(nil, antiraid.NewSuspicionSet())
	b.tickets = ticket.NewManager(store, b.gateway, b.clock, cfg.Tickets, logger.Named("tickets"))
	b.pipeline = NewPipeline(PipelineDeps{
		Defaults: cfg.Moderation,
		Configs:  store,
		Tickets:  b.tickets,
		Notifier: b.gateway,
		AntiSpam: antispam.New(nil),
		AntiRaid: b.antiraid,
		AntiNuke: antinuke.New(),
		Executor: b.executor,
		Playbook: playbookEngine,
		Audit:    auditLogger,
		Clock:    b.clock,
		Logger:   logger.Named("pipeline"),
	})
	if b.audit != nil {
		b.audit.SetNotifier(b.notifyAudit)
	}

	return b, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	restored, err := b.tickets.Restore(ctx)
	if err != nil {
		b.logger.Warn("ticket restore failed", zap.Error(err))
	} else if restored > 0 {
		b.logger.Info("rescheduled closed tickets", zap.Int("count", restored))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.group, runCtx = errgroup.WithContext(runCtx)
	b.group.Go(func() error {
		b.runJanitor(runCtx)
		return nil
	})

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
		done := make(chan struct{})
		go func() {
			_ = b.group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			b.logger.Warn("janitor did not stop before shutdown deadline")
		}
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	b.dispatch("message_create", platform.MessageCreate{Message: normalizeMessage(msg.Message)})
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.Member.User == nil || event.Member.User.Bot {
		return
	}
	b.dispatch("member_join", platform.MemberJoin{
		Member:   normalizeMember(event.GuildID, event.Member),
		JoinedAt: event.JoinedAt,
	})
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.Member.User == nil {
		return
	}
	b.dispatch("member_remove", platform.MemberRemove{GuildID: event.GuildID, UserID: event.Member.User.ID})
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	userID := ""
	if event.User != nil {
		userID = event.User.ID
	}
	b.dispatch("ban_add", platform.BanAdd{GuildID: event.GuildID, UserID: userID})
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil {
		return
	}
	b.dispatch("channel_delete", platform.ChannelDelete{GuildID: event.GuildID, ChannelID: event.ID})
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	b.dispatch("role_delete", platform.RoleDelete{GuildID: event.GuildID, RoleID: event.RoleID})
}

// dispatch runs one event through the pipeline in isolation: a failure or
// panic is logged and never reaches other events.
func (b *Bot) dispatch(name string, event platform.Event) {
	defer b.recoverEvent(name)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := b.pipeline.Handle(ctx, event); err != nil {
		b.logger.Warn("event handling failed", zap.String("event", name), zap.String("guild_id", event.Guild()), zap.Error(err))
	}
}

func (b *Bot) recoverEvent(name string) {
	if r := recover(); r != nil {
		b.logger.Error("event handler panic",
			zap.String("event", name),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}

func (b *Bot) runJanitor(ctx context.Context) {
	interval := time.Duration(b.cfg.JanitorIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

func (b *Bot) sweep(ctx context.Context) {
	defer b.recoverEvent("janitor")

	b.pipeline.Sweep()
	cooldowns := b.gate.Sweep(b.clock.Now())
	b.pruneAuditAggregates()

	var purged int64
	if b.cfg.RetentionDays > 0 {
		var err error
		purged, err = b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays)
		if err != nil {
			b.logger.Warn("audit log cleanup failed", zap.Error(err))
		}
	}
	b.logger.Debug("janitor sweep", zap.Int("cooldowns", cooldowns), zap.Int64("audit_logs", purged))
}

func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	channelID := b.securityLogChannel(entry.GuildID)
	if channelID == "" {
		return
	}

	key := entry.GuildID + "|" + entry.Level + "|" + entry.Event + "|" + entry.Details + "|" + entry.UserID

	b.auditAggMu.Lock()
	agg := b.auditAgg[key]
	if agg != nil && agg.channelID == channelID && time.Since(agg.lastAt) <= auditAggregateSpan {
		agg.count++
		agg.lastAt = time.Now()
		count := agg.count
		messageID := agg.messageID
		b.auditAggMu.Unlock()
		if _, err := b.session.ChannelMessageEditEmbed(channelID, messageID, auditEmbed(entry, count)); err == nil {
			return
		}
		b.auditAggMu.Lock()
		delete(b.auditAgg, key)
	}
	b.auditAggMu.Unlock()

	msg, err := b.session.ChannelMessageSendEmbed(channelID, auditEmbed(entry, 1))
	if err != nil || msg == nil {
		b.logger.Warn("security log send failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	b.auditAggMu.Lock()
	b.auditAgg[key] = &auditAggregate{channelID: channelID, messageID: msg.ID, count: 1, lastAt: time.Now()}
	b.auditAggMu.Unlock()
}

func (b *Bot) pruneAuditAggregates() {
	b.auditAggMu.Lock()
	defer b.auditAggMu.Unlock()
	for key, agg := range b.auditAgg {
		if time.Since(agg.lastAt) > auditAggregateSpan {
			delete(b.auditAgg, key)
		}
	}
}

// securityLogChannel returns the configured operator channel, or a text
// channel named mod-logs in the guild.
func (b *Bot) securityLogChannel(guildID string) string {
	if b.cfg.SecurityLogChannel != "" {
		return b.cfg.SecurityLogChannel
	}
	if guildID == "" || b.session.State == nil {
		return ""
	}
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, channel := range guild.Channels {
		if channel != nil && channel.Type == discordgo.ChannelTypeGuildText && channel.Name == fallbackLogChannel {
			return channel.ID
		}
	}
	return ""
}

func auditEmbed(entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	color := colorInfo
	switch entry.Level {
	case audit.LevelWarn:
		color = colorWarn
	case audit.LevelCrit:
		color = colorCritical
	}
	title := strings.ReplaceAll(entry.Event, "_", " ")
	if count > 1 {
		title = fmt.Sprintf("%s (x%d)", title, count)
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Level", Value: entry.Level, Inline: true},
	}
	if entry.UserID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "User", Value: "<@" + entry.UserID + ">", Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: entry.Details,
		Color:       color,
		Fields:      fields,
		Timestamp:   entry.CreatedAt.Format(time.RFC3339),
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}); err != nil {
		b.logger.Warn("interaction reply failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	}); err != nil {
		b.logger.Warn("interaction reply failed", zap.Error(err))
	}
}

// respondError replies with the plain-language message for err. Expected
// outcomes are not logged.
func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, err error) {
	if !apperr.Expected(err) {
		b.logger.Warn("interaction failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
	b.respond(session, interaction, apperr.UserMessage(err), true)
}

// deferReply acknowledges the interaction so slow work can finish after the
// acknowledgement deadline. The reply is completed with editReply or
// editReplyError.
func (b *Bot) deferReply(session *discordgo.Session, interaction *discordgo.InteractionCreate, ephemeral bool) bool {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		b.logger.Warn("interaction defer failed", zap.Error(err))
		return false
	}
	return true
}

func (b *Bot) editReply(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Warn("interaction edit failed", zap.Error(err))
	}
}

// editReplyError completes a deferred reply with the message for err. A public
// placeholder is removed and the error is sent privately instead.
func (b *Bot) editReplyError(session *discordgo.Session, interaction *discordgo.InteractionCreate, err error, ephemeral bool) {
	if !apperr.Expected(err) {
		b.logger.Warn("interaction failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
	if ephemeral {
		b.editReply(session, interaction, apperr.UserMessage(err))
		return
	}
	if delErr := session.InteractionResponseDelete(interaction.Interaction); delErr != nil {
		b.logger.Warn("interaction placeholder delete failed", zap.Error(delErr))
	}
	if _, sendErr := session.FollowupMessageCreate(interaction.Interaction, true, &discordgo.WebhookParams{
		Content: apperr.UserMessage(err),
		Flags:   discordgo.MessageFlagsEphemeral,
	}); sendErr != nil {
		b.logger.Warn("interaction followup failed", zap.Error(sendErr))
	}
}
