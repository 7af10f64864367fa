package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guild-warden/internal/analytics"
	"guild-warden/internal/apperr"
	"guild-warden/internal/executor"
	"guild-warden/internal/modules/antiraid"
	"guild-warden/internal/modules/audit"
	"guild-warden/internal/platform"
	"guild-warden/internal/ratelimit"
	"guild-warden/internal/serverstatus"
	"guild-warden/internal/storage"
	"guild-warden/internal/ticket"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	staffPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageGuild | discordgo.PermissionManageChannels
	adminPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageGuild
	buttonClass      = "ticket_button"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	defer b.recoverEvent("interaction")

	if interaction.Type != discordgo.InteractionApplicationCommand && interaction.Type != discordgo.InteractionMessageComponent {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "Commands only work inside a server.", true)
		return
	}

	ev := normalizeInteraction(interaction)
	class := ev.Command
	if class == "" {
		class = buttonClass
	}
	if decision := b.gate.CheckAndConsume(ev.UserID, class, b.clock.Now()); !decision.Allowed() {
		b.logger.Info("command rate limited",
			zap.String("user_id", ev.UserID),
			zap.String("class", class),
			zap.Stringer("outcome", decision.Outcome),
		)
		b.respond(session, interaction, rateLimitMessage(decision), true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	actor := ticket.Actor{
		ID:    ev.UserID,
		Name:  ev.Username,
		Staff: isStaff(ev, interactionPermissions(interaction), b.cfg.Tickets.SupportRoleID),
	}
	if interaction.Type == discordgo.InteractionMessageComponent {
		b.handleButton(ctx, session, interaction, ev, actor)
		return
	}

	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "ticket-panel":
		b.handleTicketPanel(ctx, session, interaction, ev, actor)
	case "ticket":
		b.handleTicketCommand(ctx, session, interaction, ev, actor, data.Options)
	case "warn":
		b.handleWarn(ctx, session, interaction, ev, actor, data.Options)
	case "suspicious":
		b.handleSuspicious(ctx, session, interaction, ev, actor, data.Options)
	case "moderation":
		b.handleModeration(ctx, session, interaction, ev, data.Options)
	case "server":
		if !b.deferReply(session, interaction, false) {
			return
		}
		status, err := b.status.Query(ctx)
		if err != nil && !errors.Is(err, serverstatus.ErrDisabled) {
			b.logger.Warn("server status query failed", zap.Error(err))
		}
		b.editReply(session, interaction, serverstatus.FormatReply(status, err))
	case "report":
		b.handleReport(ctx, session, interaction, ev, data.Options)
	default:
		b.respond(session, interaction, "Unknown command.", true)
	}
}

func (b *Bot) handleButton(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, actor ticket.Actor) {
	switch ev.CustomID {
	case ticket.ButtonClose:
		b.requestClose(ctx, session, interaction, ev, actor)
	case ticket.ButtonConfirmClose:
		if !b.deferReply(session, interaction, false) {
			return
		}
		result, err := b.tickets.ConfirmClose(ctx, ev.ChannelID, actor)
		if err != nil {
			b.editReplyError(session, interaction, err, false)
			return
		}
		reply := fmt.Sprintf("🔒 Ticket closed by <@%s>. This channel will be deleted <t:%d:R>.", actor.ID, result.DeleteAt.Unix())
		if result.TranscriptErr != nil {
			reply += "\nThe transcript could not be saved."
		}
		b.editReply(session, interaction, reply)
	case ticket.ButtonCancelClose:
		if _, err := b.tickets.CancelClose(ctx, ev.ChannelID, actor); err != nil {
			b.respondError(session, interaction, err)
			return
		}
		b.respond(session, interaction, "Ticket close cancelled.", false)
	case ticket.ButtonClaim:
		b.claim(ctx, session, interaction, ev, actor)
	default:
		categoryID, ok := categoryFromButton(ev.CustomID)
		if !ok {
			b.respond(session, interaction, "This button is no longer supported.", true)
			return
		}
		if !b.deferReply(session, interaction, true) {
			return
		}
		created, err := b.tickets.Create(ctx, ev.GuildID, actor, categoryID)
		if err != nil {
			b.editReplyError(session, interaction, err, true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, ev.GuildID, actor.ID, "ticket_created", fmt.Sprintf("ticket=%s category=%s channel=%s", created.ID, created.Category, created.ChannelID))
		b.editReply(session, interaction, fmt.Sprintf("Your ticket has been created: <#%s>", created.ChannelID))
	}
}

func (b *Bot) handleTicketPanel(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, actor ticket.Actor) {
	if !actor.Staff {
		b.respondError(session, interaction, apperr.ErrNotStaff)
		return
	}
	categories := b.tickets.Categories()
	buttons := make([]platform.Button, 0, len(categories))
	lines := make([]string, 0, len(categories))
	for _, category := range categories {
		buttons = append(buttons, platform.Button{CustomID: ticket.ButtonCategory + category.ID, Label: category.Name, Emoji: category.Emoji})
		lines = append(lines, fmt.Sprintf("%s **%s**", category.Emoji, category.Name))
	}
	panel := platform.OutgoingMessage{
		Title:   "🎫 Support Tickets",
		Body:    "Pick the category that matches your request and a private channel will be opened for you.\n\n" + strings.Join(lines, "\n"),
		Buttons: buttons,
	}
	if err := b.gateway.SendMessage(ctx, ev.ChannelID, panel); err != nil {
		b.respondError(session, interaction, apperr.External("send ticket panel", err))
		return
	}
	b.respond(session, interaction, "Ticket panel posted.", true)
}

func (b *Bot) handleTicketCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, actor ticket.Actor, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respond(session, interaction, "Pick a ticket action.", true)
		return
	}
	sub := options[0]
	switch sub.Name {
	case "add", "remove":
		userID := userOptionID(sub.Options)
		if userID == "" {
			b.respond(session, interaction, "Pick a member.", true)
			return
		}
		var err error
		reply := fmt.Sprintf("Added <@%s> to this ticket.", userID)
		if sub.Name == "add" {
			_, err = b.tickets.AddParticipant(ctx, ev.ChannelID, userID, actor)
		} else {
			_, err = b.tickets.RemoveParticipant(ctx, ev.ChannelID, userID, actor)
			reply = fmt.Sprintf("Removed <@%s> from this ticket.", userID)
		}
		if err != nil {
			b.respondError(session, interaction, err)
			return
		}
		b.respond(session, interaction, reply, true)
	case "priority":
		priority, ok := ticket.ParsePriority(stringOption(sub.Options, "level"))
		if !ok {
			b.respond(session, interaction, "Priority must be low, medium, high or none.", true)
			return
		}
		updated, err := b.tickets.SetPriority(ctx, ev.ChannelID, priority, actor)
		if err != nil {
			b.respondError(session, interaction, err)
			return
		}
		label := string(updated.Priority)
		if label == "" {
			label = "none"
		}
		b.respond(session, interaction, fmt.Sprintf("Ticket priority set to **%s**.", label), false)
	case "claim":
		b.claim(ctx, session, interaction, ev, actor)
	case "close":
		b.requestClose(ctx, session, interaction, ev, actor)
	case "list":
		if !actor.Staff {
			b.respondError(session, interaction, apperr.ErrNotStaff)
			return
		}
		tickets, err := b.tickets.ListOpen(ctx, ev.GuildID)
		if err != nil {
			b.respondError(session, interaction, err)
			return
		}
		b.respond(session, interaction, formatTicketList(tickets), true)
	default:
		b.respond(session, interaction, "Unknown ticket action.", true)
	}
}

func (b *Bot) claim(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, actor ticket.Actor) {
	if _, err := b.tickets.Claim(ctx, ev.ChannelID, actor); err != nil {
		b.respondError(session, interaction, err)
		return
	}
	b.respond(session, interaction, "You claimed this ticket.", true)
}

func (b *Bot) requestClose(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, actor ticket.Actor) {
	if _, err := b.tickets.RequestClose(ctx, ev.ChannelID, actor); err != nil {
		b.respondError(session, interaction, err)
		return
	}
	confirm := []platform.Button{
		{CustomID: ticket.ButtonConfirmClose, Label: "Confirm", Emoji: "✅", Danger: true},
		{CustomID: ticket.ButtonCancelClose, Label: "Cancel", Emoji: "❌"},
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    "Are you sure you want to close this ticket?",
			Components: buildComponents(confirm),
		},
	}); err != nil {
		b.logger.Warn("interaction reply failed", zap.Error(err))
	}
}

func (b *Bot) handleWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, actor ticket.Actor, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !actor.Staff {
		b.respondError(session, interaction, apperr.ErrNotStaff)
		return
	}
	userID := userOptionID(options)
	if userID == "" || userID == actor.ID {
		b.respond(session, interaction, "Pick another member to warn.", true)
		return
	}
	reason := stringOption(options, "reason")
	if reason == "" {
		reason = "No reason provided"
	}

	forgive := time.Duration(b.cfg.Warnings.ForgiveDays) * 24 * time.Hour
	count, err := b.store.IncrementInfraction(ctx, ev.GuildID, userID, storage.InfractionWarning, "warn", forgive, b.clock.Now())
	if err != nil {
		b.respondError(session, interaction, fmt.Errorf("record warning: %w", err))
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, ev.GuildID, userID, "member_warned", fmt.Sprintf("by=%s count=%d reason=%s", actor.ID, count, reason))

	reply := fmt.Sprintf("⚠️ <@%s> has been warned (%d total). Reason: %s", userID, count, reason)
	kind, err := b.executor.ApplyWarningPenalty(ctx, ev.GuildID, userID, count, b.cfg.Warnings)
	switch {
	case err != nil:
		reply += "\nThe automatic penalty could not be applied."
	case kind == executor.KindTimeout:
		reply += fmt.Sprintf("\nThey have been timed out for %d minutes.", b.cfg.Warnings.TimeoutMinutes)
	case kind == executor.KindKick:
		reply += "\nThey have been kicked."
	case kind == executor.KindBan:
		reply += "\nThey have been banned."
	}
	b.respond(session, interaction, reply, false)
}

func (b *Bot) handleSuspicious(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, actor ticket.Actor, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !actor.Staff {
		b.respondError(session, interaction, apperr.ErrNotStaff)
		return
	}
	if len(options) == 0 {
		b.respond(session, interaction, "Pick an action.", true)
		return
	}
	suspicions := b.antiraid.Suspicions()
	switch options[0].Name {
	case "list":
		b.respond(session, interaction, formatSuspicions(suspicions.Flagged(ev.GuildID, b.clock.Now())), true)
	case "clear":
		userID := userOptionID(options[0].Options)
		if !suspicions.Clear(ev.GuildID, userID) {
			b.respond(session, interaction, fmt.Sprintf("<@%s> is not flagged.", userID), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, ev.GuildID, userID, "suspicion_cleared", "by="+actor.ID)
		b.respond(session, interaction, fmt.Sprintf("Cleared <@%s>.", userID), true)
	}
}

func (b *Bot) handleModeration(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if interactionPermissions(interaction)&adminPermissions == 0 {
		b.respondError(session, interaction, apperr.ErrPermissionDenied)
		return
	}
	if len(options) == 0 {
		b.respond(session, interaction, "Pick an action.", true)
		return
	}

	switch options[0].Name {
	case "view":
		current, err := b.store.GetModerationConfig(ctx, ev.GuildID, b.cfg.Moderation)
		if err != nil {
			b.respondError(session, interaction, err)
			return
		}
		body := formatModeration(current)
		if state := b.playbook.Status(ev.GuildID); state.Active {
			body = fmt.Sprintf("🛡️ Raid protection active until <t:%d:t> (%d raids)\n", state.Until.Unix(), state.Raids) + body
		}
		b.respondEmbed(session, interaction, buildEmbed("Moderation settings", body, colorInfo), true)
	case "set":
		key := stringOption(options[0].Options, "key")
		value := stringOption(options[0].Options, "value")
		current, err := b.store.GetModerationConfig(ctx, ev.GuildID, b.cfg.Moderation)
		if err != nil {
			b.respondError(session, interaction, err)
			return
		}
		updated, err := applyModerationSetting(current, key, value)
		if err != nil {
			b.respond(session, interaction, fmt.Sprintf("Could not update `%s`: %v", key, err), true)
			return
		}
		if err := b.store.UpsertModerationConfig(ctx, ev.GuildID, updated); err != nil {
			b.respondError(session, interaction, err)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, ev.GuildID, ev.UserID, "moderation_updated", fmt.Sprintf("%s=%s", key, value))
		b.respond(session, interaction, fmt.Sprintf("Updated `%s`.", key), true)
	case "release":
		if !b.playbook.Release(ctx, ev.GuildID) {
			b.respond(session, interaction, "Raid protection is not active.", true)
			return
		}
		b.respond(session, interaction, "Raid protection released.", true)
	}
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, ev platform.Interaction, options []*discordgo.ApplicationCommandInteractionDataOption) {
	period := stringOption(options, "period")
	span := 24 * time.Hour
	if period == "week" {
		span = 7 * 24 * time.Hour
	} else {
		period = "day"
	}
	report, err := b.analytics.Report(ctx, ev.GuildID, b.clock.Now().Add(-span))
	if err != nil {
		b.respondError(session, interaction, err)
		return
	}
	b.respondEmbed(session, interaction, buildEmbed("Security report ("+period+")", formatReport(report), colorSuccess), true)
}

// isStaff reports whether the member holds the support role or a managing
// permission.
func isStaff(ev platform.Interaction, permissions int64, supportRoleID string) bool {
	return ev.HasRole(supportRoleID) || permissions&staffPermissions != 0
}

func categoryFromButton(customID string) (string, bool) {
	if !strings.HasPrefix(customID, ticket.ButtonCategory) {
		return "", false
	}
	id := strings.TrimPrefix(customID, ticket.ButtonCategory)
	return id, id != ""
}

func rateLimitMessage(decision ratelimit.Decision) string {
	switch decision.Outcome {
	case ratelimit.Cooldown:
		return fmt.Sprintf("Please wait %.1fs before using this again.", decision.Remaining.Seconds())
	case ratelimit.Warning:
		return fmt.Sprintf("You are sending commands too quickly. Warning %d issued.", decision.Warnings)
	case ratelimit.Blacklisted:
		return fmt.Sprintf("You have been temporarily blocked from using commands. Try again in %s.", decision.Remaining.Round(time.Minute))
	default:
		return apperr.UserMessage(apperr.ErrRateLimited)
	}
}

func formatTicketList(tickets []ticket.Ticket) string {
	if len(tickets) == 0 {
		return "There are no active tickets."
	}
	lines := make([]string, 0, len(tickets))
	for _, t := range tickets {
		line := fmt.Sprintf("<#%s> %s by <@%s> [%s]", t.ChannelID, t.Category, t.RequesterID, t.Status)
		if t.ClaimedBy != "" {
			line += fmt.Sprintf(" claimed by <@%s>", t.ClaimedBy)
		}
		if t.Priority != ticket.PriorityUnset {
			line += " priority " + string(t.Priority)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatSuspicions(records []antiraid.SuspicionRecord) string {
	if len(records) == 0 {
		return "No accounts are currently flagged."
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("<@%s> %s (flagged <t:%d:R>, expires <t:%d:R>)", rec.SubjectID, rec.Reason, rec.FirstSeen.Unix(), rec.ExpiresAt.Unix()))
	}
	return strings.Join(lines, "\n")
}

func formatReport(report analytics.Report) string {
	if report.Total == 0 {
		return "No security events recorded."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Events: **%d**\n", report.Total)
	for _, level := range []string{audit.LevelCrit, audit.LevelWarn, audit.LevelInfo} {
		if count := report.ByLevel[level]; count > 0 {
			fmt.Fprintf(&sb, "%s: %d\n", level, count)
		}
	}
	top := report.TopEvents(5)
	if len(top) > 0 {
		sb.WriteString("\nTop events:\n")
		for _, event := range top {
			fmt.Fprintf(&sb, "• %s: %d\n", event.Event, event.Count)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func userOptionID(options []*discordgo.ApplicationCommandInteractionDataOption) string {
	for _, opt := range options {
		if opt.Name == "user" && opt.Type == discordgo.ApplicationCommandOptionUser {
			if user := opt.UserValue(nil); user != nil {
				return user.ID
			}
		}
	}
	return ""
}

func stringOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return strings.TrimSpace(opt.StringValue())
		}
	}
	return ""
}
