package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"guild-warden/internal/executor"
	"guild-warden/internal/platform"
	"guild-warden/internal/ticket"

	"github.com/bwmarrin/discordgo"
)

const (
	memberChannelAllow = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionAttachFiles | discordgo.PermissionReadMessageHistory
	staffChannelAllow  = memberChannelAllow | discordgo.PermissionManageMessages
	auditLookback      = 30 * time.Second
)

var (
	_ executor.Gateway = (*discordGateway)(nil)
	_ ticket.Gateway   = (*discordGateway)(nil)
)

var nukeAuditActions = map[platform.NukeAction]discordgo.AuditLogAction{
	platform.ActionBan:           discordgo.AuditLogActionMemberBanAdd,
	platform.ActionChannelDelete: discordgo.AuditLogActionChannelDelete,
	platform.ActionRoleDelete:    discordgo.AuditLogActionRoleDelete,
}

// discordGateway performs platform I/O on behalf of the executor, the ticket
// manager and the event pipeline. Context is only checked before each call;
// the REST client applies its own timeouts.
type discordGateway struct {
	session *discordgo.Session
}

func newGateway(session *discordgo.Session) *discordGateway {
	return &discordGateway{session: session}
}

func (g *discordGateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.session.ChannelMessageDelete(channelID, messageID)
}

func (g *discordGateway) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithAuditLogReason(reason))
}

func (g *discordGateway) KickMember(ctx context.Context, guildID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (g *discordGateway) BanMember(ctx context.Context, guildID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.session.GuildBanCreateWithReason(guildID, userID, reason, 1)
}

func (g *discordGateway) SetGuildVerificationLevel(ctx context.Context, guildID string, level platform.VerificationLevel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value := discordgo.VerificationLevel(level)
	_, err := g.session.GuildEdit(guildID, &discordgo.GuildParams{VerificationLevel: &value})
	return err
}

// FetchAuditLogEntry returns the most recent audit entry of the matching type
// created within the lookback window.
func (g *discordGateway) FetchAuditLogEntry(ctx context.Context, guildID string, action platform.NukeAction) (platform.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return platform.AuditEntry{}, err
	}
	actionType, ok := nukeAuditActions[action]
	if !ok {
		return platform.AuditEntry{}, errors.New("unknown audit action " + string(action))
	}
	logs, err := g.session.GuildAuditLog(guildID, "", "", int(actionType), 1)
	if err != nil {
		return platform.AuditEntry{}, err
	}
	if logs == nil || len(logs.AuditLogEntries) == 0 || logs.AuditLogEntries[0] == nil {
		return platform.AuditEntry{}, errors.New("no matching audit log entry")
	}
	entry := logs.AuditLogEntries[0]
	created, err := discordgo.SnowflakeTimestamp(entry.ID)
	if err == nil && time.Since(created) > auditLookback {
		return platform.AuditEntry{}, errors.New("latest audit log entry is stale")
	}
	return platform.AuditEntry{
		ActorID:   entry.UserID,
		TargetID:  entry.TargetID,
		Action:    action,
		CreatedAt: created,
	}, nil
}

func (g *discordGateway) FetchMember(ctx context.Context, guildID, userID string) (platform.Member, error) {
	if err := ctx.Err(); err != nil {
		return platform.Member{}, err
	}
	member, err := g.session.GuildMember(guildID, userID)
	if err != nil {
		return platform.Member{}, err
	}
	return normalizeMember(guildID, member), nil
}

// StripRoles removes every role; @everyone is implicit and cannot be removed.
func (g *discordGateway) StripRoles(ctx context.Context, guildID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	roles := []string{}
	_, err := g.session.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{Roles: &roles})
	return err
}

func (g *discordGateway) GuildOwner(ctx context.Context, guildID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.session.State != nil {
		if guild, err := g.session.State.Guild(guildID); err == nil && guild.OwnerID != "" {
			return guild.OwnerID, nil
		}
	}
	guild, err := g.session.Guild(guildID)
	if err != nil {
		return "", err
	}
	return guild.OwnerID, nil
}

func (g *discordGateway) BotUserID() string {
	if g.session.State == nil || g.session.State.User == nil {
		return ""
	}
	return g.session.State.User.ID
}

func (g *discordGateway) CreateChannel(ctx context.Context, spec platform.ChannelSpec) (platform.Channel, error) {
	if err := ctx.Err(); err != nil {
		return platform.Channel{}, err
	}
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: spec.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	if botID := g.BotUserID(); botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: botID, Type: discordgo.PermissionOverwriteTypeMember, Allow: staffChannelAllow | discordgo.PermissionManageChannels})
	}
	for _, memberID := range spec.Members {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: memberID, Type: discordgo.PermissionOverwriteTypeMember, Allow: memberChannelAllow})
	}
	for _, roleID := range spec.Roles {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: roleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: staffChannelAllow})
	}

	channel, err := g.session.GuildChannelCreateComplex(spec.GuildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.ParentID,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return platform.Channel{}, err
	}
	return platform.Channel{ID: channel.ID, Name: channel.Name}, nil
}

func (g *discordGateway) DeleteChannel(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := g.session.ChannelDelete(channelID)
	return err
}

func (g *discordGateway) SetChannelName(ctx context.Context, channelID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := g.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name})
	return err
}

func (g *discordGateway) GrantChannelAccess(ctx context.Context, channelID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, memberChannelAllow, 0)
}

func (g *discordGateway) RevokeChannelAccess(ctx context.Context, channelID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.session.ChannelPermissionDelete(channelID, userID)
}

func (g *discordGateway) SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := g.session.ChannelMessageSendComplex(channelID, buildMessageSend(msg))
	return err
}

// FetchHistory returns up to limit recent messages, oldest first.
func (g *discordGateway) FetchHistory(ctx context.Context, channelID string, limit int) ([]platform.HistoryMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	messages, err := g.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, err
	}
	history := make([]platform.HistoryMessage, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg == nil {
			continue
		}
		entry := platform.HistoryMessage{Content: msg.Content, Timestamp: msg.Timestamp}
		if msg.Author != nil {
			entry.AuthorName = msg.Author.Username
		}
		for _, attachment := range msg.Attachments {
			if attachment != nil {
				entry.Attachments = append(entry.Attachments, attachment.URL)
			}
		}
		history = append(history, entry)
	}
	return history, nil
}

func buildMessageSend(msg platform.OutgoingMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.Title != "" || msg.Body != "" {
		send.Embeds = []*discordgo.MessageEmbed{buildEmbed(msg.Title, msg.Body, msg.Color)}
	}
	if components := buildComponents(msg.Buttons); len(components) > 0 {
		send.Components = components
	}
	if msg.File != nil {
		send.Files = []*discordgo.File{{
			Name:        msg.File.Name,
			ContentType: "text/plain",
			Reader:      strings.NewReader(msg.File.Content),
		}}
	}
	return send
}

func buildEmbed(title, body string, color int) *discordgo.MessageEmbed {
	if color == 0 {
		color = colorInfo
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// buildComponents lays buttons out in rows of five.
func buildComponents(buttons []platform.Button) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += 5 {
		end := start + 5
		if end > len(buttons) {
			end = len(buttons)
		}
		row := discordgo.ActionsRow{}
		for _, button := range buttons[start:end] {
			style := discordgo.SecondaryButton
			if button.Danger {
				style = discordgo.DangerButton
			}
			component := discordgo.Button{Label: button.Label, Style: style, CustomID: button.CustomID}
			if button.Emoji != "" {
				component.Emoji = &discordgo.ComponentEmoji{Name: button.Emoji}
			}
			row.Components = append(row.Components, component)
		}
		rows = append(rows, row)
	}
	return rows
}
