package bot

import (
	"time"

	"guild-warden/internal/platform"

	"github.com/bwmarrin/discordgo"
)

func normalizeMessage(msg *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:        msg.ID,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	if msg.Author != nil {
		out.AuthorID = msg.Author.ID
		out.AuthorName = msg.Author.Username
		out.AuthorBot = msg.Author.Bot
	}
	out.MentionCount = len(msg.Mentions) + len(msg.MentionRoles)
	if msg.MentionEveryone {
		out.MentionCount++
	}
	for _, attachment := range msg.Attachments {
		if attachment == nil {
			continue
		}
		out.Attachments = append(out.Attachments, platform.Attachment{
			Filename: attachment.Filename,
			URL:      attachment.URL,
		})
	}
	for _, embed := range msg.Embeds {
		if embed == nil {
			continue
		}
		out.Embeds = append(out.Embeds, platform.Embed{Title: embed.Title, Description: embed.Description})
	}
	return out
}

func normalizeMember(guildID string, member *discordgo.Member) platform.Member {
	out := platform.Member{GuildID: guildID}
	if member == nil {
		return out
	}
	if member.GuildID != "" {
		out.GuildID = member.GuildID
	}
	out.Roles = append(out.Roles, member.Roles...)
	if member.User != nil {
		out.UserID = member.User.ID
		out.Username = member.User.Username
		out.AccountCreated = accountCreated(member.User.ID)
	}
	return out
}

func accountCreated(userID string) time.Time {
	created, err := discordgo.SnowflakeTimestamp(userID)
	if err != nil {
		return time.Time{}
	}
	return created
}

func normalizeInteraction(interaction *discordgo.InteractionCreate) platform.Interaction {
	out := platform.Interaction{
		GuildID:   interaction.GuildID,
		ChannelID: interaction.ChannelID,
	}
	if interaction.Member != nil {
		out.RoleIDs = append(out.RoleIDs, interaction.Member.Roles...)
		if interaction.Member.User != nil {
			out.UserID = interaction.Member.User.ID
			out.Username = interaction.Member.User.Username
		}
	} else if interaction.User != nil {
		out.UserID = interaction.User.ID
		out.Username = interaction.User.Username
	}
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		out.Command = interaction.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		out.CustomID = interaction.MessageComponentData().CustomID
	}
	return out
}

// interactionPermissions returns the invoker's resolved channel permissions.
func interactionPermissions(interaction *discordgo.InteractionCreate) int64 {
	if interaction.Member == nil {
		return 0
	}
	return interaction.Member.Permissions
}
