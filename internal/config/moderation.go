package config

import (
	"fmt"
	"time"

	"guild-warden/internal/apperr"
	"guild-warden/internal/platform"
)

// ModerationConfig is the guild-scoped detection configuration. The process
// defaults come from Config.Moderation; guild overrides are persisted by the
// storage layer.
type ModerationConfig struct {
	SpamEnabled   bool `yaml:"spam_enabled" json:"spam_enabled"`
	SpamThreshold int  `yaml:"spam_threshold" json:"spam_threshold"`
	SpamWindowMs  int  `yaml:"spam_window_ms" json:"spam_window_ms"`
	SpamMuteMs    int  `yaml:"spam_mute_ms" json:"spam_mute_ms"`

	ContentFilterEnabled bool     `yaml:"content_filter_enabled" json:"content_filter_enabled"`
	BlockInvites         bool     `yaml:"block_invites" json:"block_invites"`
	MaxMentions          int      `yaml:"max_mentions" json:"max_mentions"`
	MaxEmojis            int      `yaml:"max_emojis" json:"max_emojis"`
	MaxLines             int      `yaml:"max_lines" json:"max_lines"`
	MaxLength            int      `yaml:"max_length" json:"max_length"`
	BannedWords          []string `yaml:"banned_words" json:"banned_words"`

	NSFWEnabled bool   `yaml:"nsfw_enabled" json:"nsfw_enabled"`
	NSFWAction  string `yaml:"nsfw_action" json:"nsfw_action"`
	NSFWMuteMs  int    `yaml:"nsfw_mute_ms" json:"nsfw_mute_ms"`

	RaidEnabled     bool   `yaml:"raid_enabled" json:"raid_enabled"`
	RaidThreshold   int    `yaml:"raid_threshold" json:"raid_threshold"`
	RaidWindowMs    int    `yaml:"raid_window_ms" json:"raid_window_ms"`
	RaidAction      string `yaml:"raid_action" json:"raid_action"`
	AccountAgeHours int    `yaml:"account_age_hours" json:"account_age_hours"`
	SuspicionHours  int    `yaml:"suspicion_hours" json:"suspicion_hours"`

	NukeEnabled                bool `yaml:"nuke_enabled" json:"nuke_enabled"`
	NukeWindowMs               int  `yaml:"nuke_window_ms" json:"nuke_window_ms"`
	NukeBanThreshold           int  `yaml:"nuke_ban_threshold" json:"nuke_ban_threshold"`
	NukeChannelDeleteThreshold int  `yaml:"nuke_channel_delete_threshold" json:"nuke_channel_delete_threshold"`
	NukeRoleDeleteThreshold    int  `yaml:"nuke_role_delete_threshold" json:"nuke_role_delete_threshold"`
}

func DefaultModeration() ModerationConfig {
	return ModerationConfig{
		SpamEnabled:                true,
		SpamThreshold:              5,
		SpamWindowMs:               5000,
		SpamMuteMs:                 300000,
		ContentFilterEnabled:       true,
		BlockInvites:               true,
		MaxMentions:                5,
		MaxEmojis:                  10,
		MaxLines:                   10,
		MaxLength:                  2000,
		BannedWords:                []string{},
		NSFWEnabled:                true,
		NSFWAction:                 "delete",
		NSFWMuteMs:                 600000,
		RaidEnabled:                true,
		RaidThreshold:              10,
		RaidWindowMs:               10000,
		RaidAction:                 "kick",
		AccountAgeHours:            168,
		SuspicionHours:             168,
		NukeEnabled:                true,
		NukeWindowMs:               10000,
		NukeBanThreshold:           3,
		NukeChannelDeleteThreshold: 2,
		NukeRoleDeleteThreshold:    2,
	}
}

func (m ModerationConfig) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"spam_threshold", m.SpamThreshold},
		{"spam_window_ms", m.SpamWindowMs},
		{"spam_mute_ms", m.SpamMuteMs},
		{"raid_threshold", m.RaidThreshold},
		{"raid_window_ms", m.RaidWindowMs},
		{"account_age_hours", m.AccountAgeHours},
		{"suspicion_hours", m.SuspicionHours},
		{"nuke_window_ms", m.NukeWindowMs},
		{"nuke_ban_threshold", m.NukeBanThreshold},
		{"nuke_channel_delete_threshold", m.NukeChannelDeleteThreshold},
		{"nuke_role_delete_threshold", m.NukeRoleDeleteThreshold},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", apperr.ErrConfiguration, field.name, field.value)
		}
	}
	switch m.RaidAction {
	case "kick", "ban":
	default:
		return fmt.Errorf("%w: raid_action must be kick or ban, got %q", apperr.ErrConfiguration, m.RaidAction)
	}
	switch m.NSFWAction {
	case "delete", "mute", "kick":
	default:
		return fmt.Errorf("%w: nsfw_action must be delete, mute or kick, got %q", apperr.ErrConfiguration, m.NSFWAction)
	}
	return nil
}

func (m ModerationConfig) SpamWindow() time.Duration {
	return time.Duration(m.SpamWindowMs) * time.Millisecond
}

func (m ModerationConfig) SpamMute() time.Duration {
	return time.Duration(m.SpamMuteMs) * time.Millisecond
}

func (m ModerationConfig) NSFWMute() time.Duration {
	return time.Duration(m.NSFWMuteMs) * time.Millisecond
}

func (m ModerationConfig) RaidWindow() time.Duration {
	return time.Duration(m.RaidWindowMs) * time.Millisecond
}

func (m ModerationConfig) AccountAge() time.Duration {
	return time.Duration(m.AccountAgeHours) * time.Hour
}

func (m ModerationConfig) SuspicionRetention() time.Duration {
	return time.Duration(m.SuspicionHours) * time.Hour
}

func (m ModerationConfig) NukeWindow() time.Duration {
	return time.Duration(m.NukeWindowMs) * time.Millisecond
}

func (m ModerationConfig) NukeThreshold(action platform.NukeAction) int {
	switch action {
	case platform.ActionBan:
		return m.NukeBanThreshold
	case platform.ActionChannelDelete:
		return m.NukeChannelDeleteThreshold
	case platform.ActionRoleDelete:
		return m.NukeRoleDeleteThreshold
	default:
		return 0
	}
}
