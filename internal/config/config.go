package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken           string             `yaml:"discord_token"`
	Database               DatabaseConfig     `yaml:"database"`
	LogLevel               string             `yaml:"log_level"`
	LogFile                LogFileConfig      `yaml:"log_file"`
	SecurityLogChannel     string             `yaml:"security_log_channel"`
	RetentionDays          int                `yaml:"retention_days"`
	RulePreset             string             `yaml:"rule_preset"`
	JanitorIntervalSeconds int                `yaml:"janitor_interval_seconds"`
	Moderation             ModerationConfig   `yaml:"moderation"`
	Tickets                TicketConfig       `yaml:"tickets"`
	RateLimit              RateLimitConfig    `yaml:"rate_limit"`
	Warnings               WarningConfig      `yaml:"warnings"`
	ServerStatus           ServerStatusConfig `yaml:"server_status"`
	Playbook               PlaybookConfig     `yaml:"playbook"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TicketConfig struct {
	SupportRoleID     string           `yaml:"support_role_id"`
	ParentCategoryID  string           `yaml:"parent_category_id"`
	TranscriptChannel string           `yaml:"transcript_channel"`
	CloseDelaySeconds int              `yaml:"close_delay_seconds"`
	TranscriptLimit   int              `yaml:"transcript_limit"`
	Categories        []TicketCategory `yaml:"categories"`
}

type TicketCategory struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	Emoji             string `yaml:"emoji"`
	TranscriptChannel string `yaml:"transcript_channel"`
}

type RateLimitConfig struct {
	DefaultCooldownMs  int            `yaml:"default_cooldown_ms"`
	CooldownsMs        map[string]int `yaml:"cooldowns_ms"`
	MaxPerMinute       int            `yaml:"max_per_minute"`
	QuotaWindowSeconds int            `yaml:"quota_window_seconds"`
	MaxWarnings        int            `yaml:"max_warnings"`
	SuspendMinutes     int            `yaml:"suspend_minutes"`
	IdleMinutes        int            `yaml:"idle_minutes"`
}

type WarningConfig struct {
	TimeoutAt      int `yaml:"timeout_at"`
	KickAt         int `yaml:"kick_at"`
	BanAt          int `yaml:"ban_at"`
	TimeoutMinutes int `yaml:"timeout_minutes"`
	ForgiveDays    int `yaml:"forgive_days"`
}

type ServerStatusConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type PlaybookConfig struct {
	RaidProtectionMinutes int `yaml:"raid_protection_minutes"`
}

func DefaultConfig() Config {
	return Config{
		Database:               DatabaseConfig{Driver: "sqlite", DSN: "/data/warden.db"},
		LogLevel:               "info",
		LogFile:                LogFileConfig{MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14},
		RetentionDays:          14,
		RulePreset:             "medium",
		JanitorIntervalSeconds: 1800,
		Moderation:             DefaultModeration(),
		Tickets: TicketConfig{
			CloseDelaySeconds: 5,
			TranscriptLimit:   100,
			Categories: []TicketCategory{
				{ID: "general", Name: "General Support", Emoji: "🛠️"},
				{ID: "donation", Name: "Donation", Emoji: "💸"},
				{ID: "complaint", Name: "Complaint", Emoji: "⚠️"},
				{ID: "suggestion", Name: "Suggestion", Emoji: "💡"},
				{ID: "bug", Name: "Bug Report", Emoji: "🐞"},
				{ID: "ban", Name: "Ban Appeal", Emoji: "🔓"},
				{ID: "gang", Name: "Gang Creation", Emoji: "🔥"},
			},
		},
		RateLimit: RateLimitConfig{
			DefaultCooldownMs: 3000,
			CooldownsMs: map[string]int{
				"ban":   30000,
				"kick":  30000,
				"mute":  15000,
				"clear": 10000,
			},
			MaxPerMinute:       10,
			QuotaWindowSeconds: 60,
			MaxWarnings:        3,
			SuspendMinutes:     60,
			IdleMinutes:        60,
		},
		Warnings:     WarningConfig{TimeoutAt: 3, KickAt: 5, BanAt: 7, TimeoutMinutes: 10, ForgiveDays: 30},
		ServerStatus: ServerStatusConfig{Enabled: false, TimeoutSeconds: 5},
		Playbook:     PlaybookConfig{RaidProtectionMinutes: 15},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if info, err := os.Stat(envFile); err == nil && !info.IsDir() {
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, err
		}
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.RulePreset = normalizePreset(cfg.RulePreset)
	applyPreset(&cfg)
	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)

	if err := cfg.Moderation.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", cfg.Database.DSN)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile.Path = envString("LOG_FILE", cfg.LogFile.Path)
	cfg.SecurityLogChannel = envString("SECURITY_LOG_CHANNEL", cfg.SecurityLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.RulePreset = envString("RULE_PRESET", cfg.RulePreset)
	cfg.JanitorIntervalSeconds = envInt("JANITOR_INTERVAL_SECONDS", cfg.JanitorIntervalSeconds)
	cfg.Moderation.SpamThreshold = envInt("SPAM_THRESHOLD", cfg.Moderation.SpamThreshold)
	cfg.Moderation.SpamWindowMs = envInt("SPAM_WINDOW_MS", cfg.Moderation.SpamWindowMs)
	cfg.Moderation.RaidThreshold = envInt("RAID_THRESHOLD", cfg.Moderation.RaidThreshold)
	cfg.Moderation.RaidWindowMs = envInt("RAID_WINDOW_MS", cfg.Moderation.RaidWindowMs)
	cfg.Moderation.RaidAction = envString("RAID_ACTION", cfg.Moderation.RaidAction)
	cfg.Moderation.NukeEnabled = envBool("NUKE_ENABLED", cfg.Moderation.NukeEnabled)
	cfg.Tickets.SupportRoleID = envString("STAFF_ROLE_ID", cfg.Tickets.SupportRoleID)
	cfg.Tickets.ParentCategoryID = envString("TICKET_CATEGORY_ID", cfg.Tickets.ParentCategoryID)
	cfg.Tickets.TranscriptChannel = envString("TRANSCRIPT_CHANNEL_ID", cfg.Tickets.TranscriptChannel)
	cfg.RateLimit.MaxPerMinute = envInt("COMMANDS_MAX_PER_MINUTE", cfg.RateLimit.MaxPerMinute)
	cfg.ServerStatus.Enabled = envBool("SERVER_STATUS_ENABLED", cfg.ServerStatus.Enabled)
	cfg.ServerStatus.URL = envString("SERVER_STATUS_URL", cfg.ServerStatus.URL)
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	default:
		return "sqlite"
	}
}

func normalizePreset(value string) string {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return strings.ToLower(value)
	default:
		return "medium"
	}
}

func applyPreset(cfg *Config) {
	switch cfg.RulePreset {
	case "low":
		cfg.Moderation.SpamThreshold = 8
		cfg.Moderation.RaidThreshold = 15
		cfg.Moderation.MaxMentions = 8
	case "high":
		cfg.Moderation.SpamThreshold = 4
		cfg.Moderation.RaidThreshold = 6
		cfg.Moderation.MaxMentions = 3
	}
}
