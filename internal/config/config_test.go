package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"guild-warden/internal/apperr"
	"guild-warden/internal/platform"
)

func TestLoadAppliesFileEnvAndPreset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("discord_token: file-token\nrule_preset: high\ntickets:\n  support_role_id: staff\nmoderation:\n  raid_action: ban\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("DATABASE_DRIVER", "pgx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "env-token" {
		t.Fatalf("expected env override, got %q", cfg.DiscordToken)
	}
	if cfg.Tickets.SupportRoleID != "staff" {
		t.Fatalf("expected support role from file, got %q", cfg.Tickets.SupportRoleID)
	}
	if cfg.Moderation.SpamThreshold != 4 {
		t.Fatalf("expected high preset spam threshold 4, got %d", cfg.Moderation.SpamThreshold)
	}
	if cfg.Moderation.RaidAction != "ban" {
		t.Fatalf("expected raid action ban, got %q", cfg.Moderation.RaidAction)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("DISCORD_TOKEN=dotenv-token\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "none.yaml"))
	t.Setenv("ENV_FILE", envPath)
	t.Setenv("DISCORD_TOKEN", "")
	os.Unsetenv("DISCORD_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "dotenv-token" {
		t.Fatalf("expected token from .env, got %q", cfg.DiscordToken)
	}
}

func TestValidateRejectsNonPositiveThreshold(t *testing.T) {
	mod := DefaultModeration()
	mod.SpamThreshold = 0
	if err := mod.Validate(); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	mod = DefaultModeration()
	mod.RaidAction = "explode"
	if err := mod.Validate(); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error for raid action, got %v", err)
	}
	if err := DefaultModeration().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestNukeThresholdPerAction(t *testing.T) {
	mod := DefaultModeration()
	if mod.NukeThreshold(platform.ActionBan) != 3 {
		t.Fatalf("expected ban threshold 3")
	}
	if mod.NukeThreshold(platform.ActionChannelDelete) != 2 {
		t.Fatalf("expected channel delete threshold 2")
	}
	if mod.NukeThreshold("unknown") != 0 {
		t.Fatalf("expected 0 for unknown action")
	}
}

func TestBuildLoggerWithRotatingFile(t *testing.T) {
	logger, err := BuildLogger("debug", LogFileConfig{Path: filepath.Join(t.TempDir(), "warden.log"), MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
}
