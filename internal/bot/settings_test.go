package bot

import (
	"errors"
	"testing"

	"guild-warden/internal/apperr"
	"guild-warden/internal/config"
)

func TestApplyModerationSettingUpdatesOneField(t *testing.T) {
	base := config.DefaultModeration()
	updated, err := applyModerationSetting(base, "spam_threshold", "8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.SpamThreshold != 8 {
		t.Fatalf("expected spam threshold 8, got %d", updated.SpamThreshold)
	}
	if updated.RaidThreshold != base.RaidThreshold {
		t.Fatalf("other fields must be preserved")
	}
	if base.SpamThreshold != 5 {
		t.Fatalf("input config must not be modified")
	}
}

func TestApplyModerationSettingBannedWords(t *testing.T) {
	updated, err := applyModerationSetting(config.DefaultModeration(), "banned_words", "scam, free nitro ,,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.BannedWords) != 2 || updated.BannedWords[1] != "free nitro" {
		t.Fatalf("unexpected banned words %v", updated.BannedWords)
	}
}

func TestApplyModerationSettingRejectsBadInput(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"unknown_key", "1"},
		{"spam_threshold", "many"},
		{"spam_threshold", "0"},
		{"raid_action", "explode"},
		{"spam_threshold", "3\nraid_threshold: 1"},
	}
	for _, tc := range cases {
		_, err := applyModerationSetting(config.DefaultModeration(), tc.key, tc.value)
		if !errors.Is(err, apperr.ErrConfiguration) {
			t.Fatalf("%s=%q: expected configuration error, got %v", tc.key, tc.value, err)
		}
	}
}
