package bot

import (
	"bytes"
	"fmt"
	"strings"

	"guild-warden/internal/apperr"
	"guild-warden/internal/config"

	"gopkg.in/yaml.v3"
)

// applyModerationSetting decodes a single "key: value" pair onto a copy of cfg
// using the same yaml tags the config file uses, so unknown keys and badly
// typed values are rejected.
func applyModerationSetting(cfg config.ModerationConfig, key, value string) (config.ModerationConfig, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	value = strings.TrimSpace(value)
	if key == "" || strings.ContainsAny(key, ":\n{}[]#") || strings.ContainsAny(value, "\n\r") {
		return cfg, fmt.Errorf("%w: invalid setting %q", apperr.ErrConfiguration, key)
	}

	var doc string
	if key == "banned_words" {
		words := make([]string, 0)
		for _, word := range strings.Split(value, ",") {
			if word = strings.TrimSpace(word); word != "" {
				words = append(words, word)
			}
		}
		encoded, err := yaml.Marshal(map[string][]string{key: words})
		if err != nil {
			return cfg, err
		}
		doc = string(encoded)
	} else {
		doc = key + ": " + value + "\n"
	}

	updated := cfg
	updated.BannedWords = append([]string(nil), cfg.BannedWords...)
	decoder := yaml.NewDecoder(bytes.NewBufferString(doc))
	decoder.KnownFields(true)
	if err := decoder.Decode(&updated); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", apperr.ErrConfiguration, key, err)
	}
	if err := updated.Validate(); err != nil {
		return cfg, err
	}
	return updated, nil
}

func formatModeration(cfg config.ModerationConfig) string {
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return err.Error()
	}
	return "```yaml\n" + string(encoded) + "```"
}
