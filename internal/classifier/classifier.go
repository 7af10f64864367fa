// Package classifier decides whether content or behaviour looks abusive. It
// never performs I/O or touches trackers; callers record events and pass the
// resulting counts in.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"guild-warden/internal/config"
	"guild-warden/internal/platform"
	"guild-warden/internal/utils"
)

const (
	ReasonInvite     = "invite_link"
	ReasonMentions   = "mentions"
	ReasonEmojis     = "emojis"
	ReasonLines      = "lines"
	ReasonLength     = "length"
	ReasonBannedWord = "banned_word"
	ReasonNSFW       = "nsfw"
)

type Verdict struct {
	Flagged bool
	Reason  string
	Detail  string
}

var (
	shortcodeRegex = regexp.MustCompile(`:[a-zA-Z0-9_]+:`)
	nsfwRegex      = regexp.MustCompile(`\b(nsfw|porn|hentai|xxx|sex|nude|naked)\b`)
)

// ContentSpam checks a single message against the configured content limits.
// The first exceeded limit wins.
func ContentSpam(msg platform.Message, cfg config.ModerationConfig) Verdict {
	content := msg.Content
	if cfg.BlockInvites && utils.ContainsInvite(content) {
		return flagged(ReasonInvite, "server invite link")
	}
	if cfg.MaxMentions > 0 && msg.MentionCount > cfg.MaxMentions {
		return flagged(ReasonMentions, fmt.Sprintf("mentions=%d limit=%d", msg.MentionCount, cfg.MaxMentions))
	}
	if emojis := CountEmojis(content); cfg.MaxEmojis > 0 && emojis > cfg.MaxEmojis {
		return flagged(ReasonEmojis, fmt.Sprintf("emojis=%d limit=%d", emojis, cfg.MaxEmojis))
	}
	if lines := strings.Count(content, "\n") + 1; cfg.MaxLines > 0 && lines > cfg.MaxLines {
		return flagged(ReasonLines, fmt.Sprintf("lines=%d limit=%d", lines, cfg.MaxLines))
	}
	if length := utf8.RuneCountInString(content); cfg.MaxLength > 0 && length > cfg.MaxLength {
		return flagged(ReasonLength, fmt.Sprintf("length=%d limit=%d", length, cfg.MaxLength))
	}
	if word, ok := matchBannedWord(content, cfg.BannedWords); ok {
		return flagged(ReasonBannedWord, "banned word: "+word)
	}
	return Verdict{}
}

// NSFW matches the explicit keyword set against the text, embed text and
// attachment names, and honours platform-provided NSFW flags.
func NSFW(msg platform.Message) Verdict {
	if nsfwRegex.MatchString(normalizeText(msg.Content)) {
		return flagged(ReasonNSFW, "explicit keyword in message")
	}
	for _, attachment := range msg.Attachments {
		if attachment.NSFW {
			return flagged(ReasonNSFW, "attachment flagged nsfw")
		}
		if nsfwRegex.MatchString(normalizeText(attachment.Filename)) {
			return flagged(ReasonNSFW, "explicit attachment name")
		}
	}
	for _, embed := range msg.Embeds {
		if embed.NSFW {
			return flagged(ReasonNSFW, "embed flagged nsfw")
		}
		if nsfwRegex.MatchString(normalizeText(embed.Title)) || nsfwRegex.MatchString(normalizeText(embed.Description)) {
			return flagged(ReasonNSFW, "explicit keyword in embed")
		}
	}
	return Verdict{}
}

// FrequencySpam expects count to already include the current message.
func FrequencySpam(count int, cfg config.ModerationConfig) bool {
	return cfg.SpamThreshold > 0 && count >= cfg.SpamThreshold
}

func Raid(joins int, cfg config.ModerationConfig) bool {
	return cfg.RaidThreshold > 0 && joins >= cfg.RaidThreshold
}

func NewAccount(accountCreated, now time.Time, cfg config.ModerationConfig) bool {
	if accountCreated.IsZero() {
		return false
	}
	return now.Sub(accountCreated) < cfg.AccountAge()
}

// NukeTriggered fires once per cycle, when the counter reaches the threshold.
func NukeTriggered(count, threshold int) bool {
	return threshold > 0 && count == threshold
}

func CountEmojis(content string) int {
	count := len(shortcodeRegex.FindAllStringIndex(content, -1))
	for _, r := range content {
		if unicode.Is(unicode.So, r) {
			count++
		}
	}
	return count
}

func matchBannedWord(content string, words []string) (string, bool) {
	if len(words) == 0 {
		return "", false
	}
	normalized := normalizeText(content)
	for _, word := range words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		if strings.Contains(normalized, normalizeText(word)) {
			return word, true
		}
	}
	return "", false
}

func normalizeText(input string) string {
	replacer := strings.NewReplacer(
		"à", "a", "á", "a", "â", "a", "ä", "a",
		"è", "e", "é", "e", "ê", "e", "ë", "e",
		"ì", "i", "í", "i", "î", "i", "ï", "i",
		"ò", "o", "ó", "o", "ô", "o", "ö", "o",
		"ù", "u", "ú", "u", "û", "u", "ü", "u",
		"ç", "c",
	)
	return replacer.Replace(strings.ToLower(input))
}

func flagged(reason, detail string) Verdict {
	return Verdict{Flagged: true, Reason: reason, Detail: detail}
}
