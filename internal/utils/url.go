package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var inviteRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:discord\.gg|discord(?:app)?\.com/invite)/[a-z0-9-]+`)

var inviteHosts = map[string]struct{}{
	"discord.gg":         {},
	"discord.com":        {},
	"discordapp.com":     {},
	"www.discord.com":    {},
	"www.discordapp.com": {},
}

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}

	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}

// ContainsInvite reports whether content carries a server invite, including
// schemeless forms and hosts written with unicode lookalikes.
func ContainsInvite(content string) bool {
	if inviteRegex.MatchString(content) {
		return true
	}
	for _, raw := range ExtractURLs(content) {
		normalized, host, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		if _, ok := inviteHosts[host]; !ok {
			continue
		}
		if host == "discord.gg" || strings.Contains(normalized, "/invite/") {
			return true
		}
	}
	return false
}
