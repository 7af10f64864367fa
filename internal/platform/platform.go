// Package platform holds the chat-platform shapes the core works with. The
// discordgo adapter in internal/bot converts wire objects into these types and
// back, so detection and ticket code never touches the Discord API directly.
package platform

import "time"

type NukeAction string

const (
	ActionBan           NukeAction = "ban"
	ActionChannelDelete NukeAction = "channel_delete"
	ActionRoleDelete    NukeAction = "role_delete"
)

type VerificationLevel int

const (
	VerificationNone VerificationLevel = iota
	VerificationLow
	VerificationMedium
	VerificationHigh
	VerificationHighest
)

type Attachment struct {
	Filename string
	URL      string
	NSFW     bool
}

type Embed struct {
	Title       string
	Description string
	NSFW        bool
}

type Message struct {
	ID           string
	GuildID      string
	ChannelID    string
	AuthorID     string
	AuthorName   string
	AuthorBot    bool
	Content      string
	MentionCount int
	Attachments  []Attachment
	Embeds       []Embed
	Timestamp    time.Time
}

type Member struct {
	GuildID        string
	UserID         string
	Username       string
	Roles          []string
	AccountCreated time.Time
}

type AuditEntry struct {
	ActorID   string
	TargetID  string
	Action    NukeAction
	CreatedAt time.Time
}

// ChannelSpec describes a private text channel: everyone is denied view access,
// the listed members and roles may view and send.
type ChannelSpec struct {
	GuildID  string
	Name     string
	ParentID string
	Topic    string
	Members  []string
	Roles    []string
}

type Channel struct {
	ID   string
	Name string
}

type HistoryMessage struct {
	AuthorName  string
	Content     string
	Timestamp   time.Time
	Attachments []string
}

type Button struct {
	CustomID string
	Label    string
	Emoji    string
	Danger   bool
}

type OutgoingMessage struct {
	Content string
	Title   string
	Body    string
	Color   int
	Buttons []Button
	File    *File
}

type File struct {
	Name    string
	Content string
}
