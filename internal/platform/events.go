package platform

import "time"

// Event is one normalized inbound platform event. The concrete types below are
// the only implementations.
type Event interface {
	Guild() string
}

type MessageCreate struct {
	Message Message
}

type MemberJoin struct {
	Member   Member
	JoinedAt time.Time
}

type MemberRemove struct {
	GuildID string
	UserID  string
}

type BanAdd struct {
	GuildID string
	UserID  string
}

type ChannelDelete struct {
	GuildID   string
	ChannelID string
}

type RoleDelete struct {
	GuildID string
	RoleID  string
}

type Interaction struct {
	GuildID   string
	ChannelID string
	UserID    string
	Username  string
	RoleIDs   []string
	Command   string
	CustomID  string
}

func (e MessageCreate) Guild() string { return e.Message.GuildID }
func (e MemberJoin) Guild() string    { return e.Member.GuildID }
func (e MemberRemove) Guild() string  { return e.GuildID }
func (e BanAdd) Guild() string        { return e.GuildID }
func (e ChannelDelete) Guild() string { return e.GuildID }
func (e RoleDelete) Guild() string    { return e.GuildID }
func (e Interaction) Guild() string   { return e.GuildID }

// HasRole reports whether the invoking member carries roleID.
func (e Interaction) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, id := range e.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
