// Package ticket manages support tickets backed by private channels.
package ticket

import (
	"context"
	"regexp"
	"strings"
	"time"

	"guild-warden/internal/platform"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusClaimed Status = "claimed"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

type Priority string

const (
	PriorityUnset  Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Ticket struct {
	ID             string
	GuildID        string
	RequesterID    string
	RequesterName  string
	ChannelID      string
	ChannelName    string
	Category       string
	Status         Status
	PreviousStatus Status
	ClaimedBy      string
	Priority       Priority
	CreatedAt      time.Time
	ClosedAt       *time.Time
	ChannelDeleted bool
}

// Active reports whether the ticket still counts against the requester's
// single-ticket limit.
func (t Ticket) Active() bool {
	return t.Status == StatusOpen || t.Status == StatusClaimed || t.Status == StatusClosing
}

func (t Ticket) Mutable() bool {
	return t.Status == StatusOpen || t.Status == StatusClaimed
}

// Actor is the member invoking a ticket operation.
type Actor struct {
	ID    string
	Name  string
	Staff bool
}

type Store interface {
	CreateTicket(ctx context.Context, t Ticket) error
	UpdateTicket(ctx context.Context, t Ticket) error
	TicketByChannel(ctx context.Context, channelID string) (Ticket, bool, error)
	ActiveTicketFor(ctx context.Context, guildID, requesterID string) (Ticket, bool, error)
	ListTickets(ctx context.Context, guildID string, statuses ...Status) ([]Ticket, error)
}

type Gateway interface {
	CreateChannel(ctx context.Context, spec platform.ChannelSpec) (platform.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	SetChannelName(ctx context.Context, channelID, name string) error
	GrantChannelAccess(ctx context.Context, channelID, userID string) error
	RevokeChannelAccess(ctx context.Context, channelID, userID string) error
	SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) error
	FetchHistory(ctx context.Context, channelID string, limit int) ([]platform.HistoryMessage, error)
}

func ParsePriority(value string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	case "none", "unset":
		return PriorityUnset, true
	default:
		return PriorityUnset, false
	}
}

var (
	slugInvalid     = regexp.MustCompile(`[^a-z0-9_]+`)
	prioritySegment = regexp.MustCompile(`^ticket-(?:low|medium|high)-`)
)

// ChannelName builds the base channel name for a requester.
func ChannelName(username string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(username), "")
	if slug == "" {
		slug = "user"
	}
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return "ticket-" + slug
}

// WithPriority replaces any priority segment in name so the result carries
// exactly one, or none when priority is unset.
func WithPriority(name string, priority Priority) string {
	rest := strings.TrimPrefix(prioritySegment.ReplaceAllString(name, "ticket-"), "ticket-")
	if priority == PriorityUnset {
		return "ticket-" + rest
	}
	return "ticket-" + string(priority) + "-" + rest
}
