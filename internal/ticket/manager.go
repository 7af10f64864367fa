package ticket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"guild-warden/internal/apperr"
	"guild-warden/internal/clock"
	"guild-warden/internal/config"
	"guild-warden/internal/platform"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ButtonClose        = "ticket_close"
	ButtonConfirmClose = "ticket_confirm_close"
	ButtonCancelClose  = "ticket_cancel_close"
	ButtonClaim        = "ticket_claim"
	ButtonCategory     = "ticket_"
)

// CloseResult reports how a confirmed close went. Transcript delivery is best
// effort, so TranscriptErr may be set while the close itself succeeded.
type CloseResult struct {
	Ticket        Ticket
	TranscriptErr error
	DeleteAt      time.Time
}

type Manager struct {
	store   Store
	gateway Gateway
	clock   clock.Clock
	logger  *zap.Logger
	cfg     config.TicketConfig

	mu       sync.Mutex
	creating map[string]struct{}
	timers   map[string]clock.Timer
	channels map[string]*channelLock
}

// channelLock serializes state transitions on one ticket channel. refs counts
// holders and waiters so idle entries can be dropped.
type channelLock struct {
	mu   sync.Mutex
	refs int
}

func NewManager(store Store, gateway Gateway, clk clock.Clock, cfg config.TicketConfig, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		gateway:  gateway,
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
		creating: make(map[string]struct{}),
		timers:   make(map[string]clock.Timer),
		channels: make(map[string]*channelLock),
	}
}

func (m *Manager) lockChannel(channelID string) func() {
	m.mu.Lock()
	l, ok := m.channels[channelID]
	if !ok {
		l = &channelLock{}
		m.channels[channelID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.channels, channelID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) Category(id string) (config.TicketCategory, bool) {
	for _, category := range m.cfg.Categories {
		if category.ID == id {
			return category, true
		}
	}
	return config.TicketCategory{}, false
}

func (m *Manager) Categories() []config.TicketCategory {
	return append([]config.TicketCategory(nil), m.cfg.Categories...)
}

// Create opens a ticket in a new private channel. The channel and the record
// succeed together: a failed channel creation persists nothing and a failed
// insert deletes the channel again.
func (m *Manager) Create(ctx context.Context, guildID string, requester Actor, categoryID string) (Ticket, error) {
	category, ok := m.Category(categoryID)
	if !ok {
		return Ticket{}, fmt.Errorf("%w: %q", apperr.ErrUnknownCategory, categoryID)
	}

	key := guildID + ":" + requester.ID
	m.mu.Lock()
	if _, busy := m.creating[key]; busy {
		m.mu.Unlock()
		return Ticket{}, apperr.ErrDuplicateTicket
	}
	m.creating[key] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.creating, key)
		m.mu.Unlock()
	}()

	if existing, found, err := m.store.ActiveTicketFor(ctx, guildID, requester.ID); err != nil {
		return Ticket{}, fmt.Errorf("lookup open ticket: %w", err)
	} else if found {
		return existing, fmt.Errorf("%w: <#%s>", apperr.ErrDuplicateTicket, existing.ChannelID)
	}

	spec := platform.ChannelSpec{
		GuildID:  guildID,
		Name:     ChannelName(requester.Name),
		ParentID: m.cfg.ParentCategoryID,
		Topic:    fmt.Sprintf("%s %s ticket for %s", category.Emoji, category.Name, requester.Name),
		Members:  []string{requester.ID},
	}
	if m.cfg.SupportRoleID != "" {
		spec.Roles = []string{m.cfg.SupportRoleID}
	}
	channel, err := m.gateway.CreateChannel(ctx, spec)
	if err != nil {
		return Ticket{}, apperr.External("create ticket channel", err)
	}

	t := Ticket{
		ID:            uuid.NewString(),
		GuildID:       guildID,
		RequesterID:   requester.ID,
		RequesterName: requester.Name,
		ChannelID:     channel.ID,
		ChannelName:   channel.Name,
		Category:      category.ID,
		Status:        StatusOpen,
		CreatedAt:     m.clock.Now(),
	}
	if t.ChannelName == "" {
		t.ChannelName = spec.Name
	}
	if err := m.store.CreateTicket(ctx, t); err != nil {
		if delErr := m.gateway.DeleteChannel(ctx, channel.ID); delErr != nil {
			m.logger.Error("ticket channel cleanup failed", zap.String("channel_id", channel.ID), zap.Error(delErr))
		}
		return Ticket{}, fmt.Errorf("persist ticket: %w", err)
	}

	welcome := platform.OutgoingMessage{
		Content: fmt.Sprintf("<@%s>", requester.ID),
		Title:   fmt.Sprintf("%s %s", category.Emoji, category.Name),
		Body:    fmt.Sprintf("Thanks for opening a ticket, %s. Describe your request and a staff member will be with you shortly.", requester.Name),
		Buttons: []platform.Button{
			{CustomID: ButtonClose, Label: "Close", Emoji: "🔒", Danger: true},
			{CustomID: ButtonClaim, Label: "Claim", Emoji: "🙋"},
		},
	}
	if m.cfg.SupportRoleID != "" {
		welcome.Content += fmt.Sprintf(" <@&%s>", m.cfg.SupportRoleID)
	}
	if err := m.gateway.SendMessage(ctx, channel.ID, welcome); err != nil {
		m.logger.Warn("ticket welcome failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}

	m.logger.Info("ticket created", zap.String("ticket_id", t.ID), zap.String("guild_id", guildID), zap.String("requester_id", requester.ID), zap.String("category", category.ID))
	return t, nil
}

// ByChannel resolves a ticket from the channel an interaction came from.
func (m *Manager) ByChannel(ctx context.Context, channelID string) (Ticket, error) {
	t, found, err := m.store.TicketByChannel(ctx, channelID)
	if err != nil {
		return Ticket{}, fmt.Errorf("lookup ticket: %w", err)
	}
	if !found || t.ChannelDeleted {
		return Ticket{}, apperr.ErrNotATicketChannel
	}
	return t, nil
}

func (m *Manager) Claim(ctx context.Context, channelID string, actor Actor) (Ticket, error) {
	defer m.lockChannel(channelID)()

	t, err := m.ByChannel(ctx, channelID)
	if err != nil {
		return Ticket{}, err
	}
	if !actor.Staff {
		return t, apperr.ErrNotStaff
	}
	if !t.Mutable() {
		return t, apperr.ErrTicketNotOpen
	}
	if t.ClaimedBy != "" {
		return t, apperr.ErrAlreadyClaimed
	}

	t.ClaimedBy = actor.ID
	t.Status = StatusClaimed
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return Ticket{}, fmt.Errorf("claim ticket %s: %w", t.ID, err)
	}
	m.notify(ctx, t, fmt.Sprintf("🙋 <@%s> claimed this ticket.", actor.ID))
	return t, nil
}

func (m *Manager) SetPriority(ctx context.Context, channelID string, priority Priority, actor Actor) (Ticket, error) {
	defer m.lockChannel(channelID)()

	t, err := m.ByChannel(ctx, channelID)
	if err != nil {
		return Ticket{}, err
	}
	if !actor.Staff {
		return t, apperr.ErrNotStaff
	}
	if !t.Mutable() {
		return t, apperr.ErrTicketNotOpen
	}

	name := WithPriority(t.ChannelName, priority)
	if name != t.ChannelName {
		if err := m.gateway.SetChannelName(ctx, t.ChannelID, name); err != nil {
			return t, apperr.External("rename ticket channel", err)
		}
	}
	t.ChannelName = name
	t.Priority = priority
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return Ticket{}, fmt.Errorf("set priority on ticket %s: %w", t.ID, err)
	}
	return t, nil
}

func (m *Manager) AddParticipant(ctx context.Context, channelID, userID string, actor Actor) (Ticket, error) {
	t, err := m.participantTicket(ctx, channelID, actor)
	if err != nil {
		return t, err
	}
	if err := m.gateway.GrantChannelAccess(ctx, t.ChannelID, userID); err != nil {
		return t, apperr.External("grant ticket access", err)
	}
	m.notify(ctx, t, fmt.Sprintf("➕ <@%s> was added to this ticket by <@%s>.", userID, actor.ID))
	return t, nil
}

func (m *Manager) RemoveParticipant(ctx context.Context, channelID, userID string, actor Actor) (Ticket, error) {
	t, err := m.participantTicket(ctx, channelID, actor)
	if err != nil {
		return t, err
	}
	if userID == t.RequesterID {
		return t, fmt.Errorf("%w: the requester cannot be removed", apperr.ErrPermissionDenied)
	}
	if err := m.gateway.RevokeChannelAccess(ctx, t.ChannelID, userID); err != nil {
		return t, apperr.External("revoke ticket access", err)
	}
	m.notify(ctx, t, fmt.Sprintf("➖ <@%s> was removed from this ticket by <@%s>.", userID, actor.ID))
	return t, nil
}

func (m *Manager) participantTicket(ctx context.Context, channelID string, actor Actor) (Ticket, error) {
	t, err := m.ByChannel(ctx, channelID)
	if err != nil {
		return Ticket{}, err
	}
	if !actor.Staff {
		return t, apperr.ErrNotStaff
	}
	if !t.Mutable() {
		return t, apperr.ErrTicketNotOpen
	}
	return t, nil
}

// RequestClose moves the ticket to closing until it is confirmed or cancelled.
// The requester and staff may close.
func (m *Manager) RequestClose(ctx context.Context, channelID string, actor Actor) (Ticket, error) {
	defer m.lockChannel(channelID)()

	t, err := m.ByChannel(ctx, channelID)
	if err != nil {
		return Ticket{}, err
	}
	if !canClose(t, actor) {
		return t, apperr.ErrPermissionDenied
	}
	if !t.Mutable() {
		return t, apperr.ErrTicketNotOpen
	}

	t.PreviousStatus = t.Status
	t.Status = StatusClosing
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return Ticket{}, fmt.Errorf("request close on ticket %s: %w", t.ID, err)
	}
	return t, nil
}

// ConfirmClose captures the transcript, marks the ticket closed and schedules
// the channel deletion after the grace delay.
func (m *Manager) ConfirmClose(ctx context.Context, channelID string, actor Actor) (CloseResult, error) {
	defer m.lockChannel(channelID)()

	t, err := m.ByChannel(ctx, channelID)
	if err != nil {
		return CloseResult{}, err
	}
	if !canClose(t, actor) {
		return CloseResult{Ticket: t}, apperr.ErrPermissionDenied
	}
	if t.Status != StatusClosing {
		return CloseResult{Ticket: t}, apperr.ErrNotClosing
	}

	now := m.clock.Now()
	result := CloseResult{TranscriptErr: m.deliverTranscript(ctx, t, actor, now)}
	if result.TranscriptErr != nil {
		m.logger.Warn("ticket transcript failed", zap.String("ticket_id", t.ID), zap.Error(result.TranscriptErr))
	}

	t.Status = StatusClosed
	t.ClosedAt = &now
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return result, fmt.Errorf("close ticket %s: %w", t.ID, err)
	}
	result.Ticket = t
	result.DeleteAt = now.Add(m.closeDelay())
	m.scheduleDeletion(t)
	m.logger.Info("ticket closed", zap.String("ticket_id", t.ID), zap.String("closed_by", actor.ID))
	return result, nil
}

// CancelClose returns a closing ticket to its previous state. A closed ticket
// whose channel deletion has not fired yet is reopened as well.
func (m *Manager) CancelClose(ctx context.Context, channelID string, actor Actor) (Ticket, error) {
	defer m.lockChannel(channelID)()

	t, err := m.ByChannel(ctx, channelID)
	if err != nil {
		return Ticket{}, err
	}
	if !canClose(t, actor) {
		return t, apperr.ErrPermissionDenied
	}

	switch t.Status {
	case StatusClosing:
	case StatusClosed:
		if !m.stopDeletion(t.ID) {
			return t, apperr.ErrNotClosing
		}
		t.ClosedAt = nil
	default:
		return t, apperr.ErrNotClosing
	}

	t.Status = t.PreviousStatus
	if t.Status == "" || t.Status == StatusClosing || t.Status == StatusClosed {
		t.Status = StatusOpen
		if t.ClaimedBy != "" {
			t.Status = StatusClaimed
		}
	}
	t.PreviousStatus = ""
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return Ticket{}, fmt.Errorf("cancel close on ticket %s: %w", t.ID, err)
	}
	return t, nil
}

// ChannelRemoved records that a ticket channel is gone. It reports true when
// the deletion belongs to a ticket that was already closed, which is the
// manager's own scheduled cleanup. An active ticket whose channel was deleted
// by someone else is closed so its requester can open a new one, and false is
// returned.
func (m *Manager) ChannelRemoved(ctx context.Context, channelID string) (bool, error) {
	defer m.lockChannel(channelID)()

	t, found, err := m.store.TicketByChannel(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("lookup ticket: %w", err)
	}
	if !found {
		return false, nil
	}
	if t.ChannelDeleted {
		return t.Status == StatusClosed, nil
	}

	expected := t.Status == StatusClosed
	m.stopDeletion(t.ID)
	if !expected {
		now := m.clock.Now()
		t.PreviousStatus = ""
		t.Status = StatusClosed
		t.ClosedAt = &now
	}
	t.ChannelDeleted = true
	if err := m.store.UpdateTicket(ctx, t); err != nil {
		return expected, fmt.Errorf("record deleted channel for ticket %s: %w", t.ID, err)
	}
	if !expected {
		m.logger.Warn("ticket channel deleted while active", zap.String("ticket_id", t.ID), zap.String("channel_id", channelID))
	}
	return expected, nil
}

// ListOpen returns the guild's active tickets, oldest first.
func (m *Manager) ListOpen(ctx context.Context, guildID string) ([]Ticket, error) {
	tickets, err := m.store.ListTickets(ctx, guildID, StatusOpen, StatusClaimed, StatusClosing)
	if err != nil {
		return nil, err
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].CreatedAt.Before(tickets[j].CreatedAt) })
	return tickets, nil
}

// Restore schedules deletion for tickets that were closed before a restart
// but whose channel still exists.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	tickets, err := m.store.ListTickets(ctx, "", StatusClosed)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, t := range tickets {
		if t.ChannelDeleted {
			continue
		}
		m.scheduleDeletion(t)
		restored++
	}
	return restored, nil
}

// Pending reports whether a channel deletion is scheduled for the ticket.
func (m *Manager) Pending(ticketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[ticketID]
	return ok
}

func (m *Manager) deliverTranscript(ctx context.Context, t Ticket, actor Actor, now time.Time) error {
	destination := m.cfg.TranscriptChannel
	if category, ok := m.Category(t.Category); ok && category.TranscriptChannel != "" {
		destination = category.TranscriptChannel
	}
	if destination == "" {
		return nil
	}

	history, err := m.gateway.FetchHistory(ctx, t.ChannelID, m.transcriptLimit())
	if err != nil {
		return apperr.External("fetch ticket history", err)
	}
	closedBy := actor.Name
	if closedBy == "" {
		closedBy = actor.ID
	}
	msg := platform.OutgoingMessage{
		Title: "Ticket transcript",
		Body:  fmt.Sprintf("%s ticket from <@%s> closed by <@%s>.", t.Category, t.RequesterID, actor.ID),
		File: &platform.File{
			Name:    fmt.Sprintf("transcript-%s.txt", t.ChannelName),
			Content: Transcript(t, closedBy, now, history),
		},
	}
	if err := m.gateway.SendMessage(ctx, destination, msg); err != nil {
		return apperr.External("send ticket transcript", err)
	}
	return nil
}

func (m *Manager) scheduleDeletion(t Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.timers[t.ID]; ok {
		existing.Stop()
	}
	m.timers[t.ID] = m.clock.AfterFunc(m.closeDelay(), func() {
		m.deleteChannel(t)
	})
}

func (m *Manager) stopDeletion(ticketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer, ok := m.timers[ticketID]
	if !ok {
		return false
	}
	if !timer.Stop() {
		return false
	}
	delete(m.timers, ticketID)
	return true
}

func (m *Manager) deleteChannel(t Ticket) {
	m.mu.Lock()
	delete(m.timers, t.ID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.gateway.DeleteChannel(ctx, t.ChannelID); err != nil {
		m.logger.Warn("ticket channel delete failed", zap.String("ticket_id", t.ID), zap.String("channel_id", t.ChannelID), zap.Error(err))
		return
	}
	defer m.lockChannel(t.ChannelID)()
	current, found, err := m.store.TicketByChannel(ctx, t.ChannelID)
	if err != nil || !found {
		if err == nil {
			err = errors.New("ticket disappeared")
		}
		m.logger.Warn("ticket delete bookkeeping failed", zap.String("ticket_id", t.ID), zap.Error(err))
		return
	}
	if current.ChannelDeleted {
		return
	}
	current.ChannelDeleted = true
	if err := m.store.UpdateTicket(ctx, current); err != nil {
		m.logger.Warn("ticket delete bookkeeping failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func (m *Manager) notify(ctx context.Context, t Ticket, content string) {
	if err := m.gateway.SendMessage(ctx, t.ChannelID, platform.OutgoingMessage{Content: content}); err != nil {
		m.logger.Warn("ticket notice failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func (m *Manager) closeDelay() time.Duration {
	if m.cfg.CloseDelaySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(m.cfg.CloseDelaySeconds) * time.Second
}

func (m *Manager) transcriptLimit() int {
	if m.cfg.TranscriptLimit <= 0 || m.cfg.TranscriptLimit > 100 {
		return 100
	}
	return m.cfg.TranscriptLimit
}

func canClose(t Ticket, actor Actor) bool {
	return actor.Staff || actor.ID == t.RequesterID
}
