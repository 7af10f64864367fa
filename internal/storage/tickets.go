package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"guild-warden/internal/ticket"
)

const ticketColumns = `id, guild_id, requester_id, requester_name, channel_id, channel_name, category,
	status, previous_status, claimed_by, priority, created_at, closed_at, channel_deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateTicket(ctx context.Context, t ticket.Ticket) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.GuildID, t.RequesterID, t.RequesterName, t.ChannelID, t.ChannelName, t.Category,
		string(t.Status), string(t.PreviousStatus), t.ClaimedBy, string(t.Priority),
		t.CreatedAt.Unix(), nullableUnix(t.ClosedAt), boolToInt(t.ChannelDeleted))
	return err
}

func (s *Store) UpdateTicket(ctx context.Context, t ticket.Ticket) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE tickets SET
			channel_name = ?,
			status = ?,
			previous_status = ?,
			claimed_by = ?,
			priority = ?,
			closed_at = ?,
			channel_deleted = ?
		WHERE id = ?
	`), t.ChannelName, string(t.Status), string(t.PreviousStatus), t.ClaimedBy, string(t.Priority),
		nullableUnix(t.ClosedAt), boolToInt(t.ChannelDeleted), t.ID)
	return err
}

func (s *Store) TicketByID(ctx context.Context, id string) (ticket.Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
	return scanOptionalTicket(row)
}

func (s *Store) TicketByChannel(ctx context.Context, channelID string) (ticket.Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE channel_id = ?`), channelID)
	return scanOptionalTicket(row)
}

func (s *Store) ActiveTicketFor(ctx context.Context, guildID, requesterID string) (ticket.Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+ticketColumns+` FROM tickets
		WHERE guild_id = ? AND requester_id = ? AND status IN (?, ?, ?)
		ORDER BY created_at DESC
		LIMIT 1
	`), guildID, requesterID, string(ticket.StatusOpen), string(ticket.StatusClaimed), string(ticket.StatusClosing))
	return scanOptionalTicket(row)
}

// ListTickets returns tickets in any of statuses. An empty guildID matches
// every guild.
func (s *Store) ListTickets(ctx context.Context, guildID string, statuses ...ticket.Status) ([]ticket.Ticket, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var (
		conditions []string
		args       []any
	)
	if guildID != "" {
		conditions = append(conditions, "guild_id = ?")
		args = append(args, guildID)
	}
	placeholders := make([]string, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args = append(args, string(status))
	}
	conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE `+strings.Join(conditions, " AND ")+` ORDER BY created_at`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func scanOptionalTicket(row rowScanner) (ticket.Ticket, bool, error) {
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ticket.Ticket{}, false, nil
		}
		return ticket.Ticket{}, false, err
	}
	return t, true, nil
}

func scanTicket(row rowScanner) (ticket.Ticket, error) {
	var (
		t                          ticket.Ticket
		status, previous, priority string
		created                    int64
		closed                     sql.NullInt64
		deleted                    int
	)
	err := row.Scan(&t.ID, &t.GuildID, &t.RequesterID, &t.RequesterName, &t.ChannelID, &t.ChannelName, &t.Category,
		&status, &previous, &t.ClaimedBy, &priority, &created, &closed, &deleted)
	if err != nil {
		return ticket.Ticket{}, err
	}
	t.Status = ticket.Status(status)
	t.PreviousStatus = ticket.Status(previous)
	t.Priority = ticket.Priority(priority)
	t.CreatedAt = time.Unix(created, 0)
	if closed.Valid {
		value := time.Unix(closed.Int64, 0)
		t.ClosedAt = &value
	}
	t.ChannelDeleted = deleted == 1
	return t, nil
}

func nullableUnix(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.Unix()
}
