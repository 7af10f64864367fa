package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const InfractionWarning = "warning"

type UserInfraction struct {
	GuildID    string
	UserID     string
	Category   string
	CountTotal int
	LastAt     time.Time
	LastAction string
	ResetAt    *time.Time
}

// GetInfraction returns the stored counter. A counter past its reset time is
// reported as zero.
func (s *Store) GetInfraction(ctx context.Context, guildID, userID, category string, now time.Time) (UserInfraction, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT guild_id, user_id, category, count_total, last_at, COALESCE(last_action, ''), reset_at
		FROM user_infractions
		WHERE guild_id = ? AND user_id = ? AND category = ?
	`), guildID, userID, category)

	var inf UserInfraction
	var lastAt int64
	var resetAt sql.NullInt64
	err := row.Scan(&inf.GuildID, &inf.UserID, &inf.Category, &inf.CountTotal, &lastAt, &inf.LastAction, &resetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserInfraction{GuildID: guildID, UserID: userID, Category: category}, nil
		}
		return UserInfraction{}, err
	}
	inf.LastAt = time.Unix(lastAt, 0)
	if resetAt.Valid {
		value := time.Unix(resetAt.Int64, 0)
		inf.ResetAt = &value
		if now.Unix() >= resetAt.Int64 {
			inf.CountTotal = 0
		}
	}
	return inf, nil
}

// IncrementInfraction bumps the counter and pushes its reset time forward by
// forgiveAfter. An expired counter restarts at 1.
func (s *Store) IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string, forgiveAfter time.Duration, now time.Time) (count int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var resetAt sql.NullInt64
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT count_total, reset_at
		FROM user_infractions
		WHERE guild_id = ? AND user_id = ? AND category = ?
	`), guildID, userID, category)
	scanErr := row.Scan(&count, &resetAt)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		return 0, scanErr
	}
	if scanErr == nil && resetAt.Valid && now.Unix() >= resetAt.Int64 {
		count = 0
	}

	count++
	var nextReset any
	if forgiveAfter > 0 {
		nextReset = now.Add(forgiveAfter).Unix()
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO user_infractions (guild_id, user_id, category, count_total, last_at, last_action, reset_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id, category) DO UPDATE SET
			count_total = excluded.count_total,
			last_at = excluded.last_at,
			last_action = excluded.last_action,
			reset_at = excluded.reset_at
	`), guildID, userID, category, count, now.Unix(), lastAction, nextReset)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetInfraction(ctx context.Context, guildID, userID, category string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM user_infractions WHERE guild_id = ? AND user_id = ? AND category = ?
	`), guildID, userID, category)
	return err
}
