package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"guild-warden/internal/storage"

	"github.com/stretchr/testify/require"
)

type staticSource struct {
	logs []storage.AuditLog
	err  error
}

func (s staticSource) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error) {
	return s.logs, s.err
}

func TestReportCounts(t *testing.T) {
	source := staticSource{logs: []storage.AuditLog{
		{Level: "WARN", Event: "spam_detected"},
		{Level: "WARN", Event: "spam_detected"},
		{Level: "CRIT", Event: "raid_detected"},
		{Level: "INFO", Event: "ticket_created"},
		{Level: "WARN", Event: "action_timeout"},
	}}
	report, err := New(source).Report(context.Background(), "g1", time.Unix(0, 0))
	require.NoError(t, err)
	require.Equal(t, 5, report.Total)
	require.Equal(t, 3, report.ByLevel["WARN"])
	require.Equal(t, 1, report.ByLevel["CRIT"])

	top := report.TopEvents(2)
	require.Equal(t, []EventCount{{Event: "spam_detected", Count: 2}, {Event: "action_timeout", Count: 1}}, top)
}

func TestReportError(t *testing.T) {
	_, err := New(staticSource{err: errors.New("db closed")}).Report(context.Background(), "g1", time.Now())
	require.Error(t, err)
}
