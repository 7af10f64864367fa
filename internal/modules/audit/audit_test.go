package audit

import (
	"context"
	"errors"
	"testing"

	"guild-warden/internal/storage"

	"go.uber.org/zap"
)

type memoryStore struct {
	entries []storage.AuditLog
	err     error
}

func (m *memoryStore) AddAuditLog(ctx context.Context, log storage.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, log)
	return nil
}

func TestLogPersistsAndNotifies(t *testing.T) {
	store := &memoryStore{}
	logger := NewLogger(store, zap.NewNop())
	var notified []storage.AuditLog
	logger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
		notified = append(notified, entry)
	})

	logger.Log(context.Background(), LevelWarn, "g1", "u1", "anti_spam", "burst")
	if len(store.entries) != 1 || store.entries[0].Event != "anti_spam" {
		t.Fatalf("expected persisted entry, got %+v", store.entries)
	}
	if len(notified) != 1 || notified[0].Level != LevelWarn {
		t.Fatalf("expected notification, got %+v", notified)
	}
}

func TestLogStillNotifiesWhenStoreFails(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	logger := NewLogger(store, zap.NewNop())
	notified := 0
	logger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) { notified++ })

	logger.Log(context.Background(), LevelCrit, "g1", "", "anti_nuke", "x")
	if notified != 1 {
		t.Fatalf("expected operator notification despite store failure")
	}
}
