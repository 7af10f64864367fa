package antiraid

import (
	"sort"
	"sync"
	"time"
)

type SuspicionRecord struct {
	SubjectID string
	GuildID   string
	Reason    string
	FirstSeen time.Time
	ExpiresAt time.Time
}

// SuspicionSet keeps flagged accounts per guild until they expire or are
// cleared. Expired records are invisible to lookups even before a sweep.
type SuspicionSet struct {
	mu      sync.Mutex
	records map[string]map[string]SuspicionRecord
}

func NewSuspicionSet() *SuspicionSet {
	return &SuspicionSet{records: make(map[string]map[string]SuspicionRecord)}
}

// Flag stores a record; re-flagging keeps FirstSeen and extends the expiry.
func (s *SuspicionSet) Flag(guildID, subjectID, reason string, now time.Time, retention time.Duration) SuspicionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	guild := s.records[guildID]
	if guild == nil {
		guild = make(map[string]SuspicionRecord)
		s.records[guildID] = guild
	}
	record, ok := guild[subjectID]
	if !ok || !now.Before(record.ExpiresAt) {
		record = SuspicionRecord{SubjectID: subjectID, GuildID: guildID, FirstSeen: now}
	}
	record.Reason = reason
	record.ExpiresAt = now.Add(retention)
	guild[subjectID] = record
	return record
}

func (s *SuspicionSet) Get(guildID, subjectID string, now time.Time) (SuspicionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[guildID][subjectID]
	if !ok || !now.Before(record.ExpiresAt) {
		return SuspicionRecord{}, false
	}
	return record, true
}

// Flagged lists live records for a guild, oldest first.
func (s *SuspicionSet) Flagged(guildID string, now time.Time) []SuspicionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SuspicionRecord
	for _, record := range s.records[guildID] {
		if now.Before(record.ExpiresAt) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

func (s *SuspicionSet) Clear(guildID, subjectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild := s.records[guildID]
	if _, ok := guild[subjectID]; !ok {
		return false
	}
	delete(guild, subjectID)
	if len(guild) == 0 {
		delete(s.records, guildID)
	}
	return true
}

func (s *SuspicionSet) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for guildID, guild := range s.records {
		for subjectID, record := range guild {
			if !now.Before(record.ExpiresAt) {
				delete(guild, subjectID)
				removed++
			}
		}
		if len(guild) == 0 {
			delete(s.records, guildID)
		}
	}
	return removed
}
