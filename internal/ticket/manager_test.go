package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"guild-warden/internal/apperr"
	"guild-warden/internal/clock/clocktest"
	"guild-warden/internal/config"
	"guild-warden/internal/platform"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu        sync.Mutex
	tickets   map[string]Ticket
	failWrite bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tickets: make(map[string]Ticket)}
}

func (s *memoryStore) CreateTicket(ctx context.Context, t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("disk full")
	}
	s.tickets[t.ID] = t
	return nil
}

func (s *memoryStore) UpdateTicket(ctx context.Context, t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("disk full")
	}
	s.tickets[t.ID] = t
	return nil
}

func (s *memoryStore) TicketByChannel(ctx context.Context, channelID string) (Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.ChannelID == channelID {
			return t, true, nil
		}
	}
	return Ticket{}, false, nil
}

func (s *memoryStore) ActiveTicketFor(ctx context.Context, guildID, requesterID string) (Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.GuildID == guildID && t.RequesterID == requesterID && t.Active() {
			return t, true, nil
		}
	}
	return Ticket{}, false, nil
}

func (s *memoryStore) ListTickets(ctx context.Context, guildID string, statuses ...Status) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ticket
	for _, t := range s.tickets {
		if guildID != "" && t.GuildID != guildID {
			continue
		}
		for _, status := range statuses {
			if t.Status == status {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

type sentMessage struct {
	channelID string
	msg       platform.OutgoingMessage
}

type fakeGateway struct {
	mu          sync.Mutex
	nextID      int
	created     []platform.ChannelSpec
	deleted     []string
	renamed     map[string]string
	granted     []string
	revoked     []string
	sent        []sentMessage
	history     []platform.HistoryMessage
	failCreate  bool
	failHistory bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{renamed: make(map[string]string)}
}

func (g *fakeGateway) CreateChannel(ctx context.Context, spec platform.ChannelSpec) (platform.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreate {
		return platform.Channel{}, errors.New("missing permissions")
	}
	g.nextID++
	g.created = append(g.created, spec)
	return platform.Channel{ID: fmt.Sprintf("c%d", g.nextID), Name: spec.Name}, nil
}

func (g *fakeGateway) DeleteChannel(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, channelID)
	return nil
}

func (g *fakeGateway) SetChannelName(ctx context.Context, channelID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.renamed[channelID] = name
	return nil
}

func (g *fakeGateway) GrantChannelAccess(ctx context.Context, channelID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted = append(g.granted, userID)
	return nil
}

func (g *fakeGateway) RevokeChannelAccess(ctx context.Context, channelID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revoked = append(g.revoked, userID)
	return nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{channelID: channelID, msg: msg})
	return nil
}

func (g *fakeGateway) FetchHistory(ctx context.Context, channelID string, limit int) ([]platform.HistoryMessage, error) {
	if g.failHistory {
		return nil, errors.New("HTTP 500")
	}
	return g.history, nil
}

func (g *fakeGateway) sentTo(channelID string) []platform.OutgoingMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []platform.OutgoingMessage
	for _, s := range g.sent {
		if s.channelID == channelID {
			out = append(out, s.msg)
		}
	}
	return out
}

var (
	requester = Actor{ID: "u1", Name: "Alice"}
	staff     = Actor{ID: "s1", Name: "Mod", Staff: true}
	stranger  = Actor{ID: "x1", Name: "Eve"}
)

func newTestManager(t *testing.T) (*Manager, *memoryStore, *fakeGateway, *clocktest.Fake) {
	t.Helper()
	cfg := config.DefaultConfig().Tickets
	cfg.SupportRoleID = "support"
	cfg.TranscriptChannel = "transcripts"
	cfg.Categories[0].TranscriptChannel = "general-transcripts"
	store := newMemoryStore()
	gateway := newFakeGateway()
	clk := clocktest.New(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewManager(store, gateway, clk, cfg, zap.NewNop()), store, gateway, clk
}

func TestCreateRejectsDuplicate(t *testing.T) {
	manager, _, gateway, _ := newTestManager(t)
	ctx := context.Background()

	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, created.Status)
	require.Equal(t, "ticket-alice", created.ChannelName)
	require.Equal(t, []string{"u1"}, gateway.created[0].Members)
	require.Equal(t, []string{"support"}, gateway.created[0].Roles)

	_, err = manager.Create(ctx, "g1", requester, "bug")
	require.ErrorIs(t, err, apperr.ErrDuplicateTicket)
	require.Len(t, gateway.created, 1)

	_, err = manager.Create(ctx, "g2", requester, "bug")
	require.NoError(t, err)
}

func TestCreateUnknownCategory(t *testing.T) {
	manager, _, gateway, _ := newTestManager(t)
	_, err := manager.Create(context.Background(), "g1", requester, "lottery")
	require.ErrorIs(t, err, apperr.ErrUnknownCategory)
	require.Empty(t, gateway.created)
}

func TestCreateChannelFailurePersistsNothing(t *testing.T) {
	manager, store, gateway, _ := newTestManager(t)
	gateway.failCreate = true

	_, err := manager.Create(context.Background(), "g1", requester, "general")
	require.ErrorIs(t, err, apperr.ErrExternalCallFailed)
	require.Empty(t, store.tickets)
}

func TestCreateStoreFailureDeletesChannel(t *testing.T) {
	manager, store, gateway, _ := newTestManager(t)
	store.failWrite = true

	_, err := manager.Create(context.Background(), "g1", requester, "general")
	require.Error(t, err)
	require.Equal(t, []string{"c1"}, gateway.deleted)
}

func TestClaimRules(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)

	_, err = manager.Claim(ctx, created.ChannelID, requester)
	require.ErrorIs(t, err, apperr.ErrNotStaff)

	claimed, err := manager.Claim(ctx, created.ChannelID, staff)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, claimed.Status)
	require.Equal(t, "s1", claimed.ClaimedBy)

	_, err = manager.Claim(ctx, created.ChannelID, Actor{ID: "s2", Staff: true})
	require.ErrorIs(t, err, apperr.ErrAlreadyClaimed)

	_, err = manager.Claim(ctx, "random-channel", staff)
	require.ErrorIs(t, err, apperr.ErrNotATicketChannel)
}

func TestClaimAfterConfirmCloseFails(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)

	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	_, err = manager.ConfirmClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)

	_, err = manager.Claim(ctx, created.ChannelID, staff)
	require.ErrorIs(t, err, apperr.ErrTicketNotOpen)
}

func TestSetPriorityKeepsOneSegment(t *testing.T) {
	manager, _, gateway, _ := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)

	_, err = manager.SetPriority(ctx, created.ChannelID, PriorityMedium, requester)
	require.ErrorIs(t, err, apperr.ErrNotStaff)

	medium, err := manager.SetPriority(ctx, created.ChannelID, PriorityMedium, staff)
	require.NoError(t, err)
	require.Equal(t, "ticket-medium-alice", medium.ChannelName)

	high, err := manager.SetPriority(ctx, created.ChannelID, PriorityHigh, staff)
	require.NoError(t, err)
	require.Equal(t, "ticket-high-alice", high.ChannelName)
	require.Equal(t, 1, strings.Count(high.ChannelName, "-high-"))
	require.NotContains(t, high.ChannelName, "-medium-")
	require.Equal(t, "ticket-high-alice", gateway.renamed[created.ChannelID])
}

func TestWithPriority(t *testing.T) {
	cases := []struct {
		name     string
		priority Priority
		want     string
	}{
		{"ticket-bob", PriorityLow, "ticket-low-bob"},
		{"ticket-medium-bob", PriorityHigh, "ticket-high-bob"},
		{"ticket-high-bob", PriorityUnset, "ticket-bob"},
		{"ticket-low-bob", PriorityLow, "ticket-low-bob"},
	}
	for _, tc := range cases {
		if got := WithPriority(tc.name, tc.priority); got != tc.want {
			t.Fatalf("WithPriority(%q, %q) = %q, want %q", tc.name, tc.priority, got, tc.want)
		}
	}
}

func TestParticipants(t *testing.T) {
	manager, _, gateway, _ := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)

	_, err = manager.AddParticipant(ctx, created.ChannelID, "u9", stranger)
	require.ErrorIs(t, err, apperr.ErrNotStaff)

	_, err = manager.AddParticipant(ctx, created.ChannelID, "u9", staff)
	require.NoError(t, err)
	require.Equal(t, []string{"u9"}, gateway.granted)

	_, err = manager.RemoveParticipant(ctx, created.ChannelID, "u1", staff)
	require.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = manager.RemoveParticipant(ctx, created.ChannelID, "u9", staff)
	require.NoError(t, err)
	require.Equal(t, []string{"u9"}, gateway.revoked)
}

func TestCloseFlowDeletesChannelAfterDelay(t *testing.T) {
	manager, store, gateway, clk := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	gateway.history = []platform.HistoryMessage{
		{AuthorName: "Alice", Content: "hello", Timestamp: clk.Now().Add(-2 * time.Minute)},
		{AuthorName: "Mod", Content: "hi there", Timestamp: clk.Now().Add(-time.Minute), Attachments: []string{"https://cdn/x.png"}},
	}

	_, err = manager.ConfirmClose(ctx, created.ChannelID, requester)
	require.ErrorIs(t, err, apperr.ErrNotClosing)

	_, err = manager.RequestClose(ctx, created.ChannelID, stranger)
	require.ErrorIs(t, err, apperr.ErrPermissionDenied)

	closing, err := manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	require.Equal(t, StatusClosing, closing.Status)

	result, err := manager.ConfirmClose(ctx, created.ChannelID, staff)
	require.NoError(t, err)
	require.NoError(t, result.TranscriptErr)
	require.Equal(t, StatusClosed, result.Ticket.Status)
	require.NotNil(t, result.Ticket.ClosedAt)

	transcripts := gateway.sentTo("general-transcripts")
	require.Len(t, transcripts, 1)
	content := transcripts[0].File.Content
	require.Less(t, strings.Index(content, "Alice: hello"), strings.Index(content, "Mod: hi there"))
	require.Contains(t, content, "[attachments: https://cdn/x.png]")

	require.True(t, manager.Pending(created.ID))
	clk.Advance(4 * time.Second)
	require.Empty(t, gateway.deleted)
	clk.Advance(time.Second)
	require.Equal(t, []string{created.ChannelID}, gateway.deleted)
	require.False(t, manager.Pending(created.ID))
	require.True(t, store.tickets[created.ID].ChannelDeleted)

	_, err = manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
}

func TestTranscriptFailureDoesNotBlockClose(t *testing.T) {
	manager, _, gateway, _ := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "bug")
	require.NoError(t, err)
	gateway.failHistory = true

	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	result, err := manager.ConfirmClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	require.ErrorIs(t, result.TranscriptErr, apperr.ErrExternalCallFailed)
	require.Equal(t, StatusClosed, result.Ticket.Status)
}

func TestCancelCloseRestoresPreviousState(t *testing.T) {
	manager, _, gateway, clk := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	_, err = manager.Claim(ctx, created.ChannelID, staff)
	require.NoError(t, err)

	_, err = manager.CancelClose(ctx, created.ChannelID, requester)
	require.ErrorIs(t, err, apperr.ErrNotClosing)

	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	reopened, err := manager.CancelClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, reopened.Status)

	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	_, err = manager.ConfirmClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	clk.Advance(2 * time.Second)
	reopened, err = manager.CancelClose(ctx, created.ChannelID, staff)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, reopened.Status)
	require.Nil(t, reopened.ClosedAt)

	clk.Advance(time.Minute)
	require.Empty(t, gateway.deleted)
}

func TestCancelAfterDeletionFiredFails(t *testing.T) {
	manager, _, gateway, clk := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	_, err = manager.ConfirmClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)

	clk.Advance(5 * time.Second)
	require.Len(t, gateway.deleted, 1)
	_, err = manager.CancelClose(ctx, created.ChannelID, requester)
	require.ErrorIs(t, err, apperr.ErrNotATicketChannel)
}

func TestRestoreSchedulesPendingDeletions(t *testing.T) {
	manager, store, gateway, clk := newTestManager(t)
	closedAt := clk.Now().Add(-time.Hour)
	store.tickets["t1"] = Ticket{ID: "t1", GuildID: "g1", ChannelID: "c-old", Status: StatusClosed, ClosedAt: &closedAt}
	store.tickets["t2"] = Ticket{ID: "t2", GuildID: "g1", ChannelID: "c-gone", Status: StatusClosed, ChannelDeleted: true}
	store.tickets["t3"] = Ticket{ID: "t3", GuildID: "g1", ChannelID: "c-open", Status: StatusOpen}

	restored, err := manager.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, restored)

	clk.Advance(5 * time.Second)
	require.Equal(t, []string{"c-old"}, gateway.deleted)
}

func TestListOpen(t *testing.T) {
	manager, _, _, clk := newTestManager(t)
	ctx := context.Background()
	first, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = manager.Create(ctx, "g1", Actor{ID: "u2", Name: "Bob"}, "donation")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	closed, err := manager.Create(ctx, "g1", Actor{ID: "u3", Name: "Carol"}, "bug")
	require.NoError(t, err)
	_, err = manager.RequestClose(ctx, closed.ChannelID, staff)
	require.NoError(t, err)
	_, err = manager.ConfirmClose(ctx, closed.ChannelID, staff)
	require.NoError(t, err)

	open, err := manager.ListOpen(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.Equal(t, first.ID, open[0].ID)
}

func TestChannelName(t *testing.T) {
	require.Equal(t, "ticket-alice_99", ChannelName("Alice_99"))
	require.Equal(t, "ticket-highroller", ChannelName("high-roller"))
	require.Equal(t, "ticket-user", ChannelName("✨✨"))
}

// slowReadStore widens the window between reading a ticket and writing it back
// so unsynchronized transitions would overlap.
type slowReadStore struct {
	*memoryStore
	delay time.Duration
}

func (s *slowReadStore) TicketByChannel(ctx context.Context, channelID string) (Ticket, bool, error) {
	t, found, err := s.memoryStore.TicketByChannel(ctx, channelID)
	time.Sleep(s.delay)
	return t, found, err
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	manager, store, gateway, clk := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	manager = NewManager(&slowReadStore{memoryStore: store, delay: 5 * time.Millisecond}, gateway, clk, manager.cfg, zap.NewNop())

	const claimants = 8
	errs := make([]error, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = manager.Claim(ctx, created.ChannelID, Actor{ID: fmt.Sprintf("s%d", i), Staff: true})
		}(i)
	}
	wg.Wait()

	winner := ""
	for i, err := range errs {
		if err == nil {
			require.Empty(t, winner, "more than one claim succeeded")
			winner = fmt.Sprintf("s%d", i)
			continue
		}
		require.ErrorIs(t, err, apperr.ErrAlreadyClaimed)
	}
	require.NotEmpty(t, winner)
	require.Equal(t, winner, store.tickets[created.ID].ClaimedBy)
}

func TestConcurrentConfirmDeliversOneTranscript(t *testing.T) {
	manager, store, gateway, clk := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	manager = NewManager(&slowReadStore{memoryStore: store, delay: 5 * time.Millisecond}, gateway, clk, manager.cfg, zap.NewNop())

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = manager.ConfirmClose(ctx, created.ChannelID, requester)
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, apperr.ErrNotClosing)
			failed++
		}
	}
	require.Equal(t, 1, failed)
	require.Len(t, gateway.sentTo("general-transcripts"), 1)
}

func TestChannelRemovedClosesActiveTicket(t *testing.T) {
	manager, store, _, _ := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)

	expected, err := manager.ChannelRemoved(ctx, created.ChannelID)
	require.NoError(t, err)
	require.False(t, expected)

	stored := store.tickets[created.ID]
	require.Equal(t, StatusClosed, stored.Status)
	require.True(t, stored.ChannelDeleted)
	require.NotNil(t, stored.ClosedAt)

	_, err = manager.ByChannel(ctx, created.ChannelID)
	require.ErrorIs(t, err, apperr.ErrNotATicketChannel)

	again, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	require.NotEqual(t, created.ChannelID, again.ChannelID)
}

func TestChannelRemovedDuringGraceCancelsDeletion(t *testing.T) {
	manager, store, gateway, clk := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	_, err = manager.ConfirmClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	require.True(t, manager.Pending(created.ID))

	expected, err := manager.ChannelRemoved(ctx, created.ChannelID)
	require.NoError(t, err)
	require.True(t, expected)
	require.False(t, manager.Pending(created.ID))
	require.True(t, store.tickets[created.ID].ChannelDeleted)

	clk.Advance(time.Minute)
	require.Empty(t, gateway.deleted)
}

func TestChannelRemovedAfterScheduledDeletionIsExpected(t *testing.T) {
	manager, _, _, clk := newTestManager(t)
	ctx := context.Background()
	created, err := manager.Create(ctx, "g1", requester, "general")
	require.NoError(t, err)
	_, err = manager.RequestClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	_, err = manager.ConfirmClose(ctx, created.ChannelID, requester)
	require.NoError(t, err)
	clk.Advance(time.Minute)

	expected, err := manager.ChannelRemoved(ctx, created.ChannelID)
	require.NoError(t, err)
	require.True(t, expected)

	expected, err = manager.ChannelRemoved(ctx, "not-a-ticket")
	require.NoError(t, err)
	require.False(t, expected)
}
