package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notifications"
	"github.com/nhle/ticketdesk/tests/testutil"
)

func note(id, ticket string, read bool) model.Notification {
	return model.Notification{
		ID:     model.ID(id),
		Data:   model.NotificationData{TicketID: model.ID(ticket)},
		IsRead: read,
	}
}

func newStore(t *testing.T, items ...model.Notification) (*notifications.Store, *testutil.Helpdesk) {
	t.Helper()

	h := testutil.NewHelpdesk(t)
	h.AddUser("agent@example.com", "pw", model.User{ID: "u1"})
	h.SetNotifications(items)

	creds := testutil.NewCredentialStore(t)
	c := api.NewClient(h.APIURL(), creds)
	_, err := c.Login(context.Background(), "agent@example.com", "pw")
	require.NoError(t, err)

	return notifications.New(c), h
}

// assertInvariant checks that the unread ticket set is exactly the set of
// tickets owning an unread item, and that the count matches the items.
func assertInvariant(t *testing.T, s *notifications.Store) {
	t.Helper()
	st := s.State()

	want := map[model.ID]bool{}
	unread := 0
	for _, n := range st.Items {
		if !n.IsRead {
			unread++
			if n.Data.TicketID != "" {
				want[n.Data.TicketID] = true
			}
		}
	}

	got := map[model.ID]bool{}
	for _, id := range st.UnreadTickets {
		got[id] = true
	}
	assert.Equal(t, want, got, "unread ticket set")
	assert.Equal(t, unread, st.UnreadCount, "unread count")
	assert.GreaterOrEqual(t, st.UnreadCount, 0)
}

func TestStore_FetchThenMarkTicketRead(t *testing.T) {
	s, _ := newStore(t, note("n1", "t1", false))
	ctx := context.Background()

	require.NoError(t, s.FetchNotifications(ctx))
	assert.Equal(t, 1, s.UnreadCount())

	require.NoError(t, s.MarkTicketRead(ctx, "t1"))

	st := s.State()
	require.Len(t, st.Items, 1)
	assert.True(t, st.Items[0].IsRead)
	assert.Equal(t, 0, st.UnreadCount)
	assert.False(t, s.HasUnreadForTicket("t1"))
}

func TestStore_Refresh(t *testing.T) {
	s, _ := newStore(t,
		note("n3", "t2", false),
		note("n2", "t1", true),
		note("n1", "t1", false),
	)

	require.NoError(t, s.Refresh(context.Background()))

	st := s.State()
	assert.Equal(t, []model.ID{"n3", "n2", "n1"}, []model.ID{st.Items[0].ID, st.Items[1].ID, st.Items[2].ID}, "server order is kept")
	assert.Equal(t, 2, st.UnreadCount)
	assert.ElementsMatch(t, []model.ID{"t1", "t2"}, st.UnreadTickets)
	assert.True(t, st.HasUnreadForTicket("t2"))
	assertInvariant(t, s)
}

func TestStore_MarkAsReadRefetchesTicketsEventually(t *testing.T) {
	s, h := newStore(t, note("n1", "t1", false), note("n2", "t2", false))
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))
	before := h.Requests("GET /api/notifications/unread-tickets")

	require.NoError(t, s.MarkAsRead(ctx, "n1"))
	assert.Equal(t, 1, s.UnreadCount())

	s.Wait()
	assert.Equal(t, before+1, h.Requests("GET /api/notifications/unread-tickets"))
	assert.False(t, s.HasUnreadForTicket("t1"))
	assert.True(t, s.HasUnreadForTicket("t2"))
	assertInvariant(t, s)
}

func TestStore_MarkAsUnread(t *testing.T) {
	s, _ := newStore(t, note("n1", "t1", true))
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))
	require.Equal(t, 0, s.UnreadCount())

	require.NoError(t, s.MarkAsUnread(ctx, "n1"))
	assert.Equal(t, 1, s.UnreadCount())

	s.Wait()
	assert.True(t, s.HasUnreadForTicket("t1"))
	assertInvariant(t, s)
}

func TestStore_MarkAsReadAlreadyRead(t *testing.T) {
	s, _ := newStore(t, note("n1", "t1", true), note("n2", "t1", false))
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	require.NoError(t, s.MarkAsRead(ctx, "n1"))
	assert.Equal(t, 1, s.UnreadCount(), "no transition, no count change")
	s.Wait()
}

func TestStore_MarkAllAsRead(t *testing.T) {
	s, h := newStore(t, note("n1", "t1", false), note("n2", "t2", false), note("n3", "", false))
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))
	before := h.Requests("GET /api/notifications/unread-tickets")

	require.NoError(t, s.MarkAllAsRead(ctx))

	st := s.State()
	for _, n := range st.Items {
		assert.True(t, n.IsRead)
	}
	assert.Equal(t, 0, st.UnreadCount)
	assert.Empty(t, st.UnreadTickets)

	s.Wait()
	assert.Equal(t, before, h.Requests("GET /api/notifications/unread-tickets"), "no refetch needed")
}

func TestStore_MarkTicketUnread(t *testing.T) {
	s, _ := newStore(t,
		note("n1", "t1", true),
		note("n2", "t1", true),
		note("n3", "t2", false),
	)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	require.NoError(t, s.MarkTicketUnread(ctx, "t1"))

	st := s.State()
	assert.Equal(t, 3, st.UnreadCount, "count is recomputed from items")
	assert.True(t, st.HasUnreadForTicket("t1"))
	assertInvariant(t, s)
}

func TestStore_FailedMutationLeavesStateUntouched(t *testing.T) {
	s, h := newStore(t, note("n1", "t1", false), note("n2", "t2", false))
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))
	before := s.State()

	ops := []struct {
		key string
		run func() error
	}{
		{"PATCH /api/notifications/n1/read", func() error { return s.MarkAsRead(ctx, "n1") }},
		{"PATCH /api/notifications/n1/unread", func() error { return s.MarkAsUnread(ctx, "n1") }},
		{"POST /api/notifications/read-all", func() error { return s.MarkAllAsRead(ctx) }},
		{"POST /api/notifications/ticket/t1/read", func() error { return s.MarkTicketRead(ctx, "t1") }},
		{"POST /api/notifications/ticket/t1/unread", func() error { return s.MarkTicketUnread(ctx, "t1") }},
		{"GET /api/notifications", func() error { return s.FetchNotifications(ctx) }},
		{"GET /api/notifications/unread-tickets", func() error { return s.FetchUnreadTicketIDs(ctx) }},
	}

	for _, op := range ops {
		t.Run(op.key, func(t *testing.T) {
			h.FailNext(op.key, http.StatusInternalServerError)

			err := op.run()
			var reqErr *api.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, http.StatusInternalServerError, reqErr.Status)

			s.Wait()
			assert.Equal(t, before, s.State())
		})
	}
}

func TestStore_OnChange(t *testing.T) {
	s, _ := newStore(t, note("n1", "t1", false))

	var mu sync.Mutex
	var counts []int
	s.OnChange(func(st notifications.State) {
		mu.Lock()
		counts = append(counts, st.UnreadCount)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx))
	require.NoError(t, s.MarkTicketRead(ctx, "t1"))
	s.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0, 0}, counts)
}

func TestStore_InvariantUnderRandomOperations(t *testing.T) {
	var items []model.Notification
	tickets := []string{"t1", "t2", "t3"}
	for i := 0; i < 9; i++ {
		items = append(items, note(string(rune('a'+i)), tickets[i%3], i%2 == 0))
	}
	s, _ := newStore(t, items...)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))
	assertInvariant(t, s)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 60; i++ {
		id := model.ID(string(rune('a' + rng.Intn(9))))
		ticket := model.ID(tickets[rng.Intn(3)])

		switch rng.Intn(5) {
		case 0:
			require.NoError(t, s.MarkAsRead(ctx, id))
		case 1:
			require.NoError(t, s.MarkAsUnread(ctx, id))
		case 2:
			require.NoError(t, s.MarkTicketRead(ctx, ticket))
		case 3:
			require.NoError(t, s.MarkTicketUnread(ctx, ticket))
		case 4:
			require.NoError(t, s.FetchUnreadTicketIDs(ctx))
		}

		// Single-notification toggles converge once their refetch lands.
		s.Wait()
		assertInvariant(t, s)
	}
}

// mockRequester is a testify mock of the REST client.
type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Do(ctx context.Context, method, path string, body, result any) error {
	args := m.Called(method, path)
	if raw, ok := args.Get(0).(string); ok && result != nil {
		if err := json.Unmarshal([]byte(raw), result); err != nil {
			return err
		}
	}
	return args.Error(1)
}

func TestStore_MarkAsReadOutsidePage(t *testing.T) {
	m := &mockRequester{}
	m.On("Do", http.MethodGet, "/notifications").
		Return(`{"data":[{"id":"n1","data":{"ticketId":"t1"},"isRead":false}],"unreadCount":3}`, nil)
	m.On("Do", http.MethodPatch, "/notifications/n9/read").Return(nil, nil)
	m.On("Do", http.MethodGet, "/notifications/unread-tickets").Return(`["t1","t9"]`, nil)

	s := notifications.New(m)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx))
	require.Equal(t, 3, s.UnreadCount(), "server count covers notifications not in the page")

	require.NoError(t, s.MarkAsRead(ctx, "n9"))
	assert.Equal(t, 2, s.UnreadCount())

	s.Wait()
	assert.True(t, s.HasUnreadForTicket("t9"))
	m.AssertExpectations(t)
}

func TestStore_CountFlooredAtZero(t *testing.T) {
	m := &mockRequester{}
	m.On("Do", http.MethodPatch, "/notifications/n1/read").Return(nil, nil)
	m.On("Do", http.MethodGet, "/notifications/unread-tickets").Return(`[]`, nil)

	s := notifications.New(m)
	require.NoError(t, s.MarkAsRead(context.Background(), "n1"))
	assert.Equal(t, 0, s.UnreadCount())
	s.Wait()
}

func TestStore_BackgroundRefetchFailureIsContained(t *testing.T) {
	m := &mockRequester{}
	m.On("Do", http.MethodPatch, "/notifications/n1/unread").Return(nil, nil)
	m.On("Do", http.MethodGet, "/notifications/unread-tickets").Return(nil, errors.New("network down"))

	s := notifications.New(m)
	require.NoError(t, s.MarkAsUnread(context.Background(), "n1"))
	s.Wait()

	assert.Equal(t, 1, s.UnreadCount())
	assert.Empty(t, s.State().UnreadTickets)
}

// blockingRequester holds every call until release is closed.
type blockingRequester struct {
	started chan struct{}
	release chan struct{}
	body    string
}

func (b *blockingRequester) Do(ctx context.Context, method, path string, body, result any) error {
	b.started <- struct{}{}
	<-b.release
	return json.Unmarshal([]byte(b.body), result)
}

func TestStore_ResetDiscardsInFlightFetch(t *testing.T) {
	b := &blockingRequester{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		body:    `{"data":[{"id":"n1","data":{"ticketId":"t1"},"isRead":false}],"unreadCount":1}`,
	}
	s := notifications.New(b)

	done := make(chan error, 1)
	go func() { done <- s.FetchNotifications(context.Background()) }()

	<-b.started
	s.Reset()
	close(b.release)

	require.NoError(t, <-done)
	assert.Empty(t, s.State().Items, "results from before logout are dropped")
	assert.Equal(t, 0, s.UnreadCount())
}

// memoryCache is an in-memory notifications.Cache.
type memoryCache struct {
	mu      sync.Mutex
	snap    model.NotificationSnapshot
	tickets []model.ID
	saves   int
}

func (c *memoryCache) SaveSnapshot(_ context.Context, snap model.NotificationSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
	c.saves++
	return nil
}

func (c *memoryCache) LoadSnapshot(context.Context) (model.NotificationSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, nil
}

func (c *memoryCache) SaveUnreadTickets(_ context.Context, ids []model.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickets = ids
	return nil
}

func (c *memoryCache) LoadUnreadTickets(context.Context) ([]model.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickets, nil
}

func TestStore_CacheWriteThroughAndRestore(t *testing.T) {
	h := testutil.NewHelpdesk(t)
	h.AddUser("agent@example.com", "pw", model.User{ID: "u1"})
	h.SetNotifications([]model.Notification{note("n1", "t1", false), note("n2", "t2", true)})

	c := api.NewClient(h.APIURL(), testutil.NewCredentialStore(t))
	_, err := c.Login(context.Background(), "agent@example.com", "pw")
	require.NoError(t, err)

	cache := &memoryCache{}
	s := notifications.New(c, notifications.WithCache(cache))
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 2, cache.saves)

	restored := notifications.New(nil, notifications.WithCache(cache))
	require.NoError(t, restored.Restore(context.Background()))
	assert.Equal(t, s.State(), restored.State())
}
