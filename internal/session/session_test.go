package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/events"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/push"
	"github.com/nhle/ticketdesk/internal/session"
	"github.com/nhle/ticketdesk/internal/store"
	"github.com/nhle/ticketdesk/tests/testutil"
)

const (
	email    = "agent@example.com"
	password = "hunter2"
)

var agent = model.User{ID: "7", Name: "Agent", DepartmentID: "3"}

type fixture struct {
	helpdesk *testutil.Helpdesk
	creds    *credential.Store
	cache    *store.SQLiteStore
	cfg      session.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	h := testutil.NewHelpdesk(t)
	h.AddUser(email, password, agent)
	h.SetNotifications([]model.Notification{
		{ID: "n1", Data: model.NotificationData{TicketID: "t1"}},
	})

	return &fixture{
		helpdesk: h,
		creds:    testutil.NewCredentialStore(t),
		cache:    testutil.NewTestStore(t),
		cfg: session.Config{
			Endpoints:      model.Endpoints{API: h.APIURL(), Push: h.PushURL()},
			ReconnectDelay: 20 * time.Millisecond,
			PollInterval:   time.Hour,
		},
	}
}

func (f *fixture) session(t *testing.T, opts ...session.Option) *session.Session {
	t.Helper()
	opts = append([]session.Option{session.WithCache(f.cache)}, opts...)
	s := session.New(f.cfg, f.creds, opts...)
	t.Cleanup(func() { _ = s.Logout(context.Background()) })
	return s
}

func waitConnected(t *testing.T, s *session.Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Push().Status() == push.Connected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_LoginStartsEverything(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	user, err := s.Login(context.Background(), email, password)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, user.ID)

	current, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, agent.ID, current.ID)

	waitConnected(t, s)
	hs := f.helpdesk.Handshakes()
	require.NotEmpty(t, hs)
	assert.Equal(t, "7", hs[0].Get("userId"))
	assert.Equal(t, "3", hs[0].Get("departmentId"))

	assert.Equal(t, 1, s.Notifications().UnreadCount())
	assert.True(t, s.Notifications().HasUnreadForTicket("t1"))
	assert.True(t, s.Poller().Running())

	cached, ok, err := f.cache.LoadUser(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, agent.ID, cached.ID)
}

func TestSession_LoginInvalidPassword(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	_, err := s.Login(context.Background(), email, "wrong")
	require.ErrorIs(t, err, api.ErrInvalidCredentials)

	_, ok := s.User()
	assert.False(t, ok)
	assert.Equal(t, push.Disconnected, s.Push().Status())
}

func TestSession_NotificationNewRefreshesStore(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	_, err := s.Login(context.Background(), email, password)
	require.NoError(t, err)
	waitConnected(t, s)

	f.helpdesk.SetNotifications([]model.Notification{
		{ID: "n2", Data: model.NotificationData{TicketID: "t2"}},
		{ID: "n1", Data: model.NotificationData{TicketID: "t1"}},
	})
	f.helpdesk.Push(events.NotificationNew, map[string]any{"id": "n2"})

	require.Eventually(t, func() bool {
		return s.Notifications().UnreadCount() == 2 && s.Notifications().HasUnreadForTicket("t2")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ForwardsTicketEvents(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	got := make(chan json.RawMessage, 1)
	s.Events().Subscribe(events.TicketUpdated, func(payload json.RawMessage) {
		got <- payload
	})

	_, err := s.Login(context.Background(), email, password)
	require.NoError(t, err)
	waitConnected(t, s)

	f.helpdesk.Push(events.TicketUpdated, map[string]any{"id": "t1", "status": "open"})

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"id":"t1","status":"open"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("ticket:updated was not forwarded")
	}
}

func TestSession_LogoutTearsDown(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()
	_, err := s.Login(ctx, email, password)
	require.NoError(t, err)
	waitConnected(t, s)

	require.NoError(t, s.Logout(ctx))

	_, ok := s.User()
	assert.False(t, ok)
	_, ok = f.creds.Get()
	assert.False(t, ok)
	assert.Equal(t, push.Disconnected, s.Push().Status())
	assert.False(t, s.Poller().Running())
	assert.Zero(t, s.Notifications().UnreadCount())
	assert.Empty(t, s.Notifications().State().Items)

	require.Eventually(t, func() bool {
		return f.helpdesk.PushClients() == 0
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := f.cache.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	_, ok, err = f.cache.LoadUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_ResumeAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := session.New(f.cfg, f.creds, session.WithCache(f.cache))
	_, err := first.Login(ctx, email, password)
	require.NoError(t, err)
	waitConnected(t, first)
	first.Close()
	_, ok := f.creds.Get()
	require.True(t, ok)

	second := f.session(t)
	resumed, err := second.Resume(ctx)
	require.NoError(t, err)
	require.True(t, resumed)

	user, ok := second.User()
	require.True(t, ok)
	assert.Equal(t, agent.ID, user.ID)
	assert.Equal(t, 1, second.Notifications().UnreadCount())
	waitConnected(t, second)
}

func TestSession_ResumeFromSeededCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.SeedStore(t, f.cache, model.NotificationSnapshot{
		Items: []model.Notification{
			{ID: "n8", Data: model.NotificationData{TicketID: "t8"}},
			{ID: "n9", Data: model.NotificationData{TicketID: "t9"}},
		},
		UnreadCount: 2,
	}, agent)
	access, refresh := f.helpdesk.IssueTokens(email)
	require.NoError(t, f.creds.Set(credential.Pair{AccessToken: access, RefreshToken: refresh}))

	s := f.session(t)
	resumed, err := s.Resume(ctx)
	require.NoError(t, err)
	require.True(t, resumed)

	user, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, agent.Name, user.Name)

	// The server's page replaces what the previous run cached.
	require.Eventually(t, func() bool {
		st := s.Notifications()
		return st.UnreadCount() == 1 && st.HasUnreadForTicket("t1") && !st.HasUnreadForTicket("t9")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.helpdesk.Requests("POST /api/auth/login"))
}

func TestSession_ResumeWithoutSession(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	resumed, err := s.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, push.Disconnected, s.Push().Status())
}

func TestSession_ExpiryRequiresLoginOnce(t *testing.T) {
	f := newFixture(t)
	var prompts atomic.Int32
	s := f.session(t, session.OnLoginRequired(func() { prompts.Add(1) }))
	ctx := context.Background()
	_, err := s.Login(ctx, email, password)
	require.NoError(t, err)
	waitConnected(t, s)

	f.helpdesk.SetRefreshStatus(http.StatusUnauthorized)
	f.helpdesk.ExpireAccessTokens()

	// Several callers hit the expired token at once.
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- s.Notifications().FetchNotifications(ctx) }()
	}
	expired := 0
	for i := 0; i < 3; i++ {
		err := <-errs
		// A caller that starts after the credentials are gone sees a plain
		// 401 instead.
		require.True(t, api.IsSessionExpired(err) || errors.Is(err, api.ErrUnauthorized), err)
		if api.IsSessionExpired(err) {
			expired++
		}
	}
	assert.GreaterOrEqual(t, expired, 1)

	require.Eventually(t, func() bool {
		_, active := s.User()
		return !active && prompts.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, push.Disconnected, s.Push().Status())
	assert.False(t, s.Poller().Running())
	_, ok := f.creds.Get()
	assert.False(t, ok)

	// Let any straggling teardown goroutine settle, then check the prompt
	// fired exactly once.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), prompts.Load())
}

func TestSession_ConfigFrom(t *testing.T) {
	cfg := &model.AppConfig{Host: "helpdesk.internal"}
	cfg.API.TimeoutSec = 5
	cfg.Push.ReconnectDelayMS = 250
	cfg.Push.Transports = []string{"polling"}
	cfg.Sync.PollIntervalSec = 30

	got, err := session.ConfigFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, "http://helpdesk.internal:3000/api", got.Endpoints.API)
	assert.Equal(t, "http://helpdesk.internal:3000", got.Endpoints.Push)
	assert.Equal(t, 5*time.Second, got.Timeout)
	assert.Equal(t, 250*time.Millisecond, got.ReconnectDelay)
	assert.Equal(t, 30*time.Second, got.PollInterval)
	require.Len(t, got.Transports, 1)
	assert.Equal(t, "polling", got.Transports[0].Name())

	cfg.Push.Transports = []string{"carrier-pigeon"}
	_, err = session.ConfigFrom(cfg)
	assert.Error(t, err)
}
