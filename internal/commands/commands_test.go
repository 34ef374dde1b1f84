package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/nhle/ticketdesk/internal/metrics"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/tests/testutil"
)

const (
	email    = "agent@example.com"
	password = "hunter2"
)

type harness struct {
	helpdesk *testutil.Helpdesk
	flags    *Flags
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := testutil.NewHelpdesk(t)
	h.AddUser(email, password, model.User{ID: "7", Name: "Agent", Email: email, DepartmentID: "3"})
	h.SetNotifications([]model.Notification{
		{ID: "n1", Data: model.NotificationData{TicketID: "t1"}},
		{ID: "n2", Data: model.NotificationData{TicketID: "t2"}, IsRead: true},
	})

	dir := t.TempDir()
	cfg := &model.AppConfig{}
	cfg.API.BaseURL = h.APIURL()
	cfg.API.TimeoutSec = 5
	cfg.Push.URL = h.PushURL()
	cfg.Push.ReconnectDelayMS = 20
	cfg.Push.Transports = []string{"websocket"}
	cfg.Sync.PollIntervalSec = 3600
	cfg.Storage.CachePath = filepath.Join(dir, "cache.db")

	return &harness{
		helpdesk: h,
		flags: &Flags{
			Config:  cfg,
			Logger:  zerolog.Nop(),
			Keyring: keyring.NewArrayKeyring(nil),
		},
	}
}

// run executes one CLI invocation and returns its stdout.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := &cli.Command{Name: "ticketdesk", Writer: &out, ErrWriter: &out}
	app = NewLoginCmd(h.flags).Register(app)
	app = NewLogoutCmd(h.flags).Register(app)
	app = NewNotificationsCmd(h.flags).Register(app)
	app = NewWatchCmd(h.flags).Register(app)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := app.Run(ctx, append([]string{"ticketdesk"}, args...))
	return out.String(), err
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	out, err := h.run(t, "login", "--email", email, "--password", password)
	require.NoError(t, err)
	require.Contains(t, out, "Signed in as Agent")
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "login", "--email", email, "--password", password)
	require.NoError(t, err)
	assert.Equal(t, "Signed in as Agent (agent@example.com), 1 unread\n", out)

	_, err = h.run(t, "login", "--email", email, "--password", "wrong")
	assert.Error(t, err)
}

func TestNotifications(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	t.Run("table", func(t *testing.T) {
		out, err := h.run(t, "notifications")
		require.NoError(t, err)
		assert.Contains(t, out, "1 unread, 1 tickets with unread activity")
		assert.Contains(t, out, "n1")
		assert.Contains(t, out, "#t1")
		assert.Contains(t, out, "n2")
	})

	t.Run("unread only", func(t *testing.T) {
		out, err := h.run(t, "notifications", "--unread")
		require.NoError(t, err)
		assert.Contains(t, out, "n1")
		assert.NotContains(t, out, "n2")
	})

	t.Run("json", func(t *testing.T) {
		out, err := h.run(t, "ls", "--json")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		var n model.Notification
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &n))
		assert.Equal(t, model.ID("n1"), n.ID)
		assert.Equal(t, model.ID("t1"), n.Data.TicketID)
	})
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	out, err := h.run(t, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Signed out\n", out)

	_, err = h.run(t, "notifications")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestNotificationsRequiresLogin(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "notifications")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestMetricsMux(t *testing.T) {
	m := metrics.New()
	m.RecordReconnect()
	h := metricsMux(m.Handler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ticketdesk_push_reconnects_total 1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
