package push_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketdesk/internal/events"
	"github.com/nhle/ticketdesk/internal/events/eventstest"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/push"
	"github.com/nhle/ticketdesk/tests/testutil"
)

func newHelpdeskManager(t *testing.T, h *testutil.Helpdesk, reg *eventstest.Registry) *push.Manager {
	t.Helper()
	h.AddUser("agent@example.com", "pw", model.User{ID: "u1", DepartmentID: "d1"})
	access, _ := h.IssueTokens("agent@example.com")

	m := push.NewManager(h.PushURL(), reg,
		push.WithReconnectDelay(20*time.Millisecond),
		push.WithTokenSource(func() string { return access }),
	)
	t.Cleanup(m.Stop)
	return m
}

func TestWebsocket_EndToEnd(t *testing.T) {
	h := testutil.NewHelpdesk(t)
	reg := eventstest.New(t)
	m := newHelpdeskManager(t, h, reg)

	m.Start(push.Identity{UserID: "u1", DepartmentID: "d1"})
	waitStatus(t, m, push.Connected)
	assert.Equal(t, "websocket", m.Transport())
	require.Eventually(t, func() bool { return h.PushClients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hs := h.Handshakes()
	require.Len(t, hs, 1)
	assert.Equal(t, "u1", hs[0].Get("userId"))
	assert.Equal(t, "d1", hs[0].Get("departmentId"))

	h.Push(events.TicketAssigned, map[string]string{"ticketId": "t9"})
	reg.AssertDispatched(t, events.TicketAssigned)
	assert.JSONEq(t, `{"ticketId":"t9"}`, string(reg.Events()[0].Payload))

	m.JoinRoom("t9")
	require.Eventually(t, func() bool { return len(h.Received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	got := h.Received()[0]
	assert.Equal(t, events.JoinTicket, got.Event)
	assert.JSONEq(t, `"t9"`, string(got.Data))
}

func TestWebsocket_ReconnectAfterServerDrop(t *testing.T) {
	h := testutil.NewHelpdesk(t)
	reg := eventstest.New(t)
	m := newHelpdeskManager(t, h, reg)

	m.Start(push.Identity{UserID: "u1", DepartmentID: "d1"})
	require.Eventually(t, func() bool { return h.PushClients() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.DisconnectPush()
	require.Eventually(t, func() bool {
		return len(h.Handshakes()) == 2 && h.PushClients() == 1
	}, 3*time.Second, 5*time.Millisecond)
	waitStatus(t, m, push.Connected)

	h.Push(events.TicketNewMessage, map[string]string{"body": "hello again"})
	require.True(t, reg.WaitFor(events.TicketNewMessage, 1, 2*time.Second))
}

func TestPolling_FallbackEndToEnd(t *testing.T) {
	h := testutil.NewHelpdesk(t)
	h.SetWebsocketEnabled(false)
	reg := eventstest.New(t)
	m := newHelpdeskManager(t, h, reg)

	m.Start(push.Identity{UserID: "u1", DepartmentID: "d1"})
	waitStatus(t, m, push.Connected)
	assert.Equal(t, "polling", m.Transport())

	h.Push(events.NotificationNew, map[string]string{"id": "n1"})
	h.Push(events.TicketsRefresh, nil)
	reg.AssertDispatched(t, events.NotificationNew)
	reg.AssertDispatched(t, events.TicketsRefresh)

	m.Typing("t1", false)
	require.Eventually(t, func() bool { return len(h.Received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, events.Typing, h.Received()[0].Event)

	h.DisconnectPush()
	require.Eventually(t, func() bool { return len(h.Handshakes()) == 2 }, 3*time.Second, 5*time.Millisecond)
	waitStatus(t, m, push.Connected)
}

func TestManager_StopClosesServerSide(t *testing.T) {
	h := testutil.NewHelpdesk(t)
	reg := eventstest.New(t)
	m := newHelpdeskManager(t, h, reg)

	m.Start(push.Identity{UserID: "u1"})
	require.Eventually(t, func() bool { return h.PushClients() == 1 }, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	require.Eventually(t, func() bool { return h.PushClients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
