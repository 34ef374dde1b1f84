package app

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/ui/command"
	"github.com/nhle/ticketdesk/internal/ui/inbox"
)

// requestTimeout bounds a single user-triggered call.
const requestTimeout = 30 * time.Second

type loginResultMsg struct {
	user *model.User
	err  error
}

type actionResultMsg struct {
	action inbox.Action
	err    error
}

type loggedOutMsg struct {
	err error
}

func (m Model) signIn(email, password string) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		user, err := s.Login(ctx, email, password)
		return loginResultMsg{user: user, err: err}
	}
}

// apply runs a read-state change against the notification store.
func (m Model) apply(msg inbox.ActionMsg) tea.Cmd {
	store := m.session.Notifications()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		var err error
		switch msg.Action {
		case inbox.ActionMarkRead:
			err = store.MarkAsRead(ctx, msg.NotificationID)
		case inbox.ActionMarkUnread:
			err = store.MarkAsUnread(ctx, msg.NotificationID)
		case inbox.ActionMarkTicketRead:
			err = store.MarkTicketRead(ctx, msg.TicketID)
		case inbox.ActionMarkTicketUnread:
			err = store.MarkTicketUnread(ctx, msg.TicketID)
		case inbox.ActionMarkAllRead:
			err = store.MarkAllAsRead(ctx)
		}
		return actionResultMsg{action: msg.Action, err: err}
	}
}

func (m Model) logout() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return loggedOutMsg{err: s.Logout(ctx)}
	}
}

// executeCommand handles a command from the command palette.
func (m Model) executeCommand(cmd string) tea.Cmd {
	switch cmd {
	case command.Refresh:
		return m.session.Poller().RefreshNow()
	case command.ReadAll:
		return m.apply(inbox.ActionMsg{Action: inbox.ActionMarkAllRead})
	case command.Logout:
		return m.logout()
	case command.Quit:
		return tea.Quit
	default:
		return nil
	}
}

func friendlyLoginError(err error) error {
	if errors.Is(err, api.ErrInvalidCredentials) {
		// Drop the server's detail.
		return api.ErrInvalidCredentials
	}
	return err
}
