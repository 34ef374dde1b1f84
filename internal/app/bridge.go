package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/notifications"
	"github.com/nhle/ticketdesk/internal/push"
)

// Bridge carries session callbacks, which run on background goroutines,
// into the Bubble Tea loop. Signals coalesce: the UI reads the current
// state when it handles one, so a missed intermediate state is harmless.
type Bridge struct {
	changed chan struct{}
	status  chan struct{}
	expired chan struct{}
}

// NewBridge creates a Bridge. Pass LoginRequired to
// session.OnLoginRequired before building the Model.
func NewBridge() *Bridge {
	return &Bridge{
		changed: make(chan struct{}, 1),
		status:  make(chan struct{}, 1),
		expired: make(chan struct{}, 1),
	}
}

// StateChanged signals a notification store change.
func (b *Bridge) StateChanged(notifications.State) { signal(b.changed) }

// StatusChanged signals a push connectivity transition.
func (b *Bridge) StatusChanged(push.Status) { signal(b.status) }

// LoginRequired signals that the session expired.
func (b *Bridge) LoginRequired() { signal(b.expired) }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type (
	stateChangedMsg  struct{}
	statusChangedMsg struct{}
	loginRequiredMsg struct{}
)

func (b *Bridge) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-b.changed
		return stateChangedMsg{}
	}
}

func (b *Bridge) waitForStatus() tea.Cmd {
	return func() tea.Msg {
		<-b.status
		return statusChangedMsg{}
	}
}

func (b *Bridge) waitForExpiry() tea.Cmd {
	return func() tea.Msg {
		<-b.expired
		return loginRequiredMsg{}
	}
}
