package inbox

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notifications"
	"github.com/nhle/ticketdesk/internal/theme"
)

// Action is a read-state change requested from the inbox.
type Action int

const (
	ActionMarkRead Action = iota
	ActionMarkUnread
	ActionMarkTicketRead
	ActionMarkTicketUnread
	ActionMarkAllRead
)

func (a Action) String() string {
	switch a {
	case ActionMarkRead:
		return "mark read"
	case ActionMarkUnread:
		return "mark unread"
	case ActionMarkTicketRead:
		return "mark ticket read"
	case ActionMarkTicketUnread:
		return "mark ticket unread"
	case ActionMarkAllRead:
		return "mark all read"
	default:
		return "unknown"
	}
}

// ActionMsg is emitted when the user requests a read-state change.
// NotificationID is set for single-item actions, TicketID for ticket
// actions.
type ActionMsg struct {
	Action         Action
	NotificationID model.ID
	TicketID       model.ID
}

// Model is the notification inbox view.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	width  int
	height int
}

// New creates an empty inbox.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Inbox"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle
	l.SetStatusBarItemName("notification", "notifications")

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetState replaces the rows with the store's state. The cursor stays on
// the same notification when it is still present.
func (m *Model) SetState(st notifications.State) tea.Cmd {
	var selected model.ID
	if it, ok := m.list.SelectedItem().(Item); ok {
		selected = it.Notification.ID
	}

	items := make([]list.Item, len(st.Items))
	cursor := 0
	for i, n := range st.Items {
		items[i] = Item{
			Notification: n,
			TicketUnread: n.Data.TicketID != "" && st.HasUnreadForTicket(n.Data.TicketID),
		}
		if n.ID == selected {
			cursor = i
		}
	}
	m.list.Title = fmt.Sprintf("Inbox (%d unread)", st.UnreadCount)

	cmd := m.list.SetItems(items)
	m.list.Select(cursor)
	return cmd
}

// Selected returns the notification under the cursor.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// Update handles messages for the inbox.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if cmd, handled := m.handleKeys(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	if key.Matches(msg, m.keys.MarkAllRead) {
		return emit(ActionMsg{Action: ActionMarkAllRead}), true
	}

	n, ok := m.Selected()
	switch {
	case key.Matches(msg, m.keys.MarkRead):
		if !ok {
			return nil, true
		}
		return emit(ActionMsg{Action: ActionMarkRead, NotificationID: n.ID}), true

	case key.Matches(msg, m.keys.MarkUnread):
		if !ok {
			return nil, true
		}
		return emit(ActionMsg{Action: ActionMarkUnread, NotificationID: n.ID}), true

	case key.Matches(msg, m.keys.MarkTicketRead):
		if !ok || n.Data.TicketID == "" {
			return nil, true
		}
		return emit(ActionMsg{Action: ActionMarkTicketRead, TicketID: n.Data.TicketID}), true

	case key.Matches(msg, m.keys.MarkTicketUnread):
		if !ok || n.Data.TicketID == "" {
			return nil, true
		}
		return emit(ActionMsg{Action: ActionMarkTicketUnread, TicketID: n.Data.TicketID}), true
	}

	return nil, false
}

func emit(msg ActionMsg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// View renders the inbox.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notifications.\n\nPress ctrl+r to check again.")
	}
	return m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
