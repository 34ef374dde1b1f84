package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/keys"
	"github.com/nhle/ticketdesk/internal/push"
	"github.com/nhle/ticketdesk/internal/session"
	tdsync "github.com/nhle/ticketdesk/internal/sync"
	"github.com/nhle/ticketdesk/internal/ui"
	"github.com/nhle/ticketdesk/internal/ui/command"
	helpview "github.com/nhle/ticketdesk/internal/ui/help"
	"github.com/nhle/ticketdesk/internal/ui/inbox"
	"github.com/nhle/ticketdesk/internal/ui/login"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewInbox
	ViewHelp
	ViewCommand
)

// Model is the root Bubble Tea model that manages view routing,
// layout, and access to the session.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	session      *session.Session
	bridge       *Bridge
	keys         *keys.KeyMap
	loginView    login.Model
	inboxView    inbox.Model
	helpView     helpview.Model
	commandView  command.Model
	connection   push.Status
	unreadCount  int
	statusNote   string
	ready        bool
}

// New creates the root model for s. bridge must be the one whose
// LoginRequired was passed to s.
func New(s *session.Session, bridge *Bridge) Model {
	k := keys.DefaultKeyMap()

	s.Notifications().OnChange(bridge.StateChanged)
	s.Push().OnStatusChange(bridge.StatusChanged)

	m := Model{
		currentView: ViewLogin,
		session:     s,
		bridge:      bridge,
		keys:        k,
		loginView:   login.New(80, 24),
		inboxView:   inbox.New(k, 80, 24),
		helpView:    helpview.New(k, command.Commands, 80, 24),
		commandView: command.New(80, 24),
		connection:  s.Push().Status(),
	}
	if _, ok := s.User(); ok {
		m.currentView = ViewInbox
		m.syncState()
	} else {
		m.loginView.Start("")
	}
	return m
}

// Init starts the listeners and opens the first view.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.bridge.waitForChange(),
		m.bridge.waitForStatus(),
		m.bridge.waitForExpiry(),
		m.session.Poller().WaitForNextResult(),
	}
	if m.currentView == ViewLogin {
		cmds = append(cmds, m.loginView.Init())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.loginView.SetSize(contentWidth, contentHeight)
		m.inboxView.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case stateChangedMsg:
		m.syncState()
		return m, m.bridge.waitForChange()

	case statusChangedMsg:
		m.connection = m.session.Push().Status()
		return m, m.bridge.waitForStatus()

	case loginRequiredMsg:
		m.currentView = ViewLogin
		m.syncState()
		start := m.loginView.Start("Your session has expired. Please sign in again.")
		return m, tea.Batch(start, m.bridge.waitForExpiry())

	case tdsync.SyncResultMsg:
		switch {
		case msg.Error == nil:
			m.statusNote = ""
		case !msg.SessionExpired:
			m.statusNote = "sync failed: " + msg.Error.Error()
		}
		return m, m.session.Poller().WaitForNextResult()

	case login.SubmitMsg:
		return m, m.signIn(msg.Email, msg.Password)

	case login.CancelMsg:
		return m, tea.Quit

	case loginResultMsg:
		if msg.err != nil {
			cmd := m.loginView.SetError(friendlyLoginError(msg.err))
			return m, cmd
		}
		m.currentView = ViewInbox
		m.statusNote = ""
		m.syncState()
		return m, nil

	case inbox.ActionMsg:
		return m, m.apply(msg)

	case actionResultMsg:
		if msg.err != nil {
			m.statusNote = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.statusNote = ""
		}
		m.syncState()
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case command.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case loggedOutMsg:
		m.currentView = ViewLogin
		m.statusNote = ""
		if msg.err != nil {
			m.statusNote = "logout: " + msg.err.Error()
		}
		m.syncState()
		cmd := m.loginView.Start("")
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		// The login form owns every other key.
		if m.currentView == ViewLogin {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit) && m.currentView == ViewInbox:
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help) && m.currentView != ViewCommand:
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Command) && m.currentView == ViewInbox:
			m.previousView = m.currentView
			m.currentView = ViewCommand
			cmd := m.commandView.Focus()
			return m, cmd

		case key.Matches(msg, m.keys.Back) && m.currentView == ViewHelp:
			m.currentView = m.previousView
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			return m, m.session.Poller().RefreshNow()
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewInbox:
		m.inboxView, cmd = m.inboxView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	headerTitle := "Ticketdesk"
	if user, ok := m.session.User(); ok {
		headerTitle = fmt.Sprintf("Ticketdesk | %s", user.Name)
		if m.unreadCount > 0 {
			headerTitle = fmt.Sprintf("%s [%d unread]", headerTitle, m.unreadCount)
		}
	}
	header := m.layout.RenderHeader(headerTitle, m.connection.String())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.note())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.loginView.View()
	case ViewInbox:
		return m.inboxView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// note returns the right-hand side of the status bar.
func (m Model) note() string {
	if m.statusNote != "" {
		return m.statusNote
	}
	if m.currentView == ViewLogin {
		return ""
	}

	status := m.session.Poller().Status()
	switch {
	case status.State == tdsync.SyncRunning:
		return status.State.String()
	case !status.LastSync.IsZero():
		return "synced " + status.LastSync.Format("15:04:05")
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewLogin:
		return "enter submit | esc quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	default:
		return "q quit | ? help | r/u read | R/U ticket | A all read | : command"
	}
}

// syncState copies the notification store into the inbox.
func (m *Model) syncState() {
	st := m.session.Notifications().State()
	m.unreadCount = st.UnreadCount
	m.inboxView.SetState(st)
}
