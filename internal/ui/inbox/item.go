package inbox

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
	// TicketUnread is set when the notification's ticket is in the unread
	// set, which can differ from the item's own read flag.
	TicketUnread bool
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title() }

// Title returns the notification summary.
func (i Item) Title() string { return i.Notification.Title() }

// Description returns the ticket reference and age.
func (i Item) Description() string {
	if i.Notification.Data.TicketID == "" {
		return relativeTime(i.Notification.CreatedAt)
	}
	return fmt.Sprintf("#%s | %s", i.Notification.Data.TicketID, relativeTime(i.Notification.CreatedAt))
}

// ItemDelegate implements list.ItemDelegate for notification rows.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	n := it.Notification

	marker := " "
	if !n.IsRead {
		marker = theme.UnreadMarkerStyle.Render("●")
	}

	badge := ""
	if n.Data.TicketID != "" {
		label := "#" + n.Data.TicketID.String()
		if it.TicketUnread {
			label += "*"
		}
		badge = theme.TicketBadgeStyle.Render(label) + " "
	}

	age := theme.DimmedStyle.Render(relativeTime(n.CreatedAt))
	line := fmt.Sprintf("%s %s%s  %s", marker, badge, n.Title(), age)

	if n.IsRead {
		line = theme.DimmedStyle.Render(line)
	}

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
