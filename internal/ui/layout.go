package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/theme"
)

// Layout manages the terminal frame: a one-line header, the content area
// and a one-line status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height left for the content area.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// RenderHeader renders the title on the left and the connection badge on
// the right. connection is a push status label such as "connected".
func (l Layout) RenderHeader(title, connection string) string {
	left := theme.HeaderStyle.Render(title)
	right := theme.ConnectionStyle(connection).Render("● " + connection)
	return l.spread(theme.HeaderStyle, left, right)
}

// RenderStatusBar renders hints on the left and an optional note, such
// as the last sync time or an error, on the right.
func (l Layout) RenderStatusBar(hints, note string) string {
	left := theme.StatusBarStyle.Render(hints)
	right := ""
	if note != "" {
		right = theme.StatusBarStyle.Render(note)
	}
	return l.spread(theme.StatusBarStyle, left, right)
}

// RenderWithFrame composes header, content and status bar vertically.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}

// spread joins left and right with a filler in the bar's background so the
// bar spans the full width.
func (l Layout) spread(bar lipgloss.Style, left, right string) string {
	gap := max(l.Width-lipgloss.Width(left)-lipgloss.Width(right), 0)

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(bar.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}
