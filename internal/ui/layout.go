package ui

import "github.com/charmbracelet/lipgloss"

// Layout manages the header, content and status bar dimensions.
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

// ContentHeight returns the rows left for the main content area.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 1 {
		return 1
	}
	return h
}

// RenderHeader renders the top bar with a title on the left and status on
// the right.
func (l Layout) RenderHeader(title, status string) string {
	titleRendered := headerStyle.Render(title)
	statusRendered := headerStyle.Align(lipgloss.Right).Render(status)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleRendered,
		l.filler(headerStyle, lipgloss.Width(titleRendered)+lipgloss.Width(statusRendered)),
		statusRendered,
	)
}

// RenderStatusBar renders the bottom bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := statusBarStyle.Render(hints)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		rendered,
		l.filler(statusBarStyle, lipgloss.Width(rendered)),
	)
}

// RenderWithFrame joins header, content and status bar vertically.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

func (l Layout) filler(style lipgloss.Style, used int) string {
	gap := l.Width - used
	if gap < 0 {
		gap = 0
	}
	return lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
}
