// Package ui implements the live terminal dashboard over the archive.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailsync/internal/display"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

const maxActivity = 20

// StatusSource is the read side of the archive the dashboard polls.
type StatusSource interface {
	GetStats(ctx context.Context) (store.Stats, error)
	ListSyncStates(ctx context.Context) ([]model.SyncState, error)
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// StatusLoadedMsg carries one snapshot of the archive.
type StatusLoadedMsg struct {
	States []model.SyncState
	Stats  store.Stats
	Unread []model.Notification
	At     time.Time
	Err    error
}

// MarkedReadMsg reports how many notifications were acknowledged.
type MarkedReadMsg struct {
	Count int
	Err   error
}

type tickMsg time.Time

// Model is the dashboard view.
type Model struct {
	source   StatusSource
	keys     *KeyMap
	interval time.Duration
	now      func() time.Time

	layout   Layout
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model

	loading  bool
	showHelp bool
	last     StatusLoadedMsg
	notice   string
}

// NewDashboard creates a dashboard polling src every interval.
func NewDashboard(src StatusSource, interval time.Duration) Model {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		source:   src,
		keys:     DefaultKeyMap(),
		interval: interval,
		now:      time.Now,
		layout:   NewLayout(80, 24),
		viewport: viewport.New(80, 22),
		spinner:  sp,
		help:     help.New(),
		loading:  true,
	}
}

// Init starts the first load and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.spinner.Tick)
}

// Update handles messages for the dashboard.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = NewLayout(msg.Width, msg.Height)
		m.viewport.Width = msg.Width
		m.viewport.Height = m.layout.ContentHeight()
		m.help.Width = msg.Width
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case StatusLoadedMsg:
		m.loading = false
		if msg.Err != nil {
			m.notice = "refresh failed: " + msg.Err.Error()
		} else {
			m.last = msg
			m.notice = ""
		}
		m.viewport.SetContent(m.renderContent())
		return m, m.scheduleTick()

	case MarkedReadMsg:
		if msg.Err != nil {
			m.notice = "mark read failed: " + msg.Err.Error()
		} else {
			m.notice = fmt.Sprintf("%d notifications marked read", msg.Count)
		}
		m.loading = true
		return m, m.load()

	case tickMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.load()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, m.load()
		case key.Matches(msg, m.keys.MarkRead):
			return m, m.markRead(m.last.Unread)
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the dashboard.
func (m Model) View() string {
	status := "updated " + display.TimeAgo(&m.last.At, m.now())
	if m.last.At.IsZero() {
		status = "loading"
	}
	if m.loading {
		status = m.spinner.View() + " " + status
	}
	header := m.layout.RenderHeader("mailsync", status)

	hints := m.help.ShortHelpView(m.keys.ShortHelp())
	if m.showHelp {
		hints = m.help.FullHelpView(m.keys.FullHelp())
	}
	if m.notice != "" {
		hints = m.notice + "  " + hints
	}

	return m.layout.RenderWithFrame(header, m.viewport.View(), m.layout.RenderStatusBar(hints))
}

func (m Model) renderContent() string {
	if m.last.At.IsZero() {
		if m.notice != "" {
			return errorStyle.Render(m.notice)
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(display.RenderStatus(m.last.States, m.last.Stats, len(m.last.Unread), m.last.At))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("  Recent activity"))
	b.WriteString("\n")

	if len(m.last.Unread) == 0 {
		b.WriteString("    " + display.Dim.Render("(nothing new)") + "\n")
	}
	for i, n := range m.last.Unread {
		if i == maxActivity {
			fmt.Fprintf(&b, "    %s\n", display.Dim.Render(fmt.Sprintf("... and %d more", len(m.last.Unread)-maxActivity)))
			break
		}
		created := n.CreatedAt
		fmt.Fprintf(&b, "    %-10s %s\n",
			activityTimeStyle.Render(display.TimeAgo(&created, m.last.At)),
			display.Truncate(n.Text, max(20, m.layout.Width-18)),
		)
	}
	return b.String()
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) load() tea.Cmd {
	src, now := m.source, m.now
	return func() tea.Msg {
		ctx := context.Background()
		msg := StatusLoadedMsg{At: now()}

		if msg.Stats, msg.Err = src.GetStats(ctx); msg.Err != nil {
			return msg
		}
		if msg.States, msg.Err = src.ListSyncStates(ctx); msg.Err != nil {
			return msg
		}
		msg.Unread, msg.Err = src.GetUnreadNotifications(ctx)
		return msg
	}
}

func (m Model) markRead(notes []model.Notification) tea.Cmd {
	src := m.source
	ids := make([]string, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	return func() tea.Msg {
		ctx := context.Background()
		for i, id := range ids {
			if err := src.MarkNotificationRead(ctx, id); err != nil {
				return MarkedReadMsg{Count: i, Err: err}
			}
		}
		return MarkedReadMsg{Count: len(ids)}
	}
}
