// Package display provides terminal formatting for mailsync output.
package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

var (
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
)

// TimeAgo formats t relative to now.
func TimeAgo(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}

	d := now.Sub(*t)
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
		return t.Format("Jan 2")
	}
}

// Truncate shortens a string to maxLen runes, adding an ellipsis if needed.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// HealthDot returns a colored dot for a label's error state.
func HealthDot(st model.SyncState) string {
	switch {
	case st.ConsecutiveErrorCount == 0:
		return Success.Render("●")
	case st.ConsecutiveErrorCount < 5:
		return Warn.Render("●")
	default:
		return ErrStyle.Render("●")
	}
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, Success.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// ErrorMsg prints a red X + message.
func ErrorMsg(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, ErrStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// RenderStatus renders archive totals and one block per mailbox label.
func RenderStatus(states []model.SyncState, stats store.Stats, unread int, now time.Time) string {
	var b strings.Builder

	b.WriteString(Bold.Render("Mailsync Status"))
	b.WriteString("\n\n")

	b.WriteString("  Archive\n")
	fmt.Fprintf(&b, "    %d messages across %d threads\n", stats.Messages, stats.Threads)
	fmt.Fprintf(&b, "    %s\n", Dim.Render(fmt.Sprintf(
		"%d identities, %d attachments, %d unread notifications",
		stats.Identities, stats.Attachments, unread)))
	b.WriteString("\n")

	b.WriteString("  Mailboxes\n")
	if len(states) == 0 {
		fmt.Fprintf(&b, "    %s\n", Dim.Render("(never synced)"))
	}
	for _, st := range states {
		fmt.Fprintf(&b, "    %s %-24s cursor %-8d %s\n",
			HealthDot(st),
			Truncate(st.Label, 24),
			st.LastUID,
			Dim.Render("checked "+TimeAgo(st.LastCheckedAt, now)),
		)
		fmt.Fprintf(&b, "      %s\n", Muted.Render(fmt.Sprintf(
			"last cycle: %d fetched, %d ingested, %d duplicate, %d failed, backlog %d, %dms",
			st.LastFetched, st.LastIngested, st.LastDuplicates, st.LastFailed,
			st.LastBacklog, st.LastCycleDurationMS)))
		if st.ConsecutiveErrorCount > 0 {
			fmt.Fprintf(&b, "      %s\n", ErrStyle.Render(fmt.Sprintf(
				"%d consecutive errors, backoff %ds", st.ConsecutiveErrorCount, st.BackoffSeconds)))
		}
		if st.LastError != "" {
			fmt.Fprintf(&b, "      %s\n", Dim.Render(fmt.Sprintf(
				"last error [%s]: %s", st.LastErrorClass, Truncate(st.LastError, 80))))
		}
	}
	return b.String()
}
