package feedlist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/fleetdash/internal/crossref"
	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/theme"
)

// maxRefBadges caps the cross-reference badges drawn per line.
const maxRefBadges = 2

// NotificationItem wraps a model.Notification so it can be used in a
// bubbles/list.
type NotificationItem struct {
	model.Notification

	// Refs are the fleet entities mentioned in the title or message.
	Refs []crossref.Ref

	// Pending is set while a read acknowledgement is in flight.
	Pending bool
}

// NewItem builds the list item for n.
func NewItem(n model.Notification, pending bool) NotificationItem {
	return NotificationItem{
		Notification: n,
		Refs:         crossref.FromNotification(n.Title, n.Message),
		Pending:      pending,
	}
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i NotificationItem) Title() string { return i.Notification.Title }

// Description returns a short summary line for the list.
func (i NotificationItem) Description() string {
	status := "unread"
	if i.Read {
		status = "read"
	}
	parts := []string{
		string(i.Type),
		status,
		relativeTime(i.Timestamp, time.Now()),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering notifications.
type ItemDelegate struct {
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single list item line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(NotificationItem)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderLine(it, index == m.Index()))
}

func (d ItemDelegate) renderLine(it NotificationItem, isSelected bool) string {
	marker := " "
	if !it.Read {
		marker = theme.UnreadMarkerStyle.Render("●")
	}

	typeBadge := theme.TypeStyle(it.Type).Render(theme.TypeLabel(it.Type))

	refs := ""
	if len(it.Refs) > 0 {
		keys := crossref.Keys(it.Refs)
		if len(keys) > maxRefBadges {
			keys = append(keys[:maxRefBadges], "…")
		}
		refs = theme.RefBadgeStyle.Render(" " + strings.Join(keys, ","))
	}

	pending := ""
	if it.Pending {
		pending = theme.DimmedStyle.Render(" ⋯")
	}

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	timeStr := theme.DimmedStyle.Render(relativeTime(it.Timestamp, now()))

	line := fmt.Sprintf("%s %s %s%s%s  %s", marker, typeBadge, it.Notification.Title, refs, pending, timeStr)

	if it.Read {
		line = theme.DimmedStyle.Render(line)
	}

	if isSelected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
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
