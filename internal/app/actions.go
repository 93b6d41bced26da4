package app

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/fleetdash/internal/ui/command"
)

// ackResultMsg reports the backend outcome of a feed mutation. The local
// store has already changed by the time it arrives.
type ackResultMsg struct {
	op   string
	done string
	err  error
}

func (m Model) markRead(id string) tea.Cmd {
	s := m.store
	return func() tea.Msg {
		return ackResultMsg{op: "mark read", err: s.MarkAsRead(context.Background(), id)}
	}
}

func (m Model) markAllRead() tea.Cmd {
	s := m.store
	n := s.UnreadCount()
	if n == 0 {
		return nil
	}
	return func() tea.Msg {
		err := s.MarkAllAsRead(context.Background())
		return ackResultMsg{op: "mark all read", done: fmt.Sprintf("marked %d notifications read", n), err: err}
	}
}

func (m Model) deleteNotification(id string) tea.Cmd {
	s := m.store
	return func() tea.Msg {
		return ackResultMsg{op: "delete", err: s.DeleteNotification(context.Background(), id)}
	}
}

func (m Model) clearAll() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		err := s.ClearAllNotifications(context.Background())
		return ackResultMsg{op: "clear all", done: "cleared all notifications", err: err}
	}
}

func (m Model) resync() tea.Cmd {
	ch := m.channel
	return func() tea.Msg {
		err := ch.Resync(context.Background())
		return ackResultMsg{op: "resync", done: "feed resynced", err: err}
	}
}

// executeCommand handles a command from the command palette.
func (m *Model) executeCommand(c command.Command) tea.Cmd {
	switch c.Name {
	case command.Refresh:
		return m.resync()
	case command.MarkAllRead:
		return m.markAllRead()
	case command.ClearAll:
		if m.store.Len() == 0 {
			return nil
		}
		return m.confirm.Ask(actionClearAll,
			fmt.Sprintf("Clear all %d notifications?", m.store.Len()), "Clear")
	case command.Filter, command.Search, command.Sort, command.Reset:
		m.currentView = ViewList
		return m.feedList.SetFilter(c.Filter)
	case command.Quit:
		return tea.Quit
	default:
		return nil
	}
}
