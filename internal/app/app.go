package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/fleetdash/internal/feed"
	"github.com/nhle/fleetdash/internal/keys"
	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/remote"
	feedsync "github.com/nhle/fleetdash/internal/sync"
	"github.com/nhle/fleetdash/internal/ui"
	"github.com/nhle/fleetdash/internal/ui/command"
	"github.com/nhle/fleetdash/internal/ui/confirm"
	"github.com/nhle/fleetdash/internal/ui/detail"
	"github.com/nhle/fleetdash/internal/ui/feedlist"
	"github.com/nhle/fleetdash/internal/ui/filterform"
	helpview "github.com/nhle/fleetdash/internal/ui/help"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewHelp
	ViewCommand
	ViewFilter
)

const actionClearAll = "clear-all"

// FilterMsg replaces the active filter, e.g. after the config file changed.
type FilterMsg struct {
	Filter model.FeedFilter
}

// Resyncer forces an authoritative reload. *feedsync.Channel satisfies it.
type Resyncer interface {
	Resync(ctx context.Context) error
	WaitForStatus() tea.Cmd
	Status() feedsync.Status
}

// Options wires the root model to the feed.
type Options struct {
	Store   *feed.Store
	Channel Resyncer

	// Changes is a subscription from Store.Subscribe.
	Changes <-chan struct{}

	Filter model.FeedFilter
	Logger *logger.Logger
}

// Model is the root Bubble Tea model. It routes input to the active view
// and turns user actions into store operations.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	store        *feed.Store
	channel      Resyncer
	changes      <-chan struct{}
	log          *logger.Logger
	keys         *keys.KeyMap
	feedList     feedlist.Model
	detail       detail.Model
	helpView     helpview.Model
	commandView  command.Model
	filterForm   filterform.Model
	confirm      confirm.Model
	status       feedsync.Status
	unread       int
	flash        string
	flashErr     bool
	ready        bool
}

// New creates the root model.
func New(opts Options) Model {
	k := keys.DefaultKeyMap()
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	return Model{
		currentView: ViewList,
		store:       opts.Store,
		channel:     opts.Channel,
		changes:     opts.Changes,
		log:         log.WithComponent("tui"),
		keys:        k,
		feedList:    feedlist.New(opts.Store, k, opts.Filter, 80, 24),
		detail:      detail.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		filterForm:  filterform.New(80, 24),
		confirm:     confirm.New(80),
		status:      opts.Channel.Status(),
		unread:      opts.Store.UnreadCount(),
	}
}

// Init loads the first projection and starts listening for store and
// connection changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.feedList.Init(),
		m.channel.WaitForStatus(),
		feedsync.WaitForChange(m.changes),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.feedList.SetSize(contentWidth, contentHeight)
		m.detail.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		m.filterForm.SetSize(contentWidth, contentHeight)
		m.confirm.SetWidth(contentWidth)
		return m.updateActiveView(msg)

	case feedsync.StatusMsg:
		m.status = feedsync.Status(msg)
		if remote.IsAuthError(msg.Err) {
			m.setFlash(msg.Err.Error(), true)
		}
		return m, m.channel.WaitForStatus()

	case feedsync.StoreChangedMsg:
		m.unread = m.store.UnreadCount()
		if id := m.detail.CurrentID(); id != "" {
			n, ok := m.store.Get(id)
			m.detail.Refresh(n, m.store.Pending(id), ok)
		}
		return m, tea.Batch(m.feedList.Load(), feedsync.WaitForChange(m.changes))

	case FilterMsg:
		cmd := m.feedList.SetFilter(msg.Filter)
		return m, cmd

	case ackResultMsg:
		if msg.err != nil {
			m.log.Warn("feed action failed", slog.String("op", msg.op), slog.String("error", msg.err.Error()))
			m.setFlash(describeAckError(msg.op, msg.err), true)
		} else if msg.done != "" {
			m.setFlash(msg.done, false)
		}
		return m, nil

	case feedlist.SelectedMsg:
		n, ok := m.store.Get(msg.ID)
		if !ok {
			return m, nil
		}
		m.previousView = m.currentView
		m.currentView = ViewDetail
		m.detail.SetNotification(n, m.store.Pending(n.ID))
		if !n.Read {
			return m, m.markRead(n.ID)
		}
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case detail.ActionMsg:
		switch msg.Action {
		case detail.ActionMarkRead:
			return m, m.markRead(msg.ID)
		case detail.ActionDelete:
			m.currentView = ViewList
			return m, m.deleteNotification(msg.ID)
		}
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		cmd := m.executeCommand(command.Command(msg))
		return m, cmd

	case command.ErrorMsg:
		m.currentView = m.previousView
		m.setFlash(msg.Err.Error(), true)
		return m, nil

	case filterform.AppliedMsg:
		m.currentView = ViewList
		cmd := m.feedList.SetFilter(msg.Filter)
		return m, cmd

	case filterform.CancelMsg:
		m.currentView = ViewList
		return m, nil

	case confirm.ResultMsg:
		if msg.Confirmed && msg.Action == actionClearAll {
			return m, m.clearAll()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.confirm.Active() {
		var cmd tea.Cmd
		m.confirm, cmd = m.confirm.Update(msg)
		return m, cmd
	}
	return m.updateActiveView(msg)
}

// handleKey applies global keys before delegating to the active view.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	// Modal input owns the keyboard.
	if m.confirm.Active() {
		var cmd tea.Cmd
		m.confirm, cmd = m.confirm.Update(msg)
		return m, cmd
	}
	if m.currentView == ViewFilter || (m.currentView == ViewList && m.feedList.Searching()) {
		return m.updateActiveView(msg)
	}

	m.flash = ""

	switch {
	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return m, nil
		}
		if m.currentView != ViewCommand {
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil
		}

	case key.Matches(msg, m.keys.Command):
		if m.currentView == ViewCommand {
			m.currentView = m.previousView
			return m, nil
		}
		m.previousView = m.currentView
		m.currentView = ViewCommand
		cmd := m.commandView.Focus(m.feedList.Filter())
		return m, cmd
	}

	switch m.currentView {
	case ViewHelp:
		if key.Matches(msg, m.keys.Back) {
			m.currentView = m.previousView
		}
		return m, nil

	case ViewCommand:
		if key.Matches(msg, m.keys.Back) {
			m.currentView = m.previousView
			return m, nil
		}

	case ViewList:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.MarkRead):
			if n, ok := m.feedList.Selected(); ok && !n.Read {
				return m, m.markRead(n.ID)
			}
			return m, nil

		case key.Matches(msg, m.keys.MarkAllRead):
			return m, m.markAllRead()

		case key.Matches(msg, m.keys.Delete):
			if n, ok := m.feedList.Selected(); ok {
				return m, m.deleteNotification(n.ID)
			}
			return m, nil

		case key.Matches(msg, m.keys.ClearAll):
			if m.store.Len() == 0 {
				return m, nil
			}
			cmd := m.confirm.Ask(actionClearAll,
				fmt.Sprintf("Clear all %d notifications?", m.store.Len()), "Clear")
			return m, cmd

		case key.Matches(msg, m.keys.Refresh):
			return m, m.resync()

		case key.Matches(msg, m.keys.EditFilter):
			m.previousView = m.currentView
			m.currentView = ViewFilter
			cmd := m.filterForm.Start(m.feedList.Filter())
			return m, cmd
		}
	}

	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.feedList, cmd = m.feedList.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewFilter:
		m.filterForm, cmd = m.filterForm.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(ui.HeaderTitle(m.unread), m.status.State)
	content := m.renderContent()
	if m.confirm.Active() {
		content = lipgloss.Place(
			m.layout.ContentWidth(), m.layout.ContentHeight(),
			lipgloss.Center, lipgloss.Center,
			m.confirm.View(),
		)
	}
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.flash != "" && m.flashErr)

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.feedList.View()
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewFilter:
		return m.filterForm.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.flash != "" {
		return m.flash
	}
	if m.confirm.Active() {
		return "←/→ choose | enter confirm | esc cancel"
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return ": close command | tab complete | enter execute | esc back"
	case ViewDetail:
		return "esc back | x mark read | d delete | j/k scroll"
	case ViewFilter:
		return "enter next/apply | esc cancel"
	default:
		if m.feedList.Searching() {
			return "enter keep search | esc cancel search"
		}
		if summary := m.feedList.FilterSummary(); summary != "" {
			return summary + " | 0 reset"
		}
		return "q quit | ? help | x read | X read all | d delete | D clear | t type | s status | tab sort | / search"
	}
}

func (m *Model) setFlash(msg string, isErr bool) {
	m.flash = msg
	m.flashErr = isErr
}

// describeAckError turns a failed acknowledgement into a status bar line.
func describeAckError(op string, err error) string {
	var ackErr *feed.AckError
	if errors.As(err, &ackErr) {
		err = ackErr.Err
	}
	switch {
	case remote.IsAuthError(err):
		return fmt.Sprintf("%s failed: not authorized (run `fleetdash token set`)", op)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s failed: backend timed out; will reconcile on next sync", op)
	default:
		return fmt.Sprintf("%s failed: %v; will reconcile on next sync", op, err)
	}
}
