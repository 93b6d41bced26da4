package feedlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/fleetdash/internal/keys"
	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/theme"
)

// Source is the read side of the notification store.
type Source interface {
	Project(f model.FeedFilter) []model.Notification
	Pending(id string) bool
}

// ItemsLoadedMsg carries a projection computed for Filter.
type ItemsLoadedMsg struct {
	Filter model.FeedFilter
	Items  []NotificationItem
}

// SelectedMsg is sent when a user opens a notification.
type SelectedMsg struct {
	ID string
}

// Model is the notification list view component.
type Model struct {
	list        list.Model
	source      Source
	keys        *keys.KeyMap
	filter      model.FeedFilter
	searchMode  bool
	prevSearch  string
	searchInput textinput.Model
	width       int
	height      int
}

// New creates a new notification list model showing filter.
func New(src Source, k *keys.KeyMap, filter model.FeedFilter, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()
	l.SetStatusBarItemName("notification", "notifications")
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search title and message..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:        l,
		source:      src,
		keys:        k,
		filter:      filter.Normalized(),
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns a command that computes the first projection.
func (m Model) Init() tea.Cmd {
	return m.Load()
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ItemsLoadedMsg:
		// A projection for a filter that has since changed is stale.
		if msg.Filter != m.filter {
			return m, nil
		}
		items := make([]list.Item, len(msg.Items))
		for i, it := range msg.Items {
			items[i] = it
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleSearchKeys processes key input while in search mode. The filter
// follows the input as it is typed.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.searchInput.Blur()
		return m, nil

	case "esc":
		m.searchMode = false
		m.searchInput.Blur()
		m.filter.Search = m.prevSearch
		return m, m.Load()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	if q := m.searchInput.Value(); q != m.filter.Search {
		m.filter.Search = q
		return m, tea.Batch(cmd, m.Load())
	}
	return m, cmd
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		n, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedMsg{ID: n.ID}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.prevSearch = m.filter.Search
		m.searchInput.SetValue(m.filter.Search)
		m.searchInput.CursorEnd()
		cmd := m.searchInput.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.CycleType):
		m.filter.Type = m.filter.NextType()
		return m, m.Load()

	case key.Matches(msg, m.keys.CycleStatus):
		m.filter.Status = m.filter.NextStatus()
		return m, m.Load()

	case key.Matches(msg, m.keys.ToggleSort):
		m.filter.SortBy = m.filter.ToggleSort()
		return m, m.Load()

	case key.Matches(msg, m.keys.ResetFilter):
		cmd := m.SetFilter(model.DefaultFeedFilter())
		return m, cmd
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list view.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

// renderEmptyState shows guidance text when nothing matches.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	narrowed := m.filter.Type != model.TypeFilterAll ||
		m.filter.Status != model.StatusAll ||
		m.filter.Search != ""
	if narrowed {
		return style.Render("No matching notifications.\nPress 0 to reset the filter.")
	}

	return style.Render("No notifications.\n\nNew fleet events appear here as they arrive.")
}

// Load returns a tea.Cmd that projects the store with the current filter.
func (m Model) Load() tea.Cmd {
	filter := m.filter
	src := m.source
	return func() tea.Msg {
		records := src.Project(filter)
		items := make([]NotificationItem, len(records))
		for i, n := range records {
			items[i] = NewItem(n, src.Pending(n.ID))
		}
		return ItemsLoadedMsg{Filter: filter, Items: items}
	}
}

// Filter returns the active filter.
func (m Model) Filter() model.FeedFilter {
	return m.filter
}

// SetFilter replaces the active filter and reloads.
func (m *Model) SetFilter(f model.FeedFilter) tea.Cmd {
	m.filter = f.Normalized()
	return m.Load()
}

// Selected returns the focused notification.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(NotificationItem)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

// FilterSummary describes the non-default parts of the filter, or "" when
// the filter shows everything.
func (m Model) FilterSummary() string {
	var parts []string
	if m.filter.Type != model.TypeFilterAll {
		parts = append(parts, "type:"+string(m.filter.Type))
	}
	if m.filter.Status != model.StatusAll {
		parts = append(parts, "status:"+string(m.filter.Status))
	}
	if m.filter.Search != "" {
		parts = append(parts, fmt.Sprintf("search:%q", m.filter.Search))
	}
	if m.filter.SortBy != model.SortNewest {
		parts = append(parts, "sort:"+string(m.filter.SortBy))
	}
	return strings.Join(parts, " ")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}

// setClock pins the delegate's clock.
func (m *Model) setClock(now func() time.Time) {
	m.list.SetDelegate(ItemDelegate{now: now})
}
