package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/theme"
)

// Name identifies a palette command.
type Name string

const (
	Refresh     Name = "refresh"
	MarkAllRead Name = "read-all"
	ClearAll    Name = "clear"
	Filter      Name = "filter"
	Search      Name = "search"
	Sort        Name = "sort"
	Reset       Name = "reset"
	Quit        Name = "quit"
)

// Command is a parsed palette entry. Filter is set for filter, search,
// sort and reset commands and holds the filter to apply.
type Command struct {
	Name   Name
	Filter model.FeedFilter
}

// CommandMsg is emitted when the user executes a command.
type CommandMsg Command

// ErrorMsg is emitted when the input does not parse.
type ErrorMsg struct {
	Err error
}

var suggestions = []string{
	"refresh", "read-all", "clear", "reset", "quit",
	"filter type alert", "filter type success", "filter type info", "filter type default", "filter type all",
	"filter status unread", "filter status read", "filter status all",
	"sort newest", "sort oldest",
	"search ",
}

var aliases = map[string]Name{
	"sync":         Refresh,
	"resync":       Refresh,
	"mark-all":     MarkAllRead,
	"readall":      MarkAllRead,
	"clear-all":    ClearAll,
	"q":            Quit,
	"exit":         Quit,
	"clear-filter": Reset,
}

// Parse interprets input against the current filter.
func Parse(input string, current model.FeedFilter) (Command, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	name := Name(strings.ToLower(fields[0]))
	if alias, ok := aliases[string(name)]; ok {
		name = alias
	}
	args := fields[1:]
	f := current

	switch name {
	case Refresh, MarkAllRead, ClearAll, Quit:
		return Command{Name: name}, nil

	case Reset:
		return Command{Name: name, Filter: model.DefaultFeedFilter()}, nil

	case Search:
		f.Search = strings.Join(args, " ")
		return Command{Name: name, Filter: f}, nil

	case Sort:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: sort newest|oldest")
		}
		order, err := model.ParseSortOrder(args[0])
		if err != nil {
			return Command{}, err
		}
		f.SortBy = order
		return Command{Name: name, Filter: f}, nil

	case Filter:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("usage: filter type|status <value>")
		}
		switch strings.ToLower(args[0]) {
		case "type":
			t, err := model.ParseTypeFilter(args[1])
			if err != nil {
				return Command{}, err
			}
			f.Type = t
		case "status":
			s, err := model.ParseStatusFilter(args[1])
			if err != nil {
				return Command{}, err
			}
			f.Status = s
		default:
			return Command{}, fmt.Errorf("unknown filter field %q", args[0])
		}
		return Command{Name: name, Filter: f}, nil
	}

	return Command{}, fmt.Errorf("unknown command %q", fields[0])
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	filter model.FeedFilter
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "read-all, clear, filter type alert, sort oldest..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(suggestions)
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		filter: model.DefaultFeedFilter(),
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if raw == "" {
				return m, nil
			}
			cmd, err := Parse(raw, m.filter)
			if err != nil {
				return m, func() tea.Msg { return ErrorMsg{Err: err} }
			}
			return m, func() tea.Msg { return CommandMsg(cmd) }
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Command Palette")
	input := m.input.View()

	content := lipgloss.JoinVertical(lipgloss.Left, title, input)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input. f is the filter that
// filter commands start from.
func (m *Model) Focus(f model.FeedFilter) tea.Cmd {
	m.filter = f
	return m.input.Focus()
}
