package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/fleetdash/internal/crossref"
	"github.com/nhle/fleetdash/internal/keys"
	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Action is a mutation requested from the detail view.
type Action string

const (
	ActionMarkRead Action = "read"
	ActionDelete   Action = "delete"
)

// ActionMsg signals the parent to run an action on the shown notification.
type ActionMsg struct {
	Action Action
	ID     string
}

// Model is the notification detail view component.
type Model struct {
	note     *model.Notification
	pending  bool
	gone     bool
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.MarkRead):
			if m.note != nil && !m.gone && !m.note.Read {
				return m, m.action(ActionMarkRead)
			}
			return m, nil

		case key.Matches(msg, m.keys.Delete):
			if m.note != nil && !m.gone {
				return m, m.action(ActionDelete)
			}
			return m, nil
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) action(a Action) tea.Cmd {
	id := m.note.ID
	return func() tea.Msg { return ActionMsg{Action: a, ID: id} }
}

// View renders the detail view.
func (m Model) View() string {
	if m.note == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notification selected")
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.note == nil {
		return ""
	}

	n := m.note
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title))

	// Badges line: type + read state
	typeBadge := theme.TypeStyle(n.Type).Render(theme.TypeLabel(n.Type))

	state := "unread"
	stateStyle := theme.UnreadMarkerStyle
	switch {
	case m.gone:
		state = "deleted"
		stateStyle = lipgloss.NewStyle().Foreground(theme.ColorRed)
	case n.Read && m.pending:
		state = "read (syncing)"
		stateStyle = theme.DimmedStyle
	case n.Read:
		state = "read"
		stateStyle = theme.DimmedStyle
	}

	sections = append(sections,
		lipgloss.JoinHorizontal(lipgloss.Top, typeBadge, "  ", stateStyle.Render(state)),
		"",
	)

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)

	sections = append(sections, fmt.Sprintf(
		"%s  %s",
		metaStyle.Render("Received:"),
		valStyle.Render(n.Timestamp.Local().Format("2006-01-02 15:04:05")),
	))
	sections = append(sections, fmt.Sprintf(
		"%s        %s",
		metaStyle.Render("ID:"),
		valStyle.Render(n.ID),
	))

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	body := n.Message
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No message")
	}
	sections = append(sections, body)

	if refs := crossref.FromNotification(n.Title, n.Message); len(refs) > 0 {
		sections = append(sections, "", separator, "")
		sections = append(sections, lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorWhite).
			Render(fmt.Sprintf("Fleet references (%d)", len(refs))))
		for _, r := range refs {
			sections = append(sections, fmt.Sprintf(
				"  %s  %s",
				theme.RefBadgeStyle.Render(r.Key),
				metaStyle.Render(string(r.Kind)),
			))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetNotification shows n. pending marks an in-flight read acknowledgement.
func (m *Model) SetNotification(n model.Notification, pending bool) {
	m.note = &n
	m.pending = pending
	m.gone = false
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Refresh re-renders the shown notification after a store change, keeping
// the scroll position. ok=false marks it as deleted.
func (m *Model) Refresh(n model.Notification, pending, ok bool) {
	if m.note == nil {
		return
	}
	if ok {
		m.note = &n
		m.pending = pending
	}
	m.gone = !ok
	m.viewport.SetContent(m.renderContent())
}

// CurrentID returns the id of the shown notification, or "".
func (m Model) CurrentID() string {
	if m.note == nil {
		return ""
	}
	return m.note.ID
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	m.viewport.SetContent(m.renderContent())
}
