package filterform

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/theme"
)

// AppliedMsg is dispatched when the user submits the form.
type AppliedMsg struct {
	Filter model.FeedFilter
}

// CancelMsg is dispatched when the user cancels the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	typ    string
	status string
	search string
	sort   string
}

// Model is the Bubble Tea model for the filter editor.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	width  int
	height int
}

// New creates a new filter form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Start initializes the form with the current filter.
func (m *Model) Start(f model.FeedFilter) tea.Cmd {
	f = f.Normalized()
	m.fb.typ = string(f.Type)
	m.fb.status = string(f.Status)
	m.fb.search = f.Search
	m.fb.sort = string(f.SortBy)
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the filter form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		f := m.Filter()
		m.form = nil
		return m, func() tea.Msg { return AppliedMsg{Filter: f} }
	}
	if m.form.State == huh.StateAborted {
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// Filter returns the filter described by the current field values.
func (m Model) Filter() model.FeedFilter {
	return model.FeedFilter{
		Type:   model.TypeFilter(m.fb.typ),
		Status: model.StatusFilter(m.fb.status),
		Search: strings.TrimSpace(m.fb.search),
		SortBy: model.SortOrder(m.fb.sort),
	}.Normalized()
}

// View renders the filter form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Filter Notifications") + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth()).WithHeight(m.formHeight())
	}
}

func (m *Model) buildForm() *huh.Form {
	typeOpts := []huh.Option[string]{huh.NewOption("All types", string(model.TypeFilterAll))}
	for _, t := range model.NotificationTypes {
		typeOpts = append(typeOpts, huh.NewOption(theme.TypeLabel(t)+" ("+string(t)+")", string(t)))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Type").
				Options(typeOpts...).
				Value(&m.fb.typ),
			huh.NewSelect[string]().
				Title("Status").
				Options(
					huh.NewOption("All", string(model.StatusAll)),
					huh.NewOption("Unread", string(model.StatusUnread)),
					huh.NewOption("Read", string(model.StatusRead)),
				).
				Value(&m.fb.status),
			huh.NewInput().
				Title("Search").
				Placeholder("matches title or message, case-insensitive").
				Value(&m.fb.search),
			huh.NewSelect[string]().
				Title("Sort").
				Options(
					huh.NewOption("Newest first", string(model.SortNewest)),
					huh.NewOption("Oldest first", string(model.SortOldest)),
				).
				Value(&m.fb.sort),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func (m Model) formHeight() int {
	h := m.height - 4
	if h < 10 {
		h = 10
	}
	return h
}
