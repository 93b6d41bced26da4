// Package confirm is a yes/no dialog for destructive feed actions.
package confirm

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/fleetdash/internal/theme"
)

// ResultMsg reports the user's answer for Action.
type ResultMsg struct {
	Action    string
	Confirmed bool
}

// Model wraps a huh confirm field.
type Model struct {
	form      *huh.Form
	action    string
	confirmed *bool
	width     int
}

// New creates an idle dialog.
func New(width int) Model {
	return Model{confirmed: new(bool), width: width}
}

// Ask opens the dialog. The answer comes back as a ResultMsg carrying
// action.
func (m *Model) Ask(action, question, affirmative string) tea.Cmd {
	m.action = action
	*m.confirmed = false
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative(affirmative).
				Negative("Cancel").
				Value(m.confirmed),
		),
	).WithWidth(min(max(m.width-4, 30), 80)).WithShowHelp(false)
	return m.form.Init()
}

// Active reports whether the dialog is open.
func (m Model) Active() bool {
	return m.form != nil
}

// Update handles messages for the dialog.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		res := ResultMsg{Action: m.action, Confirmed: *m.confirmed}
		m.form = nil
		return m, func() tea.Msg { return res }
	case huh.StateAborted:
		res := ResultMsg{Action: m.action}
		m.form = nil
		return m, func() tea.Msg { return res }
	}
	return m, cmd
}

// View renders the dialog.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}
	return theme.DetailPanelStyle.
		BorderForeground(theme.ColorRed).
		Render(m.form.View())
}

// SetWidth updates the dialog width.
func (m *Model) SetWidth(width int) {
	m.width = width
}
