package detail

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/fleetdash/internal/keys"
	"github.com/nhle/fleetdash/internal/model"
)

func sample() model.Notification {
	return model.Notification{
		ID:        "n-1",
		Type:      model.TypeAlert,
		Title:     "Engine fault on VEH-12",
		Message:   "Driver DRV-7 pulled over on RTE-3.",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestRendersReferences(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 40)
	m.SetNotification(sample(), false)

	out := m.renderContent()
	assert.Contains(t, out, "Engine fault on VEH-12")
	assert.Contains(t, out, "Fleet references (3)")
	assert.Contains(t, out, "DRV-7")
	assert.Contains(t, out, "unread")
}

func TestActions(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 40)
	m.SetNotification(sample(), false)

	_, cmd := m.Update(runes("x"))
	require.NotNil(t, cmd)
	assert.Equal(t, ActionMsg{Action: ActionMarkRead, ID: "n-1"}, cmd())

	_, cmd = m.Update(runes("d"))
	require.NotNil(t, cmd)
	assert.Equal(t, ActionMsg{Action: ActionDelete, ID: "n-1"}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, BackMsg{}, cmd())
}

func TestReadNotificationHasNoMarkAction(t *testing.T) {
	n := sample()
	n.Read = true
	m := New(keys.DefaultKeyMap(), 100, 40)
	m.SetNotification(n, true)

	_, cmd := m.Update(runes("x"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.renderContent(), "read (syncing)")
}

func TestRefreshMarksDeleted(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 40)
	m.SetNotification(sample(), false)

	m.Refresh(model.Notification{}, false, false)
	assert.Contains(t, m.renderContent(), "deleted")
	assert.Equal(t, "n-1", m.CurrentID())

	_, cmd := m.Update(runes("d"))
	assert.Nil(t, cmd)
}
