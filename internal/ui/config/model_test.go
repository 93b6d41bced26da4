package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/fleetdash/internal/credential"
	"github.com/nhle/fleetdash/internal/keys"
	"github.com/nhle/fleetdash/internal/model"
)

type recorder struct {
	validatedURL   string
	validatedToken string
	token          string
	savedPath      string
	saved          *model.AppConfig
}

func newTestModel(t *testing.T, validateErr error) (Model, *recorder) {
	t.Helper()
	t.Setenv(credential.TokenEnv, "current")

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)

	rec := &recorder{}
	m := New(Options{
		Path:   path,
		Config: cfg,
		Validate: func(_ context.Context, baseURL, token string) (int, error) {
			rec.validatedURL, rec.validatedToken = baseURL, token
			return 3, validateErr
		},
		SaveToken: func(token string) error {
			rec.token = token
			return nil
		},
		SaveConfig: func(path string, cfg *model.AppConfig) error {
			rec.savedPath, rec.saved = path, cfg
			return nil
		},
	}, keys.DefaultKeyMap(), 80, 24)
	return m, rec
}

func TestFormStartsFromLoadedConfig(t *testing.T) {
	m, _ := newTestModel(t, nil)
	assert.Equal(t, ModeForm, m.Mode())
	assert.Equal(t, "http://localhost:8080/api", m.fields.baseURL)
	assert.Equal(t, "websocket", m.fields.transport)
	assert.Contains(t, m.View(), "Backend Connection")
}

func TestValidateAndSaveWritesConfigAndToken(t *testing.T) {
	m, rec := newTestModel(t, nil)
	m.fields.baseURL = "https://fleet.example.com/api/"
	m.fields.token = " new-token "
	m.fields.transport = "nats"
	m.fields.pushURL = "nats://bus.example.com:4222"

	m, _ = m.Update(m.validateAndSave()())

	assert.Equal(t, ModeValidateResult, m.Mode())
	require.NoError(t, m.validError)
	assert.Equal(t, "https://fleet.example.com/api", rec.validatedURL)
	assert.Equal(t, "new-token", rec.validatedToken)
	assert.Equal(t, "new-token", rec.token)
	require.NotNil(t, rec.saved)
	assert.Equal(t, "nats", rec.saved.Push.Transport)
	assert.Equal(t, "nats://bus.example.com:4222", rec.saved.Push.URL)
	assert.Equal(t, m.opts.Path, rec.savedPath)
	assert.Contains(t, m.View(), "3 notifications")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg, ok := cmd().(DoneMsg)
	require.True(t, ok)
	assert.True(t, msg.Saved)
	assert.Equal(t, rec.saved, msg.Config)
}

func TestEmptyTokenKeepsCurrentOne(t *testing.T) {
	m, rec := newTestModel(t, nil)

	m, _ = m.Update(m.validateAndSave()())

	assert.Equal(t, "current", rec.validatedToken)
	assert.Empty(t, rec.token)
	assert.NotNil(t, rec.saved)
}

func TestFailedValidationDoesNotSave(t *testing.T) {
	m, rec := newTestModel(t, errors.New("connection refused"))

	m, _ = m.Update(m.validateAndSave()())

	assert.Equal(t, ModeValidateResult, m.Mode())
	assert.Nil(t, rec.saved)
	assert.Contains(t, m.View(), "Connection failed")
	assert.Contains(t, m.View(), "connection refused")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("e")})
	assert.Equal(t, ModeForm, m.Mode())
}

func TestInvalidConfigIsRejectedBeforeValidation(t *testing.T) {
	m, rec := newTestModel(t, nil)
	m.fields.transport = "carrier-pigeon"

	msg, ok := m.validateAndSave()().(ValidateResultMsg)
	require.True(t, ok)
	assert.Error(t, msg.Err)
	assert.Empty(t, rec.validatedURL)
}

func TestValidateURL(t *testing.T) {
	check := validateURL("ws", "wss")
	assert.NoError(t, check("wss://fleet.example.com/ws"))
	assert.Error(t, check(""))
	assert.Error(t, check("fleet.example.com"))
	assert.Error(t, check("https://fleet.example.com/ws"))
}
