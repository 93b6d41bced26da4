package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/fleetdash/internal/credential"
	"github.com/nhle/fleetdash/internal/keys"
	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/remote"
	"github.com/nhle/fleetdash/internal/theme"
)

// Mode represents the current state of the connection setup view.
type Mode int

const (
	ModeForm           Mode = iota // Editing connection settings
	ModeValidating                 // Testing connection
	ModeValidateResult             // Show validation result
)

// DoneMsg signals the setup view should close. Saved reports whether the
// configuration was written.
type DoneMsg struct {
	Saved  bool
	Config *model.AppConfig
}

// ValidateResultMsg carries the result of a connection test.
type ValidateResultMsg struct {
	Count int
	Err   error
}

// savedMsg is sent after the configuration has been persisted.
type savedMsg struct {
	count int
	cfg   *model.AppConfig
	err   error
}

// Validator fetches the feed once with the given settings and reports how
// many notifications the backend returned.
type Validator func(ctx context.Context, baseURL, token string) (int, error)

// Options configures the setup view.
type Options struct {
	// Path is where the configuration is saved.
	Path   string
	Config *model.AppConfig

	// Validate defaults to a real backend request.
	Validate Validator

	// SaveToken defaults to storing the token in the system keyring.
	SaveToken func(token string) error

	// SaveConfig defaults to model.SaveConfig.
	SaveConfig func(path string, cfg *model.AppConfig) error
}

// formBindings holds the values huh writes into. It lives on the heap so
// the form keeps pointing at it when the Model is copied.
type formBindings struct {
	baseURL   string
	token     string
	transport string
	pushURL   string
	subject   string
}

// Model is the Bubble Tea model for the backend connection setup.
type Model struct {
	mode   Mode
	opts   Options
	form   *huh.Form
	fields *formBindings

	// Validation
	validating bool
	count      int
	validError error
	saved      *model.AppConfig
	spinner    spinner.Model

	keys          *keys.KeyMap
	width, height int
}

// New creates a connection setup view seeded from opts.Config.
func New(opts Options, k *keys.KeyMap, width, height int) Model {
	if opts.Config == nil {
		cfg, err := model.LoadConfig(opts.Path)
		if err != nil {
			cfg = &model.AppConfig{}
		}
		opts.Config = cfg
	}
	if opts.Validate == nil {
		opts.Validate = validateBackend
	}
	if opts.SaveToken == nil {
		opts.SaveToken = func(token string) error {
			return credential.Set(credential.TokenKey, token)
		}
	}
	if opts.SaveConfig == nil {
		opts.SaveConfig = model.SaveConfig
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		mode:    ModeForm,
		opts:    opts,
		keys:    k,
		spinner: sp,
		width:   width,
		height:  height,
	}
	m.resetFormFields()
	m.form = m.buildForm()
	return m
}

// Init focuses the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages and dispatches based on current mode.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ValidateResultMsg:
		m.validating = false
		m.count = msg.Count
		m.validError = msg.Err
		m.mode = ModeValidateResult
		return m, nil

	case savedMsg:
		m.validating = false
		m.count = msg.count
		m.validError = msg.err
		m.saved = msg.cfg
		m.mode = ModeValidateResult
		return m, nil

	case spinner.TickMsg:
		if m.mode == ModeValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	if m.mode == ModeForm {
		return m.updateForm(msg)
	}
	return m, nil
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch m.mode {
	case ModeForm:
		return m.updateForm(msg)
	case ModeValidateResult:
		return m.handleValidateResultKeys(msg)
	case ModeValidating:
		// Only allow escape during validation
		if key.Matches(msg, m.keys.Back) {
			m.validating = false
			return m.edit()
		}
	}
	return m, nil
}

func (m Model) handleValidateResultKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	if m.validError == nil {
		switch {
		case msg.String() == "enter", key.Matches(msg, m.keys.Back):
			return m, done(true, m.saved)
		}
		return m, nil
	}

	switch {
	case msg.String() == "r":
		return m.startValidation()
	case msg.String() == "e", msg.String() == "enter":
		return m.edit()
	case key.Matches(msg, m.keys.Back):
		return m, done(false, nil)
	}
	return m, nil
}

// --- Form ---

func (m *Model) buildForm() *huh.Form {
	f := m.fields
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend URL").
				Description("REST base URL of the fleet API").
				Placeholder("https://fleet.example.com/api").
				Value(&f.baseURL).
				Validate(validateURL("http", "https")),
			huh.NewInput().
				Title("API token").
				Description("Stored in the system keyring; leave empty to keep the current one").
				EchoMode(huh.EchoModePassword).
				Value(&f.token),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Push transport").
				Options(
					huh.NewOption("WebSocket", "websocket"),
					huh.NewOption("NATS", "nats"),
				).
				Value(&f.transport),
			huh.NewInput().
				Title("Push URL").
				Description("WebSocket endpoint or NATS server").
				Placeholder("wss://fleet.example.com/ws").
				Value(&f.pushURL).
				Validate(validateURL("ws", "wss", "nats", "tls")),
			huh.NewInput().
				Title("NATS subject").
				Description("Only used by the NATS transport").
				Value(&f.subject),
		),
	).WithWidth(m.formWidth())
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m.startValidation()
	case huh.StateAborted:
		return m, done(false, nil)
	}
	return m, cmd
}

func (m Model) startValidation() (Model, tea.Cmd) {
	m.mode = ModeValidating
	m.validating = true
	m.validError = nil
	return m, tea.Batch(m.spinner.Tick, m.validateAndSave())
}

// edit reopens the form with the values entered so far.
func (m Model) edit() (Model, tea.Cmd) {
	m.mode = ModeForm
	m.validError = nil
	m.form = m.buildForm()
	return m, m.form.Init()
}

// --- View ---

// View renders the setup UI based on the current mode.
func (m Model) View() string {
	switch m.mode {
	case ModeForm:
		return m.viewForm()
	case ModeValidating:
		return m.viewValidating()
	case ModeValidateResult:
		return m.viewValidateResult()
	default:
		return ""
	}
}

func (m Model) viewForm() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Backend Connection") + "\n\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height).
		Render(content)
}

func (m Model) viewValidating() string {
	style := lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height)

	content := fmt.Sprintf(
		"%s Testing connection to %s...\n\nPress esc to cancel.",
		m.spinner.View(),
		m.fields.baseURL,
	)

	return style.Render(content)
}

func (m Model) viewValidateResult() string {
	style := lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height)

	hint := lipgloss.NewStyle().Foreground(theme.ColorGray)

	var content string
	if m.validError != nil {
		errStyle := lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorRed)
		content = errStyle.Render("Connection failed") + "\n\n" +
			m.validError.Error() + "\n\n" +
			hint.Render("r retry | e edit | esc cancel")
	} else {
		okStyle := lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorGreen)
		content = okStyle.Render("Connection successful") + "\n\n" +
			fmt.Sprintf("%d notifications in the feed.\nSaved to %s", m.count, m.opts.Path) + "\n\n" +
			hint.Render("enter/esc done")
	}

	return style.Render(content)
}

// --- Helpers ---

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// Mode returns the current mode.
func (m Model) Mode() Mode {
	return m.mode
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

func (m *Model) resetFormFields() {
	cfg := m.opts.Config
	m.fields = &formBindings{
		baseURL:   cfg.Backend.BaseURL,
		transport: cfg.Push.Transport,
		pushURL:   cfg.Push.URL,
		subject:   cfg.Push.Subject,
	}
}

// buildConfig applies the form values to a copy of the loaded config.
func (m Model) buildConfig() *model.AppConfig {
	next := *m.opts.Config
	f := m.fields
	next.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(f.baseURL), "/")
	next.Push.Transport = f.transport
	next.Push.URL = strings.TrimSpace(f.pushURL)
	next.Push.Subject = strings.TrimSpace(f.subject)
	return &next
}

// validateAndSave tests the backend, then persists the token and config if
// the connection works.
func (m Model) validateAndSave() tea.Cmd {
	opts := m.opts
	cfg := m.buildConfig()
	token := strings.TrimSpace(m.fields.token)
	return func() tea.Msg {
		if err := cfg.Validate(); err != nil {
			return ValidateResultMsg{Err: err}
		}

		checkToken := token
		if checkToken == "" {
			checkToken, _ = credential.Token()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		count, err := opts.Validate(ctx, cfg.Backend.BaseURL, checkToken)
		if err != nil {
			return ValidateResultMsg{Err: err}
		}

		if token != "" {
			if err := opts.SaveToken(token); err != nil {
				return savedMsg{count: count, err: fmt.Errorf("connection OK but storing token failed: %w", err)}
			}
		}
		if err := opts.SaveConfig(opts.Path, cfg); err != nil {
			return savedMsg{count: count, err: fmt.Errorf("connection OK but save failed: %w", err)}
		}
		return savedMsg{count: count, cfg: cfg}
	}
}

func validateBackend(ctx context.Context, baseURL, token string) (int, error) {
	client := remote.NewClient(baseURL, token, remote.WithRetry(0, 0))
	items, err := client.ListNotifications(ctx)
	if err != nil {
		if remote.IsAuthError(err) {
			return 0, fmt.Errorf("the backend rejected the API token: %w", err)
		}
		return 0, err
	}
	return len(items), nil
}

func done(saved bool, cfg *model.AppConfig) tea.Cmd {
	return func() tea.Msg { return DoneMsg{Saved: saved, Config: cfg} }
}

// --- Validators ---

func validateURL(schemes ...string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("URL is required")
		}
		parsed, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid URL: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("URL must include scheme and host")
		}
		for _, scheme := range schemes {
			if parsed.Scheme == scheme {
				return nil
			}
		}
		return fmt.Errorf("URL scheme must be one of %s", strings.Join(schemes, ", "))
	}
}
