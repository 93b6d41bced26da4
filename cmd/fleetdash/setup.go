package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/fleetdash/internal/keys"
	"github.com/nhle/fleetdash/internal/ui/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure and test the backend connection",
	Long: `setup asks for the backend URL, API token and push transport, checks
that the backend answers, then writes the config file and stores the token
in the system keyring.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

// setupProgram adapts the setup view to a standalone program.
type setupProgram struct {
	view  config.Model
	saved bool
}

func (p setupProgram) Init() tea.Cmd {
	return p.view.Init()
}

func (p setupProgram) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case config.DoneMsg:
		p.saved = msg.Saved
		return p, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return p, tea.Quit
		}
	}

	var cmd tea.Cmd
	p.view, cmd = p.view.Update(msg)
	return p, cmd
}

func (p setupProgram) View() string {
	return p.view.View()
}

func runSetup(cmd *cobra.Command, args []string) error {
	view := config.New(config.Options{Path: configPath, Config: cfg}, keys.DefaultKeyMap(), 80, 24)

	final, err := tea.NewProgram(setupProgram{view: view}, tea.WithContext(cmd.Context())).Run()
	if err != nil {
		return fmt.Errorf("running setup: %w", err)
	}
	if p, ok := final.(setupProgram); ok && p.saved {
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", configPath)
	}
	return nil
}
