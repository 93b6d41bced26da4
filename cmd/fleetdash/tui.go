package main

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/fleetdash/internal/app"
	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/model"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the terminal dashboard (default)",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	// The dashboard owns the terminal, so logs go to a file.
	f, err := logger.OpenFile(cfg.Log.File)
	if err != nil {
		return err
	}
	defer f.Close()
	log := newLogger(f)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sess, err := newSession(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer sess.close()

	changes, unsubscribe := sess.store.Subscribe()
	defer unsubscribe()

	m := app.New(app.Options{
		Store:   sess.store,
		Channel: sess.channel,
		Changes: changes,
		Filter:  cfg.Display.Filter,
		Logger:  log,
	})
	g, gctx := errgroup.WithContext(ctx)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(gctx))

	watchErr := model.WatchConfig(configPath, func(next *model.AppConfig, err error) {
		if err != nil {
			log.Warn("ignoring invalid config change", slog.String("error", err.Error()))
			return
		}
		log.SetLevel(logger.ParseLevel(next.Log.Level))
		p.Send(app.FilterMsg{Filter: next.Display.Filter})
		log.Info("config reloaded", slog.String("path", configPath))
	})
	if watchErr != nil {
		log.Debug("config hot-reload disabled", slog.String("error", watchErr.Error()))
	}

	sess.start(gctx, g)
	g.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("running dashboard: %w", err)
		}
		return nil
	})

	return g.Wait()
}
