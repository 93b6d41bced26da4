package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/model"
)

var (
	configPath string
	logLevel   string

	cfg *model.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "fleetdash",
	Short: "Real-time fleet notification dashboard",
	Long: `fleetdash follows the fleet backend's notification feed: it keeps a
live subscription open, reconciles every event into a local store and shows
the filtered, sorted feed.

Run without arguments to start the terminal dashboard.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}

		loaded, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		return nil
	},
	RunE: runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(devserverCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger writing to w.
func newLogger(w io.Writer) *logger.Logger {
	lc := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)
	lc.Output = w
	return logger.New(lc)
}
