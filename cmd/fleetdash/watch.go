package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the feed headlessly and log every change",
	Long: `watch runs the push channel without a terminal UI. Connection state
changes and feed updates are logged to stderr, which makes it useful for
checking a backend or running the snapshot cache on a server.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	log := newLogger(os.Stderr)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sess, err := newSession(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer sess.close()

	changes, unsubscribe := sess.store.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	sess.start(gctx, g)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case st := <-sess.channel.StatusChanges():
				attrs := []any{
					slog.String("state", st.State.String()),
					slog.Int("attempt", st.Attempt),
				}
				if st.Err != nil {
					attrs = append(attrs, slog.String("error", st.Err.Error()))
				}
				log.Info("connection", attrs...)
			case _, ok := <-changes:
				if !ok {
					return nil
				}
				log.Info("feed changed",
					slog.Int("total", sess.store.Len()),
					slog.Int("unread", sess.store.UnreadCount()))
			}
		}
	})

	return g.Wait()
}
