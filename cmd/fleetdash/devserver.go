package main

import (
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/fleetdash/internal/devserver"
	"github.com/nhle/fleetdash/internal/model"
)

var (
	devAddr     string
	devToken    string
	devSimulate time.Duration
	devSeed     int
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local fleet backend for development",
	Long: `devserver serves the notification REST API under /api and the push
feed at /ws, optionally generating a new notification every --simulate
interval. Point backend.base_url and push.url at it.`,
	RunE: runDevserver,
}

func init() {
	devserverCmd.Flags().StringVar(&devAddr, "addr", ":8080", "Listen address")
	devserverCmd.Flags().StringVar(&devToken, "token", "", "Bearer token clients must send (empty disables auth)")
	devserverCmd.Flags().DurationVar(&devSimulate, "simulate", 0, "Generate a notification at this interval (0 disables)")
	devserverCmd.Flags().IntVar(&devSeed, "seed", 10, "Number of notifications to start with")
}

// seedNotifications generates n notifications six minutes apart, oldest
// first. The older half starts out read.
func seedNotifications(r *rand.Rand, now time.Time, n int) []model.Notification {
	out := make([]model.Notification, 0, n)
	for i := n; i > 0; i-- {
		note := devserver.Generate(r, now.Add(-time.Duration(i)*6*time.Minute))
		note.ID = uuid.NewString()
		note.Read = i > n/2
		out = append(out, note)
	}
	return out
}

func runDevserver(cmd *cobra.Command, args []string) error {
	log := newLogger(os.Stderr).WithComponent("devserver")
	ctx := cmd.Context()

	srv := devserver.New(devToken, log)
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1))
	srv.Seed(seedNotifications(r, time.Now(), devSeed)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, devAddr, srv.Handler(), log)
	})
	if devSimulate > 0 {
		g.Go(func() error {
			srv.Simulate(gctx, devSimulate)
			return nil
		})
	}
	return g.Wait()
}
