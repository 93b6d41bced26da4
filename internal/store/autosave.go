package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/model"
)

// SnapshotSource is the part of the feed store the autosaver needs.
type SnapshotSource interface {
	Export() model.FeedSnapshot
	Subscribe() (<-chan struct{}, func())
}

// Autosave writes the feed to st at most once per interval while it keeps
// changing, and once more on shutdown if there are unsaved changes. It
// returns when ctx ends or the source closes.
func Autosave(ctx context.Context, src SnapshotSource, st Store, interval time.Duration, log *logger.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("cache")

	changes, cancel := src.Subscribe()
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dirty := false
	save := func(ctx context.Context) {
		if !dirty {
			return
		}
		snap := src.Export()
		if err := st.SaveSnapshot(ctx, snap); err != nil {
			log.Warn("saving feed snapshot failed", slog.String("error", err.Error()))
			return
		}
		dirty = false
		log.Debug("feed snapshot saved", slog.Int("records", len(snap.Records)))
	}
	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		save(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case _, ok := <-changes:
			if !ok {
				flush()
				return nil
			}
			dirty = true
		case <-ticker.C:
			save(ctx)
		}
	}
}
