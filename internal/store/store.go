package store

import (
	"context"

	"github.com/nhle/fleetdash/internal/model"
)

// Store persists feed snapshots between sessions so the dashboard can show
// the last known feed before the first resync.
type Store interface {
	// LoadSnapshot returns the most recent snapshot, or an empty one if
	// nothing was saved yet.
	LoadSnapshot(ctx context.Context) (model.FeedSnapshot, error)

	// SaveSnapshot replaces the stored snapshot.
	SaveSnapshot(ctx context.Context, snap model.FeedSnapshot) error

	Close() error
}
