package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/store"
	"github.com/nhle/fleetdash/tests/testutil"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestEmptySnapshot(t *testing.T) {
	s := testutil.NewTestStore(t)

	snap, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Empty(t, snap.Tombstones)
	assert.True(t, snap.SavedAt.IsZero())
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	in := model.FeedSnapshot{
		Records: []model.Notification{
			{ID: "z", Type: model.TypeAlert, Title: "Engine fault", Message: "VEH-12", Timestamp: t0, Read: false},
			{ID: "a", Type: model.TypeInfo, Title: "Route updated", Timestamp: t0.Add(time.Minute), Read: true},
		},
		Tombstones: []string{"gone-1", "gone-2"},
		SavedAt:    t0.Add(time.Hour),
	}
	require.NoError(t, s.SaveSnapshot(ctx, in))

	out, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "z", out.Records[0].ID, "arrival order is preserved")
	assert.Equal(t, model.TypeAlert, out.Records[0].Type)
	assert.Equal(t, "VEH-12", out.Records[0].Message)
	assert.True(t, out.Records[0].Timestamp.Equal(t0))
	assert.True(t, out.Records[1].Read)
	assert.Equal(t, []string{"gone-1", "gone-2"}, out.Tombstones)
	assert.True(t, out.SavedAt.Equal(in.SavedAt))

	// A second save replaces rather than appends.
	require.NoError(t, s.SaveSnapshot(ctx, model.FeedSnapshot{
		Records: in.Records[1:],
	}))
	out, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "a", out.Records[0].ID)
	assert.Empty(t, out.Tombstones)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.db")
	ctx := context.Background()

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(ctx, model.FeedSnapshot{
		Records: []model.Notification{{ID: "a", Type: model.TypeSuccess, Timestamp: t0}},
	}))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, model.TypeSuccess, snap.Records[0].Type)
}

type fakeSource struct {
	mu      sync.Mutex
	snap    model.FeedSnapshot
	changes chan struct{}
}

func (f *fakeSource) Export() model.FeedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) Subscribe() (<-chan struct{}, func()) {
	return f.changes, func() {}
}

func (f *fakeSource) set(records ...model.Notification) {
	f.mu.Lock()
	f.snap = model.FeedSnapshot{Records: records}
	f.mu.Unlock()
	f.changes <- struct{}{}
}

func TestAutosaveFlushesOnShutdown(t *testing.T) {
	s := testutil.NewTestStore(t)
	src := &fakeSource{changes: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Autosave(ctx, src, s, time.Hour, nil) }()

	src.set(model.Notification{ID: "a", Timestamp: t0})
	src.set(model.Notification{ID: "a", Timestamp: t0}, model.Notification{ID: "b", Timestamp: t0})
	cancel()
	require.NoError(t, <-done)

	snap, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Records, 2)
}

func TestAutosaveSavesPeriodically(t *testing.T) {
	s := testutil.NewTestStore(t)
	src := &fakeSource{changes: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Autosave(ctx, src, s, 10*time.Millisecond, nil)

	src.set(model.Notification{ID: "a", Timestamp: t0})

	require.Eventually(t, func() bool {
		snap, err := s.LoadSnapshot(context.Background())
		return err == nil && len(snap.Records) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
