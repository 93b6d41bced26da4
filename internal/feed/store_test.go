package feed

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/model"
)

func newTestStore(t *testing.T, b *fakeBackend) *Store {
	t.Helper()
	s := NewStore(b, WithClock(func() time.Time { return t0 }))
	t.Cleanup(s.Close)
	return s
}

func TestApplyIsIdempotent(t *testing.T) {
	events := []Event{
		created(note("a", model.TypeAlert, false, t0), note("b", model.TypeInfo, false, t0)),
		created(note("c", model.TypeSuccess, false, t0)),
		{Kind: EventDeleted, IDs: []string{"b"}},
	}

	once := newTestStore(t, &fakeBackend{})
	for _, ev := range events {
		once.Apply(ev)
	}

	twice := newTestStore(t, &fakeBackend{})
	for _, ev := range events {
		twice.Apply(ev)
		twice.Apply(ev)
	}

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
	assert.Equal(t, []string{"a", "c"}, ids(once.Snapshot()))
}

func TestCreateForExistingIDIsUpdate(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	title := "Brake wear"
	s.Apply(Event{Kind: EventCreated, Patches: []Patch{{ID: "a", Title: &title}}})

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Brake wear", got.Title)
	assert.Equal(t, model.TypeAlert, got.Type)
	assert.Equal(t, 1, s.Len())
}

func TestMarkAsReadTwiceSendsOneRequest(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	require.NoError(t, s.MarkAsRead(context.Background(), "a"))
	require.NoError(t, s.MarkAsRead(context.Background(), "a"))
	require.NoError(t, s.MarkAsRead(context.Background(), "missing"))

	got, _ := s.Get("a")
	assert.True(t, got.Read)
	assert.Equal(t, []string{"read:a"}, b.Calls())
	assert.Zero(t, s.UnreadCount())
}

func TestMarkAsReadIsOptimistic(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), started: make(chan string, 1)}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	done := make(chan error, 1)
	go func() { done <- s.MarkAsRead(context.Background(), "a") }()

	<-b.started
	got, _ := s.Get("a")
	assert.True(t, got.Read, "read before the backend answers")
	assert.True(t, s.Pending("a"))

	close(b.gate)
	require.NoError(t, <-done)
	assert.False(t, s.Pending("a"))
}

func TestFailedAckKeepsOptimisticState(t *testing.T) {
	b := &fakeBackend{err: errors.New("503 service unavailable")}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	err := s.MarkAsRead(context.Background(), "a")
	var ackErr *AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, "mark_read", ackErr.Op)

	got, _ := s.Get("a")
	assert.True(t, got.Read)

	// The next authoritative resync wins.
	s.Replace([]model.Notification{note("a", model.TypeAlert, false, t0)})
	got, _ = s.Get("a")
	assert.False(t, got.Read)
}

func TestResyncKeepsInFlightRead(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), started: make(chan string, 1)}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	done := make(chan error, 1)
	go func() { done <- s.MarkAsRead(context.Background(), "a") }()
	<-b.started

	s.Replace([]model.Notification{note("a", model.TypeAlert, false, t0)})
	got, _ := s.Get("a")
	assert.True(t, got.Read)

	close(b.gate)
	require.NoError(t, <-done)
}

func TestMarkAllAsRead(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b)
	s.Apply(created(
		note("a", model.TypeAlert, false, t0),
		note("b", model.TypeInfo, true, t0),
		note("c", model.TypeInfo, false, t0),
	))

	require.NoError(t, s.MarkAllAsRead(context.Background()))
	assert.Zero(t, s.UnreadCount())

	require.NoError(t, s.MarkAllAsRead(context.Background()))
	assert.Equal(t, []string{"read-all"}, b.Calls())
}

func TestDeletedIDNeverReappears(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	require.NoError(t, s.DeleteNotification(context.Background(), "a"))
	require.NoError(t, s.DeleteNotification(context.Background(), "a"))

	s.Apply(created(note("a", model.TypeAlert, false, t0)))
	s.Apply(Event{Kind: EventUpdated, Patches: []Patch{patchOf(note("a", model.TypeInfo, false, t0))}})

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.True(t, s.Deleted("a"))
	assert.Equal(t, []string{"delete:a"}, b.Calls())
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	b := &fakeBackend{err: notFoundErr{}}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	assert.NoError(t, s.DeleteNotification(context.Background(), "a"))
}

func TestRemoteDeleteOfUnknownIDIsNoop(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	changed := s.Apply(Event{Kind: EventDeleted, IDs: []string{"zzz"}})
	assert.False(t, changed)
	assert.Equal(t, 1, s.Len())
}

func TestClearAll(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0), note("b", model.TypeInfo, true, t0)))

	require.NoError(t, s.ClearAllNotifications(context.Background()))
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Project(model.DefaultFeedFilter()))
	assert.Empty(t, s.Project(model.FeedFilter{Type: "alert", Status: "unread"}))
	assert.Equal(t, []string{"clear"}, b.Calls())

	// Late echoes of cleared records stay gone.
	s.Apply(created(note("a", model.TypeAlert, false, t0)))
	assert.Zero(t, s.Len())
}

func TestReplaceRemovesAbsentRecordsAndKeepsArrivalOrder(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	s.Apply(created(note("a", model.TypeAlert, false, t0), note("b", model.TypeInfo, false, t0)))

	s.Replace([]model.Notification{
		note("c", model.TypeInfo, false, t0),
		note("b", model.TypeInfo, true, t0),
	})

	assert.Equal(t, []string{"b", "c"}, ids(s.Snapshot()))
	got, _ := s.Get("b")
	assert.True(t, got.Read)
}

func TestReplaceResendsDeleteForListedTombstone(t *testing.T) {
	b := &fakeBackend{err: errors.New("timeout")}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	require.Error(t, s.DeleteNotification(context.Background(), "a"))

	b.mu.Lock()
	b.err = nil
	b.started = make(chan string, 1)
	started := b.started
	b.mu.Unlock()

	s.Replace([]model.Notification{note("a", model.TypeAlert, false, t0)})
	_, ok := s.Get("a")
	assert.False(t, ok)

	select {
	case call := <-started:
		assert.Equal(t, "delete:a", call)
	case <-time.After(2 * time.Second):
		t.Fatal("expected delete to be re-sent")
	}
}

func TestReplaceKeepsTombstonesServerForgot(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	s.Apply(created(note("a", model.TypeAlert, false, t0)))
	require.NoError(t, s.DeleteNotification(context.Background(), "a"))

	s.Replace(nil)
	assert.True(t, s.Deleted("a"))
	assert.Contains(t, s.Export().Tombstones, "a")
}

func TestLateCreateAfterResyncStaysDeleted(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	s.Apply(created(note("a", model.TypeAlert, false, t0)))
	require.NoError(t, s.DeleteNotification(context.Background(), "a"))

	s.Replace(nil)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))
	s.Apply(Event{Kind: EventUpdated, Patches: []Patch{patchOf(note("a", model.TypeInfo, false, t0))}})

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestReplaceDuplicateItemKeepsPendingRead(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), started: make(chan string, 1)}
	s := newTestStore(t, b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	done := make(chan error, 1)
	go func() { done <- s.MarkAsRead(context.Background(), "a") }()
	<-b.started

	s.Replace([]model.Notification{
		note("a", model.TypeAlert, false, t0),
		note("a", model.TypeAlert, false, t0),
	})

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.True(t, got.Read)
	assert.Equal(t, 1, s.Len())

	close(b.gate)
	require.NoError(t, <-done)
}

func TestCloseDiscardsInFlightAck(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), started: make(chan string, 1)}
	s := NewStore(b)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	done := make(chan error, 1)
	go func() { done <- s.MarkAsRead(context.Background(), "a") }()
	<-b.started

	s.Close()
	assert.NoError(t, <-done)
	assert.ErrorIs(t, s.MarkAsRead(context.Background(), "a"), ErrClosed)
}

func TestSubscribeCoalescesSignals(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	changes, cancel := s.Subscribe()
	defer cancel()

	s.Apply(created(note("a", model.TypeAlert, false, t0)))
	s.Apply(created(note("b", model.TypeAlert, false, t0)))

	select {
	case <-changes:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-changes:
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestConcurrentMutationsAndReads(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	for i := range 50 {
		id := string(rune('a' + i%26))
		s.Apply(created(note(id+string(rune('0'+i/26)), model.TypeAlert, false, t0.Add(time.Duration(i)*time.Second))))
	}

	var wg sync.WaitGroup
	for _, n := range s.Snapshot() {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_ = s.MarkAsRead(context.Background(), id)
		}(n.ID)
		go func() {
			defer wg.Done()
			_ = s.Project(model.FeedFilter{Status: model.StatusUnread})
			_ = s.UnreadCount()
		}()
	}
	wg.Wait()

	assert.Zero(t, s.UnreadCount())
	assert.Equal(t, 50, s.Len())
}

func TestExportRestore(t *testing.T) {
	src := newTestStore(t, &fakeBackend{})
	src.Apply(created(note("a", model.TypeAlert, false, t0), note("b", model.TypeInfo, true, t0)))
	require.NoError(t, src.DeleteNotification(context.Background(), "a"))
	src.Apply(created(note("c", model.TypeInfo, false, t0)))

	snap := src.Export()
	assert.Equal(t, []string{"a"}, snap.Tombstones)

	dst := newTestStore(t, &fakeBackend{})
	dst.Restore(snap)
	assert.Equal(t, []string{"b", "c"}, ids(dst.Snapshot()))
	assert.True(t, dst.Deleted("a"))
}

func TestFailedAckLogsOperation(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	b := &fakeBackend{err: errors.New("503 service unavailable")}
	s := NewStore(b, WithLogger(log), WithClock(func() time.Time { return t0 }))
	t.Cleanup(s.Close)
	s.Apply(created(note("a", model.TypeAlert, false, t0)))

	require.Error(t, s.MarkAsRead(context.Background(), "a"))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"operation":"mark_read"`)
	assert.Contains(t, out, `"component":"feed"`)
	assert.Contains(t, out, "503 service unavailable")
}
