package feed

import (
	"context"
	"sync"
	"time"

	"github.com/nhle/fleetdash/internal/model"
)

type notFoundErr struct{}

func (notFoundErr) Error() string  { return "404 not found" }
func (notFoundErr) NotFound() bool { return true }

// fakeBackend records calls. When gate is non-nil every call blocks until
// the gate is closed or the context ends.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	err     error
	gate    chan struct{}
	started chan string
}

func (b *fakeBackend) do(ctx context.Context, call string) error {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	err, gate, started := b.err, b.gate, b.started
	b.mu.Unlock()

	if started != nil {
		started <- call
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (b *fakeBackend) MarkRead(ctx context.Context, id string) error {
	return b.do(ctx, "read:"+id)
}

func (b *fakeBackend) MarkAllRead(ctx context.Context) error {
	return b.do(ctx, "read-all")
}

func (b *fakeBackend) DeleteNotification(ctx context.Context, id string) error {
	return b.do(ctx, "delete:"+id)
}

func (b *fakeBackend) ClearNotifications(ctx context.Context) error {
	return b.do(ctx, "clear")
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func note(id string, typ model.NotificationType, read bool, at time.Time) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      typ,
		Title:     "title " + id,
		Message:   "message " + id,
		Timestamp: at,
		Read:      read,
	}
}

func patchOf(n model.Notification) Patch {
	typ, title, msg, ts, read := n.Type, n.Title, n.Message, n.Timestamp, n.Read
	return Patch{ID: n.ID, Type: &typ, Title: &title, Message: &msg, Timestamp: &ts, Read: &read}
}

func created(ns ...model.Notification) Event {
	ev := Event{Kind: EventCreated}
	for _, n := range ns {
		ev.Patches = append(ev.Patches, patchOf(n))
	}
	return ev
}

func ids(ns []model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
