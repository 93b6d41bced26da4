package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/fleetdash/internal/feed"
	"github.com/nhle/fleetdash/internal/model"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   gosync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() { close(c.frames) }

type fakeTransport struct {
	mu       gosync.Mutex
	dials    int
	failures int
	conns    chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	select {
	case t.conns <- conn:
	default:
	}
	return conn, nil
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

type fakeLister struct {
	mu    gosync.Mutex
	items []string
	err   error
	calls int
}

func (l *fakeLister) set(items []string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items, l.err = items, err
}

func (l *fakeLister) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *fakeLister) ListNotifications(ctx context.Context) ([]json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make([]json.RawMessage, len(l.items))
	for i, s := range l.items {
		out[i] = json.RawMessage(s)
	}
	return out, nil
}

type nopBackend struct{}

func (nopBackend) MarkRead(context.Context, string) error           { return nil }
func (nopBackend) MarkAllRead(context.Context) error                { return nil }
func (nopBackend) DeleteNotification(context.Context, string) error { return nil }
func (nopBackend) ClearNotifications(context.Context) error         { return nil }

func frame(t *testing.T, kind feed.EventKind, payload any) []byte {
	t.Helper()
	data, err := feed.EncodeEvent(kind, payload)
	require.NoError(t, err)
	return data
}

func storeIDs(s *feed.Store) []string {
	var ids []string
	for _, n := range s.Snapshot() {
		ids = append(ids, n.ID)
	}
	return ids
}

type harness struct {
	store     *feed.Store
	transport *fakeTransport
	lister    *fakeLister
	channel   *Channel
}

func newHarness(t *testing.T, backoff Backoff) *harness {
	t.Helper()
	h := &harness{
		store:     feed.NewStore(nopBackend{}),
		transport: newFakeTransport(),
		lister:    &fakeLister{},
	}
	h.channel = New(h.store, h.transport, h.lister, Options{
		Backoff: backoff,
	})
	t.Cleanup(func() {
		h.channel.Stop()
		h.store.Close()
	})
	return h
}

func (h *harness) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-h.transport.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

var fast = Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}

func TestConnectResyncsThenAppliesEvents(t *testing.T) {
	h := newHarness(t, fast)
	h.store.Apply(feed.Event{Kind: feed.EventCreated, Patches: []feed.Patch{{ID: "stale"}}})
	h.lister.set([]string{`{"id":"a","type":"alert"}`, `{"id":"b"}`, `{"title":"no id"}`}, nil)

	h.channel.Start(context.Background())
	conn := h.nextConn(t)

	require.Eventually(t, func() bool {
		return h.channel.Status().State == model.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, storeIDs(h.store))
	assert.False(t, h.channel.Status().LastSync.IsZero())

	conn.frames <- frame(t, feed.EventCreated, map[string]any{"id": "c", "type": "info"})
	conn.frames <- frame(t, feed.EventDeleted, map[string]any{"id": "a"})

	require.Eventually(t, func() bool {
		ids := storeIDs(h.store)
		return len(ids) == 2 && ids[0] == "b" && ids[1] == "c"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEventsApplyInTransportOrder(t *testing.T) {
	h := newHarness(t, fast)
	h.lister.set(nil, nil)
	h.channel.Start(context.Background())
	conn := h.nextConn(t)

	for i := range 50 {
		conn.frames <- frame(t, feed.EventUpdated, map[string]any{"id": "x", "title": fmt.Sprintf("v%d", i)})
	}

	require.Eventually(t, func() bool {
		n, ok := h.store.Get("x")
		return ok && n.Title == "v49"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := newHarness(t, fast)
	h.lister.set(nil, nil)
	h.channel.Start(context.Background())
	conn := h.nextConn(t)

	conn.frames <- []byte(`{not json`)
	conn.frames <- []byte(`{"kind":"teleported","payload":{}}`)
	conn.frames <- frame(t, feed.EventCreated, map[string]any{"id": "ok"})

	require.Eventually(t, func() bool {
		_, ok := h.store.Get("ok")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StateConnected, h.channel.Status().State)
	assert.Equal(t, 1, h.transport.Dials())
}

func TestReconnectResyncsAndRemovesMissing(t *testing.T) {
	h := newHarness(t, fast)
	h.lister.set([]string{`{"id":"a"}`, `{"id":"b"}`}, nil)
	h.channel.Start(context.Background())

	first := h.nextConn(t)
	require.Eventually(t, func() bool { return h.store.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	h.lister.set([]string{`{"id":"a"}`}, nil)
	first.drop()

	second := h.nextConn(t)
	require.NotSame(t, first, second)
	require.Eventually(t, func() bool {
		return h.store.Len() == 1 && h.channel.Status().State == model.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, storeIDs(h.store))
	assert.Equal(t, 2, h.lister.Calls())

	var sawReconnecting bool
	for len(h.channel.StatusChanges()) > 0 {
		if st := <-h.channel.StatusChanges(); st.State == model.StateReconnecting {
			sawReconnecting = true
		}
	}
	assert.True(t, sawReconnecting)
}

func TestResyncFailureKeepsStoreAndRetries(t *testing.T) {
	h := newHarness(t, fast)
	h.store.Apply(feed.Event{Kind: feed.EventCreated, Patches: []feed.Patch{{ID: "cached"}}})
	h.lister.set(nil, errors.New("502 bad gateway"))

	h.channel.Start(context.Background())

	require.Eventually(t, func() bool { return h.lister.Calls() >= 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"cached"}, storeIDs(h.store))
	assert.NotEqual(t, model.StateConnected, h.channel.Status().State)

	h.lister.set([]string{`{"id":"fresh"}`}, nil)
	require.Eventually(t, func() bool {
		return h.channel.Status().State == model.StateConnected
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"fresh"}, storeIDs(h.store))
}

func TestDialFailuresBackOff(t *testing.T) {
	h := newHarness(t, fast)
	h.transport.failures = 3
	h.lister.set(nil, nil)

	h.channel.Start(context.Background())
	h.nextConn(t)

	assert.Equal(t, 4, h.transport.Dials())
	require.Eventually(t, func() bool {
		return h.channel.Status().State == model.StateConnected
	}, 2*time.Second, time.Millisecond)
}

func TestStopDuringBackoffIsPrompt(t *testing.T) {
	h := newHarness(t, Backoff{Base: time.Hour, Max: time.Hour})
	h.transport.failures = 1000
	h.lister.set(nil, nil)

	h.channel.Start(context.Background())
	require.Eventually(t, func() bool {
		return h.channel.Status().State == model.StateReconnecting
	}, 2*time.Second, time.Millisecond)

	start := time.Now()
	h.channel.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.StateDisconnected, h.channel.Status().State)
}

func TestManualResync(t *testing.T) {
	h := newHarness(t, fast)
	h.lister.set([]string{`{"id":"a","read":true}`}, nil)

	require.NoError(t, h.channel.Resync(context.Background()))
	n, ok := h.store.Get("a")
	require.True(t, ok)
	assert.True(t, n.Read)

	h.lister.set(nil, errors.New("boom"))
	assert.Error(t, h.channel.Resync(context.Background()))
	assert.Equal(t, 1, h.store.Len())
}

func TestStatusOverflowKeepsNewest(t *testing.T) {
	c := New(feed.NewStore(nopBackend{}), newFakeTransport(), &fakeLister{}, Options{})

	for attempt := 1; attempt <= 40; attempt++ {
		c.setState(model.StateReconnecting, attempt, nil)
	}
	c.setState(model.StateConnected, 0, nil)

	var last Status
	for len(c.StatusChanges()) > 0 {
		last = <-c.StatusChanges()
	}
	assert.Equal(t, model.StateConnected, last.State)
	assert.Equal(t, cap(c.StatusChanges()), 16)
}
