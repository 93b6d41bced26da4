package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/metrics"
	"github.com/nhle/fleetdash/internal/model"
)

// Backend acknowledges the store's optimistic mutations.
type Backend interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error
}

type entry struct {
	rec model.Notification
	seq uint64

	// pendingRead is set while a read acknowledgement is in flight, so a
	// concurrent resync cannot flip the record back to unread.
	pendingRead bool
}

type tombstone struct {
	inflight bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l.WithComponent("feed") }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the ingestion clock used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the canonical, process-local set of notifications keyed by id.
// All mutations are serialized; readers get copies.
type Store struct {
	backend Backend
	log     *logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu         sync.RWMutex
	entries    map[string]*entry
	tombstones map[string]*tombstone
	seq        uint64
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewStore creates an empty store acknowledging mutations through backend.
func NewStore(backend Backend, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend:    backend,
		log:        logger.Nop(),
		now:        time.Now,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]*tombstone),
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close discards in-flight acknowledgements and releases subscribers.
// Responses arriving afterwards have no effect.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
}

// MarkAsRead marks one notification read locally and asks the backend to
// do the same. Absent or already-read ids are a no-op with no request.
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e, ok := s.entries[id]
	if !ok || e.rec.Read {
		s.mu.Unlock()
		return nil
	}
	e.rec.Read = true
	e.pendingRead = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	s.notify()

	err := s.call(ctx, "mark_read", func(ctx context.Context) error {
		return s.backend.MarkRead(ctx, id)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if e, ok := s.entries[id]; ok {
		e.pendingRead = false
	}
	if err != nil {
		return &AckError{Op: "mark_read", ID: id, Err: err}
	}
	return nil
}

// MarkAllAsRead marks every unread notification read in one local batch
// followed by one backend request. Nothing unread means no request.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var ids []string
	for id, e := range s.entries {
		if e.rec.Read {
			continue
		}
		e.rec.Read = true
		e.pendingRead = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	s.notify()

	err := s.call(ctx, "mark_all_read", s.backend.MarkAllRead)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.pendingRead = false
		}
	}
	if err != nil {
		return &AckError{Op: "mark_all_read", Err: err}
	}
	return nil
}

// DeleteNotification removes a notification locally and on the backend.
// The id is tombstoned so later events cannot bring it back. A 404 from
// the backend counts as success.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, dead := s.tombstones[id]; dead {
		s.mu.Unlock()
		return nil
	}
	delete(s.entries, id)
	ts := &tombstone{inflight: true}
	s.tombstones[id] = ts
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	s.notify()

	err := s.deleteRemote(ctx, id, ts)
	if err != nil {
		return &AckError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

// ClearAllNotifications empties the store and asks the backend to do the
// same.
func (s *Store) ClearAllNotifications(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cleared := make([]*tombstone, 0, len(s.entries))
	for id := range s.entries {
		ts := &tombstone{inflight: true}
		s.tombstones[id] = ts
		cleared = append(cleared, ts)
	}
	s.entries = make(map[string]*entry)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	s.notify()

	err := s.call(ctx, "clear", s.backend.ClearNotifications)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for _, ts := range cleared {
		ts.inflight = false
	}
	if err != nil {
		return &AckError{Op: "clear", Err: err}
	}
	return nil
}

// Apply merges a push event into the store. It reports whether anything
// changed.
func (s *Store) Apply(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	changed := false
	var redelete []string
	switch ev.Kind {
	case EventCreated, EventUpdated:
		now := s.now()
		for _, p := range ev.Patches {
			if s.upsertLocked(p, now) {
				changed = true
			}
		}
	case EventDeleted:
		for _, id := range ev.IDs {
			if _, ok := s.entries[id]; ok {
				delete(s.entries, id)
				changed = true
			}
			if _, dead := s.tombstones[id]; !dead {
				s.tombstones[id] = &tombstone{}
			}
		}
	case EventBulkReplace:
		redelete = s.replaceLocked(Records(ev.Patches, s.now()))
		changed = true
	}
	s.mu.Unlock()

	s.redelete(redelete)
	if changed {
		s.notify()
	}
	return changed
}

// Replace swaps the whole store for the server's list in one step.
// Records absent from the list disappear; tombstoned ids stay hidden; a
// record whose read acknowledgement is still in flight stays read.
func (s *Store) Replace(records []model.Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	redelete := s.replaceLocked(records)
	s.mu.Unlock()

	s.redelete(redelete)
	s.notify()
}

func (s *Store) upsertLocked(p Patch, now time.Time) bool {
	if _, dead := s.tombstones[p.ID]; dead {
		return false
	}
	if e, ok := s.entries[p.ID]; ok {
		before := e.rec
		p.mergeInto(&e.rec)
		return e.rec != before
	}
	s.seq++
	s.entries[p.ID] = &entry{rec: p.Record(now), seq: s.seq}
	return true
}

// replaceLocked returns tombstoned ids the server still lists and that
// have no delete in flight, so the delete can be sent again. Tombstones
// outlive the resync: ids are never reused, so a late event for a deleted
// id must stay a no-op.
func (s *Store) replaceLocked(records []model.Notification) []string {
	next := make(map[string]*entry, len(records))
	listed := make(map[string]struct{}, len(records))
	var redelete []string

	for _, r := range records {
		if _, seen := listed[r.ID]; seen {
			if e, ok := next[r.ID]; ok {
				e.rec = r
				if e.pendingRead {
					e.rec.Read = true
				}
			}
			continue
		}
		listed[r.ID] = struct{}{}

		if ts, dead := s.tombstones[r.ID]; dead {
			if !ts.inflight {
				ts.inflight = true
				redelete = append(redelete, r.ID)
			}
			continue
		}

		e := &entry{rec: r}
		if old, ok := s.entries[r.ID]; ok {
			e.seq = old.seq
			if old.pendingRead {
				e.rec.Read = true
				e.pendingRead = true
			}
		} else {
			s.seq++
			e.seq = s.seq
		}
		next[r.ID] = e
	}

	s.entries = next
	return redelete
}

func (s *Store) redelete(ids []string) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(len(ids))
	s.mu.Unlock()

	for _, id := range ids {
		go func(id string) {
			defer s.wg.Done()
			s.mu.RLock()
			ts := s.tombstones[id]
			s.mu.RUnlock()
			if ts == nil {
				return
			}
			if err := s.deleteRemote(s.ctx, id, ts); err != nil {
				s.log.Warn("re-sending delete failed",
					slog.String("id", id),
					slog.String("error", err.Error()),
				)
			}
		}(id)
	}
}

func (s *Store) deleteRemote(ctx context.Context, id string, ts *tombstone) error {
	err := s.call(ctx, "delete", func(ctx context.Context) error {
		return s.backend.DeleteNotification(ctx, id)
	})
	if isNotFound(err) {
		err = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	ts.inflight = false
	return err
}

// call runs one backend request bounded by both ctx and the store's
// lifetime.
func (s *Store) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ctx = context.WithValue(ctx, logger.ContextKeyOperation, op)

	err := fn(ctx)
	ackErr := err
	if op == "delete" && isNotFound(err) {
		ackErr = nil
	}
	s.metrics.Ack(op, ackErr)
	if ackErr != nil && s.ctx.Err() == nil {
		s.log.LogError(ctx, err, "backend did not acknowledge mutation")
	}
	return err
}

// Restore loads a cached snapshot as a stale starting view. It is meant
// for startup, before the first resync, and replaces current contents.
func (s *Store) Restore(snap model.FeedSnapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.entries = make(map[string]*entry, len(snap.Records))
	s.tombstones = make(map[string]*tombstone, len(snap.Tombstones))
	for _, id := range snap.Tombstones {
		s.tombstones[id] = &tombstone{}
	}
	for _, r := range snap.Records {
		if _, dead := s.tombstones[r.ID]; dead {
			continue
		}
		if e, dup := s.entries[r.ID]; dup {
			e.rec = r
			continue
		}
		s.seq++
		s.entries[r.ID] = &entry{rec: r, seq: s.seq}
	}
	s.mu.Unlock()
	s.notify()
}

// Export captures the store for the snapshot cache.
func (s *Store) Export() model.FeedSnapshot {
	snap := model.FeedSnapshot{
		Records: s.Snapshot(),
		SavedAt: s.now(),
	}
	s.mu.RLock()
	for id := range s.tombstones {
		snap.Tombstones = append(snap.Tombstones, id)
	}
	s.mu.RUnlock()
	sort.Strings(snap.Tombstones)
	return snap
}

// Snapshot returns a copy of every record in arrival order.
func (s *Store) Snapshot() []model.Notification {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	out := make([]model.Notification, len(entries))
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for i, e := range entries {
		out[i] = e.rec
	}
	s.mu.RUnlock()
	return out
}

// Project runs the filter/sort pipeline over the current snapshot.
func (s *Store) Project(f model.FeedFilter) []model.Notification {
	return Project(s.Snapshot(), f)
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return model.Notification{}, false
	}
	return e.rec, true
}

// Pending reports whether a read acknowledgement for id is in flight.
func (s *Store) Pending(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return ok && e.pendingRead
}

// Deleted reports whether id is tombstoned.
func (s *Store) Deleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[id]
	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// UnreadCount returns the number of unread records.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadLocked()
}

func (s *Store) unreadLocked() int {
	n := 0
	for _, e := range s.entries {
		if !e.rec.Read {
			n++
		}
	}
	return n
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce: a slow reader sees one pending signal, not a backlog.
// The channel is closed when the store closes or cancel is called.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.mu.RLock()
	total, unread := len(s.entries), s.unreadLocked()
	s.mu.RUnlock()
	s.metrics.FeedSize(total, unread)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
