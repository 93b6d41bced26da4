package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/fleetdash/internal/feed"
	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/metrics"
	"github.com/nhle/fleetdash/internal/model"
)

// Transport opens push subscriptions.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live push subscription. Receive must return once ctx ends
// or the connection is closed. Close may be called more than once.
type Conn interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Lister fetches the authoritative notification list for a resync.
type Lister interface {
	ListNotifications(ctx context.Context) ([]json.RawMessage, error)
}

// Status is a point-in-time view of the channel.
type Status struct {
	State    model.ConnectionState
	Attempt  int
	LastSync time.Time
	Err      error
}

// StatusMsg is a tea.Msg carrying a channel status change.
type StatusMsg Status

// StoreChangedMsg is a tea.Msg sent when the canonical store changed.
type StoreChangedMsg struct{}

// resyncTimeout bounds a single list fetch.
const resyncTimeout = 30 * time.Second

const defaultMailboxSize = 256

var errConnectionClosed = errors.New("push connection closed")

// Options configures a Channel.
type Options struct {
	Backoff     Backoff
	MailboxSize int
	Logger      *logger.Logger
	Metrics     *metrics.Recorder
}

// Channel keeps a push subscription alive and feeds it into the store.
// Frames go through a bounded mailbox drained by a single loop, so the
// transport's order is the order events are applied in.
type Channel struct {
	store     *feed.Store
	transport Transport
	lister    Lister
	backoff   Backoff
	mailbox   int
	log       *logger.Logger
	metrics   *metrics.Recorder

	mu       gosync.Mutex
	status   Status
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	statusCh chan Status
	sendMu   gosync.Mutex
}

// New creates a Channel. It does nothing until Start or Run.
func New(store *feed.Store, transport Transport, lister Lister, opts Options) *Channel {
	c := &Channel{
		store:     store,
		transport: transport,
		lister:    lister,
		backoff:   opts.Backoff,
		mailbox:   opts.MailboxSize,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		statusCh:  make(chan Status, 16),
	}
	if c.mailbox <= 0 {
		c.mailbox = defaultMailboxSize
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.WithComponent("sync")
	return c
}

// Start runs the channel in the background until Stop or ctx ends.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.Run(ctx)
	}()
}

// Stop tears the channel down and waits for it. Pending backoff waits and
// buffered frames are discarded.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	<-done
}

// Run is the connection state machine. It blocks until ctx ends and never
// gives up reconnecting on its own.
func (c *Channel) Run(ctx context.Context) {
	defer c.setState(model.StateDisconnected, 0, nil)

	policy := c.backoff.policy()
	attempt := 0
	connectAndConsume := func() error {
		c.setState(model.StateConnecting, attempt, nil)

		conn, err := c.Connect(ctx)
		if err == nil {
			attempt = 0
			policy.Reset()
			c.setState(model.StateConnected, 0, nil)
			err = c.consume(ctx, conn)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errConnectionClosed
		}
		return err
	}
	reconnecting := func(err error, delay time.Duration) {
		attempt++
		c.log.Warn("push channel lost, reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", errString(err)),
		)
		c.metrics.Reconnect()
		c.setState(model.StateReconnecting, attempt, err)
	}

	_ = backoff.RetryNotify(connectAndConsume, backoff.WithContext(policy, ctx), reconnecting)
}

// Connect dials the transport and performs a full resync. If the resync
// fails the connection is closed and the store is left untouched.
func (c *Channel) Connect(ctx context.Context) (Conn, error) {
	conn, err := c.transport.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialing push transport: %w", err)
	}
	if err := c.Resync(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Resync fetches the full list and replaces the store with it atomically.
func (c *Channel) Resync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, resyncTimeout)
	defer cancel()

	items, err := c.lister.ListNotifications(ctx)
	c.metrics.Resync(err)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	patches := make([]feed.Patch, 0, len(items))
	dropped := 0
	for _, item := range items {
		p, err := feed.DecodePatch(item)
		if err != nil {
			dropped++
			continue
		}
		patches = append(patches, p)
	}
	if dropped > 0 {
		c.log.Warn("resync dropped malformed notifications", slog.Int("count", dropped))
		c.metrics.EventDropped("invalid_item", dropped)
	}

	c.store.Replace(feed.Records(patches, time.Now()))
	c.markSynced()
	c.log.Debug("resync complete", slog.Int("count", len(patches)))
	return nil
}

// consume pumps frames from conn through the mailbox until the connection
// fails or ctx ends.
func (c *Channel) consume(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	mailbox := make(chan []byte, c.mailbox)
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		defer close(mailbox)
		for {
			frame, err := conn.Receive(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case mailbox <- frame:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	defer func() {
		cancel()
		conn.Close()
		<-readerDone
	}()

	for {
		select {
		case frame, ok := <-mailbox:
			if !ok {
				err := <-readErr
				if err == nil {
					err = errConnectionClosed
				}
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.handle(frame)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) handle(frame []byte) {
	ev, err := feed.DecodeEvent(frame)
	if err != nil {
		c.log.Warn("dropping malformed push frame", slog.String("error", err.Error()))
		c.metrics.EventDropped("malformed", 1)
		return
	}
	if ev.Dropped > 0 {
		c.log.Warn("dropping malformed notifications",
			slog.String("kind", string(ev.Kind)),
			slog.Int("count", ev.Dropped),
		)
		c.metrics.EventDropped("invalid_item", ev.Dropped)
	}

	c.store.Apply(ev)
	c.metrics.EventApplied(string(ev.Kind))
	if ev.Kind == feed.EventBulkReplace {
		c.markSynced()
	}
}

// Status returns the current channel status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) setState(state model.ConnectionState, attempt int, err error) {
	c.mu.Lock()
	c.status.State = state
	c.status.Attempt = attempt
	c.status.Err = err
	st := c.status
	c.mu.Unlock()

	c.metrics.ConnectionState(int(state))
	c.sendStatus(st)
}

func (c *Channel) markSynced() {
	c.mu.Lock()
	c.status.LastSync = time.Now()
	c.mu.Unlock()
}

// sendStatus publishes without blocking. When the buffer is full the
// oldest status is discarded, so a slow reader still ends on the latest.
func (c *Channel) sendStatus(st Status) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for {
		select {
		case c.statusCh <- st:
			return
		default:
		}
		select {
		case <-c.statusCh:
		default:
		}
	}
}

// StatusChanges exposes status transitions for headless consumers.
func (c *Channel) StatusChanges() <-chan Status {
	return c.statusCh
}

// WaitForStatus returns a tea.Cmd that waits for the next status change.
// Call it again after handling each StatusMsg to keep listening.
func (c *Channel) WaitForStatus() tea.Cmd {
	return func() tea.Msg {
		st, ok := <-c.statusCh
		if !ok {
			return nil
		}
		return StatusMsg(st)
	}
}

// WaitForChange returns a tea.Cmd that waits for the next store change
// signal from a feed.Store subscription.
func WaitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return StoreChangedMsg{}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
