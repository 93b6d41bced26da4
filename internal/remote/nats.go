package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	feedsync "github.com/nhle/fleetdash/internal/sync"
)

// NATSTransport subscribes to the feed on a NATS subject. Reconnects are
// left to the channel's own backoff, so the client library's automatic
// reconnect is disabled.
type NATSTransport struct {
	URL     string
	Subject string
	Token   string
	Name    string

	// Buffer is the number of undelivered messages held before the
	// subscription counts as a slow consumer.
	Buffer int
}

const defaultNATSBuffer = 256

// NewNATSTransport creates a transport for subject on the server at url.
func NewNATSTransport(url, subject, token string) *NATSTransport {
	return &NATSTransport{URL: url, Subject: subject, Token: token, Name: "fleetdash", Buffer: defaultNATSBuffer}
}

// Dial connects and subscribes.
func (t *NATSTransport) Dial(ctx context.Context) (feedsync.Conn, error) {
	errCh := make(chan error, 1)
	report := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until > 0 && until < timeout {
			timeout = until
		}
	}

	opts := []nats.Option{
		nats.Name(t.Name),
		nats.NoReconnect(),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			report(fmt.Errorf("nats disconnected: %w", err))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			report(nats.ErrConnectionClosed)
		}),
		// Dropped messages mean the feed drifted; failing the connection
		// makes the channel reconnect and resync.
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			if errors.Is(err, nats.ErrSlowConsumer) {
				report(fmt.Errorf("nats subscription fell behind: %w", err))
			}
		}),
	}
	if t.Token != "" {
		opts = append(opts, nats.Token(t.Token))
	}

	nc, err := nats.Connect(t.URL, opts...)
	if err != nil {
		if errors.Is(err, nats.ErrAuthorization) {
			return nil, &AuthError{Endpoint: t.URL, Message: err.Error()}
		}
		return nil, fmt.Errorf("connecting to nats %s: %w", t.URL, err)
	}

	buffer := t.Buffer
	if buffer <= 0 {
		buffer = defaultNATSBuffer
	}
	msgs := make(chan *nats.Msg, buffer)
	sub, err := nc.ChanSubscribe(t.Subject, msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", t.Subject, err)
	}

	return &natsConn{nc: nc, sub: sub, msgs: msgs, errCh: errCh}, nil
}

type natsConn struct {
	nc    *nats.Conn
	sub   *nats.Subscription
	msgs  chan *nats.Msg
	errCh chan error
	once  sync.Once
}

func (c *natsConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg.Data, nil
	case err := <-c.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *natsConn) Close() error {
	c.once.Do(func() {
		_ = c.sub.Unsubscribe()
		c.nc.Close()
	})
	return nil
}
