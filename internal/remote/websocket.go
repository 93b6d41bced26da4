package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	feedsync "github.com/nhle/fleetdash/internal/sync"
)

const (
	writeWait = 5 * time.Second

	// DefaultPingInterval keeps intermediaries from idling the socket out.
	DefaultPingInterval = 30 * time.Second
)

// WebSocketTransport subscribes to the feed over a websocket.
type WebSocketTransport struct {
	URL          string
	Token        string
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// NewWebSocketTransport creates a transport for the given ws:// or wss://
// endpoint.
func NewWebSocketTransport(url, token string) *WebSocketTransport {
	return &WebSocketTransport{
		URL:          url,
		Token:        token,
		PingInterval: DefaultPingInterval,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Dial opens the websocket. A 401/403 handshake becomes an *AuthError.
func (t *WebSocketTransport) Dial(ctx context.Context) (feedsync.Conn, error) {
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Endpoint: t.URL, Message: fmt.Sprintf("websocket handshake rejected (%d)", resp.StatusCode)}
		}
		return nil, fmt.Errorf("dialing %s: %w", t.URL, err)
	}

	c := &wsConn{conn: conn, done: make(chan struct{})}
	if t.PingInterval > 0 {
		pongWait := t.PingInterval * 2
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.keepalive(t.PingInterval)
	}
	return c, nil
}

type wsConn struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Receive returns the next text or binary frame.
func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, errors.New("push server closed the connection")
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}
