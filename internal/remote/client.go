package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nhle/fleetdash/internal/logger"
)

// Client is a thin HTTP client for the fleet notifications REST API.
// It handles Bearer token authentication, JSON decoding, request ids,
// and retry with exponential backoff on 429 and 5xx responses.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	log        *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetry sets the retry budget and the first backoff delay.
func WithRetry(maxRetries int, base time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryBase = base
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) { c.log = l.WithComponent("remote") }
}

// NewClient creates a client for the API rooted at baseURL, e.g.
// https://fleet.example.com/api.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
		retryBase:  time.Second,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListNotifications fetches the authoritative notification list. The
// response may be a bare array or an object wrapping it under
// "notifications" or "data". Items are returned undecoded so the feed can
// normalize them one by one.
func (c *Client) ListNotifications(ctx context.Context) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/notifications", &raw); err != nil {
		return nil, err
	}
	return unwrapList(raw)
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil)
}

// MarkAllRead marks every notification read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil)
}

// DeleteNotification deletes one notification. A 404 is returned as an
// *HTTPError whose NotFound method reports true.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil)
}

// ClearNotifications deletes every notification.
func (c *Client) ClearNotifications(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/notifications", nil)
}

func unwrapList(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decoding notification list: %w", err)
		}
		return items, nil
	}

	var wrapped struct {
		Notifications []json.RawMessage `json:"notifications"`
		Data          []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding notification list: %w", err)
	}
	if wrapped.Notifications != nil {
		return wrapped.Notifications, nil
	}
	return wrapped.Data, nil
}

// do builds the request, handles auth, retries with backoff, and decodes
// the JSON response into result when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, result any) error {
	requestID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.ContextKeyRequestID, requestID)
	log := c.log.WithContext(ctx)

	policy := c.retryPolicy()
	retrying := false
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", requestID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			retrying = true
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return backoff.Permanent(fmt.Errorf("reading response body: %w", readErr))
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&AuthError{
				Endpoint: c.baseURL,
				Message:  fmt.Sprintf("%d on %s %s: check the API token", resp.StatusCode, method, path),
			})

		case retryable(resp.StatusCode):
			policy.retryAfter(resp.Header.Get("Retry-After"))
			retrying = true
			return &HTTPError{
				StatusCode: resp.StatusCode,
				Method:     method,
				Path:       path,
				Message:    errorMessage(respBody),
			}

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(&HTTPError{
				StatusCode: resp.StatusCode,
				Method:     method,
				Path:       path,
				Message:    errorMessage(respBody),
			})
		}

		retrying = false
		if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return backoff.Permanent(fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err))
		}
		return nil
	}

	notify := func(err error, delay time.Duration) {
		log.Debug("retrying backend request",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(c.maxRetries, 0))), ctx)
	err := backoff.RetryNotify(attempt, b, notify)
	if err != nil && retrying && ctx.Err() == nil {
		return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, err)
	}
	return err
}

// maxRetryDelay caps both the exponential delay and Retry-After.
const maxRetryDelay = 30 * time.Second

func (c *Client) retryPolicy() *retryAfterBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryBase
	exp.MaxInterval = maxRetryDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &retryAfterBackOff{ExponentialBackOff: exp}
}

// retryAfterBackOff lets a server's Retry-After header replace the next
// exponential delay.
type retryAfterBackOff struct {
	*backoff.ExponentialBackOff
	override *time.Duration
}

func (b *retryAfterBackOff) retryAfter(header string) {
	b.override = nil
	if header == "" {
		return
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return
	}
	d := min(time.Duration(seconds)*time.Second, maxRetryDelay)
	b.override = &d
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.ExponentialBackOff.NextBackOff()
	if b.override != nil {
		next, b.override = *b.override, nil
	}
	return next
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
