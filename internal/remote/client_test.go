package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/", "secret", WithRetry(2, time.Millisecond))
}

func TestListNotificationsShapes(t *testing.T) {
	bodies := []string{
		`[{"id":"a"},{"id":"b"}]`,
		`{"notifications":[{"id":"a"},{"id":"b"}]}`,
		`{"data":[{"id":"a"},{"id":"b"}]}`,
	}
	for _, body := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/notifications", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		})

		items, err := c.ListNotifications(context.Background())
		require.NoError(t, err, body)
		require.Len(t, items, 2, body)

		var first struct{ ID string }
		require.NoError(t, json.Unmarshal(items[0], &first))
		assert.Equal(t, "a", first.ID)
	}
}

func TestMutationEndpoints(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Method+" "+r.URL.EscapedPath())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	require.NoError(t, c.MarkRead(ctx, "veh/1"))
	require.NoError(t, c.MarkAllRead(ctx))
	require.NoError(t, c.DeleteNotification(ctx, "n-2"))
	require.NoError(t, c.ClearNotifications(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"PATCH /api/notifications/veh%2F1/read",
		"PATCH /api/notifications/read-all",
		"DELETE /api/notifications/n-2",
		"DELETE /api/notifications",
	}, got)
}

func TestRetriesOnServerErrors(t *testing.T) {
	var (
		calls atomic.Int32
		mu    sync.Mutex
		ids   []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Request-Id"))
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.MarkAllRead(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2], "retries keep the request id")
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	})

	err := c.MarkRead(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Message)
}

func TestNotFoundIsReported(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.DeleteNotification(context.Background(), "gone")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.NotFound())
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.ListNotifications(context.Background())
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestContextCancelStopsRetries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.MarkAllRead(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryAfterReplacesExponentialDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "secret", WithRetry(1, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.MarkAllRead(ctx))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryPolicyDoublesAndCaps(t *testing.T) {
	c := NewClient("http://unused", "", WithRetry(3, 10*time.Second))
	p := c.retryPolicy()

	var got []time.Duration
	for range 4 {
		got = append(got, p.NextBackOff())
	}
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}, got)

	p.retryAfter("120")
	assert.Equal(t, maxRetryDelay, p.NextBackOff(), "Retry-After is capped")
	p.retryAfter("soon")
	assert.Equal(t, 30*time.Second, p.NextBackOff(), "unparsable Retry-After falls back")
}
