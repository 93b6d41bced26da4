package remote

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedsync "github.com/nhle/fleetdash/internal/sync"
)

const natsSubject = "fleet.notifications"

func runNATS(t *testing.T) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = server.RANDOM_PORT
	opts.Authorization = "tok"
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv
}

func publisher(t *testing.T, srv *server.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(srv.ClientURL(), nats.Token("tok"))
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func dialNATS(t *testing.T, tr *NATSTransport) feedsync.Conn {
	t.Helper()
	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receive(t *testing.T, conn feedsync.Conn) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return conn.Receive(ctx)
}

func TestNATSTransportReceivesFrames(t *testing.T) {
	srv := runNATS(t)
	conn := dialNATS(t, NewNATSTransport(srv.ClientURL(), natsSubject, "tok"))

	pub := publisher(t, srv)
	require.NoError(t, pub.Publish(natsSubject, []byte(`{"kind":"created","payload":{"id":"a"}}`)))
	require.NoError(t, pub.Flush())

	frame, err := receive(t, conn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"created","payload":{"id":"a"}}`, string(frame))
}

func TestNATSTransportRejectsBadToken(t *testing.T) {
	srv := runNATS(t)
	_, err := NewNATSTransport(srv.ClientURL(), natsSubject, "wrong").Dial(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestNATSTransportServerShutdownFailsReceive(t *testing.T) {
	srv := runNATS(t)
	conn := dialNATS(t, NewNATSTransport(srv.ClientURL(), natsSubject, "tok"))

	srv.Shutdown()

	_, err := receive(t, conn)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestNATSTransportSlowConsumerFailsReceive(t *testing.T) {
	srv := runNATS(t)
	tr := NewNATSTransport(srv.ClientURL(), natsSubject, "tok")
	tr.Buffer = 1
	conn := dialNATS(t, tr)

	pub := publisher(t, srv)
	for range 50 {
		require.NoError(t, pub.Publish(natsSubject, []byte(`{"kind":"deleted","payload":["a"]}`)))
	}
	require.NoError(t, pub.Flush())

	// Buffered frames may come first; the dropped ones must surface as an error.
	var err error
	for range 60 {
		if _, err = receive(t, conn); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrSlowConsumer)
}
