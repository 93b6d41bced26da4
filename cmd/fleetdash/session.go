package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/fleetdash/internal/credential"
	"github.com/nhle/fleetdash/internal/feed"
	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/metrics"
	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/remote"
	"github.com/nhle/fleetdash/internal/store"
	feedsync "github.com/nhle/fleetdash/internal/sync"
)

// session is one wired-up feed: backend client, push channel, canonical
// store and the optional snapshot cache.
type session struct {
	cfg     *model.AppConfig
	log     *logger.Logger
	metrics *metrics.Recorder
	client  *remote.Client
	store   *feed.Store
	channel *feedsync.Channel
	cache   *store.SQLiteStore
}

func newSession(ctx context.Context, cfg *model.AppConfig, log *logger.Logger, withCache bool) (*session, error) {
	token, err := credential.Token()
	if err != nil {
		log.Warn("reading API token failed; continuing without one", slog.String("error", err.Error()))
	}

	transport, err := remote.NewTransport(cfg.Push, token)
	if err != nil {
		return nil, err
	}

	rec := metrics.New()
	client := remote.NewClient(cfg.Backend.BaseURL, token,
		remote.WithTimeout(cfg.Backend.Timeout),
		remote.WithLogger(log),
	)
	st := feed.NewStore(client, feed.WithLogger(log), feed.WithMetrics(rec))
	ch := feedsync.New(st, transport, client, feedsync.Options{
		Backoff: feedsync.Backoff{
			Base:   cfg.Reconnect.BaseDelay,
			Max:    cfg.Reconnect.MaxDelay,
			Jitter: cfg.Reconnect.Jitter,
		},
		Logger:  log,
		Metrics: rec,
	})

	s := &session{cfg: cfg, log: log, metrics: rec, client: client, store: st, channel: ch}
	if withCache && cfg.Cache.Enabled {
		s.openCache(ctx)
	}
	return s, nil
}

// openCache restores the last saved feed. A broken cache only costs the
// offline view, so failures are logged and the cache is skipped.
func (s *session) openCache(ctx context.Context) {
	path := s.cfg.Cache.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.log.Warn("creating cache directory failed", slog.String("error", err.Error()))
		return
	}
	cache, err := store.NewSQLiteStore(path)
	if err != nil {
		s.log.Warn("opening feed cache failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	snap, err := cache.LoadSnapshot(ctx)
	if err != nil {
		s.log.Warn("loading feed cache failed", slog.String("error", err.Error()))
	} else if len(snap.Records) > 0 {
		s.store.Restore(snap)
		s.log.Info("restored cached feed",
			slog.Int("records", len(snap.Records)),
			slog.Time("saved_at", snap.SavedAt))
	}
	s.cache = cache
}

// start runs the push channel, the autosaver and the metrics endpoint in g
// until ctx ends.
func (s *session) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		s.channel.Run(ctx)
		return nil
	})
	if s.cache != nil {
		g.Go(func() error {
			return store.Autosave(ctx, s.store, s.cache, s.cfg.Cache.SaveInterval, s.log)
		})
	}
	if addr := s.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error {
			return serveHTTP(ctx, addr, metricsMux(s.metrics), s.log)
		})
	}
}

func (s *session) close() {
	s.store.Close()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("closing feed cache failed", slog.String("error", err.Error()))
		}
	}
}

func metricsMux(rec *metrics.Recorder) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	return mux
}

// serveHTTP serves h on addr until ctx ends.
func serveHTTP(ctx context.Context, addr string, h http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving %s: %w", addr, err)
	}
	return nil
}
