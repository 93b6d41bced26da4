package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/fleetdash/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

type notificationRow struct {
	ID        string    `db:"id"`
	Type      string    `db:"type"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	Timestamp time.Time `db:"timestamp"`
	Read      bool      `db:"read"`
	Seq       int       `db:"seq"`
}

// SaveSnapshot replaces the cached feed in a single transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap model.FeedSnapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM notifications", "DELETE FROM tombstones"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clearing snapshot: %w", err)
		}
	}

	insert, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO notifications (id, type, title, message, timestamp, read, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer insert.Close()

	for i, n := range snap.Records {
		_, err := insert.ExecContext(ctx,
			n.ID, string(n.Type), n.Title, n.Message,
			n.Timestamp.UTC(), boolToInt(n.Read), i,
		)
		if err != nil {
			return fmt.Errorf("saving notification %s: %w", n.ID, err)
		}
	}

	for _, id := range snap.Tombstones {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO tombstones (id) VALUES (?)", id); err != nil {
			return fmt.Errorf("saving tombstone %s: %w", id, err)
		}
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshot_meta (key, value) VALUES ('saved_at', ?)",
		savedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot time: %w", err)
	}

	return tx.Commit()
}

// LoadSnapshot reads the cached feed in arrival order.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (model.FeedSnapshot, error) {
	var snap model.FeedSnapshot

	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, type, title, message, timestamp, read, seq FROM notifications ORDER BY seq")
	if err != nil {
		return snap, fmt.Errorf("loading notifications: %w", err)
	}
	snap.Records = make([]model.Notification, len(rows))
	for i, r := range rows {
		snap.Records[i] = model.Notification{
			ID:        r.ID,
			Type:      model.ParseNotificationType(r.Type),
			Title:     r.Title,
			Message:   r.Message,
			Timestamp: r.Timestamp,
			Read:      r.Read,
		}
	}

	if err := s.db.SelectContext(ctx, &snap.Tombstones, "SELECT id FROM tombstones ORDER BY id"); err != nil {
		return snap, fmt.Errorf("loading tombstones: %w", err)
	}

	var savedAt string
	err = s.db.GetContext(ctx, &savedAt, "SELECT value FROM snapshot_meta WHERE key = 'saved_at'")
	if err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, savedAt); perr == nil {
			snap.SavedAt = ts
		}
	}

	return snap, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
