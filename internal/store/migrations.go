package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL DEFAULT 'default',
	title     TEXT NOT NULL DEFAULT '',
	message   TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL,
	read      INTEGER NOT NULL DEFAULT 0,
	seq       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tombstones (
	id TEXT PRIMARY KEY
);

CREATE INDEX IF NOT EXISTS idx_notifications_seq ON notifications(seq);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
