package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name, usually consisting of at least a
// database name and connection information.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY under concurrent turns.
	sqliteDB.SetMaxOpenConns(1)

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_thread (
			id          TEXT    NOT NULL PRIMARY KEY,
			user_id     TEXT    NOT NULL DEFAULT '',
			title       TEXT    NOT NULL DEFAULT '',
			bookmarked  INTEGER NOT NULL DEFAULT 0,
			token_usage TEXT    NOT NULL DEFAULT '{}',
			created_ts  BIGINT  NOT NULL DEFAULT (strftime('%s', 'now')),
			updated_ts  BIGINT  NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_thread_user ON agent_thread(user_id)`,
		`CREATE TABLE IF NOT EXISTS agent_checkpoint (
			thread_id     TEXT    NOT NULL PRIMARY KEY,
			checkpoint_id TEXT    NOT NULL,
			version       INTEGER NOT NULL,
			data          TEXT    NOT NULL,
			metadata      TEXT    NOT NULL DEFAULT '{}',
			updated_ts    BIGINT  NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_checkpoint_write (
			thread_id     TEXT    NOT NULL,
			checkpoint_id TEXT    NOT NULL,
			task_id       TEXT    NOT NULL,
			idx           INTEGER NOT NULL,
			channel       TEXT    NOT NULL,
			value         TEXT    NOT NULL,
			created_ts    BIGINT  NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id, task_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS message_metadata (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id     TEXT    NOT NULL,
			message_index INTEGER NOT NULL,
			message_id    TEXT,
			user_id       TEXT    NOT NULL DEFAULT '',
			is_liked      INTEGER NOT NULL DEFAULT 0,
			is_disliked   INTEGER NOT NULL DEFAULT 0,
			is_favorited  INTEGER NOT NULL DEFAULT 0,
			is_bookmarked INTEGER NOT NULL DEFAULT 0,
			is_flagged    INTEGER NOT NULL DEFAULT 0,
			is_archived   INTEGER NOT NULL DEFAULT 0,
			UNIQUE (thread_id, message_index)
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "failed to migrate sqlite schema")
		}
	}
	return nil
}
