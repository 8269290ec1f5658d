package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/store"
	"github.com/shopmind/shopmind/store/db/tlsconfig"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile, tls tlsconfig.Config) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	dsn, err := withSSLMode(profile.DSN, tls)
	if err != nil {
		return nil, err
	}
	// Open the PostgreSQL connection
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("failed to open database", slog.String("error", err.Error()))
		return nil, errors.Wrapf(err, "failed to open db: %s", profile.DSN)
	}

	var driver store.Driver = &DB{
		db:      db,
		profile: profile,
	}

	// Return the DB struct
	return driver, nil
}

// withSSLMode applies tls to dsn unless the DSN already chooses an sslmode.
func withSSLMode(dsn string, tls tlsconfig.Config) (string, error) {
	mode := "disable"
	if tls.Enabled() {
		mode = "require"
		if tls.Verify() {
			mode = "verify-full"
		}
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", errors.Wrap(err, "failed to parse postgres dsn")
		}
		q := u.Query()
		if q.Get("sslmode") != "" {
			return dsn, nil
		}
		q.Set("sslmode", mode)
		if tls.Verify() && tls.RootCertFile != "" {
			q.Set("sslrootcert", tls.RootCertFile)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	if strings.Contains(dsn, "sslmode=") {
		return dsn, nil
	}
	dsn = strings.TrimSpace(dsn) + " sslmode=" + mode
	if tls.Verify() && tls.RootCertFile != "" {
		dsn += " sslrootcert=" + tls.RootCertFile
	}
	return dsn, nil
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
			id          TEXT    PRIMARY KEY,
			user_id     TEXT    NOT NULL DEFAULT '',
			title       TEXT    NOT NULL DEFAULT '',
			bookmarked  BOOLEAN NOT NULL DEFAULT FALSE,
			token_usage TEXT    NOT NULL DEFAULT '{}',
			created_ts  BIGINT  NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW()),
			updated_ts  BIGINT  NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_thread_user ON agent_thread(user_id)`,
		`CREATE TABLE IF NOT EXISTS agent_checkpoint (
			thread_id     TEXT   PRIMARY KEY,
			checkpoint_id TEXT   NOT NULL,
			version       BIGINT NOT NULL,
			data          TEXT   NOT NULL,
			metadata      TEXT   NOT NULL DEFAULT '{}',
			updated_ts    BIGINT NOT NULL
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
			id            SERIAL  PRIMARY KEY,
			thread_id     TEXT    NOT NULL,
			message_index INTEGER NOT NULL,
			message_id    TEXT,
			user_id       TEXT    NOT NULL DEFAULT '',
			is_liked      BOOLEAN NOT NULL DEFAULT FALSE,
			is_disliked   BOOLEAN NOT NULL DEFAULT FALSE,
			is_favorited  BOOLEAN NOT NULL DEFAULT FALSE,
			is_bookmarked BOOLEAN NOT NULL DEFAULT FALSE,
			is_flagged    BOOLEAN NOT NULL DEFAULT FALSE,
			is_archived   BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (thread_id, message_index)
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "failed to migrate postgres schema")
		}
	}
	return nil
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}
