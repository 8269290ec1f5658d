package mysql

import (
	"context"
	"database/sql"
	"log/slog"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/store"
	"github.com/shopmind/shopmind/store/db/tlsconfig"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	config  *mysql.Config
}

func NewDB(profile *profile.Profile, tls tlsconfig.Config) (store.Driver, error) {
	// Open MySQL connection with parameter.
	// multiStatements=true is required for migration.
	// See more in: https://github.com/go-sql-driver/mysql#multistatements
	cfg, err := mysql.ParseDSN(profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dsn: %s", profile.DSN)
	}
	cfg.MultiStatements = true

	// A DSN that names its own tls profile keeps it.
	if cfg.TLSConfig == "" && tls.Enabled() {
		host, _, splitErr := net.SplitHostPort(cfg.Addr)
		if splitErr != nil {
			host = cfg.Addr
		}
		tlsConfig, err := tls.TLS(host)
		if err != nil {
			return nil, err
		}
		cfg.TLS = tlsConfig
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create mysql connector")
	}
	db := sql.OpenDB(connector)
	slog.Debug("opened mysql connection", slog.String("addr", cfg.Addr), slog.Bool("tls", cfg.TLS != nil))

	return &DB{db: db, profile: profile, config: cfg}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS `agent_thread` (" +
			"`id` VARCHAR(256) NOT NULL PRIMARY KEY," +
			"`user_id` VARCHAR(256) NOT NULL DEFAULT ''," +
			"`title` TEXT NOT NULL," +
			"`bookmarked` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`token_usage` TEXT NOT NULL," +
			"`created_ts` BIGINT NOT NULL DEFAULT (UNIX_TIMESTAMP())," +
			"`updated_ts` BIGINT NOT NULL DEFAULT (UNIX_TIMESTAMP())," +
			"INDEX `idx_agent_thread_user` (`user_id`))",
		"CREATE TABLE IF NOT EXISTS `agent_checkpoint` (" +
			"`thread_id` VARCHAR(256) NOT NULL PRIMARY KEY," +
			"`checkpoint_id` VARCHAR(64) NOT NULL," +
			"`version` BIGINT NOT NULL," +
			"`data` LONGTEXT NOT NULL," +
			"`metadata` TEXT NOT NULL," +
			"`updated_ts` BIGINT NOT NULL)",
		"CREATE TABLE IF NOT EXISTS `agent_checkpoint_write` (" +
			"`thread_id` VARCHAR(256) NOT NULL," +
			"`checkpoint_id` VARCHAR(64) NOT NULL," +
			"`task_id` VARCHAR(128) NOT NULL," +
			"`idx` INT NOT NULL," +
			"`channel` VARCHAR(128) NOT NULL," +
			"`value` LONGTEXT NOT NULL," +
			"`created_ts` BIGINT NOT NULL," +
			"PRIMARY KEY (`thread_id`, `checkpoint_id`, `task_id`, `idx`))",
		"CREATE TABLE IF NOT EXISTS `message_metadata` (" +
			"`id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
			"`thread_id` VARCHAR(256) NOT NULL," +
			"`message_index` INT NOT NULL," +
			"`message_id` VARCHAR(256)," +
			"`user_id` VARCHAR(256) NOT NULL DEFAULT ''," +
			"`is_liked` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`is_disliked` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`is_favorited` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`is_bookmarked` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`is_flagged` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`is_archived` BOOLEAN NOT NULL DEFAULT FALSE," +
			"UNIQUE KEY `uk_message_metadata` (`thread_id`, `message_index`))",
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "failed to migrate mysql schema")
		}
	}
	return nil
}
