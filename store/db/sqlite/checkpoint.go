package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/store"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *DB) SaveCheckpoint(ctx context.Context, record *store.CheckpointRecord, expectedVersion int64) (*store.CheckpointRecord, error) {
	return saveCheckpoint(ctx, d.db, record, expectedVersion)
}

// SaveCheckpointWithMetadata saves the checkpoint and upserts its metadata rows in one transaction.
func (d *DB) SaveCheckpointWithMetadata(ctx context.Context, record *store.CheckpointRecord, expectedVersion int64, rows []*store.MessageMetadata) (*store.CheckpointRecord, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := saveCheckpoint(ctx, tx, record, expectedVersion)
	if err != nil {
		return nil, err
	}
	if err := upsertMessageMetadata(ctx, tx, rows); err != nil {
		return nil, errors.Wrap(err, "failed to upsert message metadata")
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func saveCheckpoint(ctx context.Context, exec execer, record *store.CheckpointRecord, expectedVersion int64) (*store.CheckpointRecord, error) {
	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		result, err = exec.ExecContext(ctx,
			"INSERT INTO `agent_checkpoint` (`thread_id`, `checkpoint_id`, `version`, `data`, `metadata`, `updated_ts`) VALUES (?, ?, 1, ?, ?, ?) ON CONFLICT(`thread_id`) DO NOTHING",
			record.ThreadID, record.CheckpointID, record.Data, record.Metadata, record.UpdatedTs)
	} else {
		result, err = exec.ExecContext(ctx,
			"UPDATE `agent_checkpoint` SET `checkpoint_id` = ?, `version` = `version` + 1, `data` = ?, `metadata` = ?, `updated_ts` = ? WHERE `thread_id` = ? AND `version` = ?",
			record.CheckpointID, record.Data, record.Metadata, record.UpdatedTs, record.ThreadID, expectedVersion)
	}
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, errors.Wrapf(store.ErrStaleCheckpoint, "thread %s", record.ThreadID)
	}
	record.Version = expectedVersion + 1
	return record, nil
}

func (d *DB) GetCheckpoint(ctx context.Context, threadID string) (*store.CheckpointRecord, error) {
	record := &store.CheckpointRecord{}
	err := d.db.QueryRowContext(ctx,
		"SELECT `thread_id`, `checkpoint_id`, `version`, `data`, `metadata`, `updated_ts` FROM `agent_checkpoint` WHERE `thread_id` = ?", threadID).
		Scan(&record.ThreadID, &record.CheckpointID, &record.Version, &record.Data, &record.Metadata, &record.UpdatedTs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (d *DB) CreateCheckpointWrites(ctx context.Context, writes []*store.CheckpointWrite) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO `agent_checkpoint_write` (`thread_id`, `checkpoint_id`, `task_id`, `idx`, `channel`, `value`, `created_ts`) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(`thread_id`, `checkpoint_id`, `task_id`, `idx`) DO UPDATE SET `channel` = excluded.`channel`, `value` = excluded.`value`",
			w.ThreadID, w.CheckpointID, w.TaskID, w.Idx, w.Channel, w.Value, w.CreatedTs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) ListCheckpointWrites(ctx context.Context, find *store.FindCheckpointWrite) ([]*store.CheckpointWrite, error) {
	query := "SELECT `thread_id`, `checkpoint_id`, `task_id`, `idx`, `channel`, `value`, `created_ts` FROM `agent_checkpoint_write` WHERE `thread_id` = ?"
	args := []any{find.ThreadID}
	if v := find.CheckpointID; v != nil {
		query += " AND `checkpoint_id` = ?"
		args = append(args, *v)
	}
	query += " ORDER BY `created_ts` ASC, `task_id` ASC, `idx` ASC"
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.CheckpointWrite
	for rows.Next() {
		w := &store.CheckpointWrite{}
		if err := rows.Scan(&w.ThreadID, &w.CheckpointID, &w.TaskID, &w.Idx, &w.Channel, &w.Value, &w.CreatedTs); err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}
