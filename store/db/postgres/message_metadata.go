package postgres

import (
	"context"
	"database/sql"

	"github.com/shopmind/shopmind/store"
)

func (d *DB) UpsertMessageMetadata(ctx context.Context, rows []*store.MessageMetadata) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertMessageMetadata(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertMessageMetadata(ctx context.Context, exec execer, rows []*store.MessageMetadata) error {
	// Checkpoint writes must not clobber flags set through UpdateMessageMetadata.
	stmt := `INSERT INTO message_metadata (thread_id, message_index, message_id, user_id, is_liked)
	         VALUES ($1, $2, $3, $4, $5)
	         ON CONFLICT (thread_id, message_index) DO UPDATE SET user_id = EXCLUDED.user_id, is_liked = EXCLUDED.is_liked`
	for _, row := range rows {
		if _, err := exec.ExecContext(ctx, stmt, row.ThreadID, row.MessageIndex, row.MessageID, row.UserID, row.IsLiked); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) UpdateMessageMetadata(ctx context.Context, row *store.MessageMetadata) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO message_metadata (thread_id, message_index, message_id, user_id,
			is_liked, is_disliked, is_favorited, is_bookmarked, is_flagged, is_archived)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (thread_id, message_index) DO UPDATE SET
			message_id = COALESCE(EXCLUDED.message_id, message_metadata.message_id),
			user_id = EXCLUDED.user_id,
			is_liked = EXCLUDED.is_liked,
			is_disliked = EXCLUDED.is_disliked,
			is_favorited = EXCLUDED.is_favorited,
			is_bookmarked = EXCLUDED.is_bookmarked,
			is_flagged = EXCLUDED.is_flagged,
			is_archived = EXCLUDED.is_archived`,
		row.ThreadID, row.MessageIndex, row.MessageID, row.UserID,
		row.IsLiked, row.IsDisliked, row.IsFavorited, row.IsBookmarked, row.IsFlagged, row.IsArchived)
	return err
}

func (d *DB) ListMessageMetadata(ctx context.Context, find *store.FindMessageMetadata) ([]*store.MessageMetadata, error) {
	query := `SELECT thread_id, message_index, message_id, user_id,
	                 is_liked, is_disliked, is_favorited, is_bookmarked, is_flagged, is_archived
	          FROM message_metadata WHERE thread_id = $1`
	args := []any{find.ThreadID}
	if v := find.MessageIndex; v != nil {
		query += " AND message_index = $2"
		args = append(args, *v)
	}
	query += " ORDER BY message_index ASC"
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.MessageMetadata
	for rows.Next() {
		m := &store.MessageMetadata{}
		var messageID sql.NullString
		if err := rows.Scan(&m.ThreadID, &m.MessageIndex, &messageID, &m.UserID,
			&m.IsLiked, &m.IsDisliked, &m.IsFavorited, &m.IsBookmarked, &m.IsFlagged, &m.IsArchived); err != nil {
			return nil, err
		}
		if messageID.Valid {
			id := messageID.String
			m.MessageID = &id
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
