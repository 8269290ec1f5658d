package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopmind/shopmind/store"
)

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	usage, err := store.MarshalTokenUsage(create.TokenUsage)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO agent_thread (id, user_id, title, bookmarked, token_usage)
	         VALUES ($1, $2, $3, $4, $5)
	         RETURNING created_ts, updated_ts`
	if err := d.db.QueryRowContext(ctx, stmt, create.ID, create.UserID, create.Title, create.Bookmarked, usage).
		Scan(&create.CreatedTs, &create.UpdatedTs); err != nil {
		return nil, err
	}
	return create, nil
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	query := fmt.Sprintf(
		`SELECT id, user_id, title, bookmarked, token_usage, created_ts, updated_ts
		 FROM agent_thread WHERE %s ORDER BY updated_ts DESC, id ASC`,
		strings.Join(where, " AND "),
	)
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Thread
	for rows.Next() {
		t := &store.Thread{}
		var usage string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Bookmarked, &usage, &t.CreatedTs, &t.UpdatedTs); err != nil {
			return nil, err
		}
		if t.TokenUsage, err = store.UnmarshalTokenUsage(usage); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (d *DB) UpdateThread(ctx context.Context, update *store.UpdateThread) (*store.Thread, error) {
	set, args := []string{}, []any{}
	if v := update.Title; v != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Bookmarked; v != nil {
		set, args = append(set, "bookmarked = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.TokenUsage; v != nil {
		usage, err := store.MarshalTokenUsage(*v)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "token_usage = "+placeholder(len(args)+1)), append(args, usage)
	}
	if len(set) == 0 {
		list, err := d.ListThreads(ctx, &store.FindThread{ID: &update.ID})
		if err != nil || len(list) == 0 {
			return nil, err
		}
		return list[0], nil
	}
	set = append(set, "updated_ts = EXTRACT(EPOCH FROM NOW())")
	args = append(args, update.ID)
	stmt := fmt.Sprintf(
		`UPDATE agent_thread SET %s WHERE id = %s
		 RETURNING id, user_id, title, bookmarked, token_usage, created_ts, updated_ts`,
		strings.Join(set, ", "), placeholder(len(args)),
	)
	t := &store.Thread{}
	var usage string
	if err := d.db.QueryRowContext(ctx, stmt, args...).
		Scan(&t.ID, &t.UserID, &t.Title, &t.Bookmarked, &usage, &t.CreatedTs, &t.UpdatedTs); err != nil {
		return nil, err
	}
	var err error
	if t.TokenUsage, err = store.UnmarshalTokenUsage(usage); err != nil {
		return nil, err
	}
	return t, nil
}
