package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/types"
)

// TaskRow is a persisted, deduplicated unit of materializer work, per
// spec §4.4. Which of DocumentID/DocumentViewID is set depends on the
// task kind and its enqueuer ("dependency"/"schema" carry a view only;
// "blob" and the publish pipeline's "reduce" carry both).
type TaskRow struct {
	ID             int64
	Name           string
	DocumentID     *types.DocumentID
	DocumentViewID *types.ViewID
}

func nullDocID(id *types.DocumentID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullViewID(v *types.ViewID) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

// InsertTask enqueues a task, silently doing nothing if an identical
// (name, document_id, document_view_id) task is already pending —
// the store-level half of the queue's dedupe guarantee (spec §4.4
// "the same task is never queued twice"). The conflict target must
// match tasks_dedupe's expression index expression-for-expression
// (schema_sqlite.sql/schema_postgres.sql), not the bare columns, since
// document_id/document_view_id are nullable and the index is built
// over COALESCE(..., '') so that two NULLs still collide.
func InsertTask(ctx context.Context, tx Tx, t TaskRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (name, document_id, document_view_id)
		VALUES (?, ?, ?)
		`+tx.Backend().OnConflictDoNothing("name", "COALESCE(document_id, '')", "COALESCE(document_view_id, '')"),
		t.Name, nullDocID(t.DocumentID), nullViewID(t.DocumentViewID))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTasks returns all pending tasks, oldest first (insertion order via
// the id column), for the worker pool to drain on startup after a restart —
// the store is the durable half of the queue, per spec §4.4.
func GetTasks(ctx context.Context, q Queryer) ([]TaskRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, document_id, document_view_id
		FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var t TaskRow
		var docID, viewID sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &docID, &viewID); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if docID.Valid {
			h, err := types.HashFromString(docID.String)
			if err != nil {
				return nil, err
			}
			t.DocumentID = &h
		}
		if viewID.Valid {
			v, err := types.ParseViewID(viewID.String)
			if err != nil {
				return nil, err
			}
			t.DocumentViewID = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RemoveTask deletes a task once its worker has finished processing
// it, whether it succeeded or exhausted its retries.
func RemoveTask(ctx context.Context, tx Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	return nil
}
