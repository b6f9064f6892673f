package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/types"
)

// maxLogAssignAttempts bounds the compute-then-insert retry loop
// EnsureLog runs against logs_pubkey_logid: each failed attempt means
// a concurrent writer claimed that log_id for this public_key first,
// so the next attempt just tries the following one.
const maxLogAssignAttempts = 16

// EnsureLog looks up the log_id assigned to (public_key, document_id),
// assigning MAX(log_id for public_key)+1 if none exists yet. Race-safe
// across concurrent writers: the insert's conflict target is
// logs_pubkey_logid, the only unique constraint an insert here can
// actually hit ((public_key, document_id) has no unique constraint of
// its own — document_id only distinguishes rows within the
// (public_key, document_id, log_id) primary key). A conflict means
// another writer claimed that log_id first, possibly for a different
// document_id, so this retries with the next candidate rather than
// re-reading by document_id, per spec §4.1 "Log assignment".
func EnsureLog(ctx context.Context, tx Tx, author types.PublicKey, documentID types.DocumentID, schemaID types.SchemaID) (types.LogID, error) {
	var existing string
	err := tx.QueryRowContext(ctx, `
		SELECT log_id FROM logs WHERE public_key = ? AND document_id = ?`,
		author.String(), documentID.String()).Scan(&existing)
	if err == nil {
		id, perr := parseLogID(existing)
		return id, perr
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup log: %w", err)
	}

	var maxLogID sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT log_id FROM logs WHERE public_key = ?
		ORDER BY CAST(log_id AS NUMERIC) DESC LIMIT 1`,
		author.String()).Scan(&maxLogID)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup max log id: %w", err)
	}

	var nextID types.LogID
	if maxLogID.Valid {
		cur, perr := parseLogID(maxLogID.String)
		if perr != nil {
			return 0, perr
		}
		nextID = cur + 1
	}

	for attempt := 0; attempt < maxLogAssignAttempts; attempt++ {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO logs (public_key, document_id, log_id, schema_id)
			VALUES (?, ?, ?, ?)
			`+tx.Backend().OnConflictDoNothing("public_key", "log_id"),
			author.String(), documentID.String(), logIDText(nextID), schemaID.String())
		if err != nil {
			return 0, fmt.Errorf("insert log: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert log: rows affected: %w", err)
		}
		if affected == 1 {
			return nextID, nil
		}
		nextID++
	}
	return 0, fmt.Errorf("assign log for %s: exhausted %d attempts against concurrent writers", author, maxLogAssignAttempts)
}

// LogRow identifies one (public_key, log_id) log and the schema its
// document belongs to, for the replication engine's target_set scans.
type LogRow struct {
	PublicKey types.PublicKey
	LogID     types.LogID
	SchemaID  types.SchemaID
}

// ListLogsBySchemas returns every log whose schema_id is in schemaIDs,
// for building a Have advertisement restricted to a session's
// target_set (spec §4.7).
func ListLogsBySchemas(ctx context.Context, q Queryer, schemaIDs []string) ([]LogRow, error) {
	if len(schemaIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(schemaIDs))
	args := make([]any, len(schemaIDs))
	for i, id := range schemaIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT public_key, log_id, schema_id FROM logs WHERE schema_id IN (%s)`,
		joinCols(placeholders))
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs by schema: %w", err)
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var pkStr, logIDStr, schemaIDStr string
		if err := rows.Scan(&pkStr, &logIDStr, &schemaIDStr); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		pk, err := parsePublicKey(pkStr)
		if err != nil {
			return nil, err
		}
		logID, err := parseLogID(logIDStr)
		if err != nil {
			return nil, err
		}
		schemaID, err := types.ParseSchemaID(schemaIDStr)
		if err != nil {
			return nil, err
		}
		out = append(out, LogRow{PublicKey: pk, LogID: logID, SchemaID: schemaID})
	}
	return out, rows.Err()
}

func parseLogID(s string) (types.LogID, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("parse log id %q: %w", s, err)
	}
	return types.LogID(n), nil
}
