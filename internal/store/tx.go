package store

import (
	"context"
	"database/sql"
	"strings"
)

// Tx wraps a *sql.Tx together with the Backend that opened it, so every
// call site can write dialect-neutral "?" placeholders and have them
// rebound to "$1, $2, ..." on Postgres. Grounded on the Backend split
// already used for OnConflictDoNothing — placeholder syntax is just
// another dialect difference the store hides from its callers.
type Tx struct {
	tx      *sql.Tx
	backend Backend
}

func (t Tx) rebind(query string) string {
	if t.backend.Dialect() == SQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(t.backend.Placeholder(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (t Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.rebind(query), args...)
}

func (t Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.rebind(query), args...)
}

func (t Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.rebind(query), args...)
}

func (t Tx) Raw() *sql.Tx { return t.tx }

// Backend exposes the dialect backend the transaction was opened
// against, for callers that need to build dialect-specific SQL
// fragments (e.g. OnConflictDoNothing).
func (t Tx) Backend() Backend { return t.backend }

// dbQueryer is the non-transactional Queryer over *sql.DB; together
// with Tx it lets read helpers run either standalone or inside a
// publish transaction.
type dbQueryer struct {
	db      *sql.DB
	backend Backend
}

func (d dbQueryer) rebind(query string) string {
	return Tx{backend: d.backend}.rebind(query)
}

func (d dbQueryer) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

func (d dbQueryer) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any returned error — the publish pipeline's "either
// all writes commit, or none do" unit (spec §4.3).
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	tx := Tx{tx: sqlTx, backend: s.backend}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "err", rbErr)
		}
		return err
	}
	return sqlTx.Commit()
}

// Reader returns a Queryer bound to the store's *sql.DB (not inside a
// transaction) for read-only helpers.
func (s *Store) Reader() Queryer {
	return dbQueryer{db: s.db, backend: s.backend}
}
