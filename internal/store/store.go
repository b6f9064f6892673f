// Package store is the transactional persistence layer for entries,
// operations, logs, documents, views, tasks, and blobs, per spec
// §4.1. It supports SQLite and PostgreSQL with identical semantics
// behind a single Store type and a small Backend interface that
// isolates the dialect differences (placeholder syntax, upsert
// clauses). Grounded on roach88-nysm/brutalist/internal/store/store.go
// for the sql.Open / pragma / embedded-schema shape; the table layout
// itself follows spec §4.1, which the teacher (a Pebble KV store) has
// no equivalent for.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/p2panda/aquadoggo/internal/utils"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Dialect identifies which SQL backend a Store talks to.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Backend isolates dialect-specific SQL fragments so the rest of the
// store, and the query planner, can build statements generically.
type Backend interface {
	Dialect() Dialect
	// Placeholder returns the parameter marker for the nth (1-based)
	// bound argument: "?" for SQLite, "$3" for Postgres.
	Placeholder(n int) string
	// OnConflictDoNothing returns an "INSERT ... ON CONFLICT DO NOTHING"
	// clause suffix appropriate for the dialect. Each element of
	// conflictTarget is emitted verbatim between the parens, so a
	// caller can pass either bare column names (to match a PRIMARY KEY
	// or a plain UNIQUE index) or full expressions such as
	// "COALESCE(document_id, '')" (to match a unique expression index
	// like tasks_dedupe) — SQLite and Postgres both require the
	// conflict target to match a constraint/index expression-for-
	// expression, so the caller must pass exactly what the index was
	// declared with.
	OnConflictDoNothing(conflictTarget ...string) string
}

type sqliteBackend struct{}

func (sqliteBackend) Dialect() Dialect       { return SQLite }
func (sqliteBackend) Placeholder(int) string { return "?" }
func (sqliteBackend) OnConflictDoNothing(conflictTarget ...string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", joinCols(conflictTarget))
}

type postgresBackend struct{}

func (postgresBackend) Dialect() Dialect         { return Postgres }
func (postgresBackend) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresBackend) OnConflictDoNothing(conflictTarget ...string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", joinCols(conflictTarget))
}

func joinCols(exprs []string) string {
	out := ""
	for i, c := range exprs {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// Store is the transactional persistence layer, per spec §4.1.
type Store struct {
	db      *sql.DB
	backend Backend
	log     utils.Logger
}

// OpenSQLite opens (creating if necessary) a SQLite database at path,
// applying the WAL/foreign-key pragmas and schema migration the
// teacher's store.Open does.
func OpenSQLite(path string, log utils.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// SQLite allows only one writer; keep the pool serialized so
	// concurrent workers never see SQLITE_BUSY under normal load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, backend: sqliteBackend{}, log: log}, nil
}

// OpenPostgres opens a PostgreSQL database given a connection string
// and a maximum pool size (spec §6 "database_max_connections").
func OpenPostgres(connString string, maxConns int, log utils.Logger) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 32
	}
	db.SetMaxOpenConns(maxConns)
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &Store{db: db, backend: postgresBackend{}, log: log}, nil
}

// Open dispatches to OpenSQLite or OpenPostgres based on the
// "sqlite://" / "postgres://" scheme of databaseURL, matching spec
// §6's single "database_url" configuration key.
func Open(databaseURL string, maxConns int, log utils.Logger) (*Store, error) {
	switch {
	case hasScheme(databaseURL, "sqlite://"):
		return OpenSQLite(databaseURL[len("sqlite://"):], log)
	case hasScheme(databaseURL, "postgres://"), hasScheme(databaseURL, "postgresql://"):
		return OpenPostgres(databaseURL, maxConns, log)
	default:
		// Bare filesystem paths default to SQLite, matching common
		// node-config ergonomics ("aquadoggo.sqlite3").
		return OpenSQLite(databaseURL, log)
	}
}

func hasScheme(url, scheme string) bool {
	return len(url) >= len(scheme) && url[:len(scheme)] == scheme
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Backend() Backend { return s.backend }
