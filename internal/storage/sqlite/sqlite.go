// Package sqlite implements the catalog store on modernc.org/sqlite (pure
// Go, no cgo). SQLite has no COPY, so the bulk session decodes COPY text and
// replays it as prepared INSERTs on a pinned connection. The capability is
// not advertised; callers must ask for the bulk strategy explicitly.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"catalogetl/internal/storage"
	"catalogetl/internal/storage/sqlstore"
)

// Kind is the storage kind this package registers.
const Kind = "sqlite"

// Config holds SQLite store configuration derived from storage.Config.
type Config struct {
	// DSN is a file path or URI, e.g. "catalog.db" or ":memory:".
	DSN string
}

// Store is a SQLite catalog store.
type Store struct {
	*sqlstore.Store
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.BulkLoader = (*Store)(nil)
)

// Dialect is the SQLite dialect. Timestamps are stored as RFC 3339 text in
// UTC so they sort and compare lexically.
var Dialect = func() sqlstore.Dialect {
	d := sqlstore.Dialect{
		Name:        "sqlite",
		Placeholder: sqlstore.QuestionMark,
		Quote:       sqlstore.DoubleQuote,
		TimeValue:   func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
		IsConflict:  isConflict,
	}
	d.Schema = sqlstore.SchemaSQL(d, sqlstore.ColumnTypes{
		Key:         "TEXT",
		Text:        "TEXT",
		Timestamp:   "TEXT",
		Float:       "REAL",
		CountryID:   "INTEGER",
		CountryName: "TEXT",
	}, sqlstore.CreateTableIfNotExists(d))
	return d
}()

// Open opens a SQLite database with foreign keys enforced. The pool is
// limited to one connection: writes serialize anyway and ":memory:"
// databases are private to their connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return db, nil
}

// NewStore opens cfg.DSN and returns a Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := Open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{Store: sqlstore.New(db, Kind, Dialect, storage.Capabilities{})}, nil
}

// OpenBulkSession pins a connection for an emulated bulk load.
func (s *Store) OpenBulkSession(ctx context.Context) (storage.BulkSession, error) {
	conn, err := s.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pin connection: %w", err)
	}
	return &bulkSession{conn: conn}, nil
}

func isConflict(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}
