// Package postgres implements the catalog store on PostgreSQL using pgx v5.
// Row-by-row work goes through database/sql (pgx stdlib) so it shares the
// generic statements; bulk loads use a pinned pool connection and COPY FROM
// STDIN into session temp tables, followed by a set-based merge.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"catalogetl/internal/storage"
	"catalogetl/internal/storage/sqlstore"
)

// Kind is the storage kind this package registers.
const Kind = "postgres"

// uniqueViolation is the SQLSTATE for unique and primary key violations.
const uniqueViolation = "23505"

// Config holds Postgres store configuration.
type Config struct {
	DSN      string // connection string for pgxpool
	MaxConns int32  // zero keeps the pgxpool default
}

// Dialect is the PostgreSQL dialect.
var Dialect = func() sqlstore.Dialect {
	d := sqlstore.Dialect{
		Name:        "postgres",
		Placeholder: sqlstore.Dollar,
		Quote:       sqlstore.DoubleQuote,
		IsConflict:  isConflict,
	}
	d.Schema = sqlstore.SchemaSQL(d, sqlstore.ColumnTypes{
		Key:         "TEXT",
		Text:        "TEXT",
		Timestamp:   "TIMESTAMPTZ",
		Float:       "DOUBLE PRECISION",
		CountryID:   "BIGINT",
		CountryName: "TEXT",
	}, sqlstore.CreateTableIfNotExists(d))
	return d
}()

// Store is a Postgres catalog store.
type Store struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.BulkLoader = (*Store)(nil)
)

// NewStore connects to cfg.DSN.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool: ping: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	return &Store{
		Store: sqlstore.New(db, Kind, Dialect, storage.Capabilities{BulkLoad: true}),
		pool:  pool,
	}, nil
}

// Close closes the database/sql handle and then the pool beneath it.
func (s *Store) Close() error {
	var err error
	if s.Store != nil {
		err = s.Store.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// OpenBulkSession acquires a dedicated connection; temp tables are only
// visible to it.
func (s *Store) OpenBulkSession(ctx context.Context) (storage.BulkSession, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire: %w", err)
	}
	return &bulkSession{conn: conn}, nil
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
