// Package mssql implements the catalog store on Microsoft SQL Server using
// go-mssqldb. Only the generic row-by-row strategy is supported.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
	"github.com/microsoft/go-mssqldb/msdsn"

	"catalogetl/internal/storage"
	"catalogetl/internal/storage/sqlstore"
)

// Kind is the storage kind this package registers.
const Kind = "mssql"

// Unique index and primary key violation numbers.
const (
	errDuplicateKey   = 2627
	errDuplicateIndex = 2601
)

// Config holds MSSQL store configuration.
type Config struct {
	DSN      string
	MaxConns int
}

// Dialect is the SQL Server dialect.
var Dialect = func() sqlstore.Dialect {
	d := sqlstore.Dialect{
		Name:        "mssql",
		Placeholder: sqlstore.AtP,
		Quote:       msIdent,
		IsConflict:  isConflict,
	}
	d.Schema = sqlstore.SchemaSQL(d, sqlstore.ColumnTypes{
		Key:         "NVARCHAR(255)",
		Text:        "NVARCHAR(MAX)",
		Timestamp:   "DATETIMEOFFSET",
		Float:       "FLOAT",
		CountryID:   "BIGINT",
		CountryName: "NVARCHAR(450)",
	}, createIfMissing)
	return d
}()

// Store is a SQL Server catalog store.
type Store struct {
	*sqlstore.Store
}

var _ storage.Store = (*Store)(nil)

// NewStore validates the DSN, connects and pings.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Kind, Dialect, storage.Capabilities{})}, nil
}

// createIfMissing guards CREATE TABLE with OBJECT_ID, SQL Server's stand-in
// for IF NOT EXISTS.
func createIfMissing(table, body string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
		strings.ReplaceAll(table, "'", "''"), msIdent(table), body)
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// sqlErrorNumber is implemented by go-mssqldb's Error.
type sqlErrorNumber interface {
	SQLErrorNumber() int32
}

func isConflict(err error) bool {
	var e sqlErrorNumber
	if !errors.As(err, &e) {
		return false
	}
	n := e.SQLErrorNumber()
	return n == errDuplicateKey || n == errDuplicateIndex
}
