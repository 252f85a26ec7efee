// Package mysql implements the catalog store on MySQL using
// go-sql-driver/mysql. Only the generic row-by-row strategy is supported.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"catalogetl/internal/storage"
	"catalogetl/internal/storage/sqlstore"
)

// Kind is the storage kind this package registers.
const Kind = "mysql"

// errDuplicateEntry is ER_DUP_ENTRY.
const errDuplicateEntry = 1062

// Config holds MySQL store configuration.
type Config struct {
	DSN      string
	MaxConns int
}

// Dialect is the MySQL dialect. Timestamps are sent as UTC DATETIME(6).
var Dialect = func() sqlstore.Dialect {
	d := sqlstore.Dialect{
		Name:        "mysql",
		Placeholder: sqlstore.QuestionMark,
		Quote:       myIdent,
		TimeValue:   func(t time.Time) any { return t.UTC() },
		IsConflict:  isConflict,
	}
	d.Schema = sqlstore.SchemaSQL(d, sqlstore.ColumnTypes{
		Key:         "VARCHAR(255)",
		Text:        "TEXT",
		Timestamp:   "DATETIME(6)",
		Float:       "DOUBLE",
		CountryID:   "BIGINT",
		CountryName: "VARCHAR(255)",
	}, sqlstore.CreateTableIfNotExists(d))
	return d
}()

// Store is a MySQL catalog store.
type Store struct {
	*sqlstore.Store
}

var _ storage.Store = (*Store)(nil)

// NewStore parses the DSN, forcing UTC time handling, and connects.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	mc, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(conn)
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Kind, Dialect, storage.Capabilities{})}, nil
}

// ParseDSN parses dsn and applies the settings the store relies on.
func ParseDSN(dsn string) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc, nil
}

// myIdent quotes a MySQL identifier with backticks.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func isConflict(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
