package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"catalogetl/internal/domain"
	"catalogetl/internal/storage"
)

// inChunk bounds the number of bind parameters in one IN list, keeping well
// under the SQL Server (2100) and older SQLite (999) limits.
const inChunk = 500

// Store is a database/sql backed storage.Store.
type Store struct {
	db   *sql.DB
	d    Dialect
	kind string
	caps storage.Capabilities

	insertProduct string
	updateProduct string
	insertCountry string
	insertAssoc   string
	assocExists   string
}

var _ storage.Store = (*Store)(nil)

// New wraps db. The Store owns db and closes it on Close.
func New(db *sql.DB, kind string, d Dialect, caps storage.Capabilities) *Store {
	return &Store{
		db:   db,
		d:    d,
		kind: kind,
		caps: caps,

		insertProduct: d.insertSQL(domain.ProductTable, domain.ProductColumns),
		updateProduct: d.updateProductSQL(),
		insertCountry: d.insertSQL(domain.CountryTable, domain.CountryColumns),
		insertAssoc:   d.insertSQL(domain.ProductCountryTable, domain.ProductCountryColumns),
		assocExists: fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s AND %s = %s",
			d.Quote(domain.ProductCountryTable),
			d.Quote("product_id"), d.Placeholder(1),
			d.Quote("country_id"), d.Placeholder(2)),
	}
}

// DB exposes the underlying handle for backend extensions and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.d }

func (s *Store) Kind() string                       { return s.kind }
func (s *Store) Capabilities() storage.Capabilities { return s.caps }

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.d.wrap("ensure schema", err)
		}
	}
	return nil
}

func (s *Store) LoadCountries(ctx context.Context) ([]domain.Country, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		s.d.idents(domain.CountryColumns), s.d.Quote(domain.CountryTable), s.d.Quote("id"))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, s.d.wrap("load countries", err)
	}
	defer rows.Close()

	var out []domain.Country
	for rows.Next() {
		var c domain.Country
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, s.d.wrap("scan country", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.d.wrap("load countries", err)
	}
	return out, nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.d.wrap("begin", err)
	}
	return &Tx{tx: tx, s: s}, nil
}

func (s *Store) Counts(ctx context.Context) (storage.TableCounts, error) {
	var c storage.TableCounts
	for _, t := range []struct {
		table string
		dst   *int64
	}{
		{domain.ProductTable, &c.Products},
		{domain.CountryTable, &c.Countries},
		{domain.ProductCountryTable, &c.Associations},
	} {
		q := "SELECT COUNT(*) FROM " + s.d.Quote(t.table)
		if err := s.db.QueryRowContext(ctx, q).Scan(t.dst); err != nil {
			return c, s.d.wrap("count "+t.table, err)
		}
	}
	return c, nil
}

func (s *Store) Close() error { return s.db.Close() }

func chunks(keys []string) [][]string {
	var out [][]string
	for len(keys) > inChunk {
		out = append(out, keys[:inChunk])
		keys = keys[inChunk:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
}

func toArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}
