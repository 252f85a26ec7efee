// Package storagetest provides in-memory SQLite stores and table snapshots
// for tests in other packages.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	"catalogetl/internal/domain"
	"catalogetl/internal/storage/sqlite"
)

// NewSQLite returns an in-memory store with the catalog schema applied. It
// is closed when the test ends.
func NewSQLite(tb testing.TB) *sqlite.Store {
	tb.Helper()
	ctx := context.Background()
	s, err := sqlite.NewStore(ctx, sqlite.Config{DSN: ":memory:"})
	if err != nil {
		tb.Fatalf("open sqlite :memory:: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(ctx); err != nil {
		tb.Fatalf("ensure schema: %v", err)
	}
	return s
}

// ProductRow is a product as stored by SQLite.
type ProductRow struct {
	ID           string
	URL          string
	Created      string
	LastModified string
	Name         string
	Brands       sql.NullString
	Countries    sql.NullString
	ImageURL     sql.NullString
	Nutrients    [8]sql.NullFloat64
}

// Snapshot is the full content of the three relations, ordered by key.
type Snapshot struct {
	Products     []ProductRow
	Countries    []domain.Country
	Associations []domain.Association
}

// CountryNames returns the country names in id order.
func (s Snapshot) CountryNames() []string {
	out := make([]string, len(s.Countries))
	for i, c := range s.Countries {
		out[i] = c.Name
	}
	return out
}

// Product returns the row with id, if present.
func (s Snapshot) Product(id string) (ProductRow, bool) {
	for _, p := range s.Products {
		if p.ID == id {
			return p, true
		}
	}
	return ProductRow{}, false
}

// Dump reads every row of the catalog tables.
func Dump(tb testing.TB, db *sql.DB) Snapshot {
	tb.Helper()
	ctx := context.Background()
	var snap Snapshot

	rows, err := db.QueryContext(ctx, `SELECT id, url, created, last_modified, name, brands, countries,
		image_nutrition_url, energy_kcal_100g, energy_100g, fat_100g, saturated_fat_100g,
		carbohydrates_100g, sugars_100g, fiber_100g, proteins_100g FROM product ORDER BY id`)
	if err != nil {
		tb.Fatalf("dump products: %v", err)
	}
	for rows.Next() {
		var p ProductRow
		dst := []any{&p.ID, &p.URL, &p.Created, &p.LastModified, &p.Name, &p.Brands, &p.Countries, &p.ImageURL}
		for i := range p.Nutrients {
			dst = append(dst, &p.Nutrients[i])
		}
		if err := rows.Scan(dst...); err != nil {
			tb.Fatalf("scan product: %v", err)
		}
		snap.Products = append(snap.Products, p)
	}
	if err := rows.Err(); err != nil {
		tb.Fatalf("dump products: %v", err)
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT id, name FROM country ORDER BY id`)
	if err != nil {
		tb.Fatalf("dump countries: %v", err)
	}
	for rows.Next() {
		var c domain.Country
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			tb.Fatalf("scan country: %v", err)
		}
		snap.Countries = append(snap.Countries, c)
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT product_id, country_id FROM product_country ORDER BY product_id, country_id`)
	if err != nil {
		tb.Fatalf("dump associations: %v", err)
	}
	for rows.Next() {
		var a domain.Association
		if err := rows.Scan(&a.ProductID, &a.CountryID); err != nil {
			tb.Fatalf("scan association: %v", err)
		}
		snap.Associations = append(snap.Associations, a)
	}
	rows.Close()

	return snap
}
