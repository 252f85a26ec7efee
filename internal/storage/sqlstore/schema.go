package sqlstore

import (
	"fmt"
	"strings"

	"catalogetl/internal/domain"
)

// ColumnTypes maps the logical column kinds of the catalog schema to a
// backend's SQL types.
type ColumnTypes struct {
	Key         string // product id
	Text        string
	Timestamp   string
	Float       string
	CountryID   string
	CountryName string // must be indexable for the UNIQUE constraint
}

// CreateIfMissing renders a create-table statement that is a no-op when the
// table exists.
type CreateIfMissing func(table, body string) string

// CreateTableIfNotExists is the CREATE TABLE IF NOT EXISTS form.
func CreateTableIfNotExists(d Dialect) CreateIfMissing {
	return func(table, body string) string {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(table), body)
	}
}

// SchemaSQL renders the fixed catalog schema.
func SchemaSQL(d Dialect, t ColumnTypes, create CreateIfMissing) []string {
	types := map[string]string{
		"id":                  t.Key + " NOT NULL PRIMARY KEY",
		"url":                 t.Text + " NOT NULL",
		"created":             t.Timestamp + " NOT NULL",
		"last_modified":       t.Timestamp + " NOT NULL",
		"name":                t.Text + " NOT NULL",
		"brands":              t.Text,
		"countries":           t.Text,
		"image_nutrition_url": t.Text,
	}
	product := make([]string, len(domain.ProductColumns))
	for i, c := range domain.ProductColumns {
		typ, ok := types[c]
		if !ok {
			typ = t.Float
		}
		product[i] = d.Quote(c) + " " + typ
	}

	country := []string{
		d.Quote("id") + " " + t.CountryID + " NOT NULL PRIMARY KEY",
		d.Quote("name") + " " + t.CountryName + " NOT NULL UNIQUE",
	}

	assoc := []string{
		d.Quote("product_id") + " " + t.Key + " NOT NULL",
		d.Quote("country_id") + " " + t.CountryID + " NOT NULL",
		fmt.Sprintf("PRIMARY KEY (%s)", d.idents(domain.ProductCountryColumns)),
		fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.Quote("product_id"), d.Quote(domain.ProductTable), d.Quote("id")),
		fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.Quote("country_id"), d.Quote(domain.CountryTable), d.Quote("id")),
	}

	return []string{
		create(domain.ProductTable, strings.Join(product, ", ")),
		create(domain.CountryTable, strings.Join(country, ", ")),
		create(domain.ProductCountryTable, strings.Join(assoc, ", ")),
	}
}
