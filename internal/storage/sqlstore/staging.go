package sqlstore

import (
	"fmt"
	"strings"

	"catalogetl/internal/domain"
	"catalogetl/internal/storage"
)

// StagingSQL returns the statements that create both staging tables as
// empty copies of the permanent tables plus the row number column. They
// are valid for PostgreSQL and SQLite.
func StagingSQL(d Dialect, rownumType string) []string {
	return []string{
		fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE 1 = 0",
			d.Quote(storage.StagingProductTable), d.idents(domain.ProductColumns), d.Quote(domain.ProductTable)),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			d.Quote(storage.StagingProductTable), d.Quote(storage.RowNumColumn), rownumType),
		fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE 1 = 0",
			d.Quote(storage.StagingProductCountryTable), d.idents(domain.ProductCountryColumns), d.Quote(domain.ProductCountryTable)),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			d.Quote(storage.StagingProductCountryTable), d.Quote(storage.RowNumColumn), rownumType),
	}
}

// MergeProductsSQL upserts the latest staged row per product id. Every
// non-key column is overwritten on conflict.
func MergeProductsSQL(d Dialect) string {
	key := d.Quote(domain.ProductColumns[0])
	sets := make([]string, 0, len(domain.ProductColumns)-1)
	for _, c := range domain.ProductColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", d.Quote(c), d.Quote(c)))
	}
	return fmt.Sprintf(`INSERT INTO %[1]s (%[2]s)
SELECT %[2]s FROM %[3]s
WHERE %[4]s IN (SELECT max(%[4]s) FROM %[3]s GROUP BY %[5]s)
ON CONFLICT (%[5]s) DO UPDATE SET %[6]s`,
		d.Quote(domain.ProductTable),
		d.idents(domain.ProductColumns),
		d.Quote(storage.StagingProductTable),
		d.Quote(storage.RowNumColumn),
		key,
		strings.Join(sets, ", "),
	)
}

// MergeAssociationsSQL inserts staged associations, ignoring existing pairs.
func MergeAssociationsSQL(d Dialect) string {
	cols := d.idents(domain.ProductCountryColumns)
	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT DISTINCT %s FROM %s WHERE true
ON CONFLICT DO NOTHING`,
		d.Quote(domain.ProductCountryTable), cols, cols, d.Quote(storage.StagingProductCountryTable))
}

// DropStagingSQL drops both staging tables if they exist.
func DropStagingSQL(d Dialect) []string {
	return []string{
		"DROP TABLE IF EXISTS " + d.Quote(storage.StagingProductCountryTable),
		"DROP TABLE IF EXISTS " + d.Quote(storage.StagingProductTable),
	}
}

// StagingProductColumns is the COPY column list of the product staging table.
func StagingProductColumns() []string {
	return append(append([]string{}, domain.ProductColumns...), storage.RowNumColumn)
}

// StagingAssociationColumns is the COPY column list of the association
// staging table.
func StagingAssociationColumns() []string {
	return append(append([]string{}, domain.ProductCountryColumns...), storage.RowNumColumn)
}

// InsertSQL exposes the dialect's INSERT statement for table and cols.
func InsertSQL(d Dialect, table string, cols []string) string { return d.insertSQL(table, cols) }

// Idents quotes and joins cols.
func Idents(d Dialect, cols []string) string { return d.idents(cols) }

// Wrap annotates err with the dialect name and operation, marking key
// violations with storage.ErrConflict.
func Wrap(d Dialect, op string, err error) error { return d.wrap(op, err) }
