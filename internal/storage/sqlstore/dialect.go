// Package sqlstore implements storage.Store and storage.Tx on top of
// database/sql. Backends supply a Dialect describing placeholders, quoting,
// DDL and how to recognise key violations; the statements themselves are
// shared.
package sqlstore

import (
	"fmt"
	"strings"

	"catalogetl/internal/domain"
	"catalogetl/internal/storage"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	// Name is used in error messages.
	Name string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
	// Quote quotes a single identifier.
	Quote func(ident string) string
	// Schema holds idempotent DDL statements executed in order.
	Schema []string
	// TimeValue converts timestamps to the driver value stored. Nil passes
	// time.Time through.
	TimeValue domain.TimeValue
	// IsConflict reports whether err is a unique or primary key violation.
	IsConflict func(err error) bool
}

// QuestionMark is the "?" placeholder style.
func QuestionMark(int) string { return "?" }

// Dollar is the "$n" placeholder style.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// AtP is the "@pN" placeholder style.
func AtP(n int) string { return fmt.Sprintf("@p%d", n) }

// DoubleQuote quotes identifiers ANSI style.
func DoubleQuote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func (d Dialect) conflict(err error) bool {
	return err != nil && d.IsConflict != nil && d.IsConflict(err)
}

// wrap attaches storage.ErrConflict to key violations.
func (d Dialect) wrap(op string, err error) error {
	if d.conflict(err) {
		return fmt.Errorf("%s: %s: %w: %w", d.Name, op, storage.ErrConflict, err)
	}
	return fmt.Errorf("%s: %s: %w", d.Name, op, err)
}

func (d Dialect) idents(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Quote(c)
	}
	return strings.Join(q, ", ")
}

func (d Dialect) placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = d.Placeholder(from + i)
	}
	return strings.Join(p, ", ")
}

func (d Dialect) insertSQL(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(table), d.idents(cols), d.placeholders(1, len(cols)))
}

// updateProductSQL sets every non-key column; the key is the last argument.
func (d Dialect) updateProductSQL() string {
	cols := domain.ProductColumns[1:]
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = d.Quote(c) + " = " + d.Placeholder(i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.Quote(domain.ProductTable), strings.Join(sets, ", "),
		d.Quote(domain.ProductColumns[0]), d.Placeholder(len(cols)+1))
}

func (d Dialect) inSQL(selectCols, table, keyCol string, n int) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		selectCols, d.Quote(table), d.Quote(keyCol), d.placeholders(1, n))
}
