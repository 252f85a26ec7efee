package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"catalogetl/internal/domain"
	"catalogetl/internal/storage"
)

// Tx is a storage.Tx over *sql.Tx.
type Tx struct {
	tx *sql.Tx
	s  *Store
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) ExistingProducts(ctx context.Context, codes []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(codes))
	for _, chunk := range chunks(codes) {
		q := t.s.d.inSQL(t.s.d.Quote("id"), domain.ProductTable, "id", len(chunk))
		rows, err := t.tx.QueryContext(ctx, q, toArgs(chunk)...)
		if err != nil {
			return nil, t.s.d.wrap("existing products", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, t.s.d.wrap("scan product id", err)
			}
			out[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, t.s.d.wrap("existing products", err)
		}
	}
	return out, nil
}

func (t *Tx) ExistingCountries(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, chunk := range chunks(names) {
		q := t.s.d.inSQL(t.s.d.idents(domain.CountryColumns), domain.CountryTable, "name", len(chunk))
		rows, err := t.tx.QueryContext(ctx, q, toArgs(chunk)...)
		if err != nil {
			return nil, t.s.d.wrap("existing countries", err)
		}
		for rows.Next() {
			var c domain.Country
			if err := rows.Scan(&c.ID, &c.Name); err != nil {
				rows.Close()
				return nil, t.s.d.wrap("scan country", err)
			}
			out[c.Name] = c.ID
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, t.s.d.wrap("existing countries", err)
		}
	}
	return out, nil
}

func (t *Tx) InsertProduct(ctx context.Context, p *domain.Product) error {
	if _, err := t.tx.ExecContext(ctx, t.s.insertProduct, p.Row(t.s.d.TimeValue)...); err != nil {
		return t.s.d.wrap("insert product "+p.Code, err)
	}
	return nil
}

func (t *Tx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	row := p.Row(t.s.d.TimeValue)
	args := append(row[1:len(row):len(row)], row[0])
	if _, err := t.tx.ExecContext(ctx, t.s.updateProduct, args...); err != nil {
		return t.s.d.wrap("update product "+p.Code, err)
	}
	return nil
}

func (t *Tx) InsertCountry(ctx context.Context, c domain.Country) error {
	if _, err := t.tx.ExecContext(ctx, t.s.insertCountry, c.ID, c.Name); err != nil {
		return t.s.d.wrap("insert country "+c.Name, err)
	}
	return nil
}

func (t *Tx) AssociationExists(ctx context.Context, a domain.Association) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, t.s.assocExists, a.ProductID, a.CountryID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, t.s.d.wrap("association exists", err)
	}
	return true, nil
}

func (t *Tx) InsertAssociation(ctx context.Context, a domain.Association) error {
	if _, err := t.tx.ExecContext(ctx, t.s.insertAssoc, a.Row()...); err != nil {
		return t.s.d.wrap("insert association "+a.ProductID, err)
	}
	return nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return t.s.d.wrap("commit", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return t.s.d.wrap("rollback", err)
	}
	return nil
}
