package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"catalogetl/internal/copytext"
	"catalogetl/internal/domain"
	"catalogetl/internal/storage"
	"catalogetl/internal/storage/sqlstore"
)

type bulkSession struct {
	conn *sql.Conn
}

func (b *bulkSession) CreateStaging(ctx context.Context) error {
	stmts := append(sqlstore.DropStagingSQL(Dialect), sqlstore.StagingSQL(Dialect, "INTEGER")...)
	for _, stmt := range stmts {
		if _, err := b.conn.ExecContext(ctx, stmt); err != nil {
			return sqlstore.Wrap(Dialect, "create staging", err)
		}
	}
	return nil
}

func (b *bulkSession) Begin(ctx context.Context) (storage.BulkTx, error) {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, sqlstore.Wrap(Dialect, "begin", err)
	}
	return &bulkTx{tx: tx}, nil
}

func (b *bulkSession) MergeStaging(ctx context.Context) (storage.MergeResult, error) {
	var res storage.MergeResult
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, sqlstore.Wrap(Dialect, "begin merge", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := tx.ExecContext(ctx, sqlstore.MergeProductsSQL(Dialect))
	if err != nil {
		return res, sqlstore.Wrap(Dialect, "merge products", err)
	}
	res.Products, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, sqlstore.MergeAssociationsSQL(Dialect))
	if err != nil {
		return res, sqlstore.Wrap(Dialect, "merge associations", err)
	}
	res.Associations, _ = r.RowsAffected()

	for _, stmt := range sqlstore.DropStagingSQL(Dialect) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return res, sqlstore.Wrap(Dialect, "drop staging", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return res, sqlstore.Wrap(Dialect, "commit merge", err)
	}
	return res, nil
}

// Close drops any staging left behind and returns the connection to the
// pool. Temp tables would otherwise outlive the session on the single
// pooled connection.
func (b *bulkSession) Close() error {
	for _, stmt := range sqlstore.DropStagingSQL(Dialect) {
		_, _ = b.conn.ExecContext(context.Background(), stmt)
	}
	return b.conn.Close()
}

type bulkTx struct {
	tx *sql.Tx
}

func (t *bulkTx) InsertCountry(ctx context.Context, c domain.Country) error {
	q := sqlstore.InsertSQL(Dialect, domain.CountryTable, domain.CountryColumns)
	if _, err := t.tx.ExecContext(ctx, q, c.ID, c.Name); err != nil {
		return sqlstore.Wrap(Dialect, "insert country "+c.Name, err)
	}
	return nil
}

func (t *bulkTx) CopyProducts(ctx context.Context, r io.Reader) (int64, error) {
	return t.copy(ctx, storage.StagingProductTable, sqlstore.StagingProductColumns(), r)
}

func (t *bulkTx) CopyAssociations(ctx context.Context, r io.Reader) (int64, error) {
	return t.copy(ctx, storage.StagingProductCountryTable, sqlstore.StagingAssociationColumns(), r)
}

// copy replays COPY text rows as prepared INSERTs. Column affinity converts
// the decoded text back to REAL and INTEGER where declared.
func (t *bulkTx) copy(ctx context.Context, table string, cols []string, r io.Reader) (int64, error) {
	stmt, err := t.tx.PrepareContext(ctx, sqlstore.InsertSQL(Dialect, table, cols))
	if err != nil {
		return 0, sqlstore.Wrap(Dialect, "prepare copy "+table, err)
	}
	defer stmt.Close()

	cr := copytext.NewReader(r, len(cols))
	var n int64
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("sqlite: decode copy %s: %w", table, err)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return n, sqlstore.Wrap(Dialect, "copy "+table, err)
		}
		n++
	}
}

func (t *bulkTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return sqlstore.Wrap(Dialect, "commit", err)
	}
	return nil
}

func (t *bulkTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return sqlstore.Wrap(Dialect, "rollback", err)
	}
	return nil
}
