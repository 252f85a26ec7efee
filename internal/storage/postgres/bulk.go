package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalogetl/internal/domain"
	"catalogetl/internal/storage"
	"catalogetl/internal/storage/sqlstore"
)

// dropTimeout bounds best-effort cleanup on Close, which may run after the
// run's context is cancelled.
const dropTimeout = 5 * time.Second

type bulkSession struct {
	conn *pgxpool.Conn
}

func (b *bulkSession) CreateStaging(ctx context.Context) error {
	stmts := append(sqlstore.DropStagingSQL(Dialect), sqlstore.StagingSQL(Dialect, "bigint")...)
	for _, stmt := range stmts {
		if _, err := b.conn.Exec(ctx, stmt); err != nil {
			return sqlstore.Wrap(Dialect, "create staging", err)
		}
	}
	return nil
}

func (b *bulkSession) Begin(ctx context.Context) (storage.BulkTx, error) {
	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return nil, sqlstore.Wrap(Dialect, "begin", err)
	}
	return &bulkTx{tx: tx, ctx: ctx}, nil
}

func (b *bulkSession) MergeStaging(ctx context.Context) (storage.MergeResult, error) {
	var res storage.MergeResult
	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return res, sqlstore.Wrap(Dialect, "begin merge", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, sqlstore.MergeProductsSQL(Dialect))
	if err != nil {
		return res, sqlstore.Wrap(Dialect, "merge products", detail(err))
	}
	res.Products = tag.RowsAffected()

	tag, err = tx.Exec(ctx, sqlstore.MergeAssociationsSQL(Dialect))
	if err != nil {
		return res, sqlstore.Wrap(Dialect, "merge associations", detail(err))
	}
	res.Associations = tag.RowsAffected()

	for _, stmt := range sqlstore.DropStagingSQL(Dialect) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return res, sqlstore.Wrap(Dialect, "drop staging", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return res, sqlstore.Wrap(Dialect, "commit merge", err)
	}
	return res, nil
}

// Close drops leftover staging and releases the connection back to the
// pool. Temp tables would otherwise survive on the pooled connection.
func (b *bulkSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), dropTimeout)
	defer cancel()
	var err error
	for _, stmt := range sqlstore.DropStagingSQL(Dialect) {
		if _, e := b.conn.Exec(ctx, stmt); e != nil && err == nil {
			err = fmt.Errorf("postgres: drop staging: %w", e)
		}
	}
	b.conn.Release()
	return err
}

type bulkTx struct {
	tx  pgx.Tx
	ctx context.Context
}

func (t *bulkTx) InsertCountry(ctx context.Context, c domain.Country) error {
	q := sqlstore.InsertSQL(Dialect, domain.CountryTable, domain.CountryColumns)
	if _, err := t.tx.Exec(ctx, q, c.ID, c.Name); err != nil {
		return sqlstore.Wrap(Dialect, "insert country "+c.Name, err)
	}
	return nil
}

func (t *bulkTx) CopyProducts(ctx context.Context, r io.Reader) (int64, error) {
	return t.copyIn(ctx, storage.StagingProductTable, sqlstore.StagingProductColumns(), r)
}

func (t *bulkTx) CopyAssociations(ctx context.Context, r io.Reader) (int64, error) {
	return t.copyIn(ctx, storage.StagingProductCountryTable, sqlstore.StagingAssociationColumns(), r)
}

// copyIn streams r with COPY ... FROM STDIN in the default text format.
func (t *bulkTx) copyIn(ctx context.Context, table string, cols []string, r io.Reader) (int64, error) {
	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN", Dialect.Quote(table), sqlstore.Idents(Dialect, cols))
	tag, err := t.tx.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, sqlstore.Wrap(Dialect, "copy into "+table, detail(err))
	}
	return tag.RowsAffected(), nil
}

func (t *bulkTx) Commit() error {
	if err := t.tx.Commit(t.ctx); err != nil {
		return sqlstore.Wrap(Dialect, "commit", err)
	}
	return nil
}

func (t *bulkTx) Rollback() error {
	if err := t.tx.Rollback(context.WithoutCancel(t.ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return sqlstore.Wrap(Dialect, "rollback", err)
	}
	return nil
}

// detail folds the server's DETAIL line into the error text; COPY and merge
// failures are hard to diagnose without it.
func detail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s)", err, pgErr.Detail)
	}
	return err
}
