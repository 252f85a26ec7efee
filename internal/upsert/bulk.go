package upsert

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"catalogetl/internal/batch"
	"catalogetl/internal/copytext"
	"catalogetl/internal/domain"
	"catalogetl/internal/logx"
	"catalogetl/internal/registry"
	"catalogetl/internal/storage"
)

// BulkLoad stages every window through COPY and merges once at the end.
// Windows commit into staging (and new countries into the country table)
// as they arrive; products and associations reach the permanent tables only
// in Finish.
type BulkLoad struct {
	loader storage.BulkLoader
	reg    *registry.Countries
	log    zerolog.Logger

	sess   storage.BulkSession
	rownum int64
	stats  Stats
}

var _ Strategy = (*BulkLoad)(nil)

// NewBulkLoad returns a BulkLoad strategy over loader.
func NewBulkLoad(loader storage.BulkLoader, reg *registry.Countries) *BulkLoad {
	return &BulkLoad{loader: loader, reg: reg, log: logx.Component("upsert")}
}

func (b *BulkLoad) Name() string { return string(ModeBulk) }
func (b *BulkLoad) Stats() Stats { return b.stats }

// Begin is a no-op; the session and staging tables are created with the
// first window so an empty run touches nothing.
func (b *BulkLoad) Begin(context.Context) error { return nil }

func (b *BulkLoad) open(ctx context.Context) error {
	if b.sess != nil {
		return nil
	}
	sess, err := b.loader.OpenBulkSession(ctx)
	if err != nil {
		return fmt.Errorf("open bulk session: %w", err)
	}
	if err := sess.CreateStaging(ctx); err != nil {
		_ = sess.Close()
		return fmt.Errorf("create staging: %w", err)
	}
	b.sess = sess
	b.log.Debug().Msg("upsert: staging created")
	return nil
}

// Apply stages w in one transaction.
func (b *BulkLoad) Apply(ctx context.Context, w batch.Window) error {
	if w.Len() == 0 {
		return nil
	}
	if err := b.open(ctx); err != nil {
		return fmt.Errorf("window %d: %w", w.Seq, err)
	}

	var prods, assocs bytes.Buffer
	pw := copytext.NewWriter(&prods)
	aw := copytext.NewWriter(&assocs)
	rownum := b.rownum
	for i := range w.Products {
		p := &w.Products[i]
		rownum++
		if err := pw.WriteRow(append(p.Row(nil), rownum)); err != nil {
			b.reg.Discard()
			return fmt.Errorf("window %d: encode product %s: %w", w.Seq, p.Code, err)
		}
		for _, name := range p.CountryNames {
			id, _ := b.reg.LookupOrReserve(name)
			a := domain.Association{ProductID: p.Code, CountryID: id}
			if err := aw.WriteRow(append(a.Row(), rownum)); err != nil {
				b.reg.Discard()
				return fmt.Errorf("window %d: encode association %s: %w", w.Seq, p.Code, err)
			}
		}
	}
	if err := errors.Join(pw.Flush(), aw.Flush()); err != nil {
		b.reg.Discard()
		return fmt.Errorf("window %d: %w", w.Seq, err)
	}

	tx, err := b.sess.Begin(ctx)
	if err != nil {
		b.reg.Discard()
		return fmt.Errorf("window %d: %w", w.Seq, err)
	}
	var st Stats
	if err := b.stage(ctx, tx, &prods, &assocs, &st); err != nil {
		return rollback(b.reg, tx.Rollback, fmt.Errorf("window %d: %w", w.Seq, err))
	}
	if err := tx.Commit(); err != nil {
		return rollback(b.reg, tx.Rollback, fmt.Errorf("window %d: %w", w.Seq, err))
	}
	b.reg.Commit()
	b.rownum = rownum

	st.Windows = 1
	b.stats.add(st)
	return nil
}

func (b *BulkLoad) stage(ctx context.Context, tx storage.BulkTx, prods, assocs *bytes.Buffer, st *Stats) error {
	for _, c := range b.reg.Pending() {
		if err := tx.InsertCountry(ctx, c); err != nil {
			return err
		}
		st.CountriesInserted++
	}
	n, err := tx.CopyProducts(ctx, prods)
	if err != nil {
		return err
	}
	st.ProductsStaged = n
	n, err = tx.CopyAssociations(ctx, assocs)
	if err != nil {
		return err
	}
	st.AssociationsStaged = n
	return nil
}

// Finish merges staging into the permanent tables and ends the session.
func (b *BulkLoad) Finish(ctx context.Context) error {
	if b.sess == nil {
		return nil
	}
	res, err := b.sess.MergeStaging(ctx)
	if err != nil {
		b.Abort(ctx)
		return fmt.Errorf("merge staging: %w", err)
	}
	b.stats.ProductsMerged += res.Products
	b.stats.AssociationsMerged += res.Associations

	sess := b.sess
	b.sess = nil
	if err := sess.Close(); err != nil {
		return fmt.Errorf("close bulk session: %w", err)
	}
	return nil
}

// Abort closes the session without merging; staging goes with it.
func (b *BulkLoad) Abort(context.Context) {
	if b.sess == nil {
		return
	}
	if err := b.sess.Close(); err != nil {
		b.log.Warn().Err(err).Msg("upsert: close bulk session")
	}
	b.sess = nil
}
