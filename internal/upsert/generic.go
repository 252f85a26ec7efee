package upsert

import (
	"context"
	"fmt"

	"catalogetl/internal/batch"
	"catalogetl/internal/domain"
	"catalogetl/internal/registry"
	"catalogetl/internal/storage"
)

// Generic is the portable strategy: each window is one transaction of
// existence checks and single-row writes.
type Generic struct {
	store storage.Store
	reg   *registry.Countries
	stats Stats
}

var _ Strategy = (*Generic)(nil)

// NewGeneric returns a Generic strategy over store.
func NewGeneric(store storage.Store, reg *registry.Countries) *Generic {
	return &Generic{store: store, reg: reg}
}

func (g *Generic) Name() string                 { return string(ModeGeneric) }
func (g *Generic) Begin(context.Context) error  { return nil }
func (g *Generic) Finish(context.Context) error { return nil }
func (g *Generic) Abort(context.Context)        {}
func (g *Generic) Stats() Stats                 { return g.stats }

// Apply writes w atomically. Products are written once per code with the
// fields of the code's last occurrence; associations are the union over all
// occurrences.
func (g *Generic) Apply(ctx context.Context, w batch.Window) error {
	if w.Len() == 0 {
		return nil
	}
	tx, err := g.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("window %d: %w", w.Seq, err)
	}
	var st Stats
	if err := g.apply(ctx, tx, w, &st); err != nil {
		return rollback(g.reg, tx.Rollback, fmt.Errorf("window %d: %w", w.Seq, err))
	}
	if err := tx.Commit(); err != nil {
		return rollback(g.reg, tx.Rollback, fmt.Errorf("window %d: %w", w.Seq, err))
	}
	g.reg.Commit()

	st.Windows = 1
	g.stats.add(st)
	return nil
}

func (g *Generic) apply(ctx context.Context, tx storage.Tx, w batch.Window, st *Stats) error {
	products := compact(w.Products)

	codes := make([]string, len(products))
	for i := range products {
		codes[i] = products[i].Code
	}
	existing, err := tx.ExistingProducts(ctx, codes)
	if err != nil {
		return err
	}
	stored, err := tx.ExistingCountries(ctx, w.Countries)
	if err != nil {
		return err
	}
	for name, id := range stored {
		if known, ok := g.reg.Lookup(name); !ok || known != id {
			g.reg.Adopt(name, id)
		}
	}

	for i := range products {
		p := &products[i]
		if _, ok := existing[p.Code]; ok {
			if err := tx.UpdateProduct(ctx, p); err != nil {
				return err
			}
			st.ProductsUpdated++
			continue
		}
		if err := tx.InsertProduct(ctx, p); err != nil {
			return err
		}
		st.ProductsInserted++
	}

	linked := make(map[domain.Association]struct{})
	for i := range w.Products {
		p := &w.Products[i]
		for _, name := range p.CountryNames {
			id, reserved := g.reg.LookupOrReserve(name)
			if reserved {
				if err := tx.InsertCountry(ctx, domain.Country{ID: id, Name: name}); err != nil {
					return err
				}
				st.CountriesInserted++
			}
			a := domain.Association{ProductID: p.Code, CountryID: id}
			if _, done := linked[a]; done {
				continue
			}
			linked[a] = struct{}{}
			ok, err := tx.AssociationExists(ctx, a)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if err := tx.InsertAssociation(ctx, a); err != nil {
				return err
			}
			st.AssociationsInserted++
		}
	}
	return nil
}

// compact folds repeated codes into the slot of their first occurrence,
// carrying the fields of the last occurrence.
func compact(ps []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(ps))
	slot := make(map[string]int, len(ps))
	for _, p := range ps {
		if i, ok := slot[p.Code]; ok {
			out[i].OverwriteFrom(p)
			continue
		}
		slot[p.Code] = len(out)
		out = append(out, p)
	}
	return out
}

func (s *Stats) add(o Stats) {
	s.ProductsInserted += o.ProductsInserted
	s.ProductsUpdated += o.ProductsUpdated
	s.ProductsStaged += o.ProductsStaged
	s.ProductsMerged += o.ProductsMerged
	s.CountriesInserted += o.CountriesInserted
	s.AssociationsInserted += o.AssociationsInserted
	s.AssociationsStaged += o.AssociationsStaged
	s.AssociationsMerged += o.AssociationsMerged
	s.Windows += o.Windows
}
