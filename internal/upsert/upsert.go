// Package upsert writes batch windows into a store. Two strategies produce
// the same final state:
//
//   - Generic: one transaction per window, row-by-row insert-or-update.
//   - BulkLoad: per-window COPY into session staging tables, then a single
//     set-based merge when the run finishes.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"catalogetl/internal/batch"
	"catalogetl/internal/registry"
	"catalogetl/internal/storage"
)

// ErrBulkUnsupported is returned when the bulk strategy is forced on a store
// without a bulk session.
var ErrBulkUnsupported = fmt.Errorf("upsert: bulk load: %w", storage.ErrUnsupported)

// Mode selects a strategy.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeGeneric Mode = "generic"
	ModeBulk    Mode = "bulk"
)

// ParseMode accepts the mode names case-insensitively; empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeGeneric, ModeBulk:
		return m, nil
	}
	return "", fmt.Errorf("upsert: unknown strategy %q (want auto, generic or bulk)", s)
}

// Stats counts the rows a strategy wrote.
type Stats struct {
	ProductsInserted     int64
	ProductsUpdated      int64
	ProductsStaged       int64
	ProductsMerged       int64
	CountriesInserted    int64
	AssociationsInserted int64
	AssociationsStaged   int64
	AssociationsMerged   int64
	Windows              int
}

// Strategy applies windows to a store. Begin is called once before the
// first window, Finish once after the last; Abort replaces Finish when the
// run fails. A failed Apply leaves the store as it was before the window.
type Strategy interface {
	Name() string
	Begin(ctx context.Context) error
	Apply(ctx context.Context, w batch.Window) error
	Finish(ctx context.Context) error
	Abort(ctx context.Context)
	Stats() Stats
}

// Select picks the strategy for mode. Auto uses BulkLoad when the store
// advertises it.
func Select(store storage.Store, mode Mode, reg *registry.Countries) (Strategy, error) {
	switch mode {
	case ModeAuto, "":
		if store.Capabilities().BulkLoad {
			if bl, ok := store.(storage.BulkLoader); ok {
				return NewBulkLoad(bl, reg), nil
			}
		}
		return NewGeneric(store, reg), nil
	case ModeGeneric:
		return NewGeneric(store, reg), nil
	case ModeBulk:
		bl, ok := store.(storage.BulkLoader)
		if !ok {
			return nil, fmt.Errorf("%w (store kind %s)", ErrBulkUnsupported, store.Kind())
		}
		return NewBulkLoad(bl, reg), nil
	}
	return nil, fmt.Errorf("upsert: unknown strategy %q", mode)
}

// rollback undoes a failed window: the transaction is rolled back and the
// registry forgets ids reserved for it.
func rollback(reg *registry.Countries, rb func() error, cause error) error {
	reg.Discard()
	if err := rb(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
