// Package storage defines the backend-agnostic contracts the upsert engine
// writes through, plus a small factory so callers can open a Store by kind
// without importing a concrete backend.
//
// Backends register themselves in init(); import storage/all to enable the
// built-in set.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"catalogetl/internal/domain"
)

// Staging relations used by bulk sessions. They live only as long as the
// session's connection.
const (
	StagingProductTable        = "staging_product"
	StagingProductCountryTable = "staging_product_country"
	RowNumColumn               = "__rownum"
)

var (
	// ErrConflict marks unique or primary key violations. Backends wrap the
	// driver error so callers can test with errors.Is.
	ErrConflict = errors.New("storage: conflict")
	// ErrUnsupported is returned when a backend lacks an optional capability.
	ErrUnsupported = errors.New("storage: unsupported")
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
	// AutoCreateSchema runs EnsureSchema right after opening.
	AutoCreateSchema bool
	// MaxConns caps the connection pool; zero keeps the backend default.
	MaxConns int
}

// Capabilities advertises optional backend features.
type Capabilities struct {
	BulkLoad bool
}

// TableCounts is a row count snapshot of the three relations.
type TableCounts struct {
	Products     int64
	Countries    int64
	Associations int64
}

// Store is an open catalog database.
type Store interface {
	Kind() string
	Capabilities() Capabilities
	// EnsureSchema creates the product, country and product_country tables
	// when they do not exist.
	EnsureSchema(ctx context.Context) error
	// LoadCountries returns every persisted country.
	LoadCountries(ctx context.Context) ([]domain.Country, error)
	Begin(ctx context.Context) (Tx, error)
	Counts(ctx context.Context) (TableCounts, error)
	Close() error
}

// Tx is one atomic unit of row-by-row work.
type Tx interface {
	// ExistingProducts returns the subset of codes already stored.
	ExistingProducts(ctx context.Context, codes []string) (map[string]struct{}, error)
	// ExistingCountries returns stored ids for the subset of names present.
	ExistingCountries(ctx context.Context, names []string) (map[string]int64, error)
	InsertProduct(ctx context.Context, p *domain.Product) error
	// UpdateProduct overwrites every non-key column of the stored row.
	UpdateProduct(ctx context.Context, p *domain.Product) error
	InsertCountry(ctx context.Context, c domain.Country) error
	AssociationExists(ctx context.Context, a domain.Association) (bool, error)
	InsertAssociation(ctx context.Context, a domain.Association) error
	Commit() error
	Rollback() error
}

// BulkLoader is implemented by stores that can stream rows into session
// scoped staging tables and merge them set-wise.
type BulkLoader interface {
	OpenBulkSession(ctx context.Context) (BulkSession, error)
}

// BulkSession pins one connection for the life of a load. Closing the
// session drops the staging tables with it.
type BulkSession interface {
	// CreateStaging creates the staging tables shaped like product and
	// product_country plus RowNumColumn.
	CreateStaging(ctx context.Context) error
	Begin(ctx context.Context) (BulkTx, error)
	// MergeStaging folds staging into the permanent tables in one
	// transaction: the highest RowNumColumn per product id overwrites,
	// associations insert-or-ignore. Staging tables are dropped on success.
	MergeStaging(ctx context.Context) (MergeResult, error)
	Close() error
}

// BulkTx is one window's transaction inside a bulk session.
type BulkTx interface {
	InsertCountry(ctx context.Context, c domain.Country) error
	// CopyProducts streams COPY text rows of domain.ProductColumns followed
	// by RowNumColumn into the product staging table.
	CopyProducts(ctx context.Context, r io.Reader) (int64, error)
	// CopyAssociations streams COPY text rows of
	// domain.ProductCountryColumns followed by RowNumColumn.
	CopyAssociations(ctx context.Context, r io.Reader) (int64, error)
	Commit() error
	Rollback() error
}

// MergeResult reports rows touched by MergeStaging.
type MergeResult struct {
	Products     int64
	Associations int64
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind, replacing any previous
// registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend registered for cfg.Kind and, when requested,
// ensures the schema exists.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return s, nil
}

// ListKinds returns the registered kinds in sorted order.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
