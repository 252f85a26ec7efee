// Package registry maps cleaned country names to persisted ids for the
// duration of one ingestion run.
package registry

import (
	"context"
	"fmt"
	"sort"

	"catalogetl/internal/domain"
)

// CountryLoader reads every persisted country row.
type CountryLoader interface {
	LoadCountries(ctx context.Context) ([]domain.Country, error)
}

// Countries is the name -> id registry. New ids are max(id)+1 and start out
// pending until the transaction that writes them commits.
//
// Not safe for concurrent use; a registry is owned by a single run.
type Countries struct {
	known   map[string]int64
	pending map[string]int64
	next    int64
	// maxKnown is the highest committed id; Discard rewinds next to it.
	maxKnown int64
}

// Load builds a registry from the store's current country table.
func Load(ctx context.Context, l CountryLoader) (*Countries, error) {
	rows, err := l.LoadCountries(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: load countries: %w", err)
	}
	return New(rows), nil
}

// New builds a registry from rows.
func New(rows []domain.Country) *Countries {
	c := &Countries{
		known:   make(map[string]int64, len(rows)),
		pending: make(map[string]int64),
	}
	for _, r := range rows {
		c.known[r.Name] = r.ID
		if r.ID > c.maxKnown {
			c.maxKnown = r.ID
		}
	}
	c.next = c.maxKnown + 1
	return c
}

// Lookup returns the id for name if it is known or pending.
func (c *Countries) Lookup(name string) (int64, bool) {
	if id, ok := c.known[name]; ok {
		return id, true
	}
	id, ok := c.pending[name]
	return id, ok
}

// LookupOrReserve returns the id for name. reserved is true when the id was
// allocated by this call; the caller must then persist the country row.
func (c *Countries) LookupOrReserve(name string) (id int64, reserved bool) {
	if id, ok := c.Lookup(name); ok {
		return id, false
	}
	id = c.next
	c.next++
	c.pending[name] = id
	return id, true
}

// Adopt records a country row persisted outside this registry since it was
// loaded. Later reservations never reuse id.
func (c *Countries) Adopt(name string, id int64) {
	delete(c.pending, name)
	c.known[name] = id
	if id > c.maxKnown {
		c.maxKnown = id
	}
	if id >= c.next {
		c.next = id + 1
	}
}

// Pending returns the reserved but uncommitted countries in id order.
func (c *Countries) Pending() []domain.Country {
	out := make([]domain.Country, 0, len(c.pending))
	for name, id := range c.pending {
		out = append(out, domain.Country{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Commit promotes pending reservations to known ids.
func (c *Countries) Commit() {
	for name, id := range c.pending {
		c.known[name] = id
		if id > c.maxKnown {
			c.maxKnown = id
		}
	}
	c.pending = make(map[string]int64)
}

// Discard forgets pending reservations after a rollback and rewinds the id
// counter so the next reservation reuses the first discarded id.
func (c *Countries) Discard() {
	c.pending = make(map[string]int64)
	c.next = c.maxKnown + 1
}

// Len returns the number of known (committed or adopted) countries.
func (c *Countries) Len() int { return len(c.known) }
