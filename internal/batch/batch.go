// Package batch groups normalized products into fixed-size windows. Each
// window becomes one unit of atomic work in the upsert engine.
package batch

import "catalogetl/internal/domain"

// DefaultSize is the window size used when none is configured.
const DefaultSize = 512

// Window is one batch of products in arrival order.
type Window struct {
	Seq      int // 1-based
	Products []domain.Product
	// Countries holds the distinct cleaned country names of Products in
	// first-seen order.
	Countries []string
}

// Len returns the number of products in the window.
func (w Window) Len() int { return len(w.Products) }

// Option configures a Batcher.
type Option func(*Batcher)

// WithLeadingFlush emits an extra single-product window right after the
// first product, reproducing an index%size==0 flush check. Window contents
// and order are otherwise unchanged.
func WithLeadingFlush() Option {
	return func(b *Batcher) { b.leading = true }
}

// Batcher accumulates products until a window is full. The zero value is
// not usable; construct with NewBatcher.
type Batcher struct {
	size    int
	leading bool

	seq     int
	added   int
	pending []domain.Product
}

// NewBatcher returns a Batcher emitting windows of size products. size <= 0
// means DefaultSize.
func NewBatcher(size int, opts ...Option) *Batcher {
	if size <= 0 {
		size = DefaultSize
	}
	b := &Batcher{size: size}
	for _, o := range opts {
		o(b)
	}
	b.pending = make([]domain.Product, 0, size)
	return b
}

// Size returns the configured window size.
func (b *Batcher) Size() int { return b.size }

// Add appends p. When the pending window is ready it is returned with true
// and the batcher starts a new one.
func (b *Batcher) Add(p domain.Product) (Window, bool) {
	b.pending = append(b.pending, p)
	b.added++
	if len(b.pending) >= b.size || (b.leading && b.added == 1) {
		return b.emit(), true
	}
	return Window{}, false
}

// Flush returns the final partial window, or false when nothing is pending.
func (b *Batcher) Flush() (Window, bool) {
	if len(b.pending) == 0 {
		return Window{}, false
	}
	return b.emit(), true
}

// Emitted returns how many windows have been produced so far.
func (b *Batcher) Emitted() int { return b.seq }

func (b *Batcher) emit() Window {
	b.seq++
	w := Window{
		Seq:       b.seq,
		Products:  b.pending,
		Countries: distinctCountries(b.pending),
	}
	b.pending = make([]domain.Product, 0, b.size)
	return w
}

func distinctCountries(ps []domain.Product) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range ps {
		for _, name := range ps[i].CountryNames {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
