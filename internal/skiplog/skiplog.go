// Package skiplog records records dropped during ingestion as CSV rows and
// keeps per-reason counts.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Header is the first row of every skip log.
var Header = []string{"reason", "element", "code", "field", "detail"}

// Log appends one CSV row per skipped record. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	reasons map[string]int
	w       *csv.Writer
	closer  io.Closer
}

// New writes the header to w and returns a Log writing to it.
func New(w io.Writer) (*Log, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return nil, fmt.Errorf("skiplog: write header: %w", err)
	}
	return &Log{reasons: make(map[string]int), w: cw}, nil
}

// Create creates path (and any missing parent directories) and returns a
// Log writing to it. Close flushes and closes the file.
func Create(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("skiplog: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("skiplog: open %s: %w", path, err)
	}
	l, err := New(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	l.closer = f
	return l, nil
}

// Add records one skipped element.
func (l *Log) Add(reason string, element int, code, field, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reasons[reason]++
	return l.w.Write([]string{reason, strconv.Itoa(element), code, field, detail})
}

// Counts returns a copy of the per-reason totals.
func (l *Log) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.reasons))
	for k, v := range l.reasons {
		out[k] = v
	}
	return out
}

// Summary renders the counts as "reason=n" pairs in reason order.
func (l *Log) Summary() string {
	counts := l.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += k + "=" + strconv.Itoa(counts[k])
	}
	return s
}

// Close flushes buffered rows and closes the underlying file, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	err := l.w.Error()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
		l.closer = nil
	}
	return err
}
