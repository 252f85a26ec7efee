// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the ingestion pipeline.
//
// A global backend defaults to a no-op, so instrumentation is always safe to
// call. Concrete systems live in subpackages (prompush, datadog) and are
// installed with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the pipeline.
const (
	StepTotal           = "ingest_step_total"
	StepDurationSeconds = "ingest_step_duration_seconds"
	RecordsTotal        = "ingest_records_total"
	SkipsTotal          = "ingest_skips_total"
	WindowsTotal        = "ingest_windows_total"
	BytesTotal          = "ingest_bytes_total"
)

// Record kinds for RecordsTotal.
const (
	KindAccepted = "accepted"
	KindSkipped  = "skipped"
	KindFiltered = "filtered"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Reset restores the no-op backend.
func Reset() {
	mu.Lock()
	backend = nopBackend{}
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep measures latency and success/failure of one pipeline step
// ("decode", "apply", "finish", ...) under a strategy.
func RecordStep(job, strategy, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":      job,
		"strategy": strategy,
		"step":     step,
		"status":   status,
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRecords increments the record counter for kind (KindAccepted,
// KindSkipped, KindFiltered).
func RecordRecords(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordSkip counts a dropped record by reason.
func RecordSkip(job, reason string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(SkipsTotal, float64(delta), Labels{"job": job, "reason": reason})
}

// RecordWindows increments the applied window counter.
func RecordWindows(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(WindowsTotal, float64(delta), Labels{"job": job})
}

// RecordBytes counts input bytes consumed.
func RecordBytes(job string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(BytesTotal, float64(n), Labels{"job": job})
}
