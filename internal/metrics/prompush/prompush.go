// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Ingestion runs are short-lived, so collectors are pushed to a Pushgateway
// on Flush rather than exposed on a scrape endpoint. The job label doubles
// as the Pushgateway grouping key.
package prompush

import (
	"fmt"

	"catalogetl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.SummaryVec

	recordCounter *prometheus.CounterVec
	skipCounter   *prometheus.CounterVec
	windowCounter prometheus.Counter
	byteCounter   prometheus.Counter
}

// NewBackend constructs a Prometheus Pushgateway backend.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "catalogetl"
	}

	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions, partitioned by strategy, step and status.",
		},
		[]string{"strategy", "step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Duration of pipeline steps in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"strategy", "step", "status"},
	)
	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Decoded records per outcome (accepted, skipped, filtered).",
		},
		[]string{"kind"},
	)
	skipCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.SkipsTotal,
			Help: "Records dropped by the normalizer, per reason.",
		},
		[]string{"reason"},
	)
	windowCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metrics.WindowsTotal,
			Help: "Batch windows applied to the store.",
		},
	)
	byteCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metrics.BytesTotal,
			Help: "Input bytes consumed.",
		},
	)

	for _, c := range []struct {
		what string
		c    prometheus.Collector
	}{
		{"step counter", stepCounter},
		{"step summary", stepDuration},
		{"record counter", recordCounter},
		{"skip counter", skipCounter},
		{"window counter", windowCounter},
		{"byte counter", byteCounter},
	} {
		if err := reg.Register(c.c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", c.what, err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stepCounter:   stepCounter,
		stepDuration:  stepDuration,
		recordCounter: recordCounter,
		skipCounter:   skipCounter,
		windowCounter: windowCounter,
		byteCounter:   byteCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["strategy"], labels["step"], labels["status"]).Add(delta)

	case metrics.RecordsTotal:
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.SkipsTotal:
		if b.skipCounter == nil {
			return
		}
		b.skipCounter.WithLabelValues(labels["reason"]).Add(delta)

	case metrics.WindowsTotal:
		if b.windowCounter == nil {
			return
		}
		b.windowCounter.Add(delta)

	case metrics.BytesTotal:
		if b.byteCounter == nil {
			return
		}
		b.byteCounter.Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["strategy"], labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
