package main

import (
	"fmt"
	"strings"

	"catalogetl/internal/config"
	"catalogetl/internal/logx"
	"catalogetl/internal/metrics"
	"catalogetl/internal/metrics/datadog"
	"catalogetl/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns the flush to run
// at exit.
func setupMetrics(m config.MetricsConfig) (func(), error) {
	log := logx.Component("metrics")

	var b metrics.Backend
	switch strings.ToLower(m.Backend) {
	case "", "none":
		log.Debug().Msg("metrics: disabled")
		return func() {}, nil
	case "pushgateway":
		pb, err := prompush.NewBackend(m.Job, m.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		b = pb
	case "datadog":
		db, err := datadog.NewBackend(datadog.Config{
			Addr:       m.DatadogAddr,
			Namespace:  m.DatadogNamespace,
			GlobalTags: []string{"service:catalogetl"},
		})
		if err != nil {
			return nil, err
		}
		b = db
	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", m.Backend)
	}

	metrics.SetBackend(b)
	log.Info().Str("backend", m.Backend).Str("job", m.Job).Msg("metrics: enabled")
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn().Err(err).Msg("metrics: flush failed")
		}
	}, nil
}
