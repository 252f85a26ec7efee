package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"catalogetl/internal/logx"
	"catalogetl/internal/upsert"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is the dotted config
// key (e.g. "ingest.batch_size").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static checks over c. It does not mutate c; callers
// decide whether warnings are fatal.
func Validate(c Config) []Issue {
	var issues []Issue
	issues = append(issues, validateStore(c.Store)...)
	issues = append(issues, validateIngest(c.Ingest)...)
	issues = append(issues, validateLog(c.Log)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	issues = append(issues, validateHTTP(c.HTTP)...)
	return issues
}

func validateStore(s StoreConfig) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{SeverityError, "store.kind", "store.kind must not be empty"})
	}
	known := map[string]struct{}{
		"postgres": {},
		"mysql":    {},
		"mssql":    {},
		"sqlite":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "store.kind",
			Message:  fmt.Sprintf("unknown store kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.dsn",
			Message:  "store.dsn must not be empty (set " + EnvPrefix + "_STORE_DSN or DATABASE_URL)",
		})
	}
	if s.MaxConns < 0 {
		issues = append(issues, Issue{SeverityError, "store.max_conns", "store.max_conns must be >= 0"})
	}
	return issues
}

func validateIngest(in IngestConfig) []Issue {
	var issues []Issue

	if in.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ingest.batch_size",
			Message:  fmt.Sprintf("ingest.batch_size must be > 0 (got %d)", in.BatchSize),
		})
	} else if in.BatchSize > 100_000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "ingest.batch_size",
			Message:  fmt.Sprintf("ingest.batch_size=%d holds a whole window in one transaction; memory use grows with it", in.BatchSize),
		})
	}

	if in.Limit < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ingest.limit",
			Message:  fmt.Sprintf("ingest.limit must be >= 0 (got %d)", in.Limit),
		})
	}

	mode, err := upsert.ParseMode(in.Strategy)
	if err != nil {
		issues = append(issues, Issue{SeverityError, "ingest.strategy", err.Error()})
	} else if mode == upsert.ModeBulk {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "ingest.strategy",
			Message:  "bulk is forced; stores without bulk sessions (mssql, mysql) will fail the run",
		})
	}

	switch {
	case in.MinCompleteness < 0 || in.MinCompleteness > 1:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ingest.min_completeness",
			Message:  fmt.Sprintf("ingest.min_completeness must be within [0,1] (got %g)", in.MinCompleteness),
		})
	case in.MinCompleteness == 0:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "ingest.min_completeness",
			Message:  "ingest.min_completeness=0 falls back to the default threshold 0.25",
		})
	}

	if in.ProgressEvery < 0 {
		issues = append(issues, Issue{SeverityError, "ingest.progress_every", "ingest.progress_every must be >= 0"})
	}
	return issues
}

func validateLog(l LogConfig) []Issue {
	var issues []Issue
	if l.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(l.Level)); err != nil {
			issues = append(issues, Issue{SeverityError, "log.level", fmt.Sprintf("unknown log level %q", l.Level)})
		}
	}
	if _, err := logx.ParseEnvironment(l.Environment); err != nil {
		issues = append(issues, Issue{SeverityError, "log.environment", err.Error()})
	}
	return issues
}

func validateMetrics(m MetricsConfig) []Issue {
	var issues []Issue

	switch strings.ToLower(m.Backend) {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "metrics.pushgateway_url is required when metrics.backend=pushgateway",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "metrics.datadog_addr is required when metrics.backend=datadog",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q (want none, pushgateway or datadog)", m.Backend),
		})
	}
	if strings.TrimSpace(m.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.job",
			Message:  "metrics.job is empty; the default job label is used",
		})
	}
	return issues
}

func validateHTTP(h HTTPConfig) []Issue {
	var issues []Issue

	if strings.TrimSpace(h.Addr) == "" {
		issues = append(issues, Issue{SeverityError, "http.addr", "http.addr must not be empty"})
	}
	if h.MaxUploadBytes <= 0 {
		issues = append(issues, Issue{SeverityError, "http.max_upload_bytes", "http.max_upload_bytes must be > 0"})
	}
	switch {
	case h.RatePerSecond < 0:
		issues = append(issues, Issue{SeverityError, "http.rate_per_second", "http.rate_per_second must be >= 0"})
	case h.RatePerSecond == 0:
		issues = append(issues, Issue{SeverityWarning, "http.rate_per_second", "rate limiting is disabled"})
	case h.Burst < 1:
		issues = append(issues, Issue{SeverityError, "http.burst", "http.burst must be >= 1 when rate limiting is enabled"})
	}
	if h.ShutdownTimeout < 0 {
		issues = append(issues, Issue{SeverityError, "http.shutdown_timeout", "http.shutdown_timeout must be >= 0"})
	}
	return issues
}
