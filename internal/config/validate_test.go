package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func valid() Config {
	c := Default()
	c.Store.DSN = "postgres://localhost/catalog"
	return c
}

func TestValidate_ValidConfigHasNoIssues(t *testing.T) {
	assert.Empty(t, Validate(valid()))
}

func TestValidate_DefaultsNeedDSN(t *testing.T) {
	issues := Validate(Default())
	assert.True(t, HasErrors(issues))
	assert.True(t, hasIssue(issues, SeverityError, "store.dsn", "DATABASE_URL"))
}

func TestValidate_Cases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		sev    IssueSeverity
		path   string
		substr string
	}{
		{"empty kind", func(c *Config) { c.Store.Kind = "" }, SeverityError, "store.kind", "must not be empty"},
		{"unknown kind", func(c *Config) { c.Store.Kind = "oracle" }, SeverityWarning, "store.kind", "oracle"},
		{"zero batch", func(c *Config) { c.Ingest.BatchSize = 0 }, SeverityError, "ingest.batch_size", "> 0"},
		{"huge batch", func(c *Config) { c.Ingest.BatchSize = 1_000_000 }, SeverityWarning, "ingest.batch_size", "memory"},
		{"negative limit", func(c *Config) { c.Ingest.Limit = -1 }, SeverityError, "ingest.limit", ">= 0"},
		{"bad strategy", func(c *Config) { c.Ingest.Strategy = "turbo" }, SeverityError, "ingest.strategy", "turbo"},
		{"forced bulk", func(c *Config) { c.Ingest.Strategy = "bulk" }, SeverityWarning, "ingest.strategy", "forced"},
		{"completeness above one", func(c *Config) { c.Ingest.MinCompleteness = 1.5 }, SeverityError, "ingest.min_completeness", "[0,1]"},
		{"completeness zero", func(c *Config) { c.Ingest.MinCompleteness = 0 }, SeverityWarning, "ingest.min_completeness", "0.25"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, SeverityError, "log.level", "loud"},
		{"bad environment", func(c *Config) { c.Log.Environment = "staging" }, SeverityError, "log.environment", "staging"},
		{"pushgateway without url", func(c *Config) { c.Metrics.Backend = "pushgateway" }, SeverityError, "metrics.pushgateway_url", "required"},
		{"datadog without addr", func(c *Config) { c.Metrics.Backend = "datadog" }, SeverityError, "metrics.datadog_addr", "required"},
		{"unknown metrics backend", func(c *Config) { c.Metrics.Backend = "graphite" }, SeverityError, "metrics.backend", "graphite"},
		{"empty job", func(c *Config) { c.Metrics.Job = "" }, SeverityWarning, "metrics.job", "default"},
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }, SeverityError, "http.addr", "must not be empty"},
		{"no upload limit", func(c *Config) { c.HTTP.MaxUploadBytes = 0 }, SeverityError, "http.max_upload_bytes", "> 0"},
		{"rate disabled", func(c *Config) { c.HTTP.RatePerSecond = 0 }, SeverityWarning, "http.rate_per_second", "disabled"},
		{"zero burst", func(c *Config) { c.HTTP.Burst = 0 }, SeverityError, "http.burst", ">= 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			issues := Validate(c)
			assert.True(t, hasIssue(issues, tt.sev, tt.path, tt.substr), "issues: %+v", issues)
			assert.Equal(t, tt.sev == SeverityError, HasErrors(issues))
		})
	}
}

func TestIssue_Error(t *testing.T) {
	iss := Issue{Severity: SeverityError, Path: "store.dsn", Message: "missing"}
	assert.Equal(t, "error at store.dsn: missing", iss.Error())
}
