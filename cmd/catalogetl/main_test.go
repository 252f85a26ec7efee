package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogetl/internal/storage/sqlite"
)

const sample = `[
 {"code":"A","url":"http://x/A","created_datetime":1577836800,"last_modified_datetime":"2021-01-01T00:00:00Z",
  "product_name":"Foo","countries_en":"France,Germany","completeness":0.9},
 {"code":"B","url":"http://x/B","created_datetime":1577836800,"last_modified_datetime":"2021-01-01T00:00:00Z",
  "product_name":"Bar","countries_en":"France","completeness":0.1}
]`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func sqliteEnv(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "catalog.db")
	t.Setenv("CATALOG_STORE_KIND", "sqlite")
	t.Setenv("CATALOG_STORE_DSN", dsn)
	t.Setenv("CATALOG_LOG_LEVEL", "error")
	return dsn
}

func counts(t *testing.T, dsn string) (int64, int64, int64) {
	t.Helper()
	s, err := sqlite.NewStore(context.Background(), sqlite.Config{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	c, err := s.Counts(context.Background())
	require.NoError(t, err)
	return c.Products, c.Countries, c.Associations
}

func TestValidate(t *testing.T) {
	sqliteEnv(t)
	out, _, err := execute(t, "", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid: store=sqlite")
	for _, kind := range []string{"mssql", "mysql", "postgres", "sqlite"} {
		assert.Contains(t, out, kind)
	}
}

func TestValidate_Invalid(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("CATALOG_INGEST_BATCH_SIZE", "0")

	_, errOut, err := execute(t, "", "validate")
	require.Error(t, err)
	assert.Contains(t, errOut, "error: ingest.batch_size")
}

func TestLoad_File(t *testing.T) {
	dsn := sqliteEnv(t)
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	skips := filepath.Join(t.TempDir(), "logs", "skips.csv")

	out, _, err := execute(t, "", "load", path, "--batch-size", "1", "--strategy", "generic", "--skip-log", skips)
	require.NoError(t, err)
	assert.Contains(t, out, "1 records accepted, 1 skipped")
	assert.Contains(t, out, "strategy=generic")

	p, c, a := counts(t, dsn)
	assert.EqualValues(t, 1, p)
	assert.EqualValues(t, 2, c)
	assert.EqualValues(t, 2, a)

	logged, err := os.ReadFile(skips)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "below_completeness,1,B,")
}

func TestLoad_StdinBulk(t *testing.T) {
	dsn := sqliteEnv(t)

	out, _, err := execute(t, sample, "load", "-", "--strategy", "bulk")
	require.NoError(t, err)
	assert.Contains(t, out, "stdin: 1 records accepted")
	assert.Contains(t, out, "strategy=bulk")

	p, _, a := counts(t, dsn)
	assert.EqualValues(t, 1, p)
	assert.EqualValues(t, 2, a)
}

func TestLoad_URL(t *testing.T) {
	dsn := sqliteEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sample)
	}))
	defer srv.Close()

	out, _, err := execute(t, "", "load", srv.URL+"/products.json")
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL+"/products.json: 1 records accepted")

	p, _, _ := counts(t, dsn)
	assert.EqualValues(t, 1, p)
}

func TestLoad_Limit(t *testing.T) {
	dsn := sqliteEnv(t)

	out, _, err := execute(t, sample, "load", "-", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "stdin: 1 records accepted, 0 skipped")
	assert.Contains(t, out, "stopped at --limit 1")

	p, _, _ := counts(t, dsn)
	assert.EqualValues(t, 1, p)
}

func TestLoad_Malformed(t *testing.T) {
	sqliteEnv(t)
	_, _, err := execute(t, `{"not":"an array"}`, "load", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load stdin")
	assert.Contains(t, err.Error(), "malformed input")
}

func TestLoad_MissingFile(t *testing.T) {
	sqliteEnv(t)
	_, _, err := execute(t, "", "load", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open input")
}

func TestLoad_RequiresArg(t *testing.T) {
	sqliteEnv(t)
	_, _, err := execute(t, "", "load")
	require.Error(t, err)
}
