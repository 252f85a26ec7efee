//go:build integration

package postgres

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogetl/internal/copytext"
	"catalogetl/internal/domain"
	"catalogetl/internal/storage"
)

// getTestDSN reads POSTGRES_TEST_DSN and skips when it is empty. The target
// database must be disposable: the catalog tables are truncated.
func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping Postgres integration tests")
	}
	return dsn
}

func TestBulkSessionIntegration(t *testing.T) {
	dsn := getTestDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewStore(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = s.DB().ExecContext(ctx, `TRUNCATE product_country, product, country`)
	require.NoError(t, err)

	sess, err := s.OpenBulkSession(ctx)
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.CreateStaging(ctx))

	p := domain.Product{
		Code:         "it-1",
		URL:          "http://example.org/it-1",
		Created:      time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
		LastModified: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
		Name:         "tab\tname",
	}
	var prods, assocs bytes.Buffer
	pw := copytext.NewWriter(&prods)
	require.NoError(t, pw.WriteRow(append(p.Row(nil), 1)))
	require.NoError(t, pw.Flush())
	aw := copytext.NewWriter(&assocs)
	require.NoError(t, aw.WriteRow([]any{"it-1", int64(1), 1}))
	require.NoError(t, aw.Flush())

	tx, err := sess.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertCountry(ctx, domain.Country{ID: 1, Name: "france"}))
	_, err = tx.CopyProducts(ctx, &prods)
	require.NoError(t, err)
	_, err = tx.CopyAssociations(ctx, &assocs)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	res, err := sess.MergeStaging(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Products)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.TableCounts{Products: 1, Countries: 1, Associations: 1}, counts)
}
