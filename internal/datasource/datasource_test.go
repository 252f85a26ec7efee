package datasource

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogetl/internal/datasource/file"
	"catalogetl/internal/datasource/httpds"
)

func TestResolve(t *testing.T) {
	stdin := strings.NewReader("[]")

	s := Resolve("-", stdin, nil)
	assert.Equal(t, "stdin", s.Name())
	rc, err := s.Open(context.Background())
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	s = Resolve("https://example.com/products.json", stdin, nil)
	assert.IsType(t, &httpds.Remote{}, s)
	assert.Equal(t, "https://example.com/products.json", s.Name())

	s = Resolve("products.json", stdin, nil)
	assert.IsType(t, &file.Local{}, s)
	assert.Equal(t, "products.json", s.Name())
}
