package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogetl/internal/storage"
)

// TestRegistrationUsesNewStoreHook verifies that the "sqlite" backend
// registered in init() goes through the newStore hook.
func TestRegistrationUsesNewStoreHook(t *testing.T) {
	ctx := context.Background()

	orig := newStore
	defer func() { newStore = orig }()

	var gotCfg Config
	fake := &Store{}
	newStore = func(ctx context.Context, cfg Config) (*Store, error) {
		gotCfg = cfg
		return fake, nil
	}

	s, err := storage.New(ctx, storage.Config{Kind: Kind, DSN: "file:test.db?mode=memory"})
	require.NoError(t, err)
	assert.Equal(t, "file:test.db?mode=memory", gotCfg.DSN)
	assert.Same(t, fake, s)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestRegisteredKind(t *testing.T) {
	assert.Contains(t, storage.ListKinds(), Kind)
}
