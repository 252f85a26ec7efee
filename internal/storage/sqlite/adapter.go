package sqlite

import (
	"context"

	"catalogetl/internal/storage"
)

// newStore is a test hook that points to NewStore by default. Tests may
// replace it to avoid opening a database.
var newStore = NewStore

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := newStore(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
