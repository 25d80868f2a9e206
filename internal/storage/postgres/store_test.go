package postgres

import (
	"context"
	"os"
	"testing"

	"paperTrading/internal/storage"
	"paperTrading/internal/storage/storagetest"
)

// Set PAPER_TEST_PG_DSN to a disposable database to run these tests.
func TestStore(t *testing.T) {
	dsn := os.Getenv("PAPER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PAPER_TEST_PG_DSN not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.EntityStore {
		ctx := context.Background()
		store, err := NewStore(ctx, dsn)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("schema: %v", err)
		}
		if _, err := store.pool.Exec(ctx, `TRUNCATE entities, indexer_state`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}
