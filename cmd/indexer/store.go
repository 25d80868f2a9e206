package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"paperTrading/internal/config"
	"paperTrading/internal/ingest"
	"paperTrading/internal/storage"
	"paperTrading/internal/storage/postgres"
	"paperTrading/internal/storage/sqlite"
)

// openStore opens the configured entity store and the state store holding
// its resume cursor. Only the memory store keeps cursors apart, in a file.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (storage.EntityStore, storage.StateStore, error) {
	switch cfg.Kind {
	case "", "memory":
		store := storage.NewMemoryStore()
		if cfg.StateFile == "" {
			return store, store, nil
		}
		logger.Info("memory store", zap.String("state_file", cfg.StateFile))
		return store, &ingest.FileStateStore{Path: cfg.StateFile}, nil
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info("postgres store", zap.String("dsn", redact(cfg.PGDSN)))
		return store, store, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite store", zap.String("path", cfg.SQLitePath))
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Kind)
	}
}
