package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RunConfig holds configuration for raw log collection.
type RunConfig struct {
	RPCURL            string
	Contracts         Contracts
	FromBlock         uint64
	ToBlock           uint64
	Topic0            []string
	BatchSize         uint64
	Confirmations     uint64
	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Follow            bool
	PollInterval      time.Duration
	// Store, when set, ingests collected logs straight into an entity store
	// instead of appending them to Out.
	Store   StoreConfig
	Logging Logging
}

// StoreConfig selects an entity store.
type StoreConfig struct {
	Kind       string
	PGDSN      string
	SQLitePath string
	StateFile  string
}

func loadStore(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Kind:       v.GetString("store"),
		PGDSN:      v.GetString("pg-dsn"),
		SQLitePath: v.GetString("sqlite-path"),
		StateFile:  v.GetString("state-file"),
	}
}

// Validate checks that the selected store has what it needs.
func (s StoreConfig) Validate() error {
	switch s.Kind {
	case "", "memory":
		return nil
	case "postgres":
		if s.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite-path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store %q (memory, postgres, sqlite)", s.Kind)
	}
	return nil
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"batch-size":         uint64(2000),
		"out":                "./data/logs.jsonl",
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
		"poll-interval":      12 * time.Second,
		"log-level":          "info",
	})
	if err != nil {
		return RunConfig{}, err
	}

	cfg := RunConfig{
		RPCURL:            v.GetString("rpc"),
		Contracts:         loadContracts(v),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		Topic0:            getStringSlice(v, "topic0"),
		BatchSize:         v.GetUint64("batch-size"),
		Confirmations:     v.GetUint64("confirmations"),
		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Follow:            v.GetBool("follow"),
		PollInterval:      v.GetDuration("poll-interval"),
		Store:             loadStore(v),
		Logging:           loadLogging(v),
	}
	if cfg.Store.Kind != "" {
		if err := cfg.Store.Validate(); err != nil {
			return RunConfig{}, err
		}
	}
	return cfg, nil
}
