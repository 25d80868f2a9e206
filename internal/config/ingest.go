package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// IngestConfig holds configuration for entity derivation.
type IngestConfig struct {
	Input         string
	Errors        string
	Contracts     Contracts
	Store         StoreConfig
	BatchSize     int
	RecomputeFrom *uint64
	Topic0Map     map[string]string
	KafkaBrokers  []string
	KafkaTopic    string
	Logging       Logging
}

// LoadIngest merges config file, environment variables, and flags into IngestConfig.
func LoadIngest(cfgFile string, flags *pflag.FlagSet) (IngestConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"errors":      "./data/ingest_errors.jsonl",
		"store":       "sqlite",
		"sqlite-path": "./data/paper.db",
		"state-file":  "./data/ingest_state.json",
		"batch-size":  500,
		"kafka-topic": "paper-trading.entities",
		"log-level":   "info",
	})
	if err != nil {
		return IngestConfig{}, err
	}

	topic0Map, err := getStringMap(v, "topic0-map")
	if err != nil {
		return IngestConfig{}, err
	}
	recompute, err := parseOptionalBlock(v.GetString("recompute-from"))
	if err != nil {
		return IngestConfig{}, fmt.Errorf("recompute-from: %w", err)
	}

	cfg := IngestConfig{
		Input:         v.GetString("in"),
		Errors:        v.GetString("errors"),
		Contracts:     loadContracts(v),
		Store:         loadStore(v),
		BatchSize:     v.GetInt("batch-size"),
		RecomputeFrom: recompute,
		Topic0Map:     topic0Map,
		KafkaBrokers:  getStringSlice(v, "kafka-brokers"),
		KafkaTopic:    v.GetString("kafka-topic"),
		Logging:       loadLogging(v),
	}
	if err := cfg.Store.Validate(); err != nil {
		return IngestConfig{}, err
	}
	if cfg.BatchSize <= 0 {
		return IngestConfig{}, fmt.Errorf("batch-size must be positive")
	}
	return cfg, nil
}

func parseOptionalBlock(input string) (*uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	block, err := strconv.ParseUint(input, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block number %q", input)
	}
	return &block, nil
}
