package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// HistoryConfig holds configuration for history queries.
type HistoryConfig struct {
	Source         string
	Store          StoreConfig
	SubgraphURL    string
	SubgraphAPIKey string
	Kinds          []string
	User           string
	Limit          int
	ExplorerBase   string
	Logging        Logging
}

// LoadHistory merges config file, environment variables, and flags into HistoryConfig.
func LoadHistory(cfgFile string, flags *pflag.FlagSet) (HistoryConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"source":        "store",
		"store":         "sqlite",
		"sqlite-path":   "./data/paper.db",
		"subgraph-url":  "https://api.studio.thegraph.com/query/119732/paper-trading/version/latest",
		"limit":         50,
		"explorer-base": "https://sepolia.etherscan.io",
		"log-level":     "info",
	})
	if err != nil {
		return HistoryConfig{}, err
	}

	cfg := HistoryConfig{
		Source:         v.GetString("source"),
		Store:          loadStore(v),
		SubgraphURL:    v.GetString("subgraph-url"),
		SubgraphAPIKey: v.GetString("subgraph-key"),
		Kinds:          getStringSlice(v, "kind"),
		User:           v.GetString("user"),
		Limit:          v.GetInt("limit"),
		ExplorerBase:   v.GetString("explorer-base"),
		Logging:        loadLogging(v),
	}
	switch cfg.Source {
	case "store":
		if err := cfg.Store.Validate(); err != nil {
			return HistoryConfig{}, err
		}
	case "subgraph":
		if cfg.SubgraphURL == "" {
			return HistoryConfig{}, fmt.Errorf("subgraph-url is required for the subgraph source")
		}
	default:
		return HistoryConfig{}, fmt.Errorf("unknown history source %q (store, subgraph)", cfg.Source)
	}
	return cfg, nil
}
