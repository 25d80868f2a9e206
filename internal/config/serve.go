package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// QuoteConfig configures the price feed and its cache.
type QuoteConfig struct {
	BaseURL       string
	APIKey        string
	RatePerSecond float64
	Burst         int
	SpotTTL       time.Duration
	HistoryTTL    time.Duration
	RedisURL      string
}

func loadQuote(v *viper.Viper) QuoteConfig {
	return QuoteConfig{
		BaseURL:       v.GetString("coingecko-url"),
		APIKey:        v.GetString("coingecko-key"),
		RatePerSecond: v.GetFloat64("quote-rate"),
		Burst:         v.GetInt("quote-burst"),
		SpotTTL:       v.GetDuration("quote-interval"),
		HistoryTTL:    v.GetDuration("history-ttl"),
		RedisURL:      v.GetString("redis-url"),
	}
}

var quoteDefaults = map[string]interface{}{
	"coingecko-url":  "https://api.coingecko.com/api/v3",
	"quote-rate":     0.5,
	"quote-burst":    1,
	"quote-interval": 30 * time.Second,
	"history-ttl":    5 * time.Minute,
}

// ServeConfig holds configuration for the API server.
type ServeConfig struct {
	Addr         string
	RPCURL       string
	Contracts    Contracts
	Store        StoreConfig
	ExplorerBase string
	PollInterval time.Duration
	ReadTimeout  time.Duration
	Quote        QuoteConfig
	Logging      Logging
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	defaults := map[string]interface{}{
		"addr":          ":8080",
		"store":         "sqlite",
		"sqlite-path":   "./data/paper.db",
		"explorer-base": "https://sepolia.etherscan.io",
		"poll-interval": 10 * time.Second,
		"read-timeout":  10 * time.Second,
		"log-level":     "info",
	}
	for k, val := range quoteDefaults {
		defaults[k] = val
	}
	v, err := newViper(cfgFile, flags, defaults)
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Addr:         v.GetString("addr"),
		RPCURL:       v.GetString("rpc"),
		Contracts:    loadContracts(v),
		Store:        loadStore(v),
		ExplorerBase: v.GetString("explorer-base"),
		PollInterval: v.GetDuration("poll-interval"),
		ReadTimeout:  v.GetDuration("read-timeout"),
		Quote:        loadQuote(v),
		Logging:      loadLogging(v),
	}
	if err := cfg.Store.Validate(); err != nil {
		return ServeConfig{}, err
	}
	return cfg, nil
}
