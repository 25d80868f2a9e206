package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// TradeConfig holds configuration for the state and trade commands.
type TradeConfig struct {
	RPCURL         string
	Contracts      Contracts
	Account        string
	PrivateKey     string
	ReadTimeout    time.Duration
	ConfirmTimeout time.Duration
	Quote          QuoteConfig
	Logging        Logging
}

// LoadTrade merges config file, environment variables, and flags into
// TradeConfig. The private key is best passed as PAPER_PRIVATE_KEY.
func LoadTrade(cfgFile string, flags *pflag.FlagSet) (TradeConfig, error) {
	defaults := map[string]interface{}{
		"read-timeout":    10 * time.Second,
		"confirm-timeout": 2 * time.Minute,
		"log-level":       "info",
	}
	for k, val := range quoteDefaults {
		defaults[k] = val
	}
	v, err := newViper(cfgFile, flags, defaults)
	if err != nil {
		return TradeConfig{}, err
	}

	cfg := TradeConfig{
		RPCURL:         v.GetString("rpc"),
		Contracts:      loadContracts(v),
		Account:        v.GetString("account"),
		PrivateKey:     v.GetString("private-key"),
		ReadTimeout:    v.GetDuration("read-timeout"),
		ConfirmTimeout: v.GetDuration("confirm-timeout"),
		Quote:          loadQuote(v),
		Logging:        loadLogging(v),
	}
	if cfg.RPCURL == "" {
		return TradeConfig{}, fmt.Errorf("rpc url is required")
	}
	return cfg, nil
}
