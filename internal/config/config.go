package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"paperTrading/internal/contract"
)

// EnvPrefix is prepended to every environment key: --rpc is PAPER_RPC.
const EnvPrefix = "PAPER"

var dotenvOnce sync.Once

// loadDotenv reads ./.env into the process environment once. A missing file
// is not an error; existing variables win.
func loadDotenv() error {
	var err error
	dotenvOnce.Do(func() {
		if loadErr := godotenv.Load(); loadErr != nil && !os.IsNotExist(loadErr) {
			err = fmt.Errorf("load .env: %w", loadErr)
		}
	})
	return err
}

// newViper merges config file, environment variables and flags. Flags win
// over env, env over file, file over defaults.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// Contracts are the deployed addresses shared by every command.
type Contracts struct {
	PaperTrading string
	WETH         string
	TestUSD      string
}

func loadContracts(v *viper.Viper) Contracts {
	return Contracts{
		PaperTrading: v.GetString("paper-trading"),
		WETH:         v.GetString("weth"),
		TestUSD:      v.GetString("test-usd"),
	}
}

// Addresses validates the configured contract addresses.
func (c Contracts) Addresses() (contract.Addresses, error) {
	return contract.ParseAddresses(c.PaperTrading, c.WETH, c.TestUSD)
}

// Logging is shared by every command.
type Logging struct {
	Level string
	File  string
}

func loadLogging(v *viper.Viper) Logging {
	return Logging{
		Level: v.GetString("log-level"),
		File:  v.GetString("log-file"),
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

// getStringMap reads key=value pairs given either as a map in the config
// file or as a comma-separated list.
func getStringMap(v *viper.Viper, key string) (map[string]string, error) {
	if !v.IsSet(key) {
		return nil, nil
	}
	if m := v.GetStringMapString(key); len(m) > 0 {
		return m, nil
	}

	out := make(map[string]string)
	for _, pair := range getStringSlice(v, key) {
		k, val, ok := strings.Cut(pair, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			return nil, fmt.Errorf("invalid %s entry %q, want key=value", key, pair)
		}
		out[k] = val
	}
	return out, nil
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
