package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"paperTrading/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "PaperTrading event indexer and trading state service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-file", "", "also write JSON logs to this rotating file")

	root.AddCommand(
		newRunCmd(),
		newIngestCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newStateCmd(),
		newTradeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addContractFlags(cmd *cobra.Command) {
	cmd.Flags().String("paper-trading", "", "PaperTrading contract address")
	cmd.Flags().String("weth", "", "WETH token address")
	cmd.Flags().String("test-usd", "", "TestUSD token address")
}

func addStoreFlags(cmd *cobra.Command, defaultKind string) {
	cmd.Flags().String("store", defaultKind, "entity store (memory, postgres, sqlite)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("sqlite-path", "./data/paper.db", "SQLite database path")
	cmd.Flags().String("state-file", "./data/ingest_state.json", "resume cursor file for the memory store")
}

func configFile(cmd *cobra.Command) string {
	cfgFile, _ := cmd.Flags().GetString("config")
	return cfgFile
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(cfg config.Logging) (*zap.Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevel()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	if cfg.File == "" {
		return logger, nil
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zcfg.EncoderConfig), zapcore.AddSync(rotating), zcfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

// redact hides credentials in DSNs and URLs before they are logged.
func redact(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	q := u.Query()
	for key := range q {
		switch key {
		case "password", "key", "apikey", "api_key", "token":
			q.Set(key, "***")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

