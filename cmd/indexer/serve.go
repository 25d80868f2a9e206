package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paperTrading/internal/api"
	"paperTrading/internal/chain"
	"paperTrading/internal/config"
	"paperTrading/internal/contract"
	"paperTrading/internal/metrics"
	"paperTrading/internal/quote"
	"paperTrading/internal/trading"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve history, prices and live trading state over HTTP",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("rpc", "", "Ethereum RPC URL, enables the account state routes")
	addContractFlags(cmd)
	addStoreFlags(cmd, "sqlite")
	cmd.Flags().String("explorer-base", "https://sepolia.etherscan.io", "block explorer base URL")
	cmd.Flags().Duration("poll-interval", 10*time.Second, "account state poll interval")
	cmd.Flags().Duration("read-timeout", 10*time.Second, "timeout per live read bundle")
	addQuoteFlags(cmd)
	return cmd
}

func addQuoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("coingecko-url", "https://api.coingecko.com/api/v3", "CoinGecko API base URL")
	cmd.Flags().String("coingecko-key", "", "CoinGecko demo API key")
	cmd.Flags().Float64("quote-rate", 0.5, "CoinGecko requests per second")
	cmd.Flags().Int("quote-burst", 1, "CoinGecko request burst")
	cmd.Flags().Duration("quote-interval", 30*time.Second, "spot quote cache lifetime")
	cmd.Flags().Duration("history-ttl", 5*time.Minute, "price history cache lifetime")
	cmd.Flags().String("redis-url", "", "share the quote cache through redis")
}

// newQuoteService wires the CoinGecko feed behind a cache. The returned
// func releases the cache.
func newQuoteService(ctx context.Context, cfg config.QuoteConfig, m *metrics.Metrics, logger *zap.Logger) (*quote.Service, func(), error) {
	upstream := quote.NewCoinGecko(quote.CoinGeckoConfig{
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}, logger)

	var cache quote.Cache = quote.NewMemoryCache(nil)
	release := func() {}
	if cfg.RedisURL != "" {
		redisCache, err := quote.NewRedisCache(ctx, cfg.RedisURL, "paper:")
		if err != nil {
			return nil, nil, err
		}
		logger.Info("quote cache", zap.String("redis", redact(cfg.RedisURL)))
		cache = redisCache
		release = func() { redisCache.Close() }
	}

	service := quote.NewService(upstream,
		quote.WithCache(cache),
		quote.WithTTL(cfg.SpotTTL, cfg.HistoryTTL),
		quote.WithMetrics(m),
		quote.WithLogger(logger),
	)
	return service, release, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServe(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store, _, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	quotes, releaseQuotes, err := newQuoteService(ctx, cfg.Quote, m, logger)
	if err != nil {
		return err
	}
	defer releaseQuotes()

	deps := api.Deps{
		Store:    store,
		Quotes:   quotes,
		Metrics:  m,
		Gatherer: registry,
		Logger:   logger,
	}

	if cfg.RPCURL != "" {
		addrs, err := cfg.Contracts.Addresses()
		if err != nil {
			return err
		}
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		if err := contract.VerifyTokens(ctx, chainClient, addrs, contract.NewTokenMetaCache(), logger); err != nil {
			return err
		}
		deps.Reader = trading.NewReader(contract.NewCaller(chainClient, addrs), cfg.ReadTimeout)
	} else {
		logger.Warn("no rpc configured, account state routes disabled")
	}

	server := api.NewServer(api.Config{
		Addr:         cfg.Addr,
		ExplorerBase: cfg.ExplorerBase,
		PollInterval: cfg.PollInterval,
	}, deps)

	logger.Info("serve start",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Kind),
		zap.String("rpc", redact(cfg.RPCURL)),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("read_timeout", cfg.ReadTimeout),
	)
	return server.Run(ctx)
}
