package main

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paperTrading/internal/api"
	"paperTrading/internal/config"
	"paperTrading/internal/model"
	"paperTrading/internal/storage"
	"paperTrading/internal/subgraph"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent deposits and redemptions",
		RunE:  runHistory,
	}

	cmd.Flags().String("source", "store", "history source (store, subgraph)")
	addStoreFlags(cmd, "sqlite")
	cmd.Flags().String("subgraph-url", "https://api.studio.thegraph.com/query/119732/paper-trading/version/latest", "hosted subgraph URL")
	cmd.Flags().String("subgraph-key", "", "subgraph API key")
	cmd.Flags().StringSlice("kind", nil, "event kinds (deposit, redeem, ownership), defaults to deposits and redemptions")
	cmd.Flags().String("user", "", "only entities of this account")
	cmd.Flags().Int("limit", 50, "maximum entities")
	cmd.Flags().String("explorer-base", "https://sepolia.etherscan.io", "block explorer base URL")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadHistory(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	q := storage.Query{Limit: cfg.Limit, Kinds: api.DefaultHistoryKinds}
	if len(cfg.Kinds) > 0 {
		q.Kinds = nil
		for _, raw := range cfg.Kinds {
			kind, err := model.ParseEventKind(raw)
			if err != nil {
				return err
			}
			q.Kinds = append(q.Kinds, kind)
		}
	}
	if cfg.User != "" {
		if !common.IsHexAddress(cfg.User) {
			return fmt.Errorf("invalid user address: %q", cfg.User)
		}
		q.User = cfg.User
	}

	ctx, stop := signalContext()
	defer stop()

	var source api.HistorySource
	switch cfg.Source {
	case "subgraph":
		client, err := subgraph.NewClient(subgraph.Config{URL: cfg.SubgraphURL, APIKey: cfg.SubgraphAPIKey}, logger)
		if err != nil {
			return err
		}
		source = client
	default:
		store, _, err := openStore(ctx, cfg.Store, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		source = store
	}

	entities, err := source.Recent(ctx, q)
	if err != nil {
		return err
	}
	logger.Debug("history fetched", zap.String("source", cfg.Source), zap.Int("entities", len(entities)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, item := range api.HistoryItems(entities, cfg.ExplorerBase) {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
