package main

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paperTrading/internal/chain"
	"paperTrading/internal/config"
	"paperTrading/internal/contract"
	"paperTrading/internal/indexer"
	"paperTrading/internal/ingest"
	"paperTrading/internal/storage"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect PaperTrading logs from the chain",
		RunE:  runCollector,
	}

	cmd.Flags().String("rpc", "", "Ethereum RPC URL")
	addContractFlags(cmd)
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	cmd.Flags().StringSlice("topic0", nil, "topic0 filter (comma-separated), defaults to the known events")
	cmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	cmd.Flags().Uint64("confirmations", 0, "blocks to stay behind the head")
	cmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path, unused with --store")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Bool("follow", false, "keep polling for new blocks")
	cmd.Flags().Duration("poll-interval", 12*time.Second, "head poll interval with --follow")
	addStoreFlags(cmd, "")
	return cmd
}

func runCollector(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadRun(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Contracts.PaperTrading) {
		return fmt.Errorf("invalid paper-trading address: %q", cfg.Contracts.PaperTrading)
	}
	contractAddr := common.HexToAddress(cfg.Contracts.PaperTrading)

	decoder, err := contract.NewDecoder(contract.DecoderConfig{Address: contractAddr.Hex()})
	if err != nil {
		return err
	}
	topic0, err := indexer.ParseTopic0(cfg.Topic0)
	if err != nil {
		return err
	}
	if len(topic0) == 0 {
		topic0 = decoder.Topic0s()
	}

	ctx, stop := signalContext()
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	var sink storage.Storage
	var ingester *ingest.Ingester
	var checkpoint indexer.Checkpointer
	if cfg.CheckpointEnabled && cfg.Checkpoint != "" {
		checkpoint = indexer.NewFileCheckpoint(cfg.Checkpoint, contractAddr)
	}
	if cfg.Store.Kind == "" {
		sink = storage.NewJsonlStorage(cfg.Out)
	} else {
		store, state, err := openStore(ctx, cfg.Store, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		ingester = ingest.New(ingest.Config{StateName: ingest.StateName(contractAddr.Hex())}, decoder, store,
			ingest.WithStateStore(state),
			ingest.WithLogger(logger),
		)
		if err := ingester.Start(ctx); err != nil {
			return err
		}
		sink = ingester
		if cfg.CheckpointEnabled {
			checkpoint = indexer.NewStoreCheckpoint(state, contractAddr)
		}
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:     cfg.FromBlock,
		ToBlock:       cfg.ToBlock,
		Contract:      contractAddr,
		Topic0:        topic0,
		BatchSize:     cfg.BatchSize,
		Confirmations: cfg.Confirmations,
		Checkpoint:    checkpoint,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		Follow:        cfg.Follow,
		PollInterval:  cfg.PollInterval,
	}, chainClient, sink, logger)

	logger.Info("collector start",
		zap.String("rpc", redact(cfg.RPCURL)),
		zap.String("contract", contractAddr.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("topic0", len(topic0)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.String("store", cfg.Store.Kind),
		zap.Bool("follow", cfg.Follow),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	err = runner.Run(ctx)
	if ingester != nil {
		stats := ingester.Stats()
		logger.Info("ingest summary",
			zap.Int("created", stats.Created),
			zap.Int("unchanged", stats.Unchanged),
			zap.Int("conflicts", stats.Conflicts),
			zap.Uint64("cursor", ingester.Cursor()),
		)
	}
	return err
}
