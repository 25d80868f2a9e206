package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paperTrading/internal/config"
	"paperTrading/internal/contract"
	"paperTrading/internal/ingest"
	"paperTrading/internal/publish"
	"paperTrading/internal/storage"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Derive entities from collected logs into an entity store",
		RunE:  runIngest,
	}

	cmd.Flags().String("in", "", "input raw logs JSONL (- for stdin)")
	cmd.Flags().String("errors", "./data/ingest_errors.jsonl", "ingest errors JSONL")
	addContractFlags(cmd)
	addStoreFlags(cmd, "sqlite")
	cmd.Flags().Int("batch-size", 500, "entities per committed batch")
	cmd.Flags().String("recompute-from", "", "ignore the saved cursor and start at this block")
	cmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	cmd.Flags().StringSlice("kafka-brokers", nil, "publish created entities to these kafka brokers")
	cmd.Flags().String("kafka-topic", "paper-trading.entities", "kafka topic for created entities")
	return cmd
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadIngest(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if !common.IsHexAddress(cfg.Contracts.PaperTrading) {
		return fmt.Errorf("invalid paper-trading address: %q", cfg.Contracts.PaperTrading)
	}
	contractAddr := common.HexToAddress(cfg.Contracts.PaperTrading)

	// Decoder construction validates the ABI and the topic0 map up front.
	decoder, err := contract.NewDecoder(contract.DecoderConfig{
		Topic0Map: cfg.Topic0Map,
		Address:   contractAddr.Hex(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrSchema, err)
	}

	ctx, stop := signalContext()
	defer stop()

	store, state, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []ingest.Option{
		ingest.WithStateStore(state),
		ingest.WithLogger(logger),
	}
	if cfg.Errors != "" {
		opts = append(opts, ingest.WithErrorSink(storage.NewJsonlStorage(cfg.Errors)))
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, ingest.WithPublisher(publisher))
	}

	ingester := ingest.New(ingest.Config{
		StateName:     ingest.StateName(contractAddr.Hex()),
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: cfg.RecomputeFrom,
	}, decoder, store, opts...)

	var input io.Reader = os.Stdin
	if cfg.Input != "-" {
		file, err := os.Open(cfg.Input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer file.Close()
		input = file
	}

	logger.Info("ingest start",
		zap.String("in", cfg.Input),
		zap.String("contract", contractAddr.Hex()),
		zap.String("store", cfg.Store.Kind),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("topic0_map", len(cfg.Topic0Map)),
		zap.Bool("kafka", len(cfg.KafkaBrokers) > 0),
	)

	runErr := ingester.IngestReader(ctx, input)
	stats := ingester.Stats()
	logger.Info("ingest done",
		zap.Int("lines", stats.Lines),
		zap.Int("skipped", stats.Skipped),
		zap.Int("created", stats.Created),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("conflicts", stats.Conflicts),
		zap.Uint64("cursor", ingester.Cursor()),
	)
	if runErr != nil {
		if ingest.IsSchemaError(runErr) {
			return fmt.Errorf("schema error, ingest aborted: %w", runErr)
		}
		return runErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
