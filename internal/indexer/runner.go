package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"paperTrading/internal/storage"
)

// LogSource is the chain surface the runner needs. *chain.Client satisfies it.
type LogSource interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// RunConfig holds runtime settings for the log collector.
type RunConfig struct {
	FromBlock     uint64
	ToBlock       uint64
	Contract      common.Address
	Topic0        []common.Hash
	BatchSize     uint64
	Confirmations uint64
	// Checkpoint, when set, is loaded once at start and saved after every
	// stored batch.
	Checkpoint   Checkpointer
	MaxRetries   int
	RetryBackoff time.Duration
	// Follow keeps polling for new blocks after reaching the head.
	Follow       bool
	PollInterval time.Duration
}

// Runner streams PaperTrading logs from the chain and writes them to a sink.
type Runner struct {
	cfg     RunConfig
	chain   LogSource
	storage storage.Storage
	logger  *zap.Logger
	retry   backoff
	records *recordBuilder
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, source LogSource, sink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		chain:   source,
		storage: sink,
		logger:  logger,
		retry:   newBackoff(cfg.MaxRetries, cfg.RetryBackoff),
	}
}

func (r *Runner) validate() error {
	switch {
	case r.chain == nil:
		return fmt.Errorf("chain client is nil")
	case r.storage == nil:
		return fmt.Errorf("storage is nil")
	case r.cfg.BatchSize == 0:
		return fmt.Errorf("batch size must be greater than zero")
	case r.cfg.Contract == (common.Address{}):
		return fmt.Errorf("contract address is required")
	case len(r.cfg.Topic0) == 0:
		return fmt.Errorf("at least one topic0 is required")
	}
	return nil
}

// Run executes the collection loop. Without Follow it stops at the target
// block; with Follow it waits PollInterval and continues from the head.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.validate(); err != nil {
		return err
	}

	chainID, err := r.chain.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	r.records = newRecordBuilder(chainID.Uint64())

	from, err := r.resume(ctx)
	if err != nil {
		return err
	}

	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 12 * time.Second
	}

	for {
		to, ok, err := r.target(ctx)
		if err != nil {
			return err
		}
		if ok && from <= to {
			if err := r.sync(ctx, from, to); err != nil {
				return err
			}
			from = to + 1
		} else {
			r.logger.Debug("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		}

		if !r.cfg.Follow || (r.cfg.ToBlock != 0 && from > r.cfg.ToBlock) {
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Runner) resume(ctx context.Context) (uint64, error) {
	from := r.cfg.FromBlock
	if r.cfg.Checkpoint == nil {
		return from, nil
	}
	last, ok, err := r.cfg.Checkpoint.Load(ctx)
	if err != nil {
		return 0, err
	}
	if ok && last >= from {
		from = last + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}
	return from, nil
}

// target returns the last block to collect. ok is false while the chain is
// shallower than the confirmation depth.
func (r *Runner) target(ctx context.Context) (uint64, bool, error) {
	latest, err := retryCall(ctx, r.retry, r.warn("latest block failed"), r.chain.LatestBlockNumber)
	if err != nil {
		return 0, false, fmt.Errorf("get latest block: %w", err)
	}
	head, ok := SafeHead(latest, r.cfg.Confirmations, r.cfg.ToBlock)
	return head, ok, nil
}

func (r *Runner) sync(ctx context.Context, from, to uint64) error {
	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	addresses := []common.Address{r.cfg.Contract}

	for _, br := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.logger.Info("fetch logs", zap.Uint64("from", br.From), zap.Uint64("to", br.To))

		logs, err := retryCall(ctx, r.retry, r.warn("filter logs failed", zap.Uint64("from", br.From), zap.Uint64("to", br.To)),
			func(ctx context.Context) ([]types.Log, error) {
				return r.chain.FilterLogs(ctx, br.From, br.To, addresses, r.cfg.Topic0)
			})
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}

		records, err := r.records.build(logs, func(block uint64) (uint64, error) {
			return retryCall(ctx, r.retry, r.warn("block timestamp failed", zap.Uint64("block_number", block)),
				func(ctx context.Context) (uint64, error) {
					return r.chain.BlockTimestamp(ctx, block)
				})
		})
		if err != nil {
			return err
		}

		if err := r.storage.PutLogBatch(ctx, records); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}
		if r.cfg.Checkpoint != nil {
			if err := r.cfg.Checkpoint.Save(ctx, br.To); err != nil {
				return err
			}
		}

		r.logger.Info("batch complete", zap.Int("logs", len(records)), zap.Uint64("from", br.From), zap.Uint64("to", br.To))
	}
	return nil
}

func (r *Runner) warn(msg string, fields ...zap.Field) func(int, error) {
	return func(attempt int, err error) {
		r.logger.Warn(msg, append(fields, zap.Int("attempt", attempt+1), zap.Error(err))...)
	}
}
