package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"paperTrading/internal/contract"
	"paperTrading/internal/metrics"
	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

// LogDecoder turns a raw log into a RawEvent. *contract.Decoder satisfies it.
type LogDecoder interface {
	Decode(log model.LogRecord) (model.RawEvent, error)
}

// Publisher receives entities after they are committed for the first time.
type Publisher interface {
	Publish(ctx context.Context, entities []model.Entity) error
}

// ErrorSink records ingest errors. *storage.JsonlStorage satisfies it.
type ErrorSink interface {
	Append(values ...interface{}) error
}

// Config holds ingest settings.
type Config struct {
	// StateName keys the resume cursor; see StateName.
	StateName string
	BatchSize int
	// RecomputeFrom, when set, replaces the saved cursor.
	RecomputeFrom *uint64
}

// Stats counts what a run did.
type Stats struct {
	Lines     int `json:"lines"`
	Skipped   int `json:"skipped"`
	Created   int `json:"created"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
}

// Ingester derives entities from logs in ledger order and commits them in
// batches. Each batch becomes visible atomically, and batches are committed
// in order, so readers never see an entity before its predecessors.
type Ingester struct {
	cfg       Config
	decoder   LogDecoder
	store     storage.EntityStore
	state     storage.StateStore
	publisher Publisher
	errors    ErrorSink
	metrics   *metrics.Metrics
	logger    *zap.Logger

	cursor  uint64
	started bool
	last    *model.Position
	pending []model.Entity
	records map[model.EntityID]model.LogRecord
	stats   Stats
}

// Option customizes an Ingester.
type Option func(*Ingester)

func WithPublisher(p Publisher) Option { return func(i *Ingester) { i.publisher = p } }

func WithErrorSink(s ErrorSink) Option { return func(i *Ingester) { i.errors = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(i *Ingester) { i.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(i *Ingester) { i.logger = l } }

// WithStateStore keeps cursors outside the entity store.
func WithStateStore(s storage.StateStore) Option { return func(i *Ingester) { i.state = s } }

// New builds an Ingester. The entity store doubles as the cursor store
// unless WithStateStore is given.
func New(cfg Config, decoder LogDecoder, store storage.EntityStore, opts ...Option) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	i := &Ingester{
		cfg:     cfg,
		decoder: decoder,
		store:   store,
		state:   store,
		logger:  zap.NewNop(),
		records: make(map[model.EntityID]model.LogRecord),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Start loads the resume cursor. Process calls it on first use.
func (i *Ingester) Start(ctx context.Context) error {
	if i.started {
		return nil
	}
	if i.decoder == nil || i.store == nil {
		return fmt.Errorf("ingester requires a decoder and a store")
	}
	if i.cfg.RecomputeFrom != nil {
		i.cursor = *i.cfg.RecomputeFrom
		i.logger.Info("recompute from block", zap.Uint64("block_number", i.cursor))
	} else if i.cfg.StateName != "" {
		cursor, ok, err := i.state.LoadState(ctx, i.cfg.StateName)
		if err != nil {
			return fmt.Errorf("load ingest state: %w", err)
		}
		if ok {
			i.cursor = cursor
			i.logger.Info("resume from cursor", zap.Uint64("block_number", cursor))
		}
	}
	i.started = true
	return nil
}

// Stats returns the counters so far.
func (i *Ingester) Stats() Stats {
	return i.stats
}

// Cursor returns the block below which logs are skipped.
func (i *Ingester) Cursor() uint64 {
	return i.cursor
}

// Process handles one log. Schema and ordering violations are returned as
// errors wrapping ErrSchema or ErrOutOfOrder; the caller must stop.
func (i *Ingester) Process(ctx context.Context, record model.LogRecord) error {
	if err := i.Start(ctx); err != nil {
		return err
	}
	i.stats.Lines++

	position := record.Position()
	if i.last != nil && position.Compare(*i.last) < 0 {
		i.reportFatal(record, "", "out_of_order", fmt.Errorf("position %s after %s", position, *i.last))
		return fmt.Errorf("%w: %s after %s (tx %s)", ErrOutOfOrder, position, *i.last, record.TxHash)
	}
	i.last = &position

	if record.BlockNumber < i.cursor {
		i.stats.Skipped++
		return nil
	}

	event, err := i.decoder.Decode(record)
	if err != nil {
		i.metrics.RecordSchemaError()
		i.reportFatal(record, "", "decode", err)
		return fmt.Errorf("%w: block %d log %d: %v", ErrSchema, record.BlockNumber, record.LogIndex, err)
	}
	entity, err := Derive(event)
	if err != nil {
		i.metrics.RecordSchemaError()
		i.reportFatal(record, "", "derive", err)
		return err
	}

	i.pending = append(i.pending, entity)
	i.records[entity.ID] = record
	if len(i.pending) >= i.cfg.BatchSize {
		return i.Flush(ctx)
	}
	return nil
}

// Flush commits the pending batch, reports its outcomes, and advances the
// cursor to the batch's last block.
func (i *Ingester) Flush(ctx context.Context) error {
	if len(i.pending) == 0 {
		return nil
	}
	batch := i.pending
	i.pending = nil
	defer func() {
		for _, e := range batch {
			delete(i.records, e.ID)
		}
	}()

	results, err := i.store.Upsert(ctx, batch)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	if len(results) != len(batch) {
		return fmt.Errorf("upsert batch: %d results for %d entities", len(results), len(batch))
	}

	created := make([]model.Entity, 0, len(batch))
	for idx, result := range results {
		entity := batch[idx]
		i.metrics.RecordIngested(string(entity.Kind), string(result.Outcome))
		switch result.Outcome {
		case storage.OutcomeCreated:
			i.stats.Created++
			created = append(created, entity)
		case storage.OutcomeUnchanged:
			i.stats.Unchanged++
		case storage.OutcomeConflict:
			i.stats.Conflicts++
			i.reportConflict(entity, result)
		}
	}

	if i.publisher != nil && len(created) > 0 {
		if err := i.publisher.Publish(ctx, created); err != nil {
			return fmt.Errorf("publish entities: %w", err)
		}
	}

	lastBlock := batch[len(batch)-1].BlockNumber
	if i.cfg.StateName != "" && lastBlock >= i.cursor {
		if err := i.state.SaveState(ctx, i.cfg.StateName, lastBlock); err != nil {
			return fmt.Errorf("save ingest state: %w", err)
		}
		i.cursor = lastBlock
		i.metrics.SetIngestCursor(lastBlock)
	}

	i.logger.Info("batch committed",
		zap.Int("entities", len(batch)),
		zap.Int("created", len(created)),
		zap.Uint64("block_number", lastBlock),
	)
	return nil
}

// PutLogBatch lets the collector stream straight into ingest.
func (i *Ingester) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	for _, record := range logs {
		if err := i.Process(ctx, record); err != nil {
			return err
		}
	}
	return i.Flush(ctx)
}

// IngestReader processes a JSONL log stream to the end and flushes.
func (i *Ingester) IngestReader(ctx context.Context, r io.Reader) error {
	err := storage.ReadLogRecords(ctx, r, func(line int, record model.LogRecord) error {
		if err := i.Process(ctx, record); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		return nil
	})
	if err != nil {
		// Entities already derived before a fatal line are still valid facts.
		if flushErr := i.Flush(ctx); flushErr != nil {
			return errors.Join(err, flushErr)
		}
		return err
	}
	return i.Flush(ctx)
}

func (i *Ingester) reportConflict(entity model.Entity, result storage.UpsertResult) {
	err := fmt.Errorf("%w: %s already stored with different content", storage.ErrConflict, entity.ID)
	existingTx := ""
	if result.Existing != nil {
		existingTx = result.Existing.TransactionHash
	}
	i.logger.Warn("entity conflict",
		zap.String("entity_id", string(entity.ID)),
		zap.String("existing_tx_hash", existingTx),
		zap.String("kind", string(entity.Kind)),
		zap.Uint64("block_number", entity.BlockNumber),
		zap.Uint64("log_index", entity.LogIndex),
		zap.String("tx_hash", entity.TransactionHash),
	)
	record, ok := i.records[entity.ID]
	if !ok {
		record = model.LogRecord{BlockNumber: entity.BlockNumber, LogIndex: entity.LogIndex, TxHash: entity.TransactionHash}
	}
	i.writeError(record, string(entity.ID), "conflict", err)
}

func (i *Ingester) reportFatal(record model.LogRecord, entityID, reason string, err error) {
	i.logger.Error("ingest stopped",
		zap.String("reason", reason),
		zap.Uint64("block_number", record.BlockNumber),
		zap.Uint64("log_index", record.LogIndex),
		zap.String("tx_hash", record.TxHash),
		zap.Error(err),
	)
	i.writeError(record, entityID, reason, err)
}

func (i *Ingester) writeError(record model.LogRecord, entityID, reason string, err error) {
	if i.errors == nil {
		return
	}
	ingestErr := model.IngestError{
		ChainID:     record.ChainID,
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		EntityID:    entityID,
		Topic0:      record.Topic0(),
		Reason:      reason,
		Error:       err.Error(),
	}
	if werr := i.errors.Append(ingestErr); werr != nil {
		i.logger.Warn("write ingest error failed", zap.Error(werr))
	}
}

// IsSchemaError reports whether err came from a decoder or schema check.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchema) ||
		errors.Is(err, contract.ErrUnknownEvent) ||
		errors.Is(err, contract.ErrMalformedLog) ||
		errors.Is(err, contract.ErrRemovedLog)
}
