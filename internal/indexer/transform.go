package indexer

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"paperTrading/internal/model"
)

type logKey struct {
	block uint64
	tx    common.Hash
	index uint
}

// recordBuilder turns raw logs into LogRecords in ledger order, skipping
// logs it already emitted during this run.
type recordBuilder struct {
	chainID uint64
	seen    map[logKey]struct{}
	now     func() time.Time
}

func newRecordBuilder(chainID uint64) *recordBuilder {
	return &recordBuilder{
		chainID: chainID,
		seen:    make(map[logKey]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (b *recordBuilder) build(logs []types.Log, timestamp func(block uint64) (uint64, error)) ([]model.LogRecord, error) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	ingestedAt := b.now().Format(time.RFC3339Nano)
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		key := logKey{block: log.BlockNumber, tx: log.TxHash, index: log.Index}
		if _, dup := b.seen[key]; dup {
			continue
		}
		b.seen[key] = struct{}{}

		ts, err := timestamp(log.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}

		topics := make([]string, len(log.Topics))
		for i, topic := range log.Topics {
			topics[i] = topic.Hex()
		}
		records = append(records, model.LogRecord{
			ChainID:     b.chainID,
			BlockNumber: log.BlockNumber,
			BlockHash:   log.BlockHash.Hex(),
			TxHash:      log.TxHash.Hex(),
			TxIndex:     uint64(log.TxIndex),
			LogIndex:    uint64(log.Index),
			Address:     log.Address.Hex(),
			Topics:      topics,
			Data:        hexutil.Encode(log.Data),
			Removed:     log.Removed,
			Timestamp:   ts,
			IngestedAt:  ingestedAt,
		})
	}
	return records, nil
}
