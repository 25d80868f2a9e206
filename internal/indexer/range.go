package indexer

import "fmt"

// BlockRange is an inclusive span of blocks fetched with one eth_getLogs.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange cuts [from, to] into consecutive ranges of at most batchSize
// blocks. The last range may be shorter.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block %d is before from block %d", to, from)
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
		start = end + 1
	}
}

// SafeHead returns the last block worth collecting: latest minus
// confirmations, capped at toBlock when toBlock is set. ok is false while
// the chain is shorter than the confirmation depth.
func SafeHead(latest, confirmations, toBlock uint64) (head uint64, ok bool) {
	if latest < confirmations {
		return 0, false
	}
	head = latest - confirmations
	if toBlock != 0 && toBlock < head {
		head = toBlock
	}
	return head, true
}
