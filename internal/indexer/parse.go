package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseTopic0 converts configured topic0 hashes, dropping blanks and
// repeats. The order of first appearance is kept.
func ParseTopic0(inputs []string) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(inputs))
	seen := make(map[common.Hash]struct{}, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic0 %q: %w", input, err)
		}
		if len(data) != common.HashLength {
			return nil, fmt.Errorf("topic0 %q is %d bytes, want %d", input, len(data), common.HashLength)
		}
		topic := common.BytesToHash(data)
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics, nil
}
