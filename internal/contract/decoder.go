package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"paperTrading/internal/model"
)

var (
	// ErrUnknownEvent is returned for a topic0 that maps to no known kind.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedLog is returned when a log of a known kind cannot be decoded.
	ErrMalformedLog = errors.New("malformed log")
	// ErrRemovedLog is returned for logs the node flagged as removed by a reorg.
	ErrRemovedLog = errors.New("removed log")
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds topic0 -> event name aliases on top of the ABI ids.
	Topic0Map map[string]string
	// Address, when set, rejects logs emitted by any other contract.
	Address string
}

// Decoder turns PaperTrading logs into RawEvents.
type Decoder struct {
	abi         abi.ABI
	topicToKind map[string]model.EventKind
	address     *common.Address
}

// NewDecoder builds a decoder. The ABI must declare exactly the known event
// kinds and every topic0 map entry must name one of them.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	parsed, err := PaperTradingABI()
	if err != nil {
		return nil, fmt.Errorf("parse paper trading abi: %w", err)
	}
	if len(parsed.Events) != len(model.EventKinds) {
		return nil, fmt.Errorf("%w: abi declares %d events, want %d", ErrUnknownEvent, len(parsed.Events), len(model.EventKinds))
	}

	topicToKind := make(map[string]model.EventKind, len(model.EventKinds))
	for _, kind := range model.EventKinds {
		event, ok := parsed.Events[string(kind)]
		if !ok {
			return nil, fmt.Errorf("%w: abi missing %s", ErrUnknownEvent, kind)
		}
		topicToKind[strings.ToLower(event.ID.Hex())] = kind
	}

	for topic0, name := range cfg.Topic0Map {
		kind, err := model.ParseEventKind(name)
		if err != nil {
			return nil, fmt.Errorf("%w: topic0 map entry %s: %v", ErrUnknownEvent, topic0, err)
		}
		if topic0 == "" {
			continue
		}
		topicToKind[strings.ToLower(topic0)] = kind
	}

	d := &Decoder{abi: parsed, topicToKind: topicToKind}
	if cfg.Address != "" {
		if !common.IsHexAddress(cfg.Address) {
			return nil, fmt.Errorf("invalid contract address: %s", cfg.Address)
		}
		addr := common.HexToAddress(cfg.Address)
		d.address = &addr
	}
	return d, nil
}

// Topic0s returns the signature topics of every known event.
func (d *Decoder) Topic0s() []common.Hash {
	out := make([]common.Hash, 0, len(model.EventKinds))
	for _, kind := range model.EventKinds {
		out = append(out, d.abi.Events[string(kind)].ID)
	}
	return out
}

// KindOf resolves a topic0 to an event kind.
func (d *Decoder) KindOf(topic0 string) (model.EventKind, bool) {
	if topic0 == "" {
		return "", false
	}
	kind, ok := d.topicToKind[strings.ToLower(topic0)]
	return kind, ok
}

// Decode converts a LogRecord into a RawEvent.
func (d *Decoder) Decode(log model.LogRecord) (model.RawEvent, error) {
	if log.Removed {
		return model.RawEvent{}, fmt.Errorf("%w: tx %s log %d", ErrRemovedLog, log.TxHash, log.LogIndex)
	}
	if len(log.Topics) == 0 {
		return model.RawEvent{}, fmt.Errorf("%w: missing topics", ErrUnknownEvent)
	}
	kind, ok := d.KindOf(log.Topics[0])
	if !ok {
		return model.RawEvent{}, fmt.Errorf("%w: topic0 %s", ErrUnknownEvent, log.Topics[0])
	}
	if d.address != nil {
		if !common.IsHexAddress(log.Address) || common.HexToAddress(log.Address) != *d.address {
			return model.RawEvent{}, fmt.Errorf("%w: unexpected emitter %s", ErrMalformedLog, log.Address)
		}
	}

	txBytes, err := hexutil.Decode(log.TxHash)
	if err != nil || len(txBytes) != common.HashLength {
		return model.RawEvent{}, fmt.Errorf("%w: invalid tx hash %q", ErrMalformedLog, log.TxHash)
	}

	event := d.abi.Events[string(kind)]
	var params model.EventParams
	switch kind {
	case model.KindOwnershipTransferred:
		params, err = d.decodeOwnershipTransferred(event, log)
	case model.KindTestUSDRedeemed:
		params, err = d.decodeTestUSDRedeemed(event, log)
	case model.KindWETHDeposited:
		params, err = d.decodeWETHDeposited(event, log)
	default:
		return model.RawEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("%w: %s: %v", ErrMalformedLog, kind, err)
	}

	return model.RawEvent{
		TransactionHash: common.BytesToHash(txBytes),
		LogIndex:        log.LogIndex,
		BlockNumber:     log.BlockNumber,
		BlockTimestamp:  log.Timestamp,
		Kind:            kind,
		Params:          params,
	}, nil
}

func (d *Decoder) decodeOwnershipTransferred(event abi.Event, log model.LogRecord) (model.EventParams, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	var indexed struct {
		PreviousOwner common.Address
		NewOwner      common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if log.Data != "" && log.Data != "0x" {
		return nil, fmt.Errorf("unexpected data for %s", event.Name)
	}
	return model.OwnershipTransferredParams{
		PreviousOwner: indexed.PreviousOwner,
		NewOwner:      indexed.NewOwner,
	}, nil
}

func (d *Decoder) decodeTestUSDRedeemed(event abi.Event, log model.LogRecord) (model.EventParams, error) {
	user, amounts, err := decodeUserAmounts(event, log)
	if err != nil {
		return nil, err
	}
	return model.TestUSDRedeemedParams{
		User:          user,
		TestUSDAmount: amounts[0],
		WETHWithdrawn: amounts[1],
		ETHPrice:      amounts[2],
	}, nil
}

func (d *Decoder) decodeWETHDeposited(event abi.Event, log model.LogRecord) (model.EventParams, error) {
	user, amounts, err := decodeUserAmounts(event, log)
	if err != nil {
		return nil, err
	}
	return model.WETHDepositedParams{
		User:          user,
		WETHAmount:    amounts[0],
		TestUSDMinted: amounts[1],
		ETHPrice:      amounts[2],
	}, nil
}

// decodeUserAmounts handles the shared (indexed user, three uint256) layout.
func decodeUserAmounts(event abi.Event, log model.LogRecord) (common.Address, [3]*big.Int, error) {
	var amounts [3]*big.Int
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return common.Address{}, amounts, err
	}
	var indexed struct {
		User common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return common.Address{}, amounts, fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return common.Address{}, amounts, err
	}
	if len(values) != len(amounts) {
		return common.Address{}, amounts, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	for i, value := range values {
		amount, err := asBigInt(value)
		if err != nil {
			return common.Address{}, amounts, fmt.Errorf("%s: %w", event.Inputs.NonIndexed()[i].Name, err)
		}
		amounts[i] = amount
	}
	return indexed.User, amounts, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	out := make([]common.Hash, 0, indexedCount)
	for _, topic := range topics[1:] {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > common.HashLength {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
