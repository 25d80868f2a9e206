package contract

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"paperTrading/internal/model"
)

var testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestDecoderWETHDeposited(t *testing.T) {
	parsed, err := PaperTradingABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder(DecoderConfig{Address: testContract.Hex()})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	user := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := parsed.Events["WETHDeposited"].Inputs.NonIndexed().Pack(
		big.NewInt(1_000_000_000_000_000_000),
		big.NewInt(3_500_000_000),
		big.NewInt(3_500_000_000),
	)
	if err != nil {
		t.Fatalf("pack deposit: %v", err)
	}

	record := buildLogRecord(parsed.Events["WETHDeposited"].ID, data, []common.Hash{topicFromAddress(user)})
	event, err := decoder.Decode(record)
	if err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if event.Kind != model.KindWETHDeposited {
		t.Fatalf("kind mismatch: %s", event.Kind)
	}
	params, ok := event.Params.(model.WETHDepositedParams)
	if !ok {
		t.Fatalf("params type mismatch: %T", event.Params)
	}
	if params.User != user {
		t.Fatalf("user mismatch: %s", params.User.Hex())
	}
	if params.WETHAmount.String() != "1000000000000000000" || params.TestUSDMinted.String() != "3500000000" {
		t.Fatalf("amounts mismatch: %+v", params)
	}
	if event.BlockNumber != 12345 || event.LogIndex != 1 || event.BlockTimestamp != 1700000000 {
		t.Fatalf("position mismatch: %+v", event)
	}
	if event.TransactionHash != common.HexToHash("0xdef") {
		t.Fatalf("tx hash mismatch: %s", event.TransactionHash.Hex())
	}
}

func TestDecoderRedeemAndOwnership(t *testing.T) {
	parsed, err := PaperTradingABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	user := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data, err := parsed.Events["TestUSDRedeemed"].Inputs.NonIndexed().Pack(
		big.NewInt(1_750_000_000),
		big.NewInt(500_000_000_000_000_000),
		big.NewInt(3_500_000_000),
	)
	if err != nil {
		t.Fatalf("pack redeem: %v", err)
	}
	event, err := decoder.Decode(buildLogRecord(parsed.Events["TestUSDRedeemed"].ID, data, []common.Hash{topicFromAddress(user)}))
	if err != nil {
		t.Fatalf("decode redeem: %v", err)
	}
	redeem, ok := event.Params.(model.TestUSDRedeemedParams)
	if !ok {
		t.Fatalf("params type mismatch: %T", event.Params)
	}
	if redeem.WETHWithdrawn.String() != "500000000000000000" || redeem.ETHPrice.String() != "3500000000" {
		t.Fatalf("redeem mismatch: %+v", redeem)
	}

	previous := common.Address{}
	next := common.HexToAddress("0x4444444444444444444444444444444444444444")
	event, err = decoder.Decode(buildLogRecord(parsed.Events["OwnershipTransferred"].ID, nil, []common.Hash{
		topicFromAddress(previous),
		topicFromAddress(next),
	}))
	if err != nil {
		t.Fatalf("decode ownership: %v", err)
	}
	ownership, ok := event.Params.(model.OwnershipTransferredParams)
	if !ok || ownership.NewOwner != next || ownership.PreviousOwner != previous {
		t.Fatalf("ownership mismatch: %+v", event.Params)
	}
}

func TestDecoderRejects(t *testing.T) {
	parsed, err := PaperTradingABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder(DecoderConfig{Address: testContract.Hex()})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	user := topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222"))

	unknown := buildLogRecord(common.HexToHash("0xdd"), nil, nil)
	if _, err := decoder.Decode(unknown); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected unknown event, got %v", err)
	}

	removed := buildLogRecord(parsed.Events["WETHDeposited"].ID, nil, []common.Hash{user})
	removed.Removed = true
	if _, err := decoder.Decode(removed); !errors.Is(err, ErrRemovedLog) {
		t.Fatalf("expected removed log, got %v", err)
	}

	truncated := buildLogRecord(parsed.Events["WETHDeposited"].ID, []byte{0x01}, []common.Hash{user})
	if _, err := decoder.Decode(truncated); !errors.Is(err, ErrMalformedLog) {
		t.Fatalf("expected malformed log, got %v", err)
	}

	foreign := buildLogRecord(parsed.Events["OwnershipTransferred"].ID, nil, []common.Hash{user, user})
	foreign.Address = "0x9999999999999999999999999999999999999999"
	if _, err := decoder.Decode(foreign); !errors.Is(err, ErrMalformedLog) {
		t.Fatalf("expected emitter mismatch, got %v", err)
	}
}

func TestDecoderTopic0Map(t *testing.T) {
	alias := "0x00000000000000000000000000000000000000000000000000000000000000aa"
	decoder, err := NewDecoder(DecoderConfig{Topic0Map: map[string]string{alias: "wethdepositeds"}})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if kind, ok := decoder.KindOf(alias); !ok || kind != model.KindWETHDeposited {
		t.Fatalf("alias not registered: %s %v", kind, ok)
	}
	if len(decoder.Topic0s()) != 3 {
		t.Fatalf("expected 3 topic0s, got %d", len(decoder.Topic0s()))
	}

	if _, err := NewDecoder(DecoderConfig{Topic0Map: map[string]string{alias: "Swap"}}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected schema error for unknown mapping, got %v", err)
	}
}

func buildLogRecord(topic0 common.Hash, data []byte, indexed []common.Hash) model.LogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, topic0.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     11155111,
		BlockNumber: 12345,
		BlockHash:   "0xabc",
		TxHash:      common.HexToHash("0xdef").Hex(),
		LogIndex:    1,
		Address:     testContract.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   1700000000,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
