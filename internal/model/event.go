package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a PaperTrading contract event.
type EventKind string

const (
	KindOwnershipTransferred EventKind = "OwnershipTransferred"
	KindTestUSDRedeemed      EventKind = "TestUSDRedeemed"
	KindWETHDeposited        EventKind = "WETHDeposited"
)

// EventKinds lists every kind the indexer understands.
var EventKinds = []EventKind{
	KindOwnershipTransferred,
	KindTestUSDRedeemed,
	KindWETHDeposited,
}

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindOwnershipTransferred, KindTestUSDRedeemed, KindWETHDeposited:
		return true
	default:
		return false
	}
}

// ParseEventKind accepts the event name in any case as well as the plural
// collection names used by the hosted subgraph (wethdepositeds, ...).
func ParseEventKind(input string) (EventKind, error) {
	name := strings.ToLower(strings.TrimSpace(input))
	switch name {
	case "ownershiptransferred", "ownershiptransferreds", "ownership_transferred":
		return KindOwnershipTransferred, nil
	case "testusdredeemed", "testusdredeemeds", "test_usd_redeemed", "redeem", "redemptions":
		return KindTestUSDRedeemed, nil
	case "wethdeposited", "wethdepositeds", "weth_deposited", "deposit", "deposits":
		return KindWETHDeposited, nil
	default:
		return "", fmt.Errorf("unknown event kind: %q", input)
	}
}

// Position orders events on the ledger. LogIndex is block-scoped, so the
// pair is strictly increasing along the chain.
type Position struct {
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint64 `json:"log_index"`
}

// Compare returns -1, 0 or 1.
func (p Position) Compare(other Position) int {
	switch {
	case p.BlockNumber < other.BlockNumber:
		return -1
	case p.BlockNumber > other.BlockNumber:
		return 1
	case p.LogIndex < other.LogIndex:
		return -1
	case p.LogIndex > other.LogIndex:
		return 1
	default:
		return 0
	}
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.LogIndex)
}

// RawEvent is a decoded, immutable ledger event.
type RawEvent struct {
	TransactionHash common.Hash
	LogIndex        uint64
	BlockNumber     uint64
	BlockTimestamp  uint64
	Kind            EventKind
	Params          EventParams
}

// Position returns the ledger ordering key of the event.
func (e RawEvent) Position() Position {
	return Position{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// EventParams is the kind-specific payload of a RawEvent.
type EventParams interface {
	Kind() EventKind
}

// OwnershipTransferredParams is the payload of OwnershipTransferred.
type OwnershipTransferredParams struct {
	PreviousOwner common.Address
	NewOwner      common.Address
}

func (OwnershipTransferredParams) Kind() EventKind { return KindOwnershipTransferred }

// TestUSDRedeemedParams is the payload of TestUSDRedeemed.
// TestUSDAmount and ETHPrice are 6-decimal, WETHWithdrawn is 18-decimal.
type TestUSDRedeemedParams struct {
	User          common.Address
	TestUSDAmount *big.Int
	WETHWithdrawn *big.Int
	ETHPrice      *big.Int
}

func (TestUSDRedeemedParams) Kind() EventKind { return KindTestUSDRedeemed }

// WETHDepositedParams is the payload of WETHDeposited.
// WETHAmount is 18-decimal, TestUSDMinted and ETHPrice are 6-decimal.
type WETHDepositedParams struct {
	User          common.Address
	WETHAmount    *big.Int
	TestUSDMinted *big.Int
	ETHPrice      *big.Int
}

func (WETHDepositedParams) Kind() EventKind { return KindWETHDeposited }
