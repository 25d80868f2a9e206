package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EntityID is the hex encoding of the transaction hash followed by the
// little-endian int32 log index, the same layout as a subgraph concatI32 id.
type EntityID string

// NewEntityID builds the composite id for an event.
func NewEntityID(txHash common.Hash, logIndex uint64) EntityID {
	buf := make([]byte, common.HashLength+4)
	copy(buf, txHash.Bytes())
	binary.LittleEndian.PutUint32(buf[common.HashLength:], uint32(int32(logIndex)))
	return EntityID(hexutil.Encode(buf))
}

// Entity is a persisted record derived from one RawEvent. Exactly one of the
// variant pointers is set, matching Kind.
type Entity struct {
	ID              EntityID  `json:"id"`
	Kind            EventKind `json:"kind"`
	BlockNumber     uint64    `json:"block_number"`
	LogIndex        uint64    `json:"log_index"`
	BlockTimestamp  uint64    `json:"block_timestamp"`
	TransactionHash string    `json:"transaction_hash"`
	Unreconciled    bool      `json:"unreconciled,omitempty"`

	OwnershipTransferred *OwnershipTransferred `json:"ownership_transferred,omitempty"`
	TestUSDRedeemed      *TestUSDRedeemed      `json:"test_usd_redeemed,omitempty"`
	WETHDeposited        *WETHDeposited        `json:"weth_deposited,omitempty"`
}

// OwnershipTransferred mirrors the contract ownership change event.
type OwnershipTransferred struct {
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

// TestUSDRedeemed mirrors a redemption. Amounts are base-10 integer strings.
type TestUSDRedeemed struct {
	User          string `json:"user"`
	TestUSDAmount string `json:"test_usd_amount"`
	WETHWithdrawn string `json:"weth_withdrawn"`
	ETHPrice      string `json:"eth_price"`
}

// WETHDeposited mirrors a deposit. Amounts are base-10 integer strings.
type WETHDeposited struct {
	User          string `json:"user"`
	WETHAmount    string `json:"weth_amount"`
	TestUSDMinted string `json:"test_usd_minted"`
	ETHPrice      string `json:"eth_price"`
}

// Position returns the ledger ordering key of the entity.
func (e Entity) Position() Position {
	return Position{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// User returns the account the entity belongs to, or "" for ownership changes.
func (e Entity) User() string {
	switch {
	case e.TestUSDRedeemed != nil:
		return e.TestUSDRedeemed.User
	case e.WETHDeposited != nil:
		return e.WETHDeposited.User
	default:
		return ""
	}
}

// Payload returns the canonical JSON of the variant data.
func (e Entity) Payload() ([]byte, error) {
	var (
		variant interface{}
		missing bool
	)
	switch e.Kind {
	case KindOwnershipTransferred:
		variant, missing = e.OwnershipTransferred, e.OwnershipTransferred == nil
	case KindTestUSDRedeemed:
		variant, missing = e.TestUSDRedeemed, e.TestUSDRedeemed == nil
	case KindWETHDeposited:
		variant, missing = e.WETHDeposited, e.WETHDeposited == nil
	default:
		return nil, fmt.Errorf("unknown entity kind: %q", e.Kind)
	}
	if missing {
		return nil, fmt.Errorf("entity %s missing %s payload", e.ID, e.Kind)
	}
	return json.Marshal(variant)
}

// SetPayload decodes variant JSON produced by Payload into e.
func (e *Entity) SetPayload(payload []byte) error {
	switch e.Kind {
	case KindOwnershipTransferred:
		var v OwnershipTransferred
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
		e.OwnershipTransferred = &v
	case KindTestUSDRedeemed:
		var v TestUSDRedeemed
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
		e.TestUSDRedeemed = &v
	case KindWETHDeposited:
		var v WETHDeposited
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
		e.WETHDeposited = &v
	default:
		return fmt.Errorf("unknown entity kind: %q", e.Kind)
	}
	return nil
}

// SameContent reports whether two entities carry identical facts. The
// unreconciled flag is bookkeeping and not part of the content.
func (e Entity) SameContent(other Entity) bool {
	if e.ID != other.ID || e.Kind != other.Kind ||
		e.BlockNumber != other.BlockNumber || e.LogIndex != other.LogIndex ||
		e.BlockTimestamp != other.BlockTimestamp || e.TransactionHash != other.TransactionHash {
		return false
	}
	a, errA := e.Payload()
	b, errB := other.Payload()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// SortRecent orders entities newest first: block timestamp descending, then
// block number and log index descending.
func SortRecent(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.BlockTimestamp != b.BlockTimestamp {
			return a.BlockTimestamp > b.BlockTimestamp
		}
		return a.Position().Compare(b.Position()) > 0
	})
}
