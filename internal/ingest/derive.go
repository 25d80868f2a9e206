package ingest

import (
	"errors"
	"fmt"
	"math/big"

	"paperTrading/internal/model"
)

var (
	// ErrSchema marks input the indexer does not understand. It is fatal for
	// the stream.
	ErrSchema = errors.New("schema error")
	// ErrOutOfOrder marks a log whose position precedes one already ingested.
	ErrOutOfOrder = errors.New("log out of order")
)

// Derive maps a decoded event to its entity. Amounts are copied verbatim.
func Derive(event model.RawEvent) (model.Entity, error) {
	if !event.Kind.Valid() {
		return model.Entity{}, fmt.Errorf("%w: unknown event kind %q", ErrSchema, event.Kind)
	}
	if event.Params == nil || event.Params.Kind() != event.Kind {
		return model.Entity{}, fmt.Errorf("%w: %s event carries %T params", ErrSchema, event.Kind, event.Params)
	}

	entity := model.Entity{
		ID:              model.NewEntityID(event.TransactionHash, event.LogIndex),
		Kind:            event.Kind,
		BlockNumber:     event.BlockNumber,
		LogIndex:        event.LogIndex,
		BlockTimestamp:  event.BlockTimestamp,
		TransactionHash: event.TransactionHash.Hex(),
	}

	switch params := event.Params.(type) {
	case model.OwnershipTransferredParams:
		entity.OwnershipTransferred = &model.OwnershipTransferred{
			PreviousOwner: params.PreviousOwner.Hex(),
			NewOwner:      params.NewOwner.Hex(),
		}
	case model.TestUSDRedeemedParams:
		v, err := amounts(event.Kind, params.TestUSDAmount, params.WETHWithdrawn, params.ETHPrice)
		if err != nil {
			return model.Entity{}, err
		}
		entity.TestUSDRedeemed = &model.TestUSDRedeemed{
			User:          params.User.Hex(),
			TestUSDAmount: v[0],
			WETHWithdrawn: v[1],
			ETHPrice:      v[2],
		}
	case model.WETHDepositedParams:
		v, err := amounts(event.Kind, params.WETHAmount, params.TestUSDMinted, params.ETHPrice)
		if err != nil {
			return model.Entity{}, err
		}
		entity.WETHDeposited = &model.WETHDeposited{
			User:          params.User.Hex(),
			WETHAmount:    v[0],
			TestUSDMinted: v[1],
			ETHPrice:      v[2],
		}
	default:
		return model.Entity{}, fmt.Errorf("%w: unsupported params %T", ErrSchema, event.Params)
	}
	return entity, nil
}

// amounts renders event amounts verbatim. A missing amount is a malformed
// payload, not zero.
func amounts(kind model.EventKind, values ...*big.Int) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			return nil, fmt.Errorf("%w: %s event missing amount %d", ErrSchema, kind, i)
		}
		out[i] = v.String()
	}
	return out, nil
}
