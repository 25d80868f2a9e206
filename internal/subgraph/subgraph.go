// Package subgraph reads the deposit and redemption history from the hosted
// PaperTrading subgraph.
package subgraph

import (
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/machinebox/graphql"
	"go.uber.org/zap"

	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

//go:embed history.graphql
var historyQuery string

// ErrBadEntity marks a subgraph row that cannot be mapped.
var ErrBadEntity = errors.New("invalid subgraph entity")

type Config struct {
	URL    string
	APIKey string
}

// Client queries the subgraph.
type Client struct {
	client *graphql.Client
	apiKey string
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("subgraph url not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: graphql.NewClient(cfg.URL), apiKey: cfg.APIKey, logger: logger}, nil
}

type redeemedResponse struct {
	ID              string `json:"id"`
	User            string `json:"user"`
	TestUSDAmount   string `json:"testUSDAmount"`
	WETHWithdrawn   string `json:"wethWithdrawn"`
	ETHPrice        string `json:"ethPrice"`
	BlockNumber     string `json:"blockNumber"`
	BlockTimestamp  string `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
}

type depositedResponse struct {
	ID              string `json:"id"`
	User            string `json:"user"`
	WETHAmount      string `json:"wethAmount"`
	TestUSDMinted   string `json:"testUSDMinted"`
	ETHPrice        string `json:"ethPrice"`
	BlockNumber     string `json:"blockNumber"`
	BlockTimestamp  string `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
}

type ownershipResponse struct {
	ID              string `json:"id"`
	PreviousOwner   string `json:"previousOwner"`
	NewOwner        string `json:"newOwner"`
	BlockNumber     string `json:"blockNumber"`
	BlockTimestamp  string `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
}

type historyResponse struct {
	Redeemed  []redeemedResponse  `json:"testUSDRedeemeds"`
	Deposited []depositedResponse `json:"wethdepositeds"`
	Ownership []ownershipResponse `json:"ownershipTransferreds"`
}

// Recent returns the most recent entities matching q, newest first.
func (c *Client) Recent(ctx context.Context, q storage.Query) ([]model.Entity, error) {
	limit := q.EffectiveLimit()
	req := graphql.NewRequest(historyQuery)
	if c.apiKey != "" {
		req.Header.Add("Authorization", "Bearer "+c.apiKey)
	}
	req.Var("first", limit)

	var resp historyResponse
	if err := c.client.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("query subgraph history: %w", err)
	}

	out := make([]model.Entity, 0, len(resp.Redeemed)+len(resp.Deposited)+len(resp.Ownership))
	for _, r := range resp.Redeemed {
		e, err := newEntity(model.KindTestUSDRedeemed, r.ID, r.BlockNumber, r.BlockTimestamp, r.TransactionHash)
		if err != nil {
			return nil, err
		}
		e.TestUSDRedeemed = &model.TestUSDRedeemed{
			User:          normalizeAddress(r.User),
			TestUSDAmount: r.TestUSDAmount,
			WETHWithdrawn: r.WETHWithdrawn,
			ETHPrice:      r.ETHPrice,
		}
		out = append(out, e)
	}
	for _, d := range resp.Deposited {
		e, err := newEntity(model.KindWETHDeposited, d.ID, d.BlockNumber, d.BlockTimestamp, d.TransactionHash)
		if err != nil {
			return nil, err
		}
		e.WETHDeposited = &model.WETHDeposited{
			User:          normalizeAddress(d.User),
			WETHAmount:    d.WETHAmount,
			TestUSDMinted: d.TestUSDMinted,
			ETHPrice:      d.ETHPrice,
		}
		out = append(out, e)
	}
	for _, o := range resp.Ownership {
		e, err := newEntity(model.KindOwnershipTransferred, o.ID, o.BlockNumber, o.BlockTimestamp, o.TransactionHash)
		if err != nil {
			return nil, err
		}
		e.OwnershipTransferred = &model.OwnershipTransferred{
			PreviousOwner: normalizeAddress(o.PreviousOwner),
			NewOwner:      normalizeAddress(o.NewOwner),
		}
		out = append(out, e)
	}

	filtered := out[:0]
	for _, e := range out {
		if q.Matches(e) {
			filtered = append(filtered, e)
		}
	}
	model.SortRecent(filtered)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	c.logger.Debug("subgraph history fetched", zap.Int("entities", len(filtered)))
	return filtered, nil
}

func newEntity(kind model.EventKind, id, blockNumber, blockTimestamp, txHash string) (model.Entity, error) {
	raw, err := hexutil.Decode(id)
	if err != nil || len(raw) != common.HashLength+4 {
		return model.Entity{}, fmt.Errorf("%w: %s id %q", ErrBadEntity, kind, id)
	}
	block, err := strconv.ParseUint(blockNumber, 10, 64)
	if err != nil {
		return model.Entity{}, fmt.Errorf("%w: %s block %q", ErrBadEntity, kind, blockNumber)
	}
	ts, err := strconv.ParseUint(blockTimestamp, 10, 64)
	if err != nil {
		return model.Entity{}, fmt.Errorf("%w: %s timestamp %q", ErrBadEntity, kind, blockTimestamp)
	}
	return model.Entity{
		ID:              model.EntityID(hexutil.Encode(raw)),
		Kind:            kind,
		BlockNumber:     block,
		LogIndex:        uint64(binary.LittleEndian.Uint32(raw[common.HashLength:])),
		BlockTimestamp:  ts,
		TransactionHash: common.HexToHash(txHash).Hex(),
	}, nil
}

func normalizeAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
