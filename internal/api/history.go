package api

import (
	"context"
	"strings"
	"time"

	"paperTrading/internal/fixedpoint"
	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

// HistorySource returns recent entities. Entity stores and the subgraph
// client satisfy it.
type HistorySource interface {
	Recent(ctx context.Context, q storage.Query) ([]model.Entity, error)
}

// HistoryItem is an entity prepared for the history table.
type HistoryItem struct {
	Entity      model.Entity      `json:"entity"`
	Time        string            `json:"time"`
	ShortHash   string            `json:"short_hash"`
	ShortUser   string            `json:"short_user,omitempty"`
	ExplorerURL string            `json:"explorer_url"`
	Display     map[string]string `json:"display"`
}

// DefaultHistoryKinds is what the dashboard lists when no kind is given.
var DefaultHistoryKinds = []model.EventKind{model.KindWETHDeposited, model.KindTestUSDRedeemed}

// NewHistoryItem renders e. explorerBase is e.g. https://sepolia.etherscan.io.
func NewHistoryItem(e model.Entity, explorerBase string) HistoryItem {
	item := HistoryItem{
		Entity:      e,
		Time:        time.Unix(int64(e.BlockTimestamp), 0).UTC().Format(time.RFC3339),
		ShortHash:   Shorten(e.TransactionHash),
		ShortUser:   Shorten(e.User()),
		ExplorerURL: ExplorerTxURL(explorerBase, e.TransactionHash),
		Display:     map[string]string{},
	}
	switch {
	case e.WETHDeposited != nil:
		d := e.WETHDeposited
		item.Display["weth_amount"] = displayAmount(d.WETHAmount, fixedpoint.WETHDecimals)
		item.Display["test_usd_minted"] = displayAmount(d.TestUSDMinted, fixedpoint.TestUSDDecimals)
		item.Display["eth_price"] = displayPrice(d.ETHPrice)
	case e.TestUSDRedeemed != nil:
		r := e.TestUSDRedeemed
		item.Display["test_usd_amount"] = displayAmount(r.TestUSDAmount, fixedpoint.TestUSDDecimals)
		item.Display["weth_withdrawn"] = displayAmount(r.WETHWithdrawn, fixedpoint.WETHDecimals)
		item.Display["eth_price"] = displayPrice(r.ETHPrice)
	case e.OwnershipTransferred != nil:
		item.Display["previous_owner"] = Shorten(e.OwnershipTransferred.PreviousOwner)
		item.Display["new_owner"] = Shorten(e.OwnershipTransferred.NewOwner)
	}
	return item
}

// HistoryItems renders a slice of entities.
func HistoryItems(entities []model.Entity, explorerBase string) []HistoryItem {
	out := make([]HistoryItem, 0, len(entities))
	for _, e := range entities {
		out = append(out, NewHistoryItem(e, explorerBase))
	}
	return out
}

// ExplorerTxURL links a transaction on the block explorer.
func ExplorerTxURL(base, txHash string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/tx/" + txHash
}

// Shorten renders 0x1234...abcd.
func Shorten(hex string) string {
	if len(hex) <= 12 {
		return hex
	}
	return hex[:6] + "..." + hex[len(hex)-4:]
}

func displayAmount(raw string, decimals uint8) string {
	v, err := fixedpoint.ParseInteger(raw)
	if err != nil {
		return raw
	}
	return fixedpoint.Format(v, decimals)
}

func displayPrice(raw string) string {
	v, err := fixedpoint.ParseInteger(raw)
	if err != nil {
		return raw
	}
	return fixedpoint.FormatPrice(v)
}
