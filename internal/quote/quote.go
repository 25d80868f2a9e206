// Package quote serves the ETH/USD spot price and its 7 day daily history.
// When the upstream feed is rate limited or unreachable the service falls
// back to a synthesized series, and every result says which one it is.
package quote

import (
	"context"
	"errors"
	"math"
	"math/big"
	"time"
)

// ErrRateLimited is returned by upstream providers on HTTP 429.
var ErrRateLimited = errors.New("quote provider rate limited")

// Source tells real quotes from synthesized placeholders.
type Source string

const (
	SourceReal        Source = "real"
	SourceSynthesized Source = "synthesized"
)

// Result is a quote tagged with where it came from.
type Result[T any] struct {
	Source Source `json:"source"`
	Data   T      `json:"data"`
}

func Real[T any](data T) Result[T] {
	return Result[T]{Source: SourceReal, Data: data}
}

func Synthesized[T any](data T) Result[T] {
	return Result[T]{Source: SourceSynthesized, Data: data}
}

func (r Result[T]) IsSynthesized() bool {
	return r.Source == SourceSynthesized
}

// Spot is a current ETH/USD quote.
type Spot struct {
	Price            float64   `json:"price"`
	PriceE6          *big.Int  `json:"price_e6"`
	Change24h        float64   `json:"change_24h"`
	ChangePercent24h float64   `json:"change_percent_24h"`
	MarketCap        float64   `json:"market_cap"`
	Volume24h        float64   `json:"volume_24h"`
	LastUpdated      time.Time `json:"last_updated"`
}

// PricePoint is one entry of the daily history. Timestamp is unix millis.
type PricePoint struct {
	Timestamp int64    `json:"timestamp"`
	Price     float64  `json:"price"`
	PriceE6   *big.Int `json:"price_e6"`
}

// Upstream is a real price feed.
type Upstream interface {
	Spot(ctx context.Context) (Spot, error)
	History(ctx context.Context) ([]PricePoint, error)
}

// Provider always answers, tagging placeholders as synthesized.
type Provider interface {
	Spot(ctx context.Context) (Result[Spot], error)
	History(ctx context.Context) (Result[[]PricePoint], error)
}

// PriceE6 scales a USD float to the 6 decimal fixed point the contract uses.
func PriceE6(price float64) *big.Int {
	return big.NewInt(int64(math.Round(price * 1e6)))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
