package trading

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"paperTrading/internal/fixedpoint"
	"paperTrading/internal/quote"
)

// ErrZeroPrice is returned by estimates when no price is known.
var ErrZeroPrice = errors.New("eth price is zero")

// PnL is a profit or loss carried as magnitude plus sign.
type PnL struct {
	Magnitude *big.Int `json:"magnitude"`
	IsProfit  bool     `json:"is_profit"`
}

// SplitPnL splits a signed value. Zero counts as profit.
func SplitPnL(v *big.Int) PnL {
	if v == nil {
		return PnL{Magnitude: new(big.Int), IsProfit: true}
	}
	return PnL{Magnitude: new(big.Int).Abs(v), IsProfit: v.Sign() >= 0}
}

// TradingState is the derived view of one account. Nil amounts were never
// read successfully.
type TradingState struct {
	Account        common.Address
	ETHPrice       *big.Int
	WETHBalance    *big.Int
	TestUSDBalance *big.Int
	PnL            *PnL
	WETHDeposits   *big.Int
	RedeemableWETH *big.Int
	WETHAllowance  *big.Int
	Quote          *quote.Result[quote.Spot]

	// TransientError is set when any read of the latest bundle failed.
	// The failed fields keep their previous values.
	TransientError bool
	FailedReads    []Field
	UpdatedAt      time.Time
}

// ComputeState merges a read bundle into the previous state of the same
// account. A nil spot keeps the previous quote.
func ComputeState(account common.Address, reads Reads, spot *quote.Result[quote.Spot], previous *TradingState) TradingState {
	var prev TradingState
	if previous != nil && previous.Account == account {
		prev = *previous
	}

	state := TradingState{
		Account:        account,
		ETHPrice:       pick(reads, FieldETHPrice, prev.ETHPrice),
		WETHBalance:    pick(reads, FieldWETHBalance, prev.WETHBalance),
		TestUSDBalance: pick(reads, FieldTestUSDBalance, prev.TestUSDBalance),
		WETHDeposits:   pick(reads, FieldWETHDeposits, prev.WETHDeposits),
		RedeemableWETH: pick(reads, FieldRedeemableWETH, prev.RedeemableWETH),
		WETHAllowance:  pick(reads, FieldWETHAllowance, prev.WETHAllowance),
		Quote:          prev.Quote,
		FailedReads:    reads.Failed(),
		UpdatedAt:      time.Now().UTC(),
	}
	if v, ok := reads.Get(FieldPnL); ok {
		pnl := SplitPnL(v)
		state.PnL = &pnl
	} else {
		state.PnL = prev.PnL
	}
	if spot != nil {
		state.Quote = spot
	}
	state.TransientError = len(state.FailedReads) > 0
	return state
}

func pick(reads Reads, f Field, previous *big.Int) *big.Int {
	if v, ok := reads.Get(f); ok {
		return new(big.Int).Set(v)
	}
	return previous
}

// EstimateMint returns the TestUSD minted for a WETH deposit at price.
func EstimateMint(weth, price *big.Int) (*big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	out := new(big.Int).Mul(weth, price)
	return out.Quo(out, fixedpoint.Pow10(fixedpoint.WETHDecimals)), nil
}

// EstimateRedeem returns the WETH released for a TestUSD redemption at price.
func EstimateRedeem(testUSD, price *big.Int) (*big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	out := new(big.Int).Mul(testUSD, fixedpoint.Pow10(fixedpoint.WETHDecimals))
	return out.Quo(out, price), nil
}

// StateView is the rendered form of a TradingState.
type StateView struct {
	Account        string    `json:"account"`
	ETHPrice       *Amount   `json:"eth_price,omitempty"`
	WETHBalance    *Amount   `json:"weth_balance,omitempty"`
	TestUSDBalance *Amount   `json:"test_usd_balance,omitempty"`
	PnL            *PnLView  `json:"pnl,omitempty"`
	WETHDeposits   *Amount   `json:"weth_deposits,omitempty"`
	RedeemableWETH *Amount   `json:"redeemable_weth,omitempty"`
	WETHAllowance  *Amount   `json:"weth_allowance,omitempty"`
	Spot           *SpotView `json:"spot,omitempty"`
	TransientError bool      `json:"transient_error"`
	FailedReads    []Field   `json:"failed_reads,omitempty"`
	UpdatedAt      string    `json:"updated_at"`
}

// Amount carries the raw integer with its display string.
type Amount struct {
	Raw     string `json:"raw"`
	Display string `json:"display"`
}

type PnLView struct {
	Magnitude Amount `json:"magnitude"`
	IsProfit  bool   `json:"is_profit"`
}

type SpotView struct {
	Price       float64 `json:"price"`
	Synthesized bool    `json:"synthesized"`
}

// View renders amounts at the display boundary.
func (s TradingState) View() StateView {
	view := StateView{
		Account:        s.Account.Hex(),
		ETHPrice:       priceAmount(s.ETHPrice),
		WETHBalance:    amount(s.WETHBalance, fixedpoint.WETHDecimals),
		TestUSDBalance: amount(s.TestUSDBalance, fixedpoint.TestUSDDecimals),
		WETHDeposits:   amount(s.WETHDeposits, fixedpoint.WETHDecimals),
		RedeemableWETH: amount(s.RedeemableWETH, fixedpoint.WETHDecimals),
		WETHAllowance:  amount(s.WETHAllowance, fixedpoint.WETHDecimals),
		TransientError: s.TransientError,
		FailedReads:    s.FailedReads,
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
	}
	if s.PnL != nil {
		view.PnL = &PnLView{
			Magnitude: *amount(s.PnL.Magnitude, fixedpoint.WETHDecimals),
			IsProfit:  s.PnL.IsProfit,
		}
	}
	if s.Quote != nil {
		view.Spot = &SpotView{Price: s.Quote.Data.Price, Synthesized: s.Quote.IsSynthesized()}
	}
	return view
}

func amount(v *big.Int, decimals uint8) *Amount {
	if v == nil {
		return nil
	}
	return &Amount{Raw: v.String(), Display: fixedpoint.Format(v, decimals)}
}

func priceAmount(v *big.Int) *Amount {
	if v == nil {
		return nil
	}
	return &Amount{Raw: v.String(), Display: fixedpoint.FormatPrice(v)}
}
