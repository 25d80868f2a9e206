// Package trading computes the per-account trading view from live contract
// reads and drives the deposit, redeem and wrap transactions.
package trading

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"paperTrading/internal/contract"
)

// Field names one live read.
type Field string

const (
	FieldETHPrice       Field = "eth_price"
	FieldWETHBalance    Field = "weth_balance"
	FieldTestUSDBalance Field = "test_usd_balance"
	FieldPnL            Field = "pnl"
	FieldWETHDeposits   Field = "weth_deposits"
	FieldRedeemableWETH Field = "redeemable_weth"
	FieldWETHAllowance  Field = "weth_allowance"
)

// Fields lists every live read in display order.
var Fields = []Field{
	FieldETHPrice,
	FieldWETHBalance,
	FieldTestUSDBalance,
	FieldPnL,
	FieldWETHDeposits,
	FieldRedeemableWETH,
	FieldWETHAllowance,
}

// ChainReader is the set of contract views the reader needs.
// *contract.Caller satisfies it.
type ChainReader interface {
	Addresses() contract.Addresses
	LatestETHPrice(ctx context.Context) (*big.Int, error)
	UserPnL(ctx context.Context, user common.Address) (*big.Int, error)
	UserWETHDeposits(ctx context.Context, user common.Address) (*big.Int, error)
	RedeemableWETH(ctx context.Context, user common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Owner(ctx context.Context) (common.Address, error)
	TokenOwner(ctx context.Context, token common.Address) (common.Address, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
}

// Reads is one bundle of point-in-time reads. A field that failed is nil
// and has an entry in Errors.
type Reads struct {
	Values map[Field]*big.Int
	Errors map[Field]error
}

func (r Reads) Get(f Field) (*big.Int, bool) {
	v, ok := r.Values[f]
	return v, ok && v != nil
}

// Failed lists the fields that failed, in display order.
func (r Reads) Failed() []Field {
	var out []Field
	for _, f := range Fields {
		if _, ok := r.Errors[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Reader fetches the live reads of one account.
type Reader struct {
	chain   ChainReader
	timeout time.Duration
}

// NewReader builds a Reader. timeout bounds each bundle; zero means 10s.
func NewReader(chain ChainReader, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reader{chain: chain, timeout: timeout}
}

// Read issues every live read concurrently. Each read fails on its own.
func (r *Reader) Read(ctx context.Context, account common.Address) Reads {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs := r.chain.Addresses()
	calls := map[Field]func(context.Context) (*big.Int, error){
		FieldETHPrice: r.chain.LatestETHPrice,
		FieldWETHBalance: func(ctx context.Context) (*big.Int, error) {
			return r.chain.BalanceOf(ctx, addrs.WETH, account)
		},
		FieldTestUSDBalance: func(ctx context.Context) (*big.Int, error) {
			return r.chain.BalanceOf(ctx, addrs.TestUSD, account)
		},
		FieldPnL: func(ctx context.Context) (*big.Int, error) {
			return r.chain.UserPnL(ctx, account)
		},
		FieldWETHDeposits: func(ctx context.Context) (*big.Int, error) {
			return r.chain.UserWETHDeposits(ctx, account)
		},
		FieldRedeemableWETH: func(ctx context.Context) (*big.Int, error) {
			return r.chain.RedeemableWETH(ctx, account)
		},
		FieldWETHAllowance: func(ctx context.Context) (*big.Int, error) {
			return r.chain.Allowance(ctx, addrs.WETH, account, addrs.PaperTrading)
		},
	}

	reads := Reads{
		Values: make(map[Field]*big.Int, len(calls)),
		Errors: make(map[Field]error),
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for field, call := range calls {
		wg.Add(1)
		go func(field Field, call func(context.Context) (*big.Int, error)) {
			defer wg.Done()
			value, err := call(ctx)
			if err == nil && value == nil {
				err = fmt.Errorf("empty result")
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				reads.Errors[field] = fmt.Errorf("read %s: %w", field, err)
				return
			}
			reads.Values[field] = value
		}(field, call)
	}
	wg.Wait()
	return reads
}

// AllowanceOf reads the WETH allowance account granted the trading contract.
func (r *Reader) AllowanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	addrs := r.chain.Addresses()
	allowance, err := r.chain.Allowance(ctx, addrs.WETH, account, addrs.PaperTrading)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FieldWETHAllowance, err)
	}
	return allowance, nil
}

// AdminReads are the deployment facts shown on the admin panel.
type AdminReads struct {
	PaperTradingOwner  common.Address `json:"paper_trading_owner"`
	TestUSDOwner       common.Address `json:"test_usd_owner"`
	TestUSDTotalSupply *big.Int       `json:"test_usd_total_supply"`
	WETHTotalSupply    *big.Int       `json:"weth_total_supply"`
}

// Admin reads the owners and supplies. Unlike Read it fails as a whole.
func (r *Reader) Admin(ctx context.Context) (AdminReads, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs := r.chain.Addresses()
	var out AdminReads
	var err error
	if out.PaperTradingOwner, err = r.chain.Owner(ctx); err != nil {
		return AdminReads{}, fmt.Errorf("read paper trading owner: %w", err)
	}
	if out.TestUSDOwner, err = r.chain.TokenOwner(ctx, addrs.TestUSD); err != nil {
		return AdminReads{}, fmt.Errorf("read test usd owner: %w", err)
	}
	if out.TestUSDTotalSupply, err = r.chain.TotalSupply(ctx, addrs.TestUSD); err != nil {
		return AdminReads{}, fmt.Errorf("read test usd supply: %w", err)
	}
	if out.WETHTotalSupply, err = r.chain.TotalSupply(ctx, addrs.WETH); err != nil {
		return AdminReads{}, fmt.Errorf("read weth supply: %w", err)
	}
	return out, nil
}
