package trading

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DepositState is the readiness of a WETH deposit.
type DepositState int

const (
	NeedsApproval DepositState = iota
	ReadyToDeposit
)

func (s DepositState) String() string {
	switch s {
	case NeedsApproval:
		return "needs_approval"
	case ReadyToDeposit:
		return "ready_to_deposit"
	default:
		return fmt.Sprintf("deposit_state(%d)", int(s))
	}
}

// ErrNotApproved is returned by Deposit while the allowance is short.
var ErrNotApproved = errors.New("allowance below deposit amount")

// AllowanceSource re-reads the account's WETH allowance for the trading
// contract. *Reader satisfies it.
type AllowanceSource interface {
	AllowanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// DepositTrader is the subset of *Trader the flow drives.
type DepositTrader interface {
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (Receipt, error)
	Deposit(ctx context.Context, amount *big.Int) (Receipt, error)
}

// DepositFlow decides between approving and depositing. The state follows
// from the intended amount and the last allowance read: NeedsApproval iff
// allowance < amount.
type DepositFlow struct {
	account   common.Address
	spender   common.Address
	trader    DepositTrader
	allowance AllowanceSource

	mu      sync.Mutex
	amount  *big.Int
	current *big.Int
}

func NewDepositFlow(account, spender common.Address, trader DepositTrader, allowance AllowanceSource) *DepositFlow {
	return &DepositFlow{
		account:   account,
		spender:   spender,
		trader:    trader,
		allowance: allowance,
		amount:    new(big.Int),
		current:   new(big.Int),
	}
}

// SetAmount records the amount the user intends to deposit.
func (f *DepositFlow) SetAmount(amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount == nil {
		amount = new(big.Int)
	}
	f.amount = new(big.Int).Set(amount)
}

// ObserveAllowance records an allowance read, e.g. from a poll.
func (f *DepositFlow) ObserveAllowance(allowance *big.Int) {
	if allowance == nil {
		return
	}
	f.mu.Lock()
	f.current = new(big.Int).Set(allowance)
	f.mu.Unlock()
}

func (f *DepositFlow) State() DepositState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *DepositFlow) stateLocked() DepositState {
	if f.current.Cmp(f.amount) < 0 {
		return NeedsApproval
	}
	return ReadyToDeposit
}

// Amount returns the intended deposit.
func (f *DepositFlow) Amount() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.amount)
}

// Refresh re-reads the allowance. On error the last value is kept.
func (f *DepositFlow) Refresh(ctx context.Context) (DepositState, error) {
	allowance, err := f.allowance.AllowanceOf(ctx, f.account)
	if err != nil {
		return f.State(), err
	}
	f.ObserveAllowance(allowance)
	return f.State(), nil
}

// Approve grants the intended amount. The state moves only after the
// approval is confirmed and the allowance is re-read.
func (f *DepositFlow) Approve(ctx context.Context) (Receipt, DepositState, error) {
	amount := f.Amount()
	receipt, err := f.trader.Approve(ctx, f.spender, amount)
	if err != nil {
		return Receipt{}, f.State(), err
	}
	state, err := f.Refresh(ctx)
	if err != nil {
		return receipt, state, fmt.Errorf("refresh allowance after approve: %w", err)
	}
	return receipt, state, nil
}

// Deposit submits the intended amount when ReadyToDeposit.
func (f *DepositFlow) Deposit(ctx context.Context) (Receipt, DepositState, error) {
	f.mu.Lock()
	state := f.stateLocked()
	amount := new(big.Int).Set(f.amount)
	f.mu.Unlock()
	if state != ReadyToDeposit {
		return Receipt{}, state, &TxError{Op: "deposit", Reason: "approve WETH first", Err: ErrNotApproved}
	}

	receipt, err := f.trader.Deposit(ctx, amount)
	if err != nil {
		return Receipt{}, f.State(), err
	}
	state, err = f.Refresh(ctx)
	if err != nil {
		return receipt, state, fmt.Errorf("refresh allowance after deposit: %w", err)
	}
	return receipt, state, nil
}
