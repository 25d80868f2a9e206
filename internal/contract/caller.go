package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller executes eth_call. *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Addresses holds the deployed contract addresses.
type Addresses struct {
	PaperTrading common.Address
	WETH         common.Address
	TestUSD      common.Address
}

// ParseAddresses validates and converts hex addresses.
func ParseAddresses(paperTrading, weth, testUSD string) (Addresses, error) {
	var out Addresses
	for _, item := range []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"paper-trading", paperTrading, &out.PaperTrading},
		{"weth", weth, &out.WETH},
		{"test-usd", testUSD, &out.TestUSD},
	} {
		if !common.IsHexAddress(item.value) {
			return Addresses{}, fmt.Errorf("invalid %s address: %q", item.name, item.value)
		}
		*item.dst = common.HexToAddress(item.value)
	}
	return out, nil
}

// Caller performs typed view calls against the PaperTrading deployment.
type Caller struct {
	client    ContractCaller
	addresses Addresses
}

// NewCaller builds a Caller.
func NewCaller(client ContractCaller, addresses Addresses) *Caller {
	return &Caller{client: client, addresses: addresses}
}

// Addresses returns the configured deployment.
func (c *Caller) Addresses() Addresses {
	return c.addresses
}

// LatestETHPrice returns the oracle price with 6 decimals.
func (c *Caller) LatestETHPrice(ctx context.Context) (*big.Int, error) {
	return c.paperBig(ctx, "getLatestETHPrice")
}

// UserPnL returns the signed PnL of user in TestUSD base units.
func (c *Caller) UserPnL(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.paperBig(ctx, "getUserPnL", user)
}

// UserWETHDeposits returns the WETH user has deposited in wei.
func (c *Caller) UserWETHDeposits(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.paperBig(ctx, "userWETHDeposits", user)
}

// RedeemableWETH returns the WETH user can currently redeem in wei.
func (c *Caller) RedeemableWETH(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.paperBig(ctx, "getRedeemableWETH", user)
}

// Owner returns the PaperTrading owner.
func (c *Caller) Owner(ctx context.Context) (common.Address, error) {
	values, err := c.call(ctx, paperTradingABI, c.addresses.PaperTrading, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// BalanceOf returns the token balance of account.
func (c *Caller) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	values, err := c.call(ctx, erc20ABI, token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// Allowance returns how much spender may pull from owner.
func (c *Caller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	values, err := c.call(ctx, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// TotalSupply returns the token supply.
func (c *Caller) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	values, err := c.call(ctx, erc20ABI, token, "totalSupply")
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// TokenOwner returns the owner of an ownable token such as TestUSD.
func (c *Caller) TokenOwner(ctx context.Context, token common.Address) (common.Address, error) {
	values, err := c.call(ctx, erc20ABI, token, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

func (c *Caller) paperBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, paperTradingABI, c.addresses.PaperTrading, method, args...)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func (c *Caller) call(ctx context.Context, lazy *lazyABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := lazy.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return callMethod(ctx, c.client, to, parsed, method, args...)
}

func callMethod(ctx context.Context, client ContractCaller, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

// PackApprove encodes ERC20 approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return pack(erc20ABI, "approve", spender, amount)
}

// PackDepositWETH encodes PaperTrading depositWETH(amount).
func PackDepositWETH(amount *big.Int) ([]byte, error) {
	return pack(paperTradingABI, "depositWETH", amount)
}

// PackRedeemTestUSD encodes PaperTrading redeemTestUSD(amount).
func PackRedeemTestUSD(amount *big.Int) ([]byte, error) {
	return pack(paperTradingABI, "redeemTestUSD", amount)
}

// PackWrap encodes WETH deposit(); the amount travels as the tx value.
func PackWrap() ([]byte, error) {
	return pack(wethABI, "deposit")
}

func pack(lazy *lazyABI, method string, args ...interface{}) ([]byte, error) {
	parsed, err := lazy.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}
