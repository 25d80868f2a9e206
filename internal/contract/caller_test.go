package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fakeChain answers eth_call by method selector and target address.
type fakeChain struct {
	t       *testing.T
	abis    []abi.ABI
	results map[string][]interface{}
	calls   []string
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	var abis []abi.ABI
	for _, fn := range []func() (abi.ABI, error){PaperTradingABI, ERC20ABI} {
		parsed, err := fn()
		if err != nil {
			t.Fatalf("abi parse: %v", err)
		}
		abis = append(abis, parsed)
	}
	return &fakeChain{t: t, abis: abis, results: make(map[string][]interface{})}
}

func (f *fakeChain) set(to common.Address, method string, values ...interface{}) {
	f.results[to.Hex()+"/"+method] = values
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	for _, parsed := range f.abis {
		method, err := parsed.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		key := msg.To.Hex() + "/" + method.Name
		f.calls = append(f.calls, key)
		values, ok := f.results[key]
		if !ok {
			return nil, fmt.Errorf("execution reverted")
		}
		return method.Outputs.Pack(values...)
	}
	return nil, errors.New("unknown selector")
}

func TestCallerReads(t *testing.T) {
	addresses := Addresses{
		PaperTrading: common.HexToAddress("0x1000000000000000000000000000000000000001"),
		WETH:         common.HexToAddress("0x2000000000000000000000000000000000000002"),
		TestUSD:      common.HexToAddress("0x3000000000000000000000000000000000000003"),
	}
	user := common.HexToAddress("0x4000000000000000000000000000000000000004")

	chain := newFakeChain(t)
	chain.set(addresses.PaperTrading, "getLatestETHPrice", big.NewInt(3_500_000_000))
	chain.set(addresses.PaperTrading, "getUserPnL", big.NewInt(-12_500_000))
	chain.set(addresses.WETH, "allowance", big.NewInt(42))
	chain.set(addresses.TestUSD, "owner", user)

	caller := NewCaller(chain, addresses)
	ctx := context.Background()

	price, err := caller.LatestETHPrice(ctx)
	if err != nil || price.String() != "3500000000" {
		t.Fatalf("price: %v %v", price, err)
	}
	pnl, err := caller.UserPnL(ctx, user)
	if err != nil || pnl.String() != "-12500000" {
		t.Fatalf("pnl: %v %v", pnl, err)
	}
	allowance, err := caller.Allowance(ctx, addresses.WETH, user, addresses.PaperTrading)
	if err != nil || allowance.Int64() != 42 {
		t.Fatalf("allowance: %v %v", allowance, err)
	}
	owner, err := caller.TokenOwner(ctx, addresses.TestUSD)
	if err != nil || owner != user {
		t.Fatalf("owner: %v %v", owner, err)
	}
	if _, err := caller.RedeemableWETH(ctx, user); err == nil {
		t.Fatalf("expected error for reverted call")
	}
}

func TestVerifyTokens(t *testing.T) {
	addresses := Addresses{
		WETH:    common.HexToAddress("0x2000000000000000000000000000000000000002"),
		TestUSD: common.HexToAddress("0x3000000000000000000000000000000000000003"),
	}
	chain := newFakeChain(t)
	chain.set(addresses.WETH, "decimals", uint8(18))
	chain.set(addresses.WETH, "symbol", "WETH")
	chain.set(addresses.TestUSD, "decimals", uint8(18))

	cache := NewTokenMetaCache()
	if err := VerifyTokens(context.Background(), chain, addresses, cache, nil); err == nil {
		t.Fatalf("expected decimals mismatch for test-usd")
	}
	if meta, ok := cache.Get(addresses.WETH); !ok || meta.Symbol != "WETH" {
		t.Fatalf("weth metadata not cached: %+v", meta)
	}

	chain.set(addresses.TestUSD, "decimals", uint8(6))
	if err := VerifyTokens(context.Background(), chain, addresses, NewTokenMetaCache(), nil); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPackCalldata(t *testing.T) {
	parsed, err := PaperTradingABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	data, err := PackDepositWETH(big.NewInt(7))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil || method.Name != "depositWETH" {
		t.Fatalf("selector mismatch: %v", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || args[0].(*big.Int).Int64() != 7 {
		t.Fatalf("args mismatch: %v %v", args, err)
	}

	wrap, err := PackWrap()
	if err != nil || len(wrap) != 4 {
		t.Fatalf("wrap calldata: %x %v", wrap, err)
	}
}
