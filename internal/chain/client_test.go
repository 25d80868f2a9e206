package chain

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

type fakeEth struct {
	headerCalls atomic.Int32
}

func (f *fakeEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(11155111))
}

func (f *fakeEth) BlockNumber() hexutil.Uint64 {
	return 4242
}

func (f *fakeEth) GetBlockByNumber(number string, full bool) (*types.Header, error) {
	f.headerCalls.Add(1)
	n, err := hexutil.DecodeBig(number)
	if err != nil {
		return nil, err
	}
	return &types.Header{
		Number:     n,
		Time:       1_700_000_000 + n.Uint64(),
		Difficulty: new(big.Int),
	}, nil
}

func newTestClient(t *testing.T) (*Client, *fakeEth) {
	t.Helper()
	svc := &fakeEth{}
	server := rpc.NewServer()
	if err := server.RegisterName("eth", svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	client := newClient(rpc.DialInProc(server))
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client, svc
}

func TestClientChainInfo(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	id, err := client.GetChainID(ctx)
	if err != nil || id.Int64() != 11155111 {
		t.Fatalf("chain id mismatch: %v %v", id, err)
	}
	latest, err := client.LatestBlockNumber(ctx)
	if err != nil || latest != 4242 {
		t.Fatalf("latest block mismatch: %d %v", latest, err)
	}
}

func TestBlockTimestampIsCached(t *testing.T) {
	client, svc := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ts, err := client.BlockTimestamp(ctx, 100)
		if err != nil {
			t.Fatalf("timestamp: %v", err)
		}
		if ts != 1_700_000_100 {
			t.Fatalf("timestamp mismatch: %d", ts)
		}
	}
	if calls := svc.headerCalls.Load(); calls != 1 {
		t.Fatalf("expected one header fetch, got %d", calls)
	}

	for n := uint64(0); n < tsCacheLimit; n++ {
		client.tsCache[n+1000] = n
	}
	if _, err := client.BlockTimestamp(ctx, 101); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if len(client.tsCache) != 1 {
		t.Fatalf("full cache should reset, got %d entries", len(client.tsCache))
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
