package contract

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"paperTrading/internal/fixedpoint"
)

// TokenMeta describes an ERC20 token.
type TokenMeta struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals uint8  `json:"decimals"`
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// FetchTokenMeta loads token metadata via ERC20 calls. Symbol and name fall
// back to the bytes32 layout and are optional; decimals is required.
func FetchTokenMeta(ctx context.Context, client ContractCaller, token common.Address, cache *TokenMetaCache, logger *zap.Logger) (TokenMeta, error) {
	if cache != nil {
		if meta, ok := cache.Get(token); ok {
			return meta, nil
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meta := TokenMeta{Address: token.Hex()}
	stringABI, err := erc20ABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32ABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, client, token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	for _, field := range []struct {
		method string
		dst    *string
	}{
		{"symbol", &meta.Symbol},
		{"name", &meta.Name},
	} {
		if values, err := callMethod(ctx, client, token, stringABI, field.method); err == nil {
			if s, ok := values[0].(string); ok {
				*field.dst = s
			}
		} else if values, err := callMethod(ctx, client, token, bytes32ABI, field.method); err == nil {
			if s, ok := bytes32ToString(values[0]); ok {
				*field.dst = s
			}
		} else {
			logger.Debug("token metadata call failed", zap.String("token", token.Hex()), zap.String("method", field.method), zap.Error(err))
		}
	}

	if cache != nil {
		cache.Set(token, meta)
	}
	return meta, nil
}

// VerifyTokens checks the deployed tokens use the scales the rest of the
// service assumes: 18 decimals for WETH, 6 for TestUSD.
func VerifyTokens(ctx context.Context, client ContractCaller, addresses Addresses, cache *TokenMetaCache, logger *zap.Logger) error {
	for _, want := range []struct {
		label    string
		address  common.Address
		decimals uint8
	}{
		{"weth", addresses.WETH, fixedpoint.WETHDecimals},
		{"test-usd", addresses.TestUSD, fixedpoint.TestUSDDecimals},
	} {
		meta, err := FetchTokenMeta(ctx, client, want.address, cache, logger)
		if err != nil {
			return fmt.Errorf("fetch %s metadata: %w", want.label, err)
		}
		if meta.Decimals != want.decimals {
			return fmt.Errorf("%s %s has %d decimals, want %d", want.label, meta.Address, meta.Decimals, want.decimals)
		}
	}
	return nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("decimals out of range: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
