package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoConfig configures the CoinGecko client.
type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond and Burst throttle outgoing requests. The public API
	// allows a handful of calls per minute.
	RatePerSecond float64
	Burst         int
}

// CoinGecko fetches ETH/USD quotes from the CoinGecko REST API.
type CoinGecko struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewCoinGecko(cfg CoinGeckoConfig, logger *zap.Logger) *CoinGecko {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 0.5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &CoinGecko{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

type simplePriceResponse struct {
	Ethereum *struct {
		USD           float64 `json:"usd"`
		USD24hChange  float64 `json:"usd_24h_change"`
		USDMarketCap  float64 `json:"usd_market_cap"`
		USD24hVol     float64 `json:"usd_24h_vol"`
		LastUpdatedAt int64   `json:"last_updated_at"`
	} `json:"ethereum"`
}

type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

func (c *CoinGecko) Spot(ctx context.Context) (Spot, error) {
	query := url.Values{
		"ids":                     {"ethereum"},
		"vs_currencies":           {"usd"},
		"include_24hr_change":     {"true"},
		"include_market_cap":      {"true"},
		"include_24hr_vol":        {"true"},
		"include_last_updated_at": {"true"},
	}
	var resp simplePriceResponse
	if err := c.get(ctx, "/simple/price", query, &resp); err != nil {
		return Spot{}, err
	}
	if resp.Ethereum == nil {
		return Spot{}, fmt.Errorf("coingecko: ethereum missing from response")
	}
	eth := resp.Ethereum
	return Spot{
		Price:            eth.USD,
		PriceE6:          PriceE6(eth.USD),
		Change24h:        eth.USD * (eth.USD24hChange / 100),
		ChangePercent24h: eth.USD24hChange,
		MarketCap:        eth.USDMarketCap,
		Volume24h:        eth.USD24hVol,
		LastUpdated:      time.Unix(eth.LastUpdatedAt, 0).UTC(),
	}, nil
}

func (c *CoinGecko) History(ctx context.Context) ([]PricePoint, error) {
	query := url.Values{
		"vs_currency": {"usd"},
		"days":        {"7"},
		"interval":    {"daily"},
	}
	var resp marketChartResponse
	if err := c.get(ctx, "/coins/ethereum/market_chart", query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Prices) == 0 {
		return nil, fmt.Errorf("coingecko: empty price history")
	}
	points := make([]PricePoint, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		price := roundCents(p[1])
		points = append(points, PricePoint{
			Timestamp: int64(p[0]),
			Price:     price,
			PriceE6:   PriceE6(price),
		})
	}
	return points, nil
}

func (c *CoinGecko) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("coingecko rate wait: %w", err)
	}

	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build coingecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("coingecko %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("coingecko rate limited", zap.String("path", path))
		return fmt.Errorf("coingecko %s: %w", path, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coingecko %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode coingecko %s: %w", path, err)
	}
	return nil
}
