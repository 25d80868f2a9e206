package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"paperTrading/internal/metrics"
	"paperTrading/internal/model"
	"paperTrading/internal/quote"
	"paperTrading/internal/storage"
	"paperTrading/internal/trading"
)

var (
	alice = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob   = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
)

type fakeUpstream struct {
	err error
}

func (f fakeUpstream) Spot(ctx context.Context) (quote.Spot, error) {
	if f.err != nil {
		return quote.Spot{}, f.err
	}
	return quote.Spot{Price: 3500, PriceE6: quote.PriceE6(3500)}, nil
}

func (f fakeUpstream) History(ctx context.Context) ([]quote.PricePoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []quote.PricePoint{{Timestamp: 1, Price: 3400, PriceE6: quote.PriceE6(3400)}}, nil
}

type fakeReader struct {
	reads trading.Reads
}

func (f fakeReader) Read(ctx context.Context, account common.Address) trading.Reads {
	return f.reads
}

func okReads() trading.Reads {
	return trading.Reads{Values: map[trading.Field]*big.Int{
		trading.FieldETHPrice:       big.NewInt(3500_000000),
		trading.FieldWETHBalance:    big.NewInt(2e18),
		trading.FieldTestUSDBalance: big.NewInt(7000_000000),
		trading.FieldPnL:            big.NewInt(-5e17),
		trading.FieldWETHDeposits:   big.NewInt(2e18),
		trading.FieldRedeemableWETH: big.NewInt(15e17),
		trading.FieldWETHAllowance:  big.NewInt(1e18),
	}}
}

func deposit(user common.Address, txByte byte, block uint64) model.Entity {
	tx := common.BytesToHash([]byte{txByte})
	return model.Entity{
		ID:              model.NewEntityID(tx, 0),
		Kind:            model.KindWETHDeposited,
		BlockNumber:     block,
		BlockTimestamp:  1_700_000_000 + block,
		TransactionHash: tx.Hex(),
		WETHDeposited: &model.WETHDeposited{
			User:          user.Hex(),
			WETHAmount:    "1000000000000000000",
			TestUSDMinted: "3500000000",
			ETHPrice:      "3500000000",
		},
	}
}

func redeem(user common.Address, txByte byte, block uint64) model.Entity {
	tx := common.BytesToHash([]byte{txByte})
	return model.Entity{
		ID:              model.NewEntityID(tx, 0),
		Kind:            model.KindTestUSDRedeemed,
		BlockNumber:     block,
		BlockTimestamp:  1_700_000_000 + block,
		TransactionHash: tx.Hex(),
		TestUSDRedeemed: &model.TestUSDRedeemed{
			User:          user.Hex(),
			TestUSDAmount: "3500000000",
			WETHWithdrawn: "1000000000000000000",
			ETHPrice:      "3500000000",
		},
	}
}

func newTestServer(t *testing.T, upstream quote.Upstream, reader trading.StateReader) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	if _, err := store.Upsert(context.Background(), []model.Entity{
		deposit(alice, 0xa1, 100),
		redeem(alice, 0xa2, 101),
		deposit(bob, 0xb1, 102),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	server := NewServer(Config{
		ExplorerBase: "https://sepolia.etherscan.io",
		PollInterval: time.Hour,
	}, Deps{
		Store:    store,
		Quotes:   quote.NewService(upstream, quote.WithCache(quote.NewMemoryCache(nil)), quote.WithMetrics(m)),
		Reader:   reader,
		Metrics:  m,
		Gatherer: reg,
	})
	return server, store
}

func get(t *testing.T, h http.Handler, path string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

type historyBody struct {
	Items []HistoryItem `json:"items"`
	Limit int           `json:"limit"`
}

func TestHistoryRoutes(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstream{}, nil)
	h := server.Router()

	var all historyBody
	if code := get(t, h, "/api/v1/history", &all); code != http.StatusOK {
		t.Fatalf("history status %d", code)
	}
	if len(all.Items) != 3 || all.Limit != 50 {
		t.Fatalf("expected 3 items with default limit, got %d/%d", len(all.Items), all.Limit)
	}
	if all.Items[0].Entity.BlockNumber != 102 {
		t.Fatalf("expected newest first, got block %d", all.Items[0].Entity.BlockNumber)
	}
	first := all.Items[0]
	if first.ExplorerURL != "https://sepolia.etherscan.io/tx/"+first.Entity.TransactionHash {
		t.Fatalf("explorer url mismatch: %s", first.ExplorerURL)
	}
	if first.Display["weth_amount"] != "1.0" || first.Display["eth_price"] != "$3,500" {
		t.Fatalf("display mismatch: %+v", first.Display)
	}

	var deposits historyBody
	get(t, h, "/api/v1/history/deposits?user="+alice.Hex(), &deposits)
	if len(deposits.Items) != 1 || deposits.Items[0].Entity.Kind != model.KindWETHDeposited {
		t.Fatalf("kind and user filter mismatch: %+v", deposits.Items)
	}

	var limited historyBody
	get(t, h, "/api/v1/history?limit=1", &limited)
	if len(limited.Items) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited.Items))
	}

	if code := get(t, h, "/api/v1/history/swaps", nil); code != http.StatusBadRequest {
		t.Fatalf("unknown kind should be 400, got %d", code)
	}
	if code := get(t, h, "/api/v1/history?user=nobody", nil); code != http.StatusBadRequest {
		t.Fatalf("bad user should be 400, got %d", code)
	}
	if code := get(t, h, "/api/v1/history?limit=-1", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit should be 400, got %d", code)
	}
}

func TestEntityRoutes(t *testing.T) {
	server, store := newTestServer(t, fakeUpstream{}, nil)
	h := server.Router()

	want := deposit(alice, 0xa1, 100)
	var item HistoryItem
	if code := get(t, h, "/api/v1/entities/"+string(want.ID), &item); code != http.StatusOK {
		t.Fatalf("entity status %d", code)
	}
	if item.Entity.ID != want.ID {
		t.Fatalf("entity mismatch: %s", item.Entity.ID)
	}
	if code := get(t, h, "/api/v1/entities/0xdead", nil); code != http.StatusNotFound {
		t.Fatalf("missing entity should be 404, got %d", code)
	}

	conflicting := want
	conflicting.WETHDeposited = &model.WETHDeposited{User: alice.Hex(), WETHAmount: "2", TestUSDMinted: "7", ETHPrice: "1"}
	if _, err := store.Upsert(context.Background(), []model.Entity{conflicting}); err != nil {
		t.Fatalf("upsert conflict: %v", err)
	}
	var unreconciled historyBody
	get(t, h, "/api/v1/unreconciled", &unreconciled)
	if len(unreconciled.Items) != 1 || unreconciled.Items[0].Entity.ID != want.ID {
		t.Fatalf("expected the conflicting entity to be flagged, got %+v", unreconciled.Items)
	}
}

func TestPriceRoutes(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstream{}, nil)
	var spot struct {
		Price       float64 `json:"price"`
		Synthesized bool    `json:"synthesized"`
	}
	if code := get(t, server.Router(), "/api/v1/price", &spot); code != http.StatusOK {
		t.Fatalf("price status %d", code)
	}
	if spot.Price != 3500 || spot.Synthesized {
		t.Fatalf("expected real quote, got %+v", spot)
	}

	limited, _ := newTestServer(t, fakeUpstream{err: quote.ErrRateLimited}, nil)
	var history priceHistoryResponse
	get(t, limited.Router(), "/api/v1/price/historical", &history)
	if !history.Synthesized || len(history.Points) != 7 {
		t.Fatalf("expected 7 synthesized points, got %d synthesized=%v", len(history.Points), history.Synthesized)
	}
}

func TestStateRoute(t *testing.T) {
	noReader, _ := newTestServer(t, fakeUpstream{}, nil)
	if code := get(t, noReader.Router(), "/api/v1/accounts/"+alice.Hex()+"/state", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without reader, got %d", code)
	}

	server, _ := newTestServer(t, fakeUpstream{}, fakeReader{reads: okReads()})
	h := server.Router()
	var state stateResponse
	if code := get(t, h, "/api/v1/accounts/"+alice.Hex()+"/state?deposit=1.5", &state); code != http.StatusOK {
		t.Fatalf("state status %d", code)
	}
	if state.Account != alice.Hex() || state.PnL == nil || state.PnL.IsProfit || state.PnL.Magnitude.Display != "0.5" {
		t.Fatalf("state mismatch: %+v", state.StateView)
	}
	if state.DepositState != trading.NeedsApproval.String() {
		t.Fatalf("1.5 WETH over a 1 WETH allowance needs approval, got %q", state.DepositState)
	}
	if state.Spot == nil || state.Spot.Synthesized {
		t.Fatalf("expected a real spot quote, got %+v", state.Spot)
	}

	get(t, h, "/api/v1/accounts/"+alice.Hex()+"/state?deposit=1", &state)
	if state.DepositState != trading.ReadyToDeposit.String() {
		t.Fatalf("expected ready to deposit, got %q", state.DepositState)
	}

	if code := get(t, h, "/api/v1/accounts/0x12/state", nil); code != http.StatusBadRequest {
		t.Fatalf("bad address should be 400, got %d", code)
	}
	if code := get(t, h, "/api/v1/accounts/"+alice.Hex()+"/state?deposit=1.0000000000000000001", nil); code != http.StatusBadRequest {
		t.Fatalf("over-precise amount should be 400, got %d", code)
	}
}

func TestStateRouteReportsFailedReads(t *testing.T) {
	reads := okReads()
	delete(reads.Values, trading.FieldPnL)
	reads.Errors = map[trading.Field]error{trading.FieldPnL: errors.New("rpc timeout")}
	server, _ := newTestServer(t, fakeUpstream{}, fakeReader{reads: reads})

	var state stateResponse
	get(t, server.Router(), "/api/v1/accounts/"+alice.Hex()+"/state", &state)
	if !state.TransientError || len(state.FailedReads) != 1 || state.FailedReads[0] != trading.FieldPnL {
		t.Fatalf("expected pnl failure, got %+v", state.StateView)
	}
	if state.WETHBalance == nil || state.WETHBalance.Display != "2.0" {
		t.Fatalf("other reads should still render, got %+v", state.WETHBalance)
	}
}

func TestMetricsRoute(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstream{}, nil)
	h := server.Router()
	get(t, h, "/health", nil)
	get(t, h, "/api/v1/price", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	if !strings.Contains(text, `paper_http_requests_total{code="200",route="/health"}`) {
		t.Fatalf("expected route-labelled request counter, got:\n%s", text)
	}
	if !strings.Contains(text, `paper_quote_requests_total{kind="spot",source="real"}`) {
		t.Fatalf("expected quote counter, got:\n%s", text)
	}
}

func TestSubscribeStreamsState(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstream{}, fakeReader{reads: okReads()})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/accounts/" + alice.Hex() + "/subscribe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello StreamMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read connected: %v", err)
	}
	if hello.Type != "connected" || hello.Session == "" {
		t.Fatalf("unexpected greeting: %+v", hello)
	}

	var first StreamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if first.Type != "state" || first.Data == nil || first.Data.Account != alice.Hex() {
		t.Fatalf("unexpected state frame: %+v", first)
	}

	if err := conn.WriteJSON(map[string]string{"type": "refresh"}); err != nil {
		t.Fatalf("write refresh: %v", err)
	}
	var second StreamMessage
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read refreshed state: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("refresh should advance the sequence: %d then %d", first.Seq, second.Seq)
	}
}
