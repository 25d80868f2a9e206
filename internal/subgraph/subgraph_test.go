package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

const historyFixture = `{"data":{
  "testUSDRedeemeds":[{"id":"0x00000000000000000000000000000000000000000000000000000000000000bb00000000","user":"0xaaaa000000000000000000000000000000000001","testUSDAmount":"3500000000","wethWithdrawn":"1000000000000000000","ethPrice":"3500000000","blockNumber":"101","blockTimestamp":"1700000101","transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000bb"}],
  "wethdepositeds":[{"id":"0x00000000000000000000000000000000000000000000000000000000000000aa01000000","user":"0xaaaa000000000000000000000000000000000001","wethAmount":"1000000000000000000","testUSDMinted":"3500000000","ethPrice":"3500000000","blockNumber":"100","blockTimestamp":"1700000100","transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa"}],
  "ownershipTransferreds":[]
}}`

func TestClientRecent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization mismatch: %q", got)
		}
		var body struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.Contains(body.Query, "orderBy: blockTimestamp") || body.Variables["first"] != float64(50) {
			t.Errorf("unexpected request: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(historyFixture))
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, APIKey: "secret"}, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	entities, err := client.Recent(context.Background(), storage.Query{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	redeem, deposit := entities[0], entities[1]
	if redeem.Kind != model.KindTestUSDRedeemed || redeem.BlockNumber != 101 {
		t.Fatalf("newest should be the redemption, got %+v", redeem)
	}
	if redeem.ID != model.NewEntityID(common.HexToHash("0xbb"), 0) {
		t.Fatalf("redeem id mismatch: %s", redeem.ID)
	}
	if deposit.LogIndex != 1 || deposit.ID != model.NewEntityID(common.HexToHash("0xaa"), 1) {
		t.Fatalf("deposit identity mismatch: %+v", deposit)
	}
	if deposit.WETHDeposited.User != common.HexToAddress("0xaaaa000000000000000000000000000000000001").Hex() {
		t.Fatalf("user should be checksummed, got %s", deposit.WETHDeposited.User)
	}

	only, err := client.Recent(context.Background(), storage.Query{Kinds: []model.EventKind{model.KindWETHDeposited}})
	if err != nil || len(only) != 1 || only[0].Kind != model.KindWETHDeposited {
		t.Fatalf("kind filter mismatch: %+v %v", only, err)
	}
}

func TestClientRejectsBadID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"testUSDRedeemeds":[{"id":"0x01","blockNumber":"1","blockTimestamp":"1","transactionHash":"0x01"}],"wethdepositeds":[],"ownershipTransferreds":[]}}`))
	}))
	defer server.Close()

	client, _ := NewClient(Config{URL: server.URL}, nil)
	if _, err := client.Recent(context.Background(), storage.Query{}); !errors.Is(err, ErrBadEntity) {
		t.Fatalf("expected bad entity error, got %v", err)
	}
}
