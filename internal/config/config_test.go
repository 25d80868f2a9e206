package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadIngestPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := "batch-size: 100\nstore: sqlite\nsqlite-path: ./file.db\ntopic0-map:\n  \"0xabc\": WETHDeposited\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PAPER_SQLITE_PATH", "./env.db")

	flags := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	flags.Int("batch-size", 500, "")
	flags.String("recompute-from", "", "")
	if err := flags.Parse([]string{"--batch-size=7", "--recompute-from=42"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadIngest(cfgFile, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 7 {
		t.Fatalf("flag should win, got batch size %d", cfg.BatchSize)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.SQLitePath != "./env.db" {
		t.Fatalf("env should override file, got %+v", cfg.Store)
	}
	if cfg.RecomputeFrom == nil || *cfg.RecomputeFrom != 42 {
		t.Fatalf("recompute-from mismatch: %v", cfg.RecomputeFrom)
	}
	if cfg.Topic0Map["0xabc"] != "WETHDeposited" {
		t.Fatalf("topic0 map mismatch: %+v", cfg.Topic0Map)
	}
}

func TestLoadIngestRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown store": "store: mongo\n",
		"bad recompute": "recompute-from: yesterday\n",
		"bad map":       "topic0-map: \"0xabc\"\n",
		"postgres dsn":  "store: postgres\n",
	}
	for name, content := range cases {
		cfgFile := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadIngest(cfgFile, nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadServeDefaults(t *testing.T) {
	cfg, err := LoadServe("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 10*time.Second || cfg.ReadTimeout != 10*time.Second {
		t.Fatalf("timeout defaults mismatch: %+v", cfg)
	}
	if cfg.Quote.RatePerSecond != 0.5 || cfg.Quote.SpotTTL != 30*time.Second {
		t.Fatalf("quote defaults mismatch: %+v", cfg.Quote)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.SQLitePath != "./data/paper.db" {
		t.Fatalf("store default mismatch: %q", cfg.Store.Kind)
	}
}

func TestLoadHistoryValidatesSource(t *testing.T) {
	t.Setenv("PAPER_SOURCE", "ipfs")
	if _, err := LoadHistory("", nil); err == nil {
		t.Fatalf("expected unknown source error")
	}
	t.Setenv("PAPER_SOURCE", "subgraph")
	cfg, err := LoadHistory("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SubgraphURL == "" || cfg.Limit != 50 {
		t.Fatalf("history defaults mismatch: %+v", cfg)
	}
}

func TestContractsAddresses(t *testing.T) {
	c := Contracts{
		PaperTrading: "0x1111111111111111111111111111111111111111",
		WETH:         "0x2222222222222222222222222222222222222222",
		TestUSD:      "0x3333333333333333333333333333333333333333",
	}
	addrs, err := c.Addresses()
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if addrs.WETH.Hex() != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("weth mismatch: %s", addrs.WETH.Hex())
	}
	c.TestUSD = "nope"
	if _, err := c.Addresses(); err == nil {
		t.Fatalf("expected invalid address error")
	}
}
