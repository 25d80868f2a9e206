package model

import (
	"encoding/json"
	"testing"
)

func TestLogRecordDecodesCollectorLine(t *testing.T) {
	line := `{"chain_id":11155111,"block_number":100,"block_hash":"0xabc123","tx_hash":"0xdef456","tx_index":3,"log_index":7,` +
		`"address":"0x1111111111111111111111111111111111111111","topics":["0xaaa","0xbbb"],"data":"0x","removed":false,` +
		`"timestamp":1700000000,"ingested_at":"2024-01-01T00:00:00Z"}`

	var record LogRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if record.Position() != (Position{BlockNumber: 100, LogIndex: 7}) {
		t.Fatalf("position mismatch: %+v", record.Position())
	}
	if record.Topic0() != "0xaaa" {
		t.Fatalf("topic0 mismatch: %s", record.Topic0())
	}
	if record.Timestamp != 1700000000 {
		t.Fatalf("timestamp mismatch: %d", record.Timestamp)
	}
}

func TestLogRecordTopic0Empty(t *testing.T) {
	if got := (LogRecord{}).Topic0(); got != "" {
		t.Fatalf("expected empty topic0, got %q", got)
	}
}

func TestPositionCompare(t *testing.T) {
	cases := []struct {
		a, b Position
		want int
	}{
		{Position{100, 0}, Position{101, 0}, -1},
		{Position{101, 0}, Position{100, 9}, 1},
		{Position{100, 1}, Position{100, 2}, -1},
		{Position{100, 2}, Position{100, 2}, 0},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Fatalf("compare %s %s: got %d want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
