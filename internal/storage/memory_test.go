package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paperTrading/internal/model"
	"paperTrading/internal/storage"
	"paperTrading/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.EntityStore {
		return storage.NewMemoryStore()
	})
}

func TestMemoryStoreDuplicateInBatch(t *testing.T) {
	store := storage.NewMemoryStore()
	first := storagetest.Deposit("0x01", 0, 1, 1, "0x01", "1")
	second := storagetest.Deposit("0x01", 0, 1, 1, "0x01", "2")

	results, err := store.Upsert(context.Background(), []model.Entity{first, first, second})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got := []storage.Outcome{results[0].Outcome, results[1].Outcome, results[2].Outcome}
	want := []storage.Outcome{storage.OutcomeCreated, storage.OutcomeUnchanged, storage.OutcomeConflict}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outcomes mismatch: %v", got)
		}
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	store := storage.NewMemoryStore()
	bad := model.Entity{ID: "0x01", Kind: model.KindWETHDeposited}
	if _, err := store.Upsert(context.Background(), []model.Entity{bad}); err == nil {
		t.Fatalf("expected error for missing payload")
	}
	if all, _ := store.Recent(context.Background(), storage.Query{}); len(all) != 0 {
		t.Fatalf("invalid batch must not be applied")
	}
}

func TestQueryEffectiveLimit(t *testing.T) {
	cases := map[int]int{0: 50, -1: 50, 10: 10, 1000: 1000, 5000: 1000}
	for in, want := range cases {
		if got := (storage.Query{Limit: in}).EffectiveLimit(); got != want {
			t.Fatalf("limit %d: got %d want %d", in, got, want)
		}
	}
}

func TestJsonlRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "logs.jsonl")
	sink := storage.NewJsonlStorage(path)
	records := []model.LogRecord{
		{BlockNumber: 1, LogIndex: 0, TxHash: "0x01", Topics: []string{"0xaa"}},
		{BlockNumber: 2, LogIndex: 5, TxHash: "0x02", Topics: []string{"0xbb"}},
	}
	if err := sink.PutLogBatch(context.Background(), records[:1]); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := sink.PutLogBatch(context.Background(), records[1:]); err != nil {
		t.Fatalf("put: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.LogRecord
	err = storage.ReadLogRecords(context.Background(), file, func(line int, record model.LogRecord) error {
		got = append(got, record)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[1].Position() != (model.Position{BlockNumber: 2, LogIndex: 5}) {
		t.Fatalf("records mismatch: %+v", got)
	}
}

func TestReadLogRecordsReportsLine(t *testing.T) {
	input := "{\"block_number\":1}\n\n{not json}\n"
	err := storage.ReadLogRecords(context.Background(), strings.NewReader(input), func(int, model.LogRecord) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expected line 3 error, got %v", err)
	}
}
