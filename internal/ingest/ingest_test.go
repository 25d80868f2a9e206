package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"paperTrading/internal/contract"
	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

var (
	testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testUser     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx0          = common.HexToHash("0xaa")
	tx1          = common.HexToHash("0xbb")
)

type recordingSink struct {
	values []interface{}
}

func (s *recordingSink) Append(values ...interface{}) error {
	s.values = append(s.values, values...)
	return nil
}

type recordingPublisher struct {
	entities []model.Entity
}

func (p *recordingPublisher) Publish(ctx context.Context, entities []model.Entity) error {
	p.entities = append(p.entities, entities...)
	return nil
}

func newDecoder(t *testing.T) *contract.Decoder {
	t.Helper()
	decoder, err := contract.NewDecoder(contract.DecoderConfig{Address: testContract.Hex()})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return decoder
}

func depositLog(t *testing.T, tx common.Hash, block, logIndex uint64, weth int64) model.LogRecord {
	t.Helper()
	parsed, err := contract.PaperTradingABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := parsed.Events["WETHDeposited"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(weth), big.NewInt(3_500_000_000), big.NewInt(3_500_000_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return logRecord(event.ID, data, tx, block, logIndex)
}

func redeemLog(t *testing.T, tx common.Hash, block, logIndex uint64) model.LogRecord {
	t.Helper()
	parsed, err := contract.PaperTradingABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := parsed.Events["TestUSDRedeemed"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(1_750_000_000), big.NewInt(500_000_000_000_000_000), big.NewInt(3_500_000_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return logRecord(event.ID, data, tx, block, logIndex)
}

func logRecord(topic0 common.Hash, data []byte, tx common.Hash, block, logIndex uint64) model.LogRecord {
	return model.LogRecord{
		ChainID:     11155111,
		BlockNumber: block,
		TxHash:      tx.Hex(),
		LogIndex:    logIndex,
		Address:     testContract.Hex(),
		Topics:      []string{topic0.Hex(), common.BytesToHash(testUser.Bytes()).Hex()},
		Data:        hexutil.Encode(data),
		Timestamp:   1700000000 + block,
	}
}

func jsonl(t *testing.T, records ...model.LogRecord) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return &buf
}

func TestIngestDepositThenRedeem(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	publisher := &recordingPublisher{}
	ing := New(Config{StateName: StateName(testContract.Hex())}, newDecoder(t), store, WithPublisher(publisher))

	input := jsonl(t, depositLog(t, tx0, 100, 0, 1_000_000_000_000_000_000), redeemLog(t, tx1, 101, 0))
	if err := ing.IngestReader(ctx, input); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	recent, err := store.Recent(ctx, storage.Query{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(recent))
	}
	if recent[0].ID != model.NewEntityID(tx1, 0) || recent[1].ID != model.NewEntityID(tx0, 0) {
		t.Fatalf("order mismatch: %s, %s", recent[0].ID, recent[1].ID)
	}
	if recent[0].Kind != model.KindTestUSDRedeemed || recent[0].TestUSDRedeemed.WETHWithdrawn != "500000000000000000" {
		t.Fatalf("redeem mismatch: %+v", recent[0])
	}
	if recent[1].WETHDeposited.User != testUser.Hex() || recent[1].WETHDeposited.WETHAmount != "1000000000000000000" {
		t.Fatalf("deposit mismatch: %+v", recent[1].WETHDeposited)
	}
	if len(publisher.entities) != 2 {
		t.Fatalf("expected 2 published entities, got %d", len(publisher.entities))
	}
	cursor, ok, err := store.LoadState(ctx, StateName(testContract.Hex()))
	if err != nil || !ok || cursor != 101 {
		t.Fatalf("cursor mismatch: %d %v %v", cursor, ok, err)
	}
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	records := []model.LogRecord{depositLog(t, tx0, 100, 0, 1_000), redeemLog(t, tx1, 101, 0)}

	first := New(Config{StateName: "s"}, newDecoder(t), store)
	if err := first.PutLogBatch(ctx, records); err != nil {
		t.Fatalf("first: %v", err)
	}

	zero := uint64(0)
	publisher := &recordingPublisher{}
	second := New(Config{StateName: "s", RecomputeFrom: &zero}, newDecoder(t), store, WithPublisher(publisher))
	if err := second.PutLogBatch(ctx, records); err != nil {
		t.Fatalf("second: %v", err)
	}
	stats := second.Stats()
	if stats.Created != 0 || stats.Unchanged != 2 || stats.Conflicts != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(publisher.entities) != 0 {
		t.Fatalf("replay should not publish")
	}
	recent, _ := store.Recent(ctx, storage.Query{})
	if len(recent) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(recent))
	}
}

func TestIngestResumeSkipsBelowCursor(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "state.json")}

	first := New(Config{StateName: "s"}, newDecoder(t), store, WithStateStore(state))
	if err := first.PutLogBatch(ctx, []model.LogRecord{depositLog(t, tx0, 100, 0, 1_000)}); err != nil {
		t.Fatalf("first: %v", err)
	}

	second := New(Config{StateName: "s"}, newDecoder(t), store, WithStateStore(state))
	input := jsonl(t, depositLog(t, common.HexToHash("0x99"), 99, 0, 5), depositLog(t, tx0, 100, 0, 1_000), redeemLog(t, tx1, 101, 0))
	if err := second.IngestReader(ctx, input); err != nil {
		t.Fatalf("second: %v", err)
	}
	stats := second.Stats()
	if stats.Skipped != 1 || stats.Unchanged != 1 || stats.Created != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if second.Cursor() != 101 {
		t.Fatalf("cursor mismatch: %d", second.Cursor())
	}
	if _, err := store.ByID(ctx, model.NewEntityID(common.HexToHash("0x99"), 0)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("entity below cursor should be skipped, got %v", err)
	}
}

func TestIngestConflictFlagsAndContinues(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := New(Config{}, newDecoder(t), store).PutLogBatch(ctx, []model.LogRecord{depositLog(t, tx0, 100, 0, 1_000)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sink := &recordingSink{}
	ing := New(Config{}, newDecoder(t), store, WithErrorSink(sink))
	err := ing.PutLogBatch(ctx, []model.LogRecord{depositLog(t, tx0, 100, 0, 2_000), redeemLog(t, tx1, 101, 0)})
	if err != nil {
		t.Fatalf("conflict should not stop ingest: %v", err)
	}
	if stats := ing.Stats(); stats.Conflicts != 1 || stats.Created != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	stored, err := store.ByID(ctx, model.NewEntityID(tx0, 0))
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if !stored.Unreconciled || stored.WETHDeposited.WETHAmount != "1000" {
		t.Fatalf("expected original flagged entity, got %+v", stored)
	}
	if len(sink.values) != 1 {
		t.Fatalf("expected 1 error line, got %d", len(sink.values))
	}
	ingestErr, ok := sink.values[0].(model.IngestError)
	if !ok || ingestErr.Reason != "conflict" || ingestErr.EntityID != string(stored.ID) {
		t.Fatalf("unexpected error record: %+v", sink.values[0])
	}
}

func TestIngestUnknownTopicIsFatal(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	ing := New(Config{}, newDecoder(t), store, WithErrorSink(sink))

	unknown := logRecord(common.HexToHash("0xdead"), nil, tx1, 101, 0)
	input := jsonl(t, depositLog(t, tx0, 100, 0, 1_000), unknown)
	err := ing.IngestReader(ctx, input)
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
	if !IsSchemaError(err) {
		t.Fatalf("IsSchemaError should match %v", err)
	}
	if len(sink.values) != 1 {
		t.Fatalf("expected 1 error line, got %d", len(sink.values))
	}
	// The deposit before the bad line is still committed.
	recent, _ := store.Recent(ctx, storage.Query{})
	if len(recent) != 1 || recent[0].Kind != model.KindWETHDeposited {
		t.Fatalf("unexpected entities: %+v", recent)
	}
}

func TestIngestRejectsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	ing := New(Config{}, newDecoder(t), storage.NewMemoryStore())

	err := ing.PutLogBatch(ctx, []model.LogRecord{redeemLog(t, tx1, 101, 0), depositLog(t, tx0, 100, 0, 1_000)})
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected out of order, got %v", err)
	}

	same := New(Config{}, newDecoder(t), storage.NewMemoryStore())
	record := depositLog(t, tx0, 100, 0, 1_000)
	if err := same.PutLogBatch(ctx, []model.LogRecord{record, record}); err != nil {
		t.Fatalf("equal positions should be accepted: %v", err)
	}
}

func TestIngestBatchSizeFlushes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	ing := New(Config{BatchSize: 1, StateName: "s"}, newDecoder(t), store)
	if err := ing.Process(ctx, depositLog(t, tx0, 100, 0, 1_000)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if recent, _ := store.Recent(ctx, storage.Query{}); len(recent) != 1 {
		t.Fatalf("batch of one should flush immediately")
	}
	if ing.Cursor() != 100 {
		t.Fatalf("cursor mismatch: %d", ing.Cursor())
	}
}

func TestDerive(t *testing.T) {
	event := model.RawEvent{
		TransactionHash: tx0,
		LogIndex:        3,
		BlockNumber:     7,
		BlockTimestamp:  1700000007,
		Kind:            model.KindOwnershipTransferred,
		Params: model.OwnershipTransferredParams{
			PreviousOwner: common.Address{},
			NewOwner:      testUser,
		},
	}
	entity, err := Derive(event)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if entity.ID != model.NewEntityID(tx0, 3) || entity.TransactionHash != tx0.Hex() {
		t.Fatalf("identity mismatch: %+v", entity)
	}
	if entity.OwnershipTransferred.NewOwner != testUser.Hex() || entity.OwnershipTransferred.PreviousOwner != (common.Address{}).Hex() {
		t.Fatalf("params mismatch: %+v", entity.OwnershipTransferred)
	}

	deposit := model.RawEvent{TransactionHash: tx1, Kind: model.KindWETHDeposited, Params: model.WETHDepositedParams{
		User:          testUser,
		WETHAmount:    big.NewInt(2),
		TestUSDMinted: big.NewInt(7000000),
		ETHPrice:      big.NewInt(3500000000),
	}}
	entity, err = Derive(deposit)
	if err != nil {
		t.Fatalf("derive deposit: %v", err)
	}
	if entity.WETHDeposited.WETHAmount != "2" || entity.WETHDeposited.ETHPrice != "3500000000" {
		t.Fatalf("amounts should be copied verbatim: %+v", entity.WETHDeposited)
	}

	missing := model.RawEvent{TransactionHash: tx1, Kind: model.KindTestUSDRedeemed, Params: model.TestUSDRedeemedParams{
		User:          testUser,
		TestUSDAmount: big.NewInt(1),
		ETHPrice:      big.NewInt(3500000000),
	}}
	if _, err := Derive(missing); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error for missing amount, got %v", err)
	}

	mismatched := model.RawEvent{TransactionHash: tx1, Kind: model.KindTestUSDRedeemed, Params: model.WETHDepositedParams{}}
	if _, err := Derive(mismatched); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
	if _, err := Derive(model.RawEvent{Kind: "Swap"}); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error for unknown kind, got %v", err)
	}
}

func TestFileStateStore(t *testing.T) {
	ctx := context.Background()
	store := &FileStateStore{Path: filepath.Join(t.TempDir(), "nested", "state.json")}
	if _, ok, err := store.LoadState(ctx, "a"); err != nil || ok {
		t.Fatalf("empty store should report missing: %v %v", ok, err)
	}
	if err := store.SaveState(ctx, "a", 10); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.SaveState(ctx, "b", 20); err != nil {
		t.Fatalf("save b: %v", err)
	}
	reopened := &FileStateStore{Path: store.Path}
	if v, ok, err := reopened.LoadState(ctx, "a"); err != nil || !ok || v != 10 {
		t.Fatalf("a mismatch: %d %v %v", v, ok, err)
	}
	if v, _, _ := reopened.LoadState(ctx, "b"); v != 20 {
		t.Fatalf("b mismatch: %d", v)
	}
}
