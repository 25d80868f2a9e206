// Package storagetest holds behavior checks shared by every EntityStore.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"paperTrading/internal/model"
	"paperTrading/internal/storage"
)

// Deposit builds a WETHDeposited entity for tests.
func Deposit(tx string, logIndex, block, ts uint64, user, weth string) model.Entity {
	hash := common.HexToHash(tx)
	return model.Entity{
		ID:              model.NewEntityID(hash, logIndex),
		Kind:            model.KindWETHDeposited,
		BlockNumber:     block,
		LogIndex:        logIndex,
		BlockTimestamp:  ts,
		TransactionHash: hash.Hex(),
		WETHDeposited: &model.WETHDeposited{
			User:          user,
			WETHAmount:    weth,
			TestUSDMinted: "3500000000",
			ETHPrice:      "3500000000",
		},
	}
}

// Redeem builds a TestUSDRedeemed entity for tests.
func Redeem(tx string, logIndex, block, ts uint64, user, usd string) model.Entity {
	hash := common.HexToHash(tx)
	return model.Entity{
		ID:              model.NewEntityID(hash, logIndex),
		Kind:            model.KindTestUSDRedeemed,
		BlockNumber:     block,
		LogIndex:        logIndex,
		BlockTimestamp:  ts,
		TransactionHash: hash.Hex(),
		TestUSDRedeemed: &model.TestUSDRedeemed{
			User:          user,
			TestUSDAmount: usd,
			WETHWithdrawn: "500000000000000000",
			ETHPrice:      "3500000000",
		},
	}
}

const (
	alice = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	bob   = "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
)

// Run exercises the EntityStore contract against a fresh store.
func Run(t *testing.T, open func(t *testing.T) storage.EntityStore) {
	t.Run("RejectsMissingPayload", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		bare := model.Entity{ID: "0x01", Kind: model.KindWETHDeposited, BlockNumber: 1}
		if _, err := store.Upsert(ctx, []model.Entity{bare}); err == nil {
			t.Fatalf("expected error for entity without payload")
		}
		if _, err := store.ByID(ctx, bare.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("entity without payload must not be stored, got %v", err)
		}
	})

	t.Run("UpsertIdempotent", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		deposit := Deposit("0x01", 0, 100, 1000, alice, "1000000000000000000")

		results, err := store.Upsert(ctx, []model.Entity{deposit})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if len(results) != 1 || results[0].Outcome != storage.OutcomeCreated {
			t.Fatalf("expected created, got %+v", results)
		}

		results, err = store.Upsert(ctx, []model.Entity{deposit})
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if results[0].Outcome != storage.OutcomeUnchanged {
			t.Fatalf("expected unchanged, got %+v", results)
		}

		got, err := store.ByID(ctx, deposit.ID)
		if err != nil {
			t.Fatalf("by id: %v", err)
		}
		if !got.SameContent(deposit) || got.Unreconciled {
			t.Fatalf("stored entity mismatch: %+v", got)
		}
	})

	t.Run("UpsertConflictFlagsEntity", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		original := Deposit("0x02", 1, 100, 1000, alice, "1000000000000000000")
		if _, err := store.Upsert(ctx, []model.Entity{original}); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		diverged := Deposit("0x02", 1, 100, 1000, alice, "2000000000000000000")
		next := Deposit("0x03", 0, 101, 1010, bob, "1")
		results, err := store.Upsert(ctx, []model.Entity{diverged, next})
		if err != nil {
			t.Fatalf("upsert conflict: %v", err)
		}
		if results[0].Outcome != storage.OutcomeConflict || results[0].Existing == nil {
			t.Fatalf("expected conflict, got %+v", results[0])
		}
		if results[0].Existing.WETHDeposited.WETHAmount != "1000000000000000000" {
			t.Fatalf("existing should be the stored version: %+v", results[0].Existing)
		}
		if results[1].Outcome != storage.OutcomeCreated {
			t.Fatalf("batch should continue after conflict: %+v", results[1])
		}

		got, err := store.ByID(ctx, original.ID)
		if err != nil {
			t.Fatalf("by id: %v", err)
		}
		if !got.Unreconciled || got.WETHDeposited.WETHAmount != "1000000000000000000" {
			t.Fatalf("conflicted entity should keep original content and be flagged: %+v", got)
		}

		flagged, err := store.Unreconciled(ctx)
		if err != nil {
			t.Fatalf("unreconciled: %v", err)
		}
		if len(flagged) != 1 || flagged[0].ID != original.ID {
			t.Fatalf("unreconciled mismatch: %+v", flagged)
		}
	})

	t.Run("RecentOrderAndFilters", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		batch := []model.Entity{
			Deposit("0x10", 0, 100, 1000, alice, "1"),
			Redeem("0x11", 0, 101, 1012, alice, "2"),
			Deposit("0x12", 2, 101, 1012, bob, "3"),
			Redeem("0x12", 3, 101, 1012, bob, "4"),
		}
		if _, err := store.Upsert(ctx, batch); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		all, err := store.Recent(ctx, storage.Query{})
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		wantOrder := []model.EntityID{batch[3].ID, batch[2].ID, batch[1].ID, batch[0].ID}
		if len(all) != len(wantOrder) {
			t.Fatalf("expected %d entities, got %d", len(wantOrder), len(all))
		}
		for i, id := range wantOrder {
			if all[i].ID != id {
				t.Fatalf("order mismatch at %d: got %s want %s", i, all[i].ID, id)
			}
		}

		deposits, err := store.Recent(ctx, storage.Query{Kinds: []model.EventKind{model.KindWETHDeposited}, Limit: 1})
		if err != nil {
			t.Fatalf("recent deposits: %v", err)
		}
		if len(deposits) != 1 || deposits[0].ID != batch[2].ID {
			t.Fatalf("deposit filter mismatch: %+v", deposits)
		}

		aliceOnly, err := store.Recent(ctx, storage.Query{User: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
		if err != nil {
			t.Fatalf("recent user: %v", err)
		}
		if len(aliceOnly) != 2 {
			t.Fatalf("user filter mismatch: %+v", aliceOnly)
		}
	})

	t.Run("ByIDMissing", func(t *testing.T) {
		store := open(t)
		if _, err := store.ByID(context.Background(), "0xdead"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("State", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		if _, ok, err := store.LoadState(ctx, "ingest:test"); err != nil || ok {
			t.Fatalf("expected empty state: %v %v", ok, err)
		}
		if err := store.SaveState(ctx, "ingest:test", 42); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.SaveState(ctx, "ingest:test", 43); err != nil {
			t.Fatalf("save again: %v", err)
		}
		v, ok, err := store.LoadState(ctx, "ingest:test")
		if err != nil || !ok || v != 43 {
			t.Fatalf("state mismatch: %d %v %v", v, ok, err)
		}
	})
}
