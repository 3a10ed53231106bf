package store_test

import (
	"context"
	"testing"

	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/store"
)

func TestMemory_saveAndLoad(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	c := ledger.New(ledger.WithMiner(ledger.Miner{Difficulty: 1}))
	for _, b := range c.ExportSnapshot().Blocks {
		if err := m.SaveBlock(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	ref, err := c.Append(ctx, ledger.Record{"patient_id": "P1"})
	if err != nil {
		t.Fatal(err)
	}
	appended, err := c.Block(ref.Index)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SaveBlock(ctx, appended); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Blocks) != 2 {
		t.Fatalf("expected 2 persisted blocks, got %d", len(snap.Blocks))
	}

	restored, err := ledger.ImportSnapshot(snap, ledger.WithMiner(ledger.Miner{Difficulty: 1}))
	if err != nil {
		t.Fatal(err)
	}
	if issues := restored.Verify(); len(issues) != 0 {
		t.Errorf("restored chain failed verification: %v", issues)
	}
}

func TestMemory_replace(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	if err := m.SaveBlock(ctx, ledger.Block{Index: 0}); err != nil {
		t.Fatal(err)
	}

	c := ledger.New(ledger.WithMiner(ledger.Miner{Difficulty: 1}))
	if err := m.Replace(ctx, c.ExportSnapshot()); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Blocks) != 1 {
		t.Fatalf("expected the replaced snapshot's single block, got %d", len(snap.Blocks))
	}
	if snap.Blocks[0].PrevFingerprint != ledger.ZeroFingerprint {
		t.Error("replaced snapshot does not start at genesis")
	}
}

func TestMemory_loadEmpty(t *testing.T) {
	snap, err := store.NewMemory().Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Blocks) != 0 {
		t.Errorf("expected an empty snapshot, got %d blocks", len(snap.Blocks))
	}
}
