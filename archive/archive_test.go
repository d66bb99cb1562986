package archive

import (
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"otcswap/native/otc"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func sampleSwap(id uint64) *otc.Swap {
	return &otc.Swap{
		ID:           id,
		Initiator:    addr(0xA1),
		Counterparty: addr(0xB2),
		AssetA:       addr(0x01),
		AssetB:       addr(0x02),
		AmountA:      big.NewInt(100),
		AmountB:      big.NewInt(200),
		CreatedAt:    1_700_000_000,
		ExpiresAt:    1_700_086_400,
		ResolvedAt:   1_700_001_000,
		Status:       otc.SwapFilled,
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	return store
}

func TestSaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveSwaps([]*otc.Swap{sampleSwap(1), sampleSwap(2)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := store.BySwapID(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.AmountA != "100" || rec.AmountB != "200" {
		t.Fatalf("amounts diverge: %+v", rec)
	}
	if rec.Status != "filled" {
		t.Fatalf("status %q, want filled", rec.Status)
	}
	if rec.Initiator != fmt.Sprintf("0x%x", addr(0xA1)) {
		t.Fatalf("initiator %q", rec.Initiator)
	}
	n, err := store.Count()
	if err != nil || n != 2 {
		t.Fatalf("count %d err %v, want 2", n, err)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	swap := sampleSwap(7)
	if err := store.SaveSwaps([]*otc.Swap{swap}); err != nil {
		t.Fatalf("save: %v", err)
	}
	swap.ResolvedAt = 1_700_999_999
	if err := store.SaveSwaps([]*otc.Swap{swap}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	n, err := store.Count()
	if err != nil || n != 1 {
		t.Fatalf("count %d err %v, want 1", n, err)
	}
	rec, err := store.BySwapID(7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.ResolvedAt != 1_700_999_999 {
		t.Fatalf("resave must overwrite, got %d", rec.ResolvedAt)
	}
}

func TestByInitiator(t *testing.T) {
	store := openTestStore(t)
	var swaps []*otc.Swap
	for id := uint64(1); id <= 5; id++ {
		swaps = append(swaps, sampleSwap(id))
	}
	other := sampleSwap(6)
	other.Initiator = addr(0xCC)
	swaps = append(swaps, other)
	if err := store.SaveSwaps(swaps); err != nil {
		t.Fatalf("save: %v", err)
	}
	records, err := store.ByInitiator(addr(0xA1), 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("limit must cap results, got %d", len(records))
	}
	if records[0].SwapID != 5 {
		t.Fatalf("newest first, got id %d", records[0].SwapID)
	}
	records, err = store.ByInitiator(addr(0xCC), 0)
	if err != nil || len(records) != 1 || records[0].SwapID != 6 {
		t.Fatalf("initiator filter diverges: %v err %v", records, err)
	}
}
