package state

import (
	"math/big"
	"testing"

	"otcswap/core/types"
	"otcswap/native/otc"
	"otcswap/native/registry"
	"otcswap/storage"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestSwapRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	swap := &otc.Swap{
		ID:           42,
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
	if err := m.SwapPut(swap); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := m.SwapGet(42)
	if !ok {
		t.Fatalf("swap not found after put")
	}
	if loaded.ID != swap.ID || loaded.Initiator != swap.Initiator || loaded.Counterparty != swap.Counterparty {
		t.Fatalf("identity fields diverge: %+v", loaded)
	}
	if loaded.AmountA.Cmp(swap.AmountA) != 0 || loaded.AmountB.Cmp(swap.AmountB) != 0 {
		t.Fatalf("amounts diverge: %+v", loaded)
	}
	if loaded.CreatedAt != swap.CreatedAt || loaded.ExpiresAt != swap.ExpiresAt || loaded.ResolvedAt != swap.ResolvedAt {
		t.Fatalf("timestamps diverge: %+v", loaded)
	}
	if loaded.Status != otc.SwapFilled {
		t.Fatalf("status %v, want filled", loaded.Status)
	}

	if _, ok := m.SwapGet(43); ok {
		t.Fatalf("unknown id must report absent")
	}
	if err := m.SwapDelete(42); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.SwapGet(42); ok {
		t.Fatalf("deleted swap must report absent")
	}
}

func TestSwapCounter(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if m.SwapCounter() != 0 {
		t.Fatalf("fresh counter must be zero")
	}
	if err := m.SetSwapCounter(7); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	if m.SwapCounter() != 7 {
		t.Fatalf("counter %d, want 7", m.SwapCounter())
	}
}

func TestAccountRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	owner := addr(0xC3)

	loaded, err := m.GetAccount(owner)
	if err != nil {
		t.Fatalf("get missing account: %v", err)
	}
	if loaded != nil {
		t.Fatalf("missing account must load as nil")
	}

	account := types.EnsureAccount(nil)
	account.Nonce = 3
	account.SetBalance(addr(0x01), big.NewInt(500))
	account.SetBalance(addr(0x02), big.NewInt(0))
	account.SetBalance(addr(0x03), big.NewInt(1))
	if err := m.PutAccount(owner, account); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err = m.GetAccount(owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Nonce != 3 {
		t.Fatalf("nonce %d, want 3", loaded.Nonce)
	}
	if got := loaded.Balance(addr(0x01)); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance %s, want 500", got)
	}
	if got := loaded.Balance(addr(0x03)); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("balance %s, want 1", got)
	}
	// Zero balances are not persisted.
	if _, ok := loaded.Balances[addr(0x02)]; ok {
		t.Fatalf("zero balance must not round trip")
	}
}

func TestRegistrySnapshotRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	if _, ok, err := m.LoadRegistry(); err != nil || ok {
		t.Fatalf("fresh store must report no snapshot, ok=%v err=%v", ok, err)
	}

	snap := &registry.Snapshot{
		Validated:     [][20]byte{addr(0x01), addr(0x02)},
		Approved:      [][20]byte{addr(0x03)},
		Blacklist:     [][20]byte{addr(0x04)},
		Examined:      []uint64{0xFF, 0x01},
		ExaminedEmpty: []uint64{0x10},
		LastExamined:  99,
	}
	if err := m.SaveRegistry(snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := m.LoadRegistry()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(loaded.Validated) != 2 || loaded.Validated[0] != addr(0x01) || loaded.Validated[1] != addr(0x02) {
		t.Fatalf("validated order must survive the round trip: %v", loaded.Validated)
	}
	if len(loaded.Approved) != 1 || loaded.Approved[0] != addr(0x03) {
		t.Fatalf("approved diverges: %v", loaded.Approved)
	}
	if len(loaded.Examined) != 2 || loaded.Examined[0] != 0xFF {
		t.Fatalf("examined words diverge: %v", loaded.Examined)
	}
	if loaded.LastExamined != 99 {
		t.Fatalf("cursor %d, want 99", loaded.LastExamined)
	}
}

func TestManagerDrivesEngine(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if err := m.SetSwapCounter(2); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	open := &otc.Swap{
		ID:        1,
		Initiator: addr(0xA1),
		AssetA:    addr(0x01),
		AssetB:    addr(0x02),
		AmountA:   big.NewInt(10),
		AmountB:   big.NewInt(20),
		CreatedAt: 1,
		ExpiresAt: 1_800_000_000,
		Status:    otc.SwapOpen,
	}
	done := open.Clone()
	done.ID = 2
	done.Status = otc.SwapCanceled
	done.ResolvedAt = 2
	if err := m.SwapPut(open); err != nil {
		t.Fatalf("put open: %v", err)
	}
	if err := m.SwapPut(done); err != nil {
		t.Fatalf("put done: %v", err)
	}

	engine := otc.NewEngine()
	engine.SetState(m)
	if err := engine.LoadIndex(); err != nil {
		t.Fatalf("load index: %v", err)
	}
	if engine.OpenCount(addr(0xA1)) != 1 {
		t.Fatalf("index must rebuild only the open swap")
	}
	if err := engine.ValidateOwner(addr(0xA1)); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}
