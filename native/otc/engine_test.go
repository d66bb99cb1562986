package otc

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"otcswap/core/types"
	"otcswap/native/bank"
	"otcswap/native/common"
	"otcswap/native/fees"
)

type memState struct {
	swaps   map[uint64]*Swap
	counter uint64
}

func newMemState() *memState {
	return &memState{swaps: make(map[uint64]*Swap)}
}

func (m *memState) SwapPut(s *Swap) error {
	sanitized, err := SanitizeSwap(s)
	if err != nil {
		return err
	}
	m.swaps[sanitized.ID] = sanitized
	return nil
}

func (m *memState) SwapGet(id uint64) (*Swap, bool) {
	s, ok := m.swaps[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (m *memState) SwapDelete(id uint64) error {
	delete(m.swaps, id)
	return nil
}

func (m *memState) SwapCounter() uint64 { return m.counter }

func (m *memState) SetSwapCounter(v uint64) error {
	m.counter = v
	return nil
}

type accountStore struct {
	accounts map[[20]byte]*types.Account
}

func newAccountStore() *accountStore {
	return &accountStore{accounts: make(map[[20]byte]*types.Account)}
}

func (a *accountStore) GetAccount(addr [20]byte) (*types.Account, error) {
	if acc, ok := a.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

func (a *accountStore) PutAccount(addr [20]byte, account *types.Account) error {
	a.accounts[addr] = account.Clone()
	return nil
}

type mockRegistry struct {
	validated   map[[20]byte]bool
	approved    map[[20]byte]bool
	blacklisted map[[20]byte]bool
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		validated:   make(map[[20]byte]bool),
		approved:    make(map[[20]byte]bool),
		blacklisted: make(map[[20]byte]bool),
	}
}

func (m *mockRegistry) IsValidated(token [20]byte) bool   { return m.validated[token] }
func (m *mockRegistry) IsApproved(token [20]byte) bool    { return m.approved[token] }
func (m *mockRegistry) IsBlacklisted(token [20]byte) bool { return m.blacklisted[token] }
func (m *mockRegistry) IsEligible(token [20]byte) bool {
	if m.blacklisted[token] {
		return false
	}
	return m.validated[token] || m.approved[token]
}

type opFlags struct {
	paused   bool
	shutdown bool
}

func (f *opFlags) IsPaused(string) bool { return f.paused }
func (f *opFlags) ShutdownActive() bool { return f.shutdown }

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

var (
	custody      = testAddr(0xEE)
	treasury     = testAddr(0xFD)
	tokenGold    = testAddr(0x01) // approved, fee liable
	tokenSilver  = testAddr(0x02) // validated, fee exempt
	initiator    = testAddr(0xA1)
	counterparty = testAddr(0xB2)
)

type testEnv struct {
	engine   *Engine
	state    *memState
	ledger   *bank.Ledger
	registry *mockRegistry
	flags    *opFlags
	now      int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:    newMemState(),
		registry: newMockRegistry(),
		flags:    &opFlags{},
		now:      1_700_000_000,
	}
	accounts := newAccountStore()
	env.ledger = bank.NewLedger(accounts, custody)
	env.registry.approved[tokenGold] = true
	env.registry.validated[tokenSilver] = true

	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetTransferor(env.ledger)
	env.engine.SetRegistry(env.registry)
	env.engine.SetPauses(env.flags)
	env.engine.SetShutdown(env.flags)
	env.engine.SetCustody(custody)
	env.engine.SetFeePolicy(fees.Policy{RateBps: 250, Treasury: treasury})
	env.engine.SetNowFunc(func() int64 { return env.now })

	if err := env.ledger.Mint(tokenGold, initiator, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint gold: %v", err)
	}
	if err := env.ledger.Mint(tokenSilver, counterparty, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint silver: %v", err)
	}
	return env
}

func (env *testEnv) balance(t *testing.T, token, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := env.ledger.BalanceOf(token, addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (env *testEnv) createDefault(t *testing.T) *Swap {
	t.Helper()
	swap, err := env.engine.Create(initiator, tokenGold, big.NewInt(100), tokenSilver, big.NewInt(200), env.now+86_400)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return swap
}

func TestCreateEscrowsDeposit(t *testing.T) {
	env := newTestEnv(t)
	swap := env.createDefault(t)
	if swap.ID != 1 {
		t.Fatalf("expected first id 1, got %d", swap.ID)
	}
	if swap.Status != SwapOpen {
		t.Fatalf("expected open status, got %v", swap.Status)
	}
	if got := env.balance(t, tokenGold, custody); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody holds %s, want 100", got)
	}
	if got := env.balance(t, tokenGold, initiator); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("initiator holds %s, want 900", got)
	}
	if env.engine.OpenCount(initiator) != 1 {
		t.Fatalf("open count %d, want 1", env.engine.OpenCount(initiator))
	}
	if err := env.engine.ValidateOwner(initiator); err != nil {
		t.Fatalf("index invariant: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	expiry := env.now + 3_600
	cases := []struct {
		name      string
		assetA    [20]byte
		amountA   *big.Int
		assetB    [20]byte
		amountB   *big.Int
		expiresAt int64
		wantErr   error
	}{
		{"zero asset A", [20]byte{}, big.NewInt(1), tokenSilver, big.NewInt(1), expiry, ErrInvalidAsset},
		{"zero asset B", tokenGold, big.NewInt(1), [20]byte{}, big.NewInt(1), expiry, ErrInvalidAsset},
		{"identical assets", tokenGold, big.NewInt(1), tokenGold, big.NewInt(1), expiry, ErrInvalidAsset},
		{"zero amount A", tokenGold, big.NewInt(0), tokenSilver, big.NewInt(1), expiry, ErrInvalidAmount},
		{"zero amount B", tokenGold, big.NewInt(1), tokenSilver, big.NewInt(0), expiry, ErrInvalidAmount},
		{"nil amount", tokenGold, nil, tokenSilver, big.NewInt(1), expiry, ErrInvalidAmount},
		{"expiry in the past", tokenGold, big.NewInt(1), tokenSilver, big.NewInt(1), env.now - 1, ErrInvalidExpiry},
		{"expiry now", tokenGold, big.NewInt(1), tokenSilver, big.NewInt(1), env.now, ErrInvalidExpiry},
		{"expiry beyond horizon", tokenGold, big.NewInt(1), tokenSilver, big.NewInt(1), env.now + 365*86_400, ErrExpiryTooFar},
		{"unknown token", testAddr(0x77), big.NewInt(1), tokenSilver, big.NewInt(1), expiry, ErrTokenNotEligible},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Create(initiator, tc.assetA, tc.amountA, tc.assetB, tc.amountB, tc.expiresAt)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
	if env.state.SwapCounter() != 0 {
		t.Fatalf("failed creates must not consume ids")
	}
	if env.engine.OpenCount(initiator) != 0 {
		t.Fatalf("failed creates must not touch the index")
	}
	if got := env.balance(t, tokenGold, custody); got.Sign() != 0 {
		t.Fatalf("failed creates must not move balances, custody holds %s", got)
	}
}

func TestCreateBlacklistAndMinimum(t *testing.T) {
	env := newTestEnv(t)
	env.registry.blacklisted[tokenGold] = true
	_, err := env.engine.Create(initiator, tokenGold, big.NewInt(100), tokenSilver, big.NewInt(200), env.now+3_600)
	if !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected ErrTokenBlacklisted, got %v", err)
	}
	env.registry.blacklisted[tokenGold] = false

	env.engine.SetMinValidatedAmount(big.NewInt(500))
	_, err = env.engine.Create(initiator, tokenGold, big.NewInt(100), tokenSilver, big.NewInt(200), env.now+3_600)
	if !errors.Is(err, ErrAmountBelowMinimum) {
		t.Fatalf("expected ErrAmountBelowMinimum for validated leg, got %v", err)
	}
	if _, err := env.engine.Create(initiator, tokenGold, big.NewInt(100), tokenSilver, big.NewInt(500), env.now+3_600); err != nil {
		t.Fatalf("amount at the floor must pass: %v", err)
	}
}

func TestCreateOpenSwapCap(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetMaxOpenSwaps(2)
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Create(initiator, tokenGold, big.NewInt(10), tokenSilver, big.NewInt(10), env.now+3_600); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, err := env.engine.Create(initiator, tokenGold, big.NewInt(10), tokenSilver, big.NewInt(10), env.now+3_600)
	if !errors.Is(err, ErrTooManyOpenSwaps) {
		t.Fatalf("expected ErrTooManyOpenSwaps, got %v", err)
	}
}

func TestCreatePausedAndShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.flags.paused = true
	_, err := env.engine.Create(initiator, tokenGold, big.NewInt(10), tokenSilver, big.NewInt(10), env.now+3_600)
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	env.flags.paused = false
	env.flags.shutdown = true
	_, err = env.engine.Create(initiator, tokenGold, big.NewInt(10), tokenSilver, big.NewInt(10), env.now+3_600)
	if !errors.Is(err, common.ErrShutdownActive) {
		t.Fatalf("expected ErrShutdownActive, got %v", err)
	}
}

func TestCreateDepositFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Create(initiator, tokenGold, big.NewInt(5_000), tokenSilver, big.NewInt(10), env.now+3_600)
	if !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if env.state.SwapCounter() != 0 {
		t.Fatalf("counter must roll back, got %d", env.state.SwapCounter())
	}
	if _, ok := env.state.SwapGet(1); ok {
		t.Fatalf("record must roll back")
	}
	if env.engine.OpenCount(initiator) != 0 {
		t.Fatalf("index must roll back")
	}
}

func TestAcceptSettlesBothLegs(t *testing.T) {
	env := newTestEnv(t)
	swap := env.createDefault(t)
	accepted, err := env.engine.Accept(counterparty, swap.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != SwapFilled {
		t.Fatalf("status %v, want filled", accepted.Status)
	}
	if accepted.Counterparty != counterparty {
		t.Fatalf("counterparty not recorded")
	}
	if env.engine.OpenCount(initiator) != 0 {
		t.Fatalf("open count must return to 0")
	}
	// Gold is approved (fee liable at 250 bps): counterparty receives
	// 100 - 2 = 98, treasury receives 2. Silver is validated (exempt):
	// initiator receives the full 200.
	if got := env.balance(t, tokenGold, counterparty); got.Cmp(big.NewInt(98)) != 0 {
		t.Fatalf("counterparty gold %s, want 98", got)
	}
	if got := env.balance(t, tokenGold, treasury); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("treasury gold %s, want 2", got)
	}
	if got := env.balance(t, tokenSilver, initiator); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("initiator silver %s, want 200", got)
	}
	if got := env.balance(t, tokenGold, custody); got.Sign() != 0 {
		t.Fatalf("custody must be emptied, holds %s", got)
	}
}

func TestAcceptStateConflicts(t *testing.T) {
	env := newTestEnv(t)
	swap := env.createDefault(t)
	if _, err := env.engine.Accept(counterparty, swap.ID+99); !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("expected ErrSwapNotFound, got %v", err)
	}
	if _, err := env.engine.Accept(initiator, swap.ID); !errors.Is(err, ErrSelfTrade) {
		t.Fatalf("expected ErrSelfTrade, got %v", err)
	}
	if _, err := env.engine.Accept(counterparty, swap.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.engine.Accept(counterparty, swap.ID); !errors.Is(err, ErrSwapNotOpen) {
		t.Fatalf("second accept must fail with ErrSwapNotOpen, got %v", err)
	}
	if _, err := env.engine.Cancel(initiator, swap.ID); !errors.Is(err, ErrSwapNotOpen) {
		t.Fatalf("canceling a filled swap must fail, got %v", err)
	}
}

func TestAcceptExpiredSwap(t *testing.T) {
	env := newTestEnv(t)
	swap, err := env.engine.Create(initiator, tokenGold, big.NewInt(100), tokenSilver, big.NewInt(200), env.now+3_600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.now += 2 * 3_600
	if _, err := env.engine.Accept(counterparty, swap.ID); !errors.Is(err, ErrSwapExpired) {
		t.Fatalf("expected ErrSwapExpired, got %v", err)
	}
	// The record still reports Open with a past deadline.
	stored, ok := env.engine.GetSwap(swap.ID)
	if !ok || stored.Status != SwapOpen || !stored.IsExpired(env.now) {
		t.Fatalf("expired swap must stay open with a lapsed deadline")
	}
	// The initiator can still cancel and recover the deposit.
	if _, err := env.engine.Cancel(initiator, swap.ID); err != nil {
		t.Fatalf("cancel expired: %v", err)
	}
	if got := env.balance(t, tokenGold, initiator); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("initiator must be made whole, holds %s", got)
	}
}

func TestAcceptFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	swap, err := env.engine.Create(initiator, tokenGold, big.NewInt(100), tokenSilver, big.NewInt(2_000), env.now+3_600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Counterparty only holds 1000 silver; the pull fails.
	if _, err := env.engine.Accept(counterparty, swap.ID); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	stored, ok := env.engine.GetSwap(swap.ID)
	if !ok {
		t.Fatalf("swap vanished")
	}
	if stored.Status != SwapOpen {
		t.Fatalf("status must roll back to open, got %v", stored.Status)
	}
	if stored.Counterparty != ([20]byte{}) {
		t.Fatalf("counterparty must roll back")
	}
	if env.engine.OpenCount(initiator) != 1 {
		t.Fatalf("index entry must be restored")
	}
	if got := env.balance(t, tokenGold, custody); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody must keep the deposit, holds %s", got)
	}
	if err := env.engine.ValidateOwner(initiator); err != nil {
		t.Fatalf("index invariant after rollback: %v", err)
	}
}

func TestCancelRefundsDeposit(t *testing.T) {
	env := newTestEnv(t)
	swap := env.createDefault(t)
	if _, err := env.engine.Cancel(counterparty, swap.ID); !errors.Is(err, ErrNotInitiator) {
		t.Fatalf("expected ErrNotInitiator, got %v", err)
	}
	canceled, err := env.engine.Cancel(initiator, swap.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != SwapCanceled {
		t.Fatalf("status %v, want canceled", canceled.Status)
	}
	if got := env.balance(t, tokenGold, initiator); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("full refund expected, initiator holds %s", got)
	}
	if env.engine.OpenCount(initiator) != 0 {
		t.Fatalf("open count must return to 0")
	}
	if _, err := env.engine.Accept(counterparty, swap.ID); !errors.Is(err, ErrSwapNotOpen) {
		t.Fatalf("accept after cancel must fail, got %v", err)
	}
	if _, err := env.engine.Cancel(initiator, swap.ID); !errors.Is(err, ErrSwapNotOpen) {
		t.Fatalf("double cancel must fail, got %v", err)
	}
}

func TestEmergencyWithdrawRequiresShutdown(t *testing.T) {
	env := newTestEnv(t)
	swap := env.createDefault(t)
	if _, err := env.engine.EmergencyWithdraw(initiator, swap.ID); !errors.Is(err, common.ErrShutdownInactive) {
		t.Fatalf("expected ErrShutdownInactive, got %v", err)
	}
	env.flags.shutdown = true
	if _, err := env.engine.Cancel(initiator, swap.ID); !errors.Is(err, common.ErrShutdownActive) {
		t.Fatalf("plain cancel must be blocked during shutdown, got %v", err)
	}
	withdrawn, err := env.engine.EmergencyWithdraw(initiator, swap.ID)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if withdrawn.Status != SwapCanceled {
		t.Fatalf("emergency withdrawal reuses the canceled state, got %v", withdrawn.Status)
	}
	if got := env.balance(t, tokenGold, initiator); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("deposit must be refunded, initiator holds %s", got)
	}
}

func TestPruneRemovesStaleTerminalSwaps(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetPruneRetention(24 * time.Hour)
	first := env.createDefault(t)
	if _, err := env.engine.Accept(counterparty, first.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	second, err := env.engine.Create(initiator, tokenGold, big.NewInt(10), tokenSilver, big.NewInt(10), env.now+48*3_600)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	// Within the retention window nothing is pruned.
	pruned, err := env.engine.Prune(env.now + 3_600)
	if err != nil {
		t.Fatalf("early prune: %v", err)
	}
	if len(pruned) != 0 {
		t.Fatalf("nothing should be pruned inside the retention window")
	}

	pruned, err = env.engine.Prune(env.now + 2*86_400)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(pruned) != 1 || pruned[0].ID != first.ID {
		t.Fatalf("expected only the filled swap to be pruned, got %v", pruned)
	}
	if _, ok := env.engine.GetSwap(first.ID); ok {
		t.Fatalf("pruned swap still readable")
	}
	// The still-open swap is untouched.
	if _, ok := env.engine.GetSwap(second.ID); !ok {
		t.Fatalf("open swap must survive pruning")
	}
}

func TestIndexSurvivesInterleavedLifecycles(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetMaxOpenSwaps(10)
	var ids []uint64
	for i := 0; i < 5; i++ {
		swap, err := env.engine.Create(initiator, tokenGold, big.NewInt(10), tokenSilver, big.NewInt(10), env.now+3_600)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, swap.ID)
	}
	// Remove from the middle, the front, and the back.
	if _, err := env.engine.Cancel(initiator, ids[2]); err != nil {
		t.Fatalf("cancel middle: %v", err)
	}
	if _, err := env.engine.Accept(counterparty, ids[0]); err != nil {
		t.Fatalf("accept front: %v", err)
	}
	if _, err := env.engine.Cancel(initiator, ids[4]); err != nil {
		t.Fatalf("cancel back: %v", err)
	}
	if env.engine.OpenCount(initiator) != 2 {
		t.Fatalf("open count %d, want 2", env.engine.OpenCount(initiator))
	}
	if err := env.engine.ValidateOwner(initiator); err != nil {
		t.Fatalf("index invariant: %v", err)
	}
	open := env.engine.UserOpenSwaps(initiator)
	want := map[uint64]bool{ids[1]: true, ids[3]: true}
	for _, id := range open {
		if !want[id] {
			t.Fatalf("unexpected open id %d", id)
		}
	}
}

func TestLoadIndexRebuildsFromLedger(t *testing.T) {
	env := newTestEnv(t)
	first := env.createDefault(t)
	second, err := env.engine.Create(initiator, tokenGold, big.NewInt(10), tokenSilver, big.NewInt(10), env.now+3_600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.Cancel(initiator, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// A fresh engine over the same state rebuilds the same picture.
	rebuilt := NewEngine()
	rebuilt.SetState(env.state)
	rebuilt.SetTransferor(env.ledger)
	rebuilt.SetRegistry(env.registry)
	rebuilt.SetCustody(custody)
	if err := rebuilt.LoadIndex(); err != nil {
		t.Fatalf("load index: %v", err)
	}
	if rebuilt.OpenCount(initiator) != 1 {
		t.Fatalf("rebuilt open count %d, want 1", rebuilt.OpenCount(initiator))
	}
	if open := rebuilt.UserOpenSwaps(initiator); len(open) != 1 || open[0] != second.ID {
		t.Fatalf("rebuilt index holds %v, want [%d]", open, second.ID)
	}
	if err := rebuilt.ValidateOwner(initiator); err != nil {
		t.Fatalf("rebuilt invariant: %v", err)
	}
}

// reentrantTransferor attempts to re-enter the engine from inside a transfer.
type reentrantTransferor struct {
	inner  TokenTransferor
	engine *Engine
	caller [20]byte
	target uint64
	seen   error
	armed  bool
}

func (r *reentrantTransferor) TransferFrom(token, from, to [20]byte, amount *big.Int) error {
	if r.armed {
		r.armed = false
		_, r.seen = r.engine.Cancel(r.caller, r.target)
	}
	return r.inner.TransferFrom(token, from, to, amount)
}

func (r *reentrantTransferor) Transfer(token, to [20]byte, amount *big.Int) error {
	return r.inner.Transfer(token, to, amount)
}

func TestReentrantTransferIsRejected(t *testing.T) {
	env := newTestEnv(t)
	swap := env.createDefault(t)
	hook := &reentrantTransferor{inner: env.ledger, engine: env.engine, caller: initiator, target: swap.ID}
	env.engine.SetTransferor(hook)
	hook.armed = true
	if _, err := env.engine.Accept(counterparty, swap.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !errors.Is(hook.seen, ErrReentrancy) {
		t.Fatalf("reentrant cancel must fail with ErrReentrancy, got %v", hook.seen)
	}
	// The settlement itself completed exactly once.
	stored, ok := env.engine.GetSwap(swap.ID)
	if !ok || stored.Status != SwapFilled {
		t.Fatalf("settlement must have completed")
	}
}
