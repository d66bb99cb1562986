package otc

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"otcswap/core/events"
	"otcswap/native/common"
	"otcswap/native/fees"
)

var (
	errNilState     = errors.New("otc engine: state not configured")
	errNilTransfers = errors.New("otc engine: token transferor not configured")
	errNilRegistry  = errors.New("otc engine: token registry not configured")

	// ErrSwapNotFound is returned when the id refers to no known swap.
	ErrSwapNotFound = errors.New("otc: swap not found")
	// ErrSwapNotOpen rejects lifecycle transitions on filled or canceled
	// swaps.
	ErrSwapNotOpen = errors.New("otc: swap not open")
	// ErrSwapExpired rejects acceptance of a swap past its deadline.
	ErrSwapExpired = errors.New("otc: swap expired")
	// ErrSelfTrade rejects an initiator accepting their own swap.
	ErrSelfTrade = errors.New("otc: initiator cannot accept own swap")
	// ErrNotInitiator rejects cancellation by anyone but the initiator.
	ErrNotInitiator = errors.New("otc: caller is not the initiator")
	// ErrInvalidAsset rejects zero or duplicate asset addresses.
	ErrInvalidAsset = errors.New("otc: invalid asset")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("otc: amount must be positive")
	// ErrInvalidExpiry rejects deadlines that are not in the future.
	ErrInvalidExpiry = errors.New("otc: expiry must be in the future")
	// ErrExpiryTooFar rejects deadlines beyond the configured horizon.
	ErrExpiryTooFar = errors.New("otc: expiry beyond maximum duration")
	// ErrTokenNotEligible rejects assets outside the validated and approved
	// classes.
	ErrTokenNotEligible = errors.New("otc: token not eligible")
	// ErrTokenBlacklisted rejects blacklisted assets.
	ErrTokenBlacklisted = errors.New("otc: token blacklisted")
	// ErrAmountBelowMinimum rejects validated-class amounts under the
	// configured floor.
	ErrAmountBelowMinimum = errors.New("otc: amount below validated-token minimum")
	// ErrTooManyOpenSwaps rejects creation once the per-owner cap is hit.
	ErrTooManyOpenSwaps = errors.New("otc: open swap limit reached")
	// ErrReentrancy is returned when a transfer callback re-enters a
	// mutating operation.
	ErrReentrancy = errors.New("otc: reentrant call")
)

const moduleName = "otc"

// Defaults applied when the corresponding limit is left unset.
const (
	DefaultMaxOpenSwaps    = 50
	DefaultMaxSwapDuration = 30 * 24 * time.Hour
	DefaultPruneRetention  = 7 * 24 * time.Hour
	DefaultMaxBatchRead    = 200
)

type engineState interface {
	SwapPut(*Swap) error
	SwapGet(id uint64) (*Swap, bool)
	SwapDelete(id uint64) error
	SwapCounter() uint64
	SetSwapCounter(uint64) error
}

// TokenTransferor is the external asset transfer primitive. TransferFrom
// pulls tokens between arbitrary parties; Transfer releases tokens held in
// the engine's custody. Both must fail atomically on insufficient balance,
// leaving no partial effect.
type TokenTransferor interface {
	TransferFrom(token, from, to [20]byte, amount *big.Int) error
	Transfer(token, to [20]byte, amount *big.Int) error
}

// EligibilityView is the token registry surface the ledger consults at
// creation and settlement time.
type EligibilityView interface {
	IsEligible(token [20]byte) bool
	IsValidated(token [20]byte) bool
	IsApproved(token [20]byte) bool
	IsBlacklisted(token [20]byte) bool
}

// Engine owns the swap ledger: the lifecycle state machine, the per-owner
// open-swap index, fee settlement, and the read-only market queries. Every
// mutating operation runs to completion under an exclusive lock; operations
// that call the transfer primitive additionally hold a reentrancy guard that
// is cleared on all exit paths.
type Engine struct {
	mu sync.Mutex

	state    engineState
	tokens   TokenTransferor
	registry EligibilityView
	pauses   common.PauseView
	shutdown common.ShutdownView
	emitter  events.Emitter
	nowFn    func() int64

	custody            [20]byte
	feePolicy          fees.Policy
	minValidatedAmount *big.Int
	maxOpenSwaps       int
	maxDuration        int64
	pruneRetention     int64

	index   *OpenSwapIndex
	entered atomic.Bool
}

// NewEngine creates a swap engine with a no-op emitter and default limits.
func NewEngine() *Engine {
	return &Engine{
		emitter:            events.NoopEmitter{},
		nowFn:              func() int64 { return time.Now().Unix() },
		minValidatedAmount: big.NewInt(0),
		maxOpenSwaps:       DefaultMaxOpenSwaps,
		maxDuration:        int64(DefaultMaxSwapDuration / time.Second),
		pruneRetention:     int64(DefaultPruneRetention / time.Second),
		index:              NewOpenSwapIndex(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransferor configures the external token transfer primitive.
func (e *Engine) SetTransferor(tokens TokenTransferor) { e.tokens = tokens }

// SetRegistry configures the token eligibility registry.
func (e *Engine) SetRegistry(registry EligibilityView) { e.registry = registry }

// SetPauses configures the operational pause flags.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetShutdown configures the global emergency shutdown flag.
func (e *Engine) SetShutdown(s common.ShutdownView) { e.shutdown = s }

// SetCustody configures the address holding escrowed deposits.
func (e *Engine) SetCustody(addr [20]byte) { e.custody = addr }

// SetFeePolicy configures the fee rate and treasury applied at settlement.
func (e *Engine) SetFeePolicy(policy fees.Policy) { e.feePolicy = policy }

// SetMinValidatedAmount configures the minimum amount for validated-class
// assets. Nil resets the floor to zero.
func (e *Engine) SetMinValidatedAmount(min *big.Int) {
	if min == nil {
		e.minValidatedAmount = big.NewInt(0)
		return
	}
	e.minValidatedAmount = new(big.Int).Set(min)
}

// SetMaxOpenSwaps configures the per-owner open swap cap. Non-positive values
// reset the default.
func (e *Engine) SetMaxOpenSwaps(limit int) {
	if limit <= 0 {
		e.maxOpenSwaps = DefaultMaxOpenSwaps
		return
	}
	e.maxOpenSwaps = limit
}

// SetMaxSwapDuration configures the furthest allowed expiry horizon.
func (e *Engine) SetMaxSwapDuration(d time.Duration) {
	if d <= 0 {
		e.maxDuration = int64(DefaultMaxSwapDuration / time.Second)
		return
	}
	e.maxDuration = int64(d / time.Second)
}

// SetPruneRetention configures how long terminal swaps are retained.
func (e *Engine) SetPruneRetention(d time.Duration) {
	if d <= 0 {
		e.pruneRetention = int64(DefaultPruneRetention / time.Second)
		return
	}
	e.pruneRetention = int64(d / time.Second)
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Now returns the engine's current unix time.
func (e *Engine) Now() int64 { return e.now() }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilTransfers
	}
	if e.registry == nil {
		return errNilRegistry
	}
	return nil
}

// LoadIndex rebuilds the per-owner open-swap index from the persisted ledger.
// Called once at startup before the engine serves traffic.
func (e *Engine) LoadIndex() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = NewOpenSwapIndex()
	counter := e.state.SwapCounter()
	for id := uint64(1); id <= counter; id++ {
		swap, ok := e.state.SwapGet(id)
		if !ok || swap.Status != SwapOpen {
			continue
		}
		if err := e.index.Add(swap.Initiator, id); err != nil {
			return err
		}
	}
	return nil
}

// Create validates and persists a new swap, indexes it for the caller, and
// pulls asset A into custody. The custody transfer happens only after all
// ledger and index state is committed.
func (e *Engine) Create(caller, assetA [20]byte, amountA *big.Int, assetB [20]byte, amountB *big.Int, expiresAt int64) (*Swap, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enterGuard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := common.GuardShutdown(e.shutdown); err != nil {
		return nil, err
	}
	if assetA == ([20]byte{}) || assetB == ([20]byte{}) {
		return nil, ErrInvalidAsset
	}
	if assetA == assetB {
		return nil, ErrInvalidAsset
	}
	if amountA == nil || amountA.Sign() <= 0 || amountB == nil || amountB.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	for _, asset := range [][20]byte{assetA, assetB} {
		if e.registry.IsBlacklisted(asset) {
			return nil, ErrTokenBlacklisted
		}
		if !e.registry.IsEligible(asset) {
			return nil, ErrTokenNotEligible
		}
	}
	if e.registry.IsValidated(assetA) && amountA.Cmp(e.minValidatedAmount) < 0 {
		return nil, ErrAmountBelowMinimum
	}
	if e.registry.IsValidated(assetB) && amountB.Cmp(e.minValidatedAmount) < 0 {
		return nil, ErrAmountBelowMinimum
	}
	now := e.now()
	if expiresAt <= now {
		return nil, ErrInvalidExpiry
	}
	if expiresAt > now+e.maxDuration {
		return nil, ErrExpiryTooFar
	}
	if e.index.Count(caller) >= e.maxOpenSwaps {
		return nil, ErrTooManyOpenSwaps
	}

	id := e.state.SwapCounter() + 1
	swap := &Swap{
		ID:        id,
		Initiator: caller,
		AssetA:    assetA,
		AssetB:    assetB,
		AmountA:   new(big.Int).Set(amountA),
		AmountB:   new(big.Int).Set(amountB),
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Status:    SwapOpen,
	}
	if err := e.state.SetSwapCounter(id); err != nil {
		return nil, err
	}
	if err := e.state.SwapPut(swap); err != nil {
		return nil, err
	}
	if err := e.index.Add(caller, id); err != nil {
		return nil, err
	}
	// State is committed; pull the deposit last so a failing or reentrant
	// transfer cannot corrupt the index.
	err := e.guarded(func() error {
		return e.tokens.TransferFrom(assetA, caller, e.custody, swap.AmountA)
	})
	if err != nil {
		// Undo the committed record so a failed deposit leaves no trace.
		_ = e.index.Remove(caller, id)
		_ = e.state.SwapDelete(id)
		_ = e.state.SetSwapCounter(id - 1)
		return nil, err
	}
	e.emit(NewSwapCreatedEvent(swap))
	return swap.Clone(), nil
}

// Accept settles an open swap: the caller supplies asset B, the initiator
// receives the net B leg, the caller receives the net A leg from custody, and
// fees route to the treasury. All ledger mutation is finalized before any
// transfer is attempted.
func (e *Engine) Accept(caller [20]byte, id uint64) (*Swap, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enterGuard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := common.GuardShutdown(e.shutdown); err != nil {
		return nil, err
	}
	swap, ok := e.state.SwapGet(id)
	if !ok {
		return nil, ErrSwapNotFound
	}
	if swap.Status != SwapOpen {
		return nil, ErrSwapNotOpen
	}
	now := e.now()
	if swap.IsExpired(now) {
		return nil, ErrSwapExpired
	}
	if caller == swap.Initiator {
		return nil, ErrSelfTrade
	}

	legA := fees.Apply(fees.ApplyInput{Class: e.classOf(swap.AssetA), Amount: swap.AmountA, Policy: e.feePolicy})
	legB := fees.Apply(fees.ApplyInput{Class: e.classOf(swap.AssetB), Amount: swap.AmountB, Policy: e.feePolicy})

	prev := swap.Clone()
	swap.Status = SwapFilled
	swap.Counterparty = caller
	swap.ResolvedAt = now
	if err := e.state.SwapPut(swap); err != nil {
		return nil, err
	}
	if err := e.index.Remove(swap.Initiator, id); err != nil {
		return nil, err
	}

	steps := []transferStep{
		{token: swap.AssetB, from: caller, to: swap.Initiator, amount: legB.Net},
		{token: swap.AssetA, fromCustody: true, to: caller, amount: legA.Net},
	}
	if legB.Fee.Sign() > 0 {
		steps = append(steps, transferStep{token: swap.AssetB, from: caller, to: e.feePolicy.Treasury, amount: legB.Fee})
	}
	if legA.Fee.Sign() > 0 {
		steps = append(steps, transferStep{token: swap.AssetA, fromCustody: true, to: e.feePolicy.Treasury, amount: legA.Fee})
	}
	err := e.guarded(func() error { return e.runTransfers(steps) })
	if err != nil {
		// Restore the open record and its index entry.
		_ = e.state.SwapPut(prev)
		_ = e.index.Add(prev.Initiator, id)
		return nil, err
	}
	e.emit(NewSwapAcceptedEvent(swap, legA.Fee, legB.Fee))
	return swap.Clone(), nil
}

// Cancel voids an open swap and refunds the escrowed deposit in full. Only
// the initiator may cancel; expired swaps remain cancelable.
func (e *Engine) Cancel(caller [20]byte, id uint64) (*Swap, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enterGuard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.GuardShutdown(e.shutdown); err != nil {
		return nil, err
	}
	swap, err := e.voidSwap(caller, id)
	if err != nil {
		return nil, err
	}
	e.emit(NewSwapCanceledEvent(swap))
	return swap.Clone(), nil
}

// EmergencyWithdraw refunds an open swap while the global shutdown flag is
// active. It reuses the canceled terminal state and emits a distinct event.
func (e *Engine) EmergencyWithdraw(caller [20]byte, id uint64) (*Swap, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enterGuard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.RequireShutdown(e.shutdown); err != nil {
		return nil, err
	}
	swap, err := e.voidSwap(caller, id)
	if err != nil {
		return nil, err
	}
	e.emit(NewSwapEmergencyWithdrawnEvent(swap))
	return swap.Clone(), nil
}

// voidSwap flips an open swap to Canceled, removes it from the index, and
// refunds the deposit. The caller holds the engine lock.
func (e *Engine) voidSwap(caller [20]byte, id uint64) (*Swap, error) {
	swap, ok := e.state.SwapGet(id)
	if !ok {
		return nil, ErrSwapNotFound
	}
	if swap.Status != SwapOpen {
		return nil, ErrSwapNotOpen
	}
	if caller != swap.Initiator {
		return nil, ErrNotInitiator
	}
	prev := swap.Clone()
	swap.Status = SwapCanceled
	swap.ResolvedAt = e.now()
	if err := e.state.SwapPut(swap); err != nil {
		return nil, err
	}
	if err := e.index.Remove(swap.Initiator, id); err != nil {
		return nil, err
	}
	err := e.guarded(func() error {
		return e.tokens.Transfer(swap.AssetA, swap.Initiator, swap.AmountA)
	})
	if err != nil {
		_ = e.state.SwapPut(prev)
		_ = e.index.Add(prev.Initiator, id)
		return nil, err
	}
	return swap, nil
}

// Prune deletes terminal swaps whose resolution is older than the retention
// window and returns the removed records. Non-terminal or too-recent swaps
// are skipped silently.
func (e *Engine) Prune(now int64) ([]*Swap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.enterGuard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	counter := e.state.SwapCounter()
	var pruned []*Swap
	for id := uint64(1); id <= counter; id++ {
		swap, ok := e.state.SwapGet(id)
		if !ok || !swap.IsTerminal() {
			continue
		}
		if swap.ResolvedAt == 0 || now-swap.ResolvedAt < e.pruneRetention {
			continue
		}
		if err := e.state.SwapDelete(id); err != nil {
			return pruned, err
		}
		pruned = append(pruned, swap.Clone())
		e.emit(NewSwapPrunedEvent(swap))
	}
	return pruned, nil
}

// ValidateOwner asserts the open-swap index invariant for one owner: the
// sequence and reverse map agree, and every indexed id refers to an Open swap
// initiated by that owner.
func (e *Engine) ValidateOwner(owner [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.index.Validate(owner); err != nil {
		return err
	}
	for _, id := range e.index.List(owner) {
		swap, ok := e.state.SwapGet(id)
		if !ok {
			return fmt.Errorf("otc: indexed swap %d missing from ledger", id)
		}
		if swap.Status != SwapOpen {
			return fmt.Errorf("otc: indexed swap %d is not open", id)
		}
		if swap.Initiator != owner {
			return fmt.Errorf("otc: indexed swap %d owned by another initiator", id)
		}
	}
	return nil
}

// OpenCount returns the number of open swaps held by the owner.
func (e *Engine) OpenCount(owner [20]byte) int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Count(owner)
}

func (e *Engine) classOf(token [20]byte) fees.Class {
	switch {
	case e.registry.IsValidated(token):
		return fees.ClassValidated
	case e.registry.IsApproved(token):
		return fees.ClassApproved
	default:
		return fees.ClassNone
	}
}

// guarded runs fn under the reentrancy exclusion flag. While the flag is
// held, no mutating operation may begin, including a callback triggered by
// the transfer itself. The flag is cleared on every exit path, including
// panics unwinding through the transfer primitive.
func (e *Engine) guarded(fn func() error) error {
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	defer e.entered.Store(false)
	return fn()
}

// enterGuard rejects mutating calls that begin while an external transfer is
// executing. Checked before the engine lock so a same-goroutine transfer
// callback fails fast instead of deadlocking.
func (e *Engine) enterGuard() error {
	if e.entered.Load() {
		return ErrReentrancy
	}
	return nil
}

type transferStep struct {
	token       [20]byte
	from        [20]byte
	to          [20]byte
	amount      *big.Int
	fromCustody bool
}

// runTransfers executes the settlement steps in order. If a step fails, the
// completed steps are compensated in reverse order so the transfer primitive
// observes no net effect; the inverse of a custody release is a pull back
// into custody.
func (e *Engine) runTransfers(steps []transferStep) error {
	done := 0
	var failure error
	for _, step := range steps {
		if step.amount == nil || step.amount.Sign() == 0 {
			done++
			continue
		}
		var err error
		if step.fromCustody {
			err = e.tokens.Transfer(step.token, step.to, step.amount)
		} else {
			err = e.tokens.TransferFrom(step.token, step.from, step.to, step.amount)
		}
		if err != nil {
			failure = err
			break
		}
		done++
	}
	if failure == nil {
		return nil
	}
	for i := done - 1; i >= 0; i-- {
		step := steps[i]
		if step.amount == nil || step.amount.Sign() == 0 {
			continue
		}
		if step.fromCustody {
			_ = e.tokens.TransferFrom(step.token, step.to, e.custody, step.amount)
		} else {
			_ = e.tokens.TransferFrom(step.token, step.to, step.from, step.amount)
		}
	}
	return failure
}
