package registry

import (
	"errors"
	"sync"

	"otcswap/core/events"
)

var (
	// ErrAssetZero rejects the zero address anywhere a token is expected.
	ErrAssetZero = errors.New("registry: zero token address")
	// ErrNotListed is returned when removing a token that is not a member of
	// the targeted list.
	ErrNotListed = errors.New("registry: token not listed")
	// ErrSanityCheck is returned when a candidate token fails the minimal
	// contract sanity check.
	ErrSanityCheck = errors.New("registry: token failed sanity check")
	// ErrOracleNotConfigured is returned when a scan is attempted without an
	// identifier oracle.
	ErrOracleNotConfigured = errors.New("registry: oracle not configured")
	// ErrBatchTooLarge rejects scan requests above the configured maximum.
	ErrBatchTooLarge = errors.New("registry: batch size exceeds maximum")
	// ErrNotRecheckable guards SubmitSingle against identifiers that were
	// never examined or did not resolve empty.
	ErrNotRecheckable = errors.New("registry: identifier not examined as empty")
)

const (
	// DefaultMinCodeSize is the smallest contract code size accepted by the
	// sanity check. Proxies are smaller than full token contracts but still
	// carry more than a handful of bytes.
	DefaultMinCodeSize = 100
	// DefaultMaxBatch bounds a single ValidateRange or RecheckEmpty request.
	DefaultMaxBatch = 500
)

// Registry owns the two eligibility classifications for tradable tokens:
// validated tokens discovered through the identifier oracle scan and manually
// approved tokens. Both membership lists pair an array with a reverse-index
// map so removal is O(1) via swap-with-last. A blacklist overrides both.
type Registry struct {
	mu sync.RWMutex

	validated      [][20]byte
	validatedIndex map[[20]byte]int
	approved       [][20]byte
	approvedIndex  map[[20]byte]int
	blacklist      map[[20]byte]bool

	examined      *BitTracker
	examinedEmpty *BitTracker
	lastExamined  uint64

	oracle      TokenOracle
	minCodeSize int
	maxBatch    uint64
	emitter     events.Emitter
}

// NewRegistry constructs an empty registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{
		validatedIndex: make(map[[20]byte]int),
		approvedIndex:  make(map[[20]byte]int),
		blacklist:      make(map[[20]byte]bool),
		examined:       NewBitTracker(),
		examinedEmpty:  NewBitTracker(),
		minCodeSize:    DefaultMinCodeSize,
		maxBatch:       DefaultMaxBatch,
		emitter:        events.NoopEmitter{},
	}
}

// SetOracle configures the identifier oracle used by the scan pipeline.
func (r *Registry) SetOracle(oracle TokenOracle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oracle = oracle
}

// SetMinCodeSize overrides the sanity-check threshold. Non-positive values
// reset the default.
func (r *Registry) SetMinCodeSize(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if size <= 0 {
		r.minCodeSize = DefaultMinCodeSize
		return
	}
	r.minCodeSize = size
}

// SetMaxBatch overrides the per-request scan cap. Zero resets the default.
func (r *Registry) SetMaxBatch(limit uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit == 0 {
		r.maxBatch = DefaultMaxBatch
		return
	}
	r.maxBatch = limit
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}

// IsValidated reports membership in the oracle-discovered class.
func (r *Registry) IsValidated(token [20]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validatedIndex[token]
	return ok
}

// IsApproved reports membership in the manual allow-list.
func (r *Registry) IsApproved(token [20]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.approvedIndex[token]
	return ok
}

// IsBlacklisted reports whether the token is barred regardless of class.
func (r *Registry) IsBlacklisted(token [20]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blacklist[token]
}

// IsEligible is the sole admission gate for swap creation: validated or
// approved, and not blacklisted.
func (r *Registry) IsEligible(token [20]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.blacklist[token] {
		return false
	}
	if _, ok := r.validatedIndex[token]; ok {
		return true
	}
	_, ok := r.approvedIndex[token]
	return ok
}

// SetBlacklisted toggles the blacklist override for a token.
func (r *Registry) SetBlacklisted(token [20]byte, flag bool) error {
	if token == ([20]byte{}) {
		return ErrAssetZero
	}
	r.mu.Lock()
	if flag {
		r.blacklist[token] = true
	} else {
		delete(r.blacklist, token)
	}
	r.mu.Unlock()
	r.emit(&TokenBlacklistedEvent{Token: token, Flag: flag})
	return nil
}

// SetApproved toggles the manual allow-list. Activation runs the contract
// sanity check; deactivation removes the token via swap-with-last.
func (r *Registry) SetApproved(token [20]byte, flag bool) error {
	if token == ([20]byte{}) {
		return ErrAssetZero
	}
	r.mu.Lock()
	if flag {
		if _, ok := r.approvedIndex[token]; ok {
			r.mu.Unlock()
			return nil
		}
		if err := r.sanityCheckLocked(token); err != nil {
			r.mu.Unlock()
			return err
		}
		r.approvedIndex[token] = len(r.approved)
		r.approved = append(r.approved, token)
		r.mu.Unlock()
		r.emit(&TokenApprovedEvent{Token: token, Flag: true})
		return nil
	}
	pos, ok := r.approvedIndex[token]
	if !ok {
		r.mu.Unlock()
		return ErrNotListed
	}
	r.approved, r.approvedIndex = removeSwapLast(r.approved, r.approvedIndex, token, pos)
	r.mu.Unlock()
	r.emit(&TokenApprovedEvent{Token: token, Flag: false})
	return nil
}

// Remove deletes a token from the validated set via swap-with-last.
func (r *Registry) Remove(token [20]byte) error {
	if token == ([20]byte{}) {
		return ErrAssetZero
	}
	r.mu.Lock()
	pos, ok := r.validatedIndex[token]
	if !ok {
		r.mu.Unlock()
		return ErrNotListed
	}
	r.validated, r.validatedIndex = removeSwapLast(r.validated, r.validatedIndex, token, pos)
	r.mu.Unlock()
	r.emit(&TokenRemovedEvent{Token: token})
	return nil
}

// ValidatedTokens returns a copy of the validated membership list.
func (r *Registry) ValidatedTokens() [][20]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([][20]byte(nil), r.validated...)
}

// ApprovedTokens returns a copy of the approved membership list.
func (r *Registry) ApprovedTokens() [][20]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([][20]byte(nil), r.approved...)
}

// ValidatedCount returns the size of the validated set.
func (r *Registry) ValidatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.validated)
}

// LastExamined returns the monotone low-water mark of the scan cursor.
func (r *Registry) LastExamined() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastExamined
}

// addValidatedLocked appends a token to the validated set. Re-validating an
// already-validated token is a no-op; the caller holds the write lock.
func (r *Registry) addValidatedLocked(token [20]byte) bool {
	if _, ok := r.validatedIndex[token]; ok {
		return false
	}
	r.validatedIndex[token] = len(r.validated)
	r.validated = append(r.validated, token)
	return true
}

func (r *Registry) sanityCheckLocked(token [20]byte) error {
	if r.oracle == nil {
		// Without an oracle backend there is no code source to consult;
		// manual approvals are accepted on the operator's judgement.
		return nil
	}
	size, err := r.oracle.CodeSizeAt(token)
	if err != nil {
		return err
	}
	if size < r.minCodeSize {
		return ErrSanityCheck
	}
	return nil
}

// removeSwapLast removes list[pos] by moving the final element into the
// vacated slot and updating its recorded index, then truncating. The reverse
// index stays exact for every remaining member.
func removeSwapLast(list [][20]byte, index map[[20]byte]int, token [20]byte, pos int) ([][20]byte, map[[20]byte]int) {
	last := len(list) - 1
	if pos != last {
		moved := list[last]
		list[pos] = moved
		index[moved] = pos
	}
	list = list[:last]
	delete(index, token)
	return list, index
}

// CheckInvariant verifies that every membership list entry matches its
// recorded reverse index. Intended for tests and consistency audits.
func (r *Registry) CheckInvariant() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.validated) != len(r.validatedIndex) {
		return errors.New("registry: validated list and index diverge")
	}
	for pos, token := range r.validated {
		if r.validatedIndex[token] != pos {
			return errors.New("registry: validated reverse index mismatch")
		}
	}
	if len(r.approved) != len(r.approvedIndex) {
		return errors.New("registry: approved list and index diverge")
	}
	for pos, token := range r.approved {
		if r.approvedIndex[token] != pos {
			return errors.New("registry: approved reverse index mismatch")
		}
	}
	return nil
}
