package registry

import "otcswap/core/events"

// TokenOracle resolves token identifiers to contract addresses. The zero
// address means the identifier is unresolved. CodeSizeAt backs the minimal
// contract sanity check applied before a token is validated.
type TokenOracle interface {
	TotalIdentifiers() (uint64, error)
	AddressFor(id uint64) ([20]byte, error)
	CodeSizeAt(addr [20]byte) (int, error)
}

// Abstract budget units consumed per identifier. An oracle lookup plus bit
// marking costs costExamine; admitting a candidate adds costValidate for the
// code check and list insert.
const (
	costExamine  uint64 = 3
	costValidate uint64 = 7
)

// ScanResult reports the outcome of a resumable batch scan. NextCursor is the
// first identifier the scan did not fully process; callers pass it back as
// startID to continue.
type ScanResult struct {
	NextCursor uint64
	Validated  int
	Exhausted  bool
}

// ValidateRange walks identifiers in [startID, startID+count), skipping those
// already examined, querying the oracle for the rest. Resolved tokens that
// pass the sanity check join the validated set; unresolved identifiers are
// marked examined-but-empty. The scan voluntarily stops once the remaining
// budget drops below a quarter of the starting budget and returns a resumable
// cursor; it never suspends mid-identifier.
func (r *Registry) ValidateRange(startID, count, budget uint64) (ScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.oracle == nil {
		return ScanResult{NextCursor: startID}, ErrOracleNotConfigured
	}
	if count > r.maxBatch {
		return ScanResult{NextCursor: startID}, ErrBatchTooLarge
	}
	total, err := r.oracle.TotalIdentifiers()
	if err != nil {
		return ScanResult{NextCursor: startID}, err
	}
	end := startID + count
	if end > total {
		end = total
	}
	remaining := budget
	floor := budget / 4
	result := ScanResult{NextCursor: startID}
	for id := startID; id < end; id++ {
		if r.examined.IsSet(id) {
			result.NextCursor = id + 1
			continue
		}
		if remaining < floor || remaining < costExamine {
			result.Exhausted = true
			break
		}
		remaining -= costExamine
		addr, err := r.oracle.AddressFor(id)
		if err != nil {
			return result, err
		}
		r.examined.Set(id)
		if addr == ([20]byte{}) {
			r.examinedEmpty.Set(id)
			result.NextCursor = id + 1
			continue
		}
		if _, ok := r.validatedIndex[addr]; !ok {
			if remaining >= costValidate {
				remaining -= costValidate
			} else {
				remaining = 0
			}
			if err := r.sanityCheckLocked(addr); err == nil {
				if r.addValidatedLocked(addr) {
					result.Validated++
					r.emitLocked(&TokenValidatedEvent{ID: id, Token: addr})
				}
			}
		}
		result.NextCursor = id + 1
	}
	r.advanceCursorLocked(startID, result.NextCursor)
	r.emitLocked(&ScanProgressEvent{Cursor: result.NextCursor, Validated: result.Validated})
	return result, nil
}

// RecheckEmpty revisits identifiers previously marked examined-but-empty. If
// the oracle now resolves an identifier, the token must re-pass the sanity
// check before it joins the validated set and the empty mark is cleared. The
// same budget discipline as ValidateRange applies.
func (r *Registry) RecheckEmpty(startID, count, budget uint64) (ScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.oracle == nil {
		return ScanResult{NextCursor: startID}, ErrOracleNotConfigured
	}
	if count > r.maxBatch {
		return ScanResult{NextCursor: startID}, ErrBatchTooLarge
	}
	end := startID + count
	remaining := budget
	floor := budget / 4
	result := ScanResult{NextCursor: startID}
	for id := startID; id < end; id++ {
		if !r.examinedEmpty.IsSet(id) {
			result.NextCursor = id + 1
			continue
		}
		if remaining < floor || remaining < costExamine {
			result.Exhausted = true
			break
		}
		remaining -= costExamine
		addr, err := r.oracle.AddressFor(id)
		if err != nil {
			return result, err
		}
		if addr != ([20]byte{}) {
			if remaining >= costValidate {
				remaining -= costValidate
			} else {
				remaining = 0
			}
			if r.revalidateLocked(id, addr) {
				result.Validated++
			}
		}
		result.NextCursor = id + 1
	}
	return result, nil
}

// SubmitSingle is the permissionless single-identifier recheck. It is
// restricted to identifiers already marked both examined and empty so callers
// cannot bypass the batch-scan ordering. It reports whether a new token was
// validated.
func (r *Registry) SubmitSingle(id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.oracle == nil {
		return false, ErrOracleNotConfigured
	}
	if !r.examined.IsSet(id) || !r.examinedEmpty.IsSet(id) {
		return false, ErrNotRecheckable
	}
	addr, err := r.oracle.AddressFor(id)
	if err != nil {
		return false, err
	}
	if addr == ([20]byte{}) {
		return false, nil
	}
	return r.revalidateLocked(id, addr), nil
}

// revalidateLocked admits a late-resolving token. The empty mark is cleared
// once the identifier resolves, whether or not the token is new.
func (r *Registry) revalidateLocked(id uint64, addr [20]byte) bool {
	if _, ok := r.validatedIndex[addr]; ok {
		r.examinedEmpty.Unset(id)
		return false
	}
	if err := r.sanityCheckLocked(addr); err != nil {
		return false
	}
	r.examinedEmpty.Unset(id)
	if !r.addValidatedLocked(addr) {
		return false
	}
	r.emitLocked(&TokenValidatedEvent{ID: id, Token: addr})
	return true
}

// advanceCursorLocked moves the monotone low-water mark when the scanned
// range is contiguous with the identifiers already covered.
func (r *Registry) advanceCursorLocked(startID, nextCursor uint64) {
	if nextCursor == 0 {
		return
	}
	if startID > r.lastExamined+1 && !(startID == 0 && r.lastExamined == 0) {
		return
	}
	if nextCursor-1 > r.lastExamined {
		r.lastExamined = nextCursor - 1
	}
}

func (r *Registry) emitLocked(evt events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}
