package otc

import (
	"fmt"
	"math/big"
)

// SwapStatus represents the lifecycle states of an escrowed swap. Expiry is
// not a persisted status: an Open swap whose deadline has passed reports as
// expired at read time.
type SwapStatus uint8

const (
	SwapOpen SwapStatus = iota
	SwapFilled
	SwapCanceled
)

// Valid reports whether the status value is within the supported range.
func (s SwapStatus) Valid() bool {
	switch s {
	case SwapOpen, SwapFilled, SwapCanceled:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase label for the status.
func (s SwapStatus) String() string {
	switch s {
	case SwapOpen:
		return "open"
	case SwapFilled:
		return "filled"
	case SwapCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Swap captures a single escrowed two-party swap: the initiator deposits
// AssetA and names the AssetB quantity a counterparty must supply. Identifiers
// are assigned sequentially and never reused.
type Swap struct {
	ID           uint64
	Initiator    [20]byte
	Counterparty [20]byte
	AssetA       [20]byte
	AssetB       [20]byte
	AmountA      *big.Int
	AmountB      *big.Int
	CreatedAt    int64
	ExpiresAt    int64
	ResolvedAt   int64
	Status       SwapStatus
}

// Clone returns a deep copy of the swap so callers can safely mutate the copy
// without affecting the stored instance.
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	clone := *s
	if s.AmountA != nil {
		clone.AmountA = new(big.Int).Set(s.AmountA)
	} else {
		clone.AmountA = big.NewInt(0)
	}
	if s.AmountB != nil {
		clone.AmountB = new(big.Int).Set(s.AmountB)
	} else {
		clone.AmountB = big.NewInt(0)
	}
	return &clone
}

// IsExpired reports whether an Open swap's deadline has elapsed. Terminal
// swaps never report as expired.
func (s *Swap) IsExpired(now int64) bool {
	if s == nil || s.Status != SwapOpen {
		return false
	}
	return now > s.ExpiresAt
}

// IsTerminal reports whether the swap reached a final state.
func (s *Swap) IsTerminal() bool {
	if s == nil {
		return false
	}
	return s.Status == SwapFilled || s.Status == SwapCanceled
}

// SanitizeSwap validates the supplied record and returns a cloned instance
// with non-nil amount fields. The original value is not mutated.
func SanitizeSwap(s *Swap) (*Swap, error) {
	if s == nil {
		return nil, fmt.Errorf("otc: nil swap")
	}
	clone := s.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("otc: swap id must be positive")
	}
	if clone.AssetA == ([20]byte{}) || clone.AssetB == ([20]byte{}) {
		return nil, fmt.Errorf("otc: zero asset address")
	}
	if clone.AssetA == clone.AssetB {
		return nil, fmt.Errorf("otc: identical asset addresses")
	}
	if clone.AmountA.Sign() <= 0 || clone.AmountB.Sign() <= 0 {
		return nil, fmt.Errorf("otc: amounts must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("otc: invalid swap status %d", clone.Status)
	}
	return clone, nil
}
