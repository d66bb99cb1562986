package fees

import "math/big"

// Class describes the eligibility classification of a token at fee time.
type Class uint8

const (
	// ClassNone marks tokens that are neither validated nor approved. They
	// never reach fee computation because swap creation already gates on
	// eligibility; the fee engine still treats them as fee-free.
	ClassNone Class = iota
	// ClassValidated marks tokens discovered through the oracle scan
	// pipeline. Validated tokens are fee exempt.
	ClassValidated
	// ClassApproved marks manually allow-listed tokens. Approved tokens pay
	// the configured fee rate.
	ClassApproved
)

// Policy captures the fee configuration applied when a swap settles.
type Policy struct {
	RateBps  uint32
	Treasury [20]byte
}

// Configured reports whether the policy can collect any fee at all.
func (p Policy) Configured() bool {
	return p.RateBps > 0 && p.Treasury != ([20]byte{})
}

// ApplyInput captures the context required to evaluate the fee obligation for
// one settlement leg.
type ApplyInput struct {
	Class  Class
	Amount *big.Int
	Policy Policy
}

// ApplyResult summarises the computed fee and resulting net amount.
type ApplyResult struct {
	Fee *big.Int
	Net *big.Int
}

// Apply evaluates the fee policy for a single leg. Validated tokens are
// exempt; approved tokens pay amount*rateBps/10000, computed with full
// precision big.Int multiply-then-divide. Fee + Net always equals the gross
// amount.
func Apply(input ApplyInput) ApplyResult {
	result := ApplyResult{Fee: big.NewInt(0)}
	if input.Amount != nil {
		result.Net = new(big.Int).Set(input.Amount)
	} else {
		result.Net = big.NewInt(0)
	}
	if result.Net.Sign() <= 0 {
		return result
	}
	if input.Class != ClassApproved {
		return result
	}
	if !input.Policy.Configured() {
		return result
	}
	fee := new(big.Int).Mul(result.Net, big.NewInt(int64(input.Policy.RateBps)))
	fee = fee.Div(fee, big.NewInt(10_000))
	if fee.Sign() <= 0 {
		return result
	}
	if fee.Cmp(result.Net) >= 0 {
		result.Fee = new(big.Int).Set(result.Net)
		result.Net = big.NewInt(0)
		return result
	}
	result.Fee = fee
	result.Net = new(big.Int).Sub(result.Net, fee)
	return result
}
