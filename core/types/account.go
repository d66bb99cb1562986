package types

import "math/big"

// Account tracks the per-token balances held for a single address. Balances
// are keyed by the 20-byte token contract address and are always non-nil once
// the account passes through EnsureAccount.
type Account struct {
	Nonce    uint64
	Balances map[[20]byte]*big.Int
}

// EnsureAccount returns a usable account, allocating the balance map and
// replacing a nil input with a zeroed account.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balances: make(map[[20]byte]*big.Int)}
	}
	if acc.Balances == nil {
		acc.Balances = make(map[[20]byte]*big.Int)
	}
	return acc
}

// Balance returns the balance held for the supplied token, never nil.
func (a *Account) Balance(token [20]byte) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[token]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance records the balance for the supplied token.
func (a *Account) SetBalance(token [20]byte, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[[20]byte]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[token] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balances: make(map[[20]byte]*big.Int)}
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[[20]byte]*big.Int, len(a.Balances))}
	for token, bal := range a.Balances {
		if bal == nil {
			bal = big.NewInt(0)
		}
		clone.Balances[token] = new(big.Int).Set(bal)
	}
	return clone
}
