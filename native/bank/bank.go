package bank

import (
	"errors"
	"fmt"
	"math/big"

	"otcswap/core/types"
)

var (
	errNilState = errors.New("bank: state not configured")

	// ErrInsufficientBalance is returned when a transfer would overdraw the
	// source account. The ledger applies no partial effect in that case.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrNegativeAmount rejects negative transfer amounts.
	ErrNegativeAmount = errors.New("bank: negative amount")
)

type accountState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Ledger is the in-process implementation of the token transfer primitive.
// It moves balances between accounts atomically per call: either both sides
// of a transfer are written or neither is. The custody vault address backs
// the escrow engine's Transfer method.
type Ledger struct {
	state accountState
	vault [20]byte
}

// NewLedger constructs a ledger bound to the supplied account state and
// custody vault address.
func NewLedger(state accountState, vault [20]byte) *Ledger {
	return &Ledger{state: state, vault: vault}
}

// Vault returns the custody address escrowed deposits are held under.
func (l *Ledger) Vault() [20]byte { return l.vault }

// TransferFrom moves tokens between two arbitrary accounts. It fails without
// effect when the source balance is insufficient.
func (l *Ledger) TransferFrom(token, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	balance := fromAcc.Balance(token)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %x", ErrInsufficientBalance, token)
	}
	// A funded self transfer leaves the balance unchanged.
	if from == to {
		return nil
	}
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc = types.EnsureAccount(toAcc)
	fromAcc.SetBalance(token, new(big.Int).Sub(balance, amount))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amount))
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}

// Transfer releases tokens held in the custody vault to the recipient.
func (l *Ledger) Transfer(token, to [20]byte, amount *big.Int) error {
	if l == nil {
		return errNilState
	}
	return l.TransferFrom(token, l.vault, to, amount)
}

// Mint credits freshly issued tokens to an account. Used by genesis tooling
// and tests; production deployments bridge an external token instead.
func (l *Ledger) Mint(token, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNegativeAmount
	}
	acc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	acc.SetBalance(token, new(big.Int).Add(acc.Balance(token), amount))
	return l.state.PutAccount(to, acc)
}

// BalanceOf reports the balance an account holds for a token.
func (l *Ledger) BalanceOf(token, addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return types.EnsureAccount(acc).Balance(token), nil
}
