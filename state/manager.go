package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"otcswap/core/types"
	"otcswap/native/otc"
	"otcswap/native/registry"
	"otcswap/storage"
)

var (
	swapKeyPrefix       = []byte("otc/swap/")
	swapCounterKey      = []byte("otc/counter")
	accountKeyPrefix    = []byte("acct/")
	registrySnapshotKey = []byte("registry/snapshot")
)

// Manager persists the swap ledger, account balances, and registry snapshots
// in a key-value database. Records are RLP encoded; signed timestamps and
// balance maps are rewritten into RLP-safe shapes on the way in and restored
// on the way out.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager backed by the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func swapKey(id uint64) []byte {
	key := make([]byte, len(swapKeyPrefix)+8)
	copy(key, swapKeyPrefix)
	binary.BigEndian.PutUint64(key[len(swapKeyPrefix):], id)
	return key
}

func accountKey(addr [20]byte) []byte {
	key := make([]byte, len(accountKeyPrefix)+len(addr))
	copy(key, accountKeyPrefix)
	copy(key[len(accountKeyPrefix):], addr[:])
	return key
}

// storedSwap mirrors otc.Swap with unsigned timestamps for RLP.
type storedSwap struct {
	ID           uint64
	Initiator    [20]byte
	Counterparty [20]byte
	AssetA       [20]byte
	AssetB       [20]byte
	AmountA      *big.Int
	AmountB      *big.Int
	CreatedAt    uint64
	ExpiresAt    uint64
	ResolvedAt   uint64
	Status       uint8
}

func toStoredSwap(s *otc.Swap) *storedSwap {
	return &storedSwap{
		ID:           s.ID,
		Initiator:    s.Initiator,
		Counterparty: s.Counterparty,
		AssetA:       s.AssetA,
		AssetB:       s.AssetB,
		AmountA:      s.AmountA,
		AmountB:      s.AmountB,
		CreatedAt:    uint64(s.CreatedAt),
		ExpiresAt:    uint64(s.ExpiresAt),
		ResolvedAt:   uint64(s.ResolvedAt),
		Status:       uint8(s.Status),
	}
}

func (s *storedSwap) toSwap() *otc.Swap {
	return &otc.Swap{
		ID:           s.ID,
		Initiator:    s.Initiator,
		Counterparty: s.Counterparty,
		AssetA:       s.AssetA,
		AssetB:       s.AssetB,
		AmountA:      s.AmountA,
		AmountB:      s.AmountB,
		CreatedAt:    int64(s.CreatedAt),
		ExpiresAt:    int64(s.ExpiresAt),
		ResolvedAt:   int64(s.ResolvedAt),
		Status:       otc.SwapStatus(s.Status),
	}
}

// SwapPut persists the swap record under its id.
func (m *Manager) SwapPut(s *otc.Swap) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager uninitialised")
	}
	sanitized, err := otc.SanitizeSwap(s)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(toStoredSwap(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(swapKey(sanitized.ID), encoded)
}

// SwapGet loads the swap record for an id. A missing or undecodable record
// reports as absent.
func (m *Manager) SwapGet(id uint64) (*otc.Swap, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	data, err := m.db.Get(swapKey(id))
	if err != nil {
		return nil, false
	}
	stored := new(storedSwap)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	return stored.toSwap(), true
}

// SwapDelete removes the swap record for an id.
func (m *Manager) SwapDelete(id uint64) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager uninitialised")
	}
	return m.db.Delete(swapKey(id))
}

// SwapCounter returns the highest assigned swap id.
func (m *Manager) SwapCounter() uint64 {
	if m == nil || m.db == nil {
		return 0
	}
	data, err := m.db.Get(swapCounterKey)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// SetSwapCounter persists the highest assigned swap id.
func (m *Manager) SetSwapCounter(v uint64) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager uninitialised")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return m.db.Put(swapCounterKey, buf)
}

// storedBalance is one token balance of an account, sorted by token bytes so
// the encoding is deterministic.
type storedBalance struct {
	Token  [20]byte
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

// GetAccount loads an account, or nil when none exists.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager uninitialised")
	}
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	account := types.EnsureAccount(nil)
	account.Nonce = stored.Nonce
	for _, bal := range stored.Balances {
		account.SetBalance(bal.Token, bal.Amount)
	}
	return account, nil
}

// PutAccount persists an account with balances sorted by token.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager uninitialised")
	}
	account = types.EnsureAccount(account)
	stored := &storedAccount{Nonce: account.Nonce}
	for token, amount := range account.Balances {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		stored.Balances = append(stored.Balances, storedBalance{Token: token, Amount: amount})
	}
	sort.Slice(stored.Balances, func(i, j int) bool {
		return string(stored.Balances[i].Token[:]) < string(stored.Balances[j].Token[:])
	})
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// SaveRegistry persists a registry snapshot.
func (m *Manager) SaveRegistry(snap *registry.Snapshot) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager uninitialised")
	}
	if snap == nil {
		return fmt.Errorf("state: nil registry snapshot")
	}
	encoded, err := rlp.EncodeToBytes(snap)
	if err != nil {
		return err
	}
	return m.db.Put(registrySnapshotKey, encoded)
}

// LoadRegistry loads the persisted registry snapshot. The second return is
// false when no snapshot has been saved.
func (m *Manager) LoadRegistry() (*registry.Snapshot, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: manager uninitialised")
	}
	data, err := m.db.Get(registrySnapshotKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	snap := new(registry.Snapshot)
	if err := rlp.DecodeBytes(data, snap); err != nil {
		return nil, false, err
	}
	return snap, true, nil
}
