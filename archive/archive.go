package archive

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"otcswap/native/otc"
)

// ArchivedSwap is the relational record kept for a swap after it has been
// pruned from the live ledger. Amounts are decimal strings so values above
// the int64 range survive.
type ArchivedSwap struct {
	SwapID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Initiator    string `gorm:"index;size:42"`
	Counterparty string `gorm:"size:42"`
	AssetA       string `gorm:"index;size:42"`
	AssetB       string `gorm:"index;size:42"`
	AmountA      string
	AmountB      string
	Status       string `gorm:"index;size:16"`
	CreatedAt    int64
	ExpiresAt    int64
	ResolvedAt   int64
	ArchivedAt   time.Time
}

// Store persists pruned swaps in a SQLite database.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the archive at path and migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&ArchivedSwap{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral archive, used by tests.
func OpenInMemory() (*Store, error) {
	return Open("file::memory:?cache=shared")
}

func toArchived(s *otc.Swap, archivedAt time.Time) ArchivedSwap {
	rec := ArchivedSwap{
		SwapID:     s.ID,
		Initiator:  hexAddr(s.Initiator),
		AssetA:     hexAddr(s.AssetA),
		AssetB:     hexAddr(s.AssetB),
		Status:     s.Status.String(),
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		ResolvedAt: s.ResolvedAt,
		ArchivedAt: archivedAt,
	}
	if s.Counterparty != ([20]byte{}) {
		rec.Counterparty = hexAddr(s.Counterparty)
	}
	if s.AmountA != nil {
		rec.AmountA = s.AmountA.String()
	}
	if s.AmountB != nil {
		rec.AmountB = s.AmountB.String()
	}
	return rec
}

func hexAddr(addr [20]byte) string {
	return fmt.Sprintf("0x%x", addr)
}

// SaveSwaps records a batch of pruned swaps. Re-archiving an id overwrites
// the previous record so repeated prune passes stay idempotent.
func (s *Store) SaveSwaps(swaps []*otc.Swap) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("archive: store uninitialised")
	}
	if len(swaps) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]ArchivedSwap, 0, len(swaps))
	for _, swap := range swaps {
		if swap == nil {
			continue
		}
		records = append(records, toArchived(swap, now))
	}
	return s.db.Save(&records).Error
}

// BySwapID loads one archived record.
func (s *Store) BySwapID(id uint64) (*ArchivedSwap, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("archive: store uninitialised")
	}
	rec := &ArchivedSwap{}
	if err := s.db.First(rec, "swap_id = ?", id).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// ByInitiator lists archived swaps created by one address, newest first.
func (s *Store) ByInitiator(initiator [20]byte, limit int) ([]ArchivedSwap, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("archive: store uninitialised")
	}
	query := s.db.Where("initiator = ?", hexAddr(initiator)).Order("swap_id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []ArchivedSwap
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of archived swaps.
func (s *Store) Count() (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("archive: store uninitialised")
	}
	var n int64
	err := s.db.Model(&ArchivedSwap{}).Count(&n).Error
	return n, err
}
