package otc

import "errors"

var (
	// ErrIndexDuplicate is returned when a swap id is added twice for the
	// same owner.
	ErrIndexDuplicate = errors.New("otc: swap already indexed for owner")
	// ErrIndexMissing is returned when removing a swap id the owner does not
	// hold.
	ErrIndexMissing = errors.New("otc: swap not indexed for owner")
)

// OpenSwapIndex tracks the set of open swap ids per owner. Each owner pairs a
// sequence of ids with a reverse map from id to its slot, so insertion and
// removal are O(1). Removal moves the last element into the vacated slot and
// updates its recorded position (swap-with-last); this is the only way entries
// leave the index.
type OpenSwapIndex struct {
	ids map[[20]byte][]uint64
	pos map[[20]byte]map[uint64]int
}

// NewOpenSwapIndex returns an empty index.
func NewOpenSwapIndex() *OpenSwapIndex {
	return &OpenSwapIndex{
		ids: make(map[[20]byte][]uint64),
		pos: make(map[[20]byte]map[uint64]int),
	}
}

// Add appends the swap id to the owner's sequence and records its position.
func (idx *OpenSwapIndex) Add(owner [20]byte, id uint64) error {
	positions := idx.pos[owner]
	if positions == nil {
		positions = make(map[uint64]int)
		idx.pos[owner] = positions
	}
	if _, ok := positions[id]; ok {
		return ErrIndexDuplicate
	}
	positions[id] = len(idx.ids[owner])
	idx.ids[owner] = append(idx.ids[owner], id)
	return nil
}

// Remove deletes the swap id from the owner's sequence via swap-with-last.
func (idx *OpenSwapIndex) Remove(owner [20]byte, id uint64) error {
	positions := idx.pos[owner]
	slot, ok := positions[id]
	if !ok {
		return ErrIndexMissing
	}
	seq := idx.ids[owner]
	last := len(seq) - 1
	if slot != last {
		moved := seq[last]
		seq[slot] = moved
		positions[moved] = slot
	}
	idx.ids[owner] = seq[:last]
	delete(positions, id)
	if len(positions) == 0 {
		delete(idx.pos, owner)
		delete(idx.ids, owner)
	}
	return nil
}

// Count returns the number of open swaps indexed for the owner.
func (idx *OpenSwapIndex) Count(owner [20]byte) int {
	return len(idx.ids[owner])
}

// Contains reports whether the owner currently holds the swap id.
func (idx *OpenSwapIndex) Contains(owner [20]byte, id uint64) bool {
	_, ok := idx.pos[owner][id]
	return ok
}

// List returns a copy of the owner's open swap ids in sequence order.
func (idx *OpenSwapIndex) List(owner [20]byte) []uint64 {
	seq := idx.ids[owner]
	if len(seq) == 0 {
		return nil
	}
	return append([]uint64(nil), seq...)
}

// Owners returns every owner with at least one indexed swap.
func (idx *OpenSwapIndex) Owners() [][20]byte {
	owners := make([][20]byte, 0, len(idx.ids))
	for owner := range idx.ids {
		owners = append(owners, owner)
	}
	return owners
}

// Validate checks the reverse-index invariant for one owner: the sequence and
// the position map agree in size, and every recorded position matches the
// id's true slot.
func (idx *OpenSwapIndex) Validate(owner [20]byte) error {
	seq := idx.ids[owner]
	positions := idx.pos[owner]
	if len(seq) != len(positions) {
		return errors.New("otc: index sequence and reverse map diverge")
	}
	for slot, id := range seq {
		recorded, ok := positions[id]
		if !ok {
			return errors.New("otc: indexed swap missing from reverse map")
		}
		if recorded != slot {
			return errors.New("otc: reverse map position mismatch")
		}
	}
	return nil
}
