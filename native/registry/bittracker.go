package registry

// BitTracker is a dense bit-indexed presence set over token identifiers. The
// backing slice grows on demand; identifiers past the end of the slice simply
// read as unset. Set and Unset are idempotent.
type BitTracker struct {
	words []uint64
}

// NewBitTracker returns an empty tracker.
func NewBitTracker() *BitTracker {
	return &BitTracker{}
}

// IsSet reports whether the identifier has been marked.
func (b *BitTracker) IsSet(id uint64) bool {
	if b == nil {
		return false
	}
	word := id >> 6
	if word >= uint64(len(b.words)) {
		return false
	}
	return b.words[word]&(1<<(id&63)) != 0
}

// Set marks the identifier, growing the backing storage when required.
func (b *BitTracker) Set(id uint64) {
	if b == nil {
		return
	}
	word := id >> 6
	for uint64(len(b.words)) <= word {
		b.words = append(b.words, 0)
	}
	b.words[word] |= 1 << (id & 63)
}

// Unset clears the identifier. Clearing an identifier that was never set is a
// no-op.
func (b *BitTracker) Unset(id uint64) {
	if b == nil {
		return
	}
	word := id >> 6
	if word >= uint64(len(b.words)) {
		return
	}
	b.words[word] &^= 1 << (id & 63)
}

// Words returns a copy of the backing words for snapshot persistence.
func (b *BitTracker) Words() []uint64 {
	if b == nil || len(b.words) == 0 {
		return nil
	}
	return append([]uint64(nil), b.words...)
}

// RestoreWords replaces the backing storage with the supplied snapshot.
func (b *BitTracker) RestoreWords(words []uint64) {
	if b == nil {
		return
	}
	b.words = append([]uint64(nil), words...)
}
