package registry

// Snapshot is the serialisable image of the registry used for restart
// persistence. Membership order is preserved so reverse indices rebuild to
// the exact positions they held when the snapshot was taken.
type Snapshot struct {
	Validated     [][20]byte
	Approved      [][20]byte
	Blacklist     [][20]byte
	Examined      []uint64
	ExaminedEmpty []uint64
	LastExamined  uint64
}

// Snapshot captures the current registry state.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := &Snapshot{
		Validated:     append([][20]byte(nil), r.validated...),
		Approved:      append([][20]byte(nil), r.approved...),
		Examined:      r.examined.Words(),
		ExaminedEmpty: r.examinedEmpty.Words(),
		LastExamined:  r.lastExamined,
	}
	for token := range r.blacklist {
		snap.Blacklist = append(snap.Blacklist, token)
	}
	return snap
}

// Restore replaces the registry state with the supplied snapshot.
func (r *Registry) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validated = append([][20]byte(nil), snap.Validated...)
	r.validatedIndex = make(map[[20]byte]int, len(snap.Validated))
	for pos, token := range snap.Validated {
		r.validatedIndex[token] = pos
	}
	r.approved = append([][20]byte(nil), snap.Approved...)
	r.approvedIndex = make(map[[20]byte]int, len(snap.Approved))
	for pos, token := range snap.Approved {
		r.approvedIndex[token] = pos
	}
	r.blacklist = make(map[[20]byte]bool, len(snap.Blacklist))
	for _, token := range snap.Blacklist {
		r.blacklist[token] = true
	}
	r.examined.RestoreWords(snap.Examined)
	r.examinedEmpty.RestoreWords(snap.ExaminedEmpty)
	r.lastExamined = snap.LastExamined
}
