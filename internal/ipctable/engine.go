// Package ipctable implements the generic open-addressing hash table engine
// shared by the row-lock and table-lock classes.
//
// The engine never touches slot bytes directly. Every operation is
// dispatched through a [Class], a fifteen-method vtable (expressed here as
// a Go generic interface rather than a table of function pointers) that
// knows how to lay out, hash, and compare one kind of element. This lets the
// row class and the table class share one probe/delete algorithm while
// evolving their wire layouts independently.
package ipctable

import "fmt"

// Class is the element-class vtable. K is the lookup key type for the
// class (for example a (tableID, rowID) pair for the row class).
//
// Implementations operate on raw mapped bytes: Meta is the fixed-size
// header region, data passed to slot operations is the full slot array and
// idx selects a slot within it. Implementations must not retain slices
// returned by Slot across a mutation of the underlying mapping.
type Class[K any] interface {
	// MapName derives the backing mapping's file name from an absolute
	// database path.
	MapName(absPath string) string

	// HeaderInitialized reports whether InitHeader has already run on meta.
	HeaderInitialized(meta []byte) bool

	// InitHeader initializes a freshly mapped, zeroed header region for a
	// table of the given capacity.
	InitHeader(meta []byte, capacity uint64)

	// Count returns the number of occupied slots recorded in the header.
	Count(meta []byte) uint64

	// SetCount persists a new occupied-slot count into the header.
	SetCount(meta []byte, n uint64)

	// SlotSize returns the fixed size in bytes of one slot.
	SlotSize() int

	// Slot returns the byte range of the slot at idx within data.
	Slot(data []byte, idx uint64) []byte

	// IsValid reports whether slot holds a live element (a zeroed slot is
	// empty, per the wire format's validity invariant).
	IsValid(slot []byte) bool

	// IsTarget reports whether slot's key equals target.
	IsTarget(slot []byte, target K) bool

	// Hash recomputes the natural hash bucket of slot's already-stored
	// content, used by the delete rebalance to classify candidates.
	Hash(slot []byte, capacity uint64) uint64

	// Clear zeroes a slot, making it empty.
	Clear(slot []byte)

	// Copy overwrites dst's content with src's.
	Copy(dst, src []byte)

	// Prev returns the index immediately before idx, modulo capacity.
	Prev(idx, capacity uint64) uint64

	// Next returns the index immediately after idx, modulo capacity.
	Next(idx, capacity uint64) uint64

	// CalcHash computes the natural hash bucket for key over a table of the
	// given capacity.
	CalcHash(key K, capacity uint64) uint64
}

// SearchStatus is the outcome of [Table.Search].
type SearchStatus int

const (
	// StatusFound means a valid slot already holds the target key.
	StatusFound SearchStatus = iota
	// StatusFree means no slot holds the target key; Idx is the first empty
	// slot on the probe chain, the position an insert must use.
	StatusFree
	// StatusFull means no slot holds the target key and no slot may be
	// filled: either only the one slot that is always kept empty remains,
	// or the probe wrapped completely without finding a match or an empty
	// slot.
	StatusFull
)

// Table is a generic open-addressed hash table view over a mapped header
// region and a mapped slot array. It holds no data of its own; Meta and
// Data are expected to be backed by a shared memory mapping owned by the
// caller.
type Table[K any] struct {
	Class Class[K]
	Meta  []byte
	Data  []byte
	N     uint64 // capacity, cached from the header at bind time
}

// NewTable constructs a Table over a mapped header and slot array. Capacity
// is fixed for the lifetime of the mapping; the concrete class packages
// read it back out of their own header fields before calling this.
func NewTable[K any](class Class[K], meta, data []byte, capacity uint64) *Table[K] {
	return &Table[K]{Class: class, Meta: meta, Data: data, N: capacity}
}

// Count returns the current occupied-slot count.
func (t *Table[K]) Count() uint64 { return t.Class.Count(t.Meta) }

// Search implements rowlockIpcSearch: probe forward from key's natural hash
// looking for a valid slot matching target. See spec §4.1.
func (t *Table[K]) Search(target K) (SearchStatus, uint64) {
	hash := t.Class.CalcHash(target, t.N)
	idx := hash

	for {
		slot := t.Class.Slot(t.Data, idx)
		if !t.Class.IsValid(slot) {
			// The last empty slot is never handed out, so every probe
			// chain stays terminated by an empty slot.
			if t.Class.Count(t.Meta)+1 >= t.N {
				return StatusFull, 0
			}
			return StatusFree, idx
		}

		if t.Class.IsTarget(slot, target) {
			return StatusFound, idx
		}

		idx = t.Class.Next(idx, t.N)
		if idx == hash {
			return StatusFull, 0
		}
	}
}

// Insert writes element bytes into the slot at idx (obtained from a prior
// StatusFree Search result) and increments occupancy. There is no separate
// insert entry point; Search/Insert is the contract (spec §4.1).
func (t *Table[K]) Insert(idx uint64, encode func(slot []byte)) {
	slot := t.Class.Slot(t.Data, idx)
	encode(slot)
	t.Class.SetCount(t.Meta, t.Class.Count(t.Meta)+1)
}

// Delete removes the slot at idxDel and rebalances the probe chain around
// it using backward-shift deletion (spec §4.1, steps 1-5). It is
// implemented as a loop, not recursion, per the Design Notes' depth
// concern: capacity minus one slot is always reserved, so the loop is
// guaranteed to terminate within N iterations.
func (t *Table[K]) Delete(idxDel uint64) {
	idxStart := t.chainStart(idxDel)
	idxEnd := t.chainEnd(idxDel)

	for steps := uint64(0); ; steps++ {
		if steps > t.N {
			// Invariant 5 (one slot always reserved) guarantees this chain
			// is finite; reaching here means the shared state is corrupt.
			panic(fmt.Sprintf("ipctable: delete rebalance did not terminate (idxStart=%d idxDel=%d idxEnd=%d)", idxStart, idxDel, idxEnd))
		}

		moveFrom, found := t.findAcceptable(idxStart, idxDel, idxEnd)
		if !found {
			t.Class.Clear(t.Class.Slot(t.Data, idxDel))
			t.Class.SetCount(t.Meta, t.Class.Count(t.Meta)-1)
			return
		}

		t.Class.Copy(t.Class.Slot(t.Data, idxDel), t.Class.Slot(t.Data, moveFrom))
		idxDel = moveFrom
	}
}

// chainStart walks backward from idxDel while slots are valid; the result
// is the first valid slot after an empty cell (spec §4.1 step 1).
func (t *Table[K]) chainStart(idxDel uint64) uint64 {
	idx := idxDel

	for steps := uint64(0); steps < t.N; steps++ {
		prev := t.Class.Prev(idx, t.N)
		if !t.Class.IsValid(t.Class.Slot(t.Data, prev)) {
			break
		}

		idx = prev
	}

	return idx
}

// chainEnd walks forward from idxDel until it finds an empty slot; the
// result is the index just past the last valid slot of the chain
// (spec §4.1 step 2).
func (t *Table[K]) chainEnd(idxDel uint64) uint64 {
	idx := t.Class.Next(idxDel, t.N)

	for steps := uint64(0); steps < t.N; steps++ {
		if !t.Class.IsValid(t.Class.Slot(t.Data, idx)) {
			return idx
		}

		idx = t.Class.Next(idx, t.N)
	}

	return idx
}

// findAcceptable scans backward from the slot just before idxEnd toward
// idxDel (exclusive of both ends) for the first slot whose natural hash
// makes it eligible to move into idxDel, classifying the three topological
// patterns of spec §4.1 step 3.
func (t *Table[K]) findAcceptable(idxStart, idxDel, idxEnd uint64) (uint64, bool) {
	pattern1or2 := (idxStart <= idxDel && idxDel <= idxEnd) || (idxEnd <= idxStart && idxStart <= idxDel)

	accept := func(hash uint64) bool {
		if pattern1or2 {
			return idxStart <= hash && hash <= idxDel
		}
		// Pattern 3: idxDel <= idxEnd <= idxStart.
		return hash <= idxDel || idxStart <= hash
	}

	for idx := t.Class.Prev(idxEnd, t.N); idx != idxDel; idx = t.Class.Prev(idx, t.N) {
		slot := t.Class.Slot(t.Data, idx)
		hash := t.Class.Hash(slot, t.N)

		if accept(hash) {
			return idx, true
		}
	}

	return 0, false
}

// ForEachValid calls fn for every occupied slot in index order. fn's
// returned slice must not be retained past the call. Iteration stops early
// if fn returns false.
func (t *Table[K]) ForEachValid(fn func(idx uint64, slot []byte) bool) {
	for idx := range t.N {
		slot := t.Class.Slot(t.Data, idx)
		if !t.Class.IsValid(slot) {
			continue
		}

		if !fn(idx, slot) {
			return
		}
	}
}
