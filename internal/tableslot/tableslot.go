// Package tableslot implements the Table Class: the ipctable.Class[Key]
// realization backing table-level locks, plus a second, independent
// ipctable.Class[int32] realization (RowidClass) for the CachedRowid
// auxiliary directory that tracks the next rowid to hand out per table.
//
// A table lock is identified by (TableID, Owner): unlike rows, several
// owners can simultaneously hold a compatible lock (for example two
// readers), so the owner is part of the key rather than payload on top of
// a single per-table slot.
package tableslot

import (
	"encoding/binary"

	"github.com/sqlumdash/rowlockipc/internal/ipchdr"
)

// HeaderSize is the fixed header size shared with ipchdr.
const HeaderSize = ipchdr.Size

// Magic identifies a table-lock mapping; it reads as "RLKT" in a hex dump.
var Magic = [4]byte{'R', 'L', 'K', 'T'}

// Table-lock slot layout, 16 bytes.
const (
	slotOffTableID = 0x00
	slotOffMode    = 0x04
	slotOffValid   = 0x05
	slotOffOwner   = 0x08

	SlotSize = 0x10
)

// Mode is a table lock's strength.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeRead
	ModeWrite
	ModeExclusive
)

// Compatible reports whether a lock of mode held can coexist with a
// simultaneous request for mode requested, from a different owner.
// ModeNone on either side never conflicts and read locks share; any
// other combination conflicts, matching the
// pessimistic table-lock matrix used throughout the registry facade.
func Compatible(held, requested Mode) bool {
	if held == ModeNone || requested == ModeNone {
		return true
	}
	return held == ModeRead && requested == ModeRead
}

// Promote returns the stronger of two modes, used when the same owner
// re-locks a table it already holds at a weaker mode.
func Promote(current, requested Mode) Mode {
	if requested > current {
		return requested
	}
	return current
}

// Key identifies one (table, owner) lock record.
type Key struct {
	TableID int32
	Owner   uint64
}

// Class is the Table Class's ipctable.Class[Key] implementation.
type Class struct{}

func (Class) MapName(absPath string) string { return absPath + ".tlock" }

func (Class) HeaderInitialized(meta []byte) bool { return ipchdr.Initialized(meta, Magic) }

func (Class) InitHeader(meta []byte, capacity uint64) { ipchdr.Init(meta, Magic, capacity, 0) }

func (Class) Count(meta []byte) uint64 { return ipchdr.Count(meta) }

func (Class) SetCount(meta []byte, n uint64) { ipchdr.SetCount(meta, n) }

func (Class) Capacity(meta []byte) uint64 { return ipchdr.Capacity(meta) }

func (Class) Generation(meta []byte) uint64 { return ipchdr.Generation(meta) }

func (Class) WriterOwner(meta []byte) uint64 { return ipchdr.WriterOwner(meta) }

func (Class) BeginWrite(meta []byte, owner uint64) { ipchdr.BeginWrite(meta, owner) }

func (Class) EndWrite(meta []byte) { ipchdr.EndWrite(meta) }

func (Class) VerifyCRC(meta []byte) bool { return ipchdr.VerifyCRC(meta) }

func (Class) SlotSize() int { return SlotSize }

func (Class) Slot(data []byte, idx uint64) []byte {
	off := idx * SlotSize
	return data[off : off+SlotSize]
}

func (Class) IsValid(slot []byte) bool { return slot[slotOffValid] != 0 }

func (Class) IsTarget(slot []byte, target Key) bool {
	tableID := int32(binary.LittleEndian.Uint32(slot[slotOffTableID:]))
	owner := binary.LittleEndian.Uint64(slot[slotOffOwner:])
	return tableID == target.TableID && owner == target.Owner
}

func (Class) Hash(slot []byte, capacity uint64) uint64 {
	tableID := int32(binary.LittleEndian.Uint32(slot[slotOffTableID:]))
	owner := binary.LittleEndian.Uint64(slot[slotOffOwner:])
	return knuthHash(tableID, owner, capacity)
}

func (Class) Clear(slot []byte) { clear(slot) }

func (Class) Copy(dst, src []byte) { copy(dst, src) }

func (Class) Prev(idx, capacity uint64) uint64 {
	if idx == 0 {
		return capacity - 1
	}
	return idx - 1
}

func (Class) Next(idx, capacity uint64) uint64 {
	idx++
	if idx == capacity {
		return 0
	}
	return idx
}

func (Class) CalcHash(key Key, capacity uint64) uint64 {
	return knuthHash(key.TableID, key.Owner, capacity)
}

// TableID reads the table id stored in a table-lock slot.
func (Class) TableID(slot []byte) int32 {
	return int32(binary.LittleEndian.Uint32(slot[slotOffTableID:]))
}

// Owner reads the owner tag stored in a table-lock slot.
func (Class) Owner(slot []byte) uint64 { return binary.LittleEndian.Uint64(slot[slotOffOwner:]) }

// Mode reads the lock mode stored in a table-lock slot.
func (Class) Mode(slot []byte) Mode { return Mode(slot[slotOffMode]) }

// SetMode overwrites the lock mode stored in a table-lock slot.
func (Class) SetMode(slot []byte, mode Mode) { slot[slotOffMode] = byte(mode) }

// Encode writes a table-lock element into slot, marking it valid.
func (Class) Encode(slot []byte, key Key, mode Mode) {
	binary.LittleEndian.PutUint32(slot[slotOffTableID:], uint32(key.TableID))
	slot[slotOffMode] = byte(mode)
	slot[slotOffValid] = 1
	binary.LittleEndian.PutUint64(slot[slotOffOwner:], key.Owner)
}

func knuthHash(tableID int32, owner uint64, capacity uint64) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(tableID))
	binary.LittleEndian.PutUint64(buf[4:12], owner)

	var h uint64
	for _, b := range buf {
		h = (h + uint64(b)) * 0x9e3779b1
	}

	return h % capacity
}

// Rowid slot layout, 16 bytes: the CachedRowid directory is a second,
// independent open-addressed table keyed by TableID alone, reusing the
// same generic engine as the lock tables.
const (
	rowidOffTableID = 0x00
	rowidOffValid   = 0x04
	rowidOffNext    = 0x08

	RowidSlotSize = 0x10
)

// RowidClass is the CachedRowid directory's ipctable.Class[int32]
// implementation: TableID -> next rowid to allocate.
type RowidClass struct{}

func (RowidClass) MapName(absPath string) string { return absPath + ".tlock.rowid" }

func (RowidClass) HeaderInitialized(meta []byte) bool {
	return ipchdr.Initialized(meta, [4]byte{'R', 'L', 'K', 'D'})
}

func (RowidClass) InitHeader(meta []byte, capacity uint64) {
	ipchdr.Init(meta, [4]byte{'R', 'L', 'K', 'D'}, capacity, 0)
}

func (RowidClass) Count(meta []byte) uint64 { return ipchdr.Count(meta) }

func (RowidClass) SetCount(meta []byte, n uint64) { ipchdr.SetCount(meta, n) }

func (RowidClass) Capacity(meta []byte) uint64 { return ipchdr.Capacity(meta) }

// VerifyCRC reports whether the header's stored checksum matches its
// content, used by Init to detect a torn or corrupted mapping.
func (RowidClass) VerifyCRC(meta []byte) bool { return ipchdr.VerifyCRC(meta) }

func (RowidClass) SlotSize() int { return RowidSlotSize }

func (RowidClass) Slot(data []byte, idx uint64) []byte {
	off := idx * RowidSlotSize
	return data[off : off+RowidSlotSize]
}

func (RowidClass) IsValid(slot []byte) bool { return slot[rowidOffValid] != 0 }

func (RowidClass) IsTarget(slot []byte, target int32) bool {
	return int32(binary.LittleEndian.Uint32(slot[rowidOffTableID:])) == target
}

func (RowidClass) Hash(slot []byte, capacity uint64) uint64 {
	tableID := int32(binary.LittleEndian.Uint32(slot[rowidOffTableID:]))
	return rowidHash(tableID, capacity)
}

func (RowidClass) Clear(slot []byte) { clear(slot) }

func (RowidClass) Copy(dst, src []byte) { copy(dst, src) }

func (RowidClass) Prev(idx, capacity uint64) uint64 {
	if idx == 0 {
		return capacity - 1
	}
	return idx - 1
}

func (RowidClass) Next(idx, capacity uint64) uint64 {
	idx++
	if idx == capacity {
		return 0
	}
	return idx
}

func (RowidClass) CalcHash(key int32, capacity uint64) uint64 { return rowidHash(key, capacity) }

// NextRowid reads the next rowid to allocate for the table owning slot.
func (RowidClass) NextRowid(slot []byte) int64 {
	return int64(binary.LittleEndian.Uint64(slot[rowidOffNext:]))
}

// SetNextRowid stores the next rowid to allocate for the table owning slot.
func (RowidClass) SetNextRowid(slot []byte, next int64) {
	binary.LittleEndian.PutUint64(slot[rowidOffNext:], uint64(next))
}

// Encode writes a CachedRowid directory entry, marking it valid.
func (RowidClass) Encode(slot []byte, tableID int32, next int64) {
	binary.LittleEndian.PutUint32(slot[rowidOffTableID:], uint32(tableID))
	slot[rowidOffValid] = 1
	binary.LittleEndian.PutUint64(slot[rowidOffNext:], uint64(next))
}

func rowidHash(tableID int32, capacity uint64) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(tableID))

	var h uint64
	for _, b := range buf {
		h = (h + uint64(b)) * 0x9e3779b1
	}

	return h % capacity
}
