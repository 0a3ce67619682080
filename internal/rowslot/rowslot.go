// Package rowslot implements the Row Class: the ipctable.Class[Key]
// realization that turns the generic hash table engine into the per-row
// lock table described by the registry facade.
//
// A row is identified by (TableID, RowID). Its natural hash bucket is the
// Knuth multiplicative hash of that pair, matching the original C
// implementation's rowlockIpcCalcRowHash.
package rowslot

import (
	"encoding/binary"

	"github.com/sqlumdash/rowlockipc/internal/ipchdr"
)

// HeaderSize is the fixed header size in bytes, shared with ipchdr.
const HeaderSize = ipchdr.Size

// Magic identifies a row-lock mapping; it reads as "RLKR" in a hex dump.
var Magic = [4]byte{'R', 'L', 'K', 'R'}

// Slot layout, 24 bytes.
const (
	slotOffRowID   = 0x00
	slotOffTableID = 0x08
	slotOffValid   = 0x0C
	slotOffOwner   = 0x10

	SlotSize = 0x18
)

// Key identifies one row lock.
type Key struct {
	TableID int32
	RowID   int64
}

// Class is the Row Class's ipctable.Class[Key] implementation.
type Class struct{}

// MapName derives the row-lock mapping's file name from the database's
// absolute path.
func (Class) MapName(absPath string) string { return absPath + ".rlock" }

func (Class) HeaderInitialized(meta []byte) bool { return ipchdr.Initialized(meta, Magic) }

func (Class) InitHeader(meta []byte, capacity uint64) { ipchdr.Init(meta, Magic, capacity, 0) }

func (Class) Count(meta []byte) uint64 { return ipchdr.Count(meta) }

func (Class) SetCount(meta []byte, n uint64) { ipchdr.SetCount(meta, n) }

// Capacity reads the capacity recorded at InitHeader time.
func (Class) Capacity(meta []byte) uint64 { return ipchdr.Capacity(meta) }

// Generation returns the header's crash-detection counter. Odd means a
// writer is (or was, at crash time) mid critical section.
func (Class) Generation(meta []byte) uint64 { return ipchdr.Generation(meta) }

// WriterOwner returns the owner tag recorded by the most recent
// BeginWrite, meaningful only while Generation is odd.
func (Class) WriterOwner(meta []byte) uint64 { return ipchdr.WriterOwner(meta) }

// BeginWrite increments Generation to an odd value, marking the mapping
// dirty for the duration of a critical section, and records owner so a
// crash mid-section can later be attributed to it.
func (Class) BeginWrite(meta []byte, owner uint64) { ipchdr.BeginWrite(meta, owner) }

// EndWrite increments Generation back to an even value.
func (Class) EndWrite(meta []byte) { ipchdr.EndWrite(meta) }

// VerifyCRC reports whether the header's stored checksum matches its
// content, used by Init to detect a torn or corrupted mapping.
func (Class) VerifyCRC(meta []byte) bool { return ipchdr.VerifyCRC(meta) }

func (Class) SlotSize() int { return SlotSize }

func (Class) Slot(data []byte, idx uint64) []byte {
	off := idx * SlotSize
	return data[off : off+SlotSize]
}

func (Class) IsValid(slot []byte) bool { return slot[slotOffValid] != 0 }

func (Class) IsTarget(slot []byte, target Key) bool {
	rowID := int64(binary.LittleEndian.Uint64(slot[slotOffRowID:]))
	tableID := int32(binary.LittleEndian.Uint32(slot[slotOffTableID:]))
	return tableID == target.TableID && rowID == target.RowID
}

func (Class) Hash(slot []byte, capacity uint64) uint64 {
	rowID := int64(binary.LittleEndian.Uint64(slot[slotOffRowID:]))
	tableID := int32(binary.LittleEndian.Uint32(slot[slotOffTableID:]))
	return knuthHash(tableID, rowID, capacity)
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
	return knuthHash(key.TableID, key.RowID, capacity)
}

// Owner reads the owner tag stored in a row slot.
func (Class) Owner(slot []byte) uint64 { return binary.LittleEndian.Uint64(slot[slotOffOwner:]) }

// TableID reads the table id stored in a row slot.
func (Class) TableID(slot []byte) int32 {
	return int32(binary.LittleEndian.Uint32(slot[slotOffTableID:]))
}

// RowID reads the row id stored in a row slot.
func (Class) RowID(slot []byte) int64 {
	return int64(binary.LittleEndian.Uint64(slot[slotOffRowID:]))
}

// Encode writes a row element into slot, marking it valid.
func (Class) Encode(slot []byte, key Key, owner uint64) {
	binary.LittleEndian.PutUint64(slot[slotOffRowID:], uint64(key.RowID))
	binary.LittleEndian.PutUint32(slot[slotOffTableID:], uint32(key.TableID))
	slot[slotOffValid] = 1
	binary.LittleEndian.PutUint64(slot[slotOffOwner:], owner)
}

// knuthHash is the Knuth multiplicative hash: fold the key's bytes one at a
// time as h = (h + b) * 0x9e3779b1, then reduce mod capacity.
func knuthHash(tableID int32, rowID int64, capacity uint64) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(tableID))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(rowID))

	var h uint64
	for _, b := range buf {
		h = (h + uint64(b)) * 0x9e3779b1
	}

	return h % capacity
}
