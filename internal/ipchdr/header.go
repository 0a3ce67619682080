// Package ipchdr implements the shared 64-byte header format used by both
// the row-lock and the table-lock mappings: magic, version, an
// initialized flag, capacity, occupancy count, a crash-detection
// generation counter, an auxiliary-region offset, and a CRC32-C checksum
// over everything before it. Each element class owns its own magic value
// and slot layout; this package only deals with the header prefix common
// to both.
package ipchdr

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	offMagic        = 0x00
	offVersion      = 0x04
	offInitialized  = 0x08
	offPad0         = 0x0C
	offCapacity     = 0x10
	offCount        = 0x18
	offGeneration   = 0x20
	offAuxOffset    = 0x28
	offHeaderCRC32C = 0x30
	offWriterOwner  = 0x34
	offReserved     = 0x3C

	// Size is the fixed header size in bytes.
	Size = 0x40

	version = 1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Initialized reports whether Init has already run on meta for the given
// magic value.
func Initialized(meta []byte, magic [4]byte) bool {
	return meta[offMagic] == magic[0] && meta[offMagic+1] == magic[1] &&
		meta[offMagic+2] == magic[2] && meta[offMagic+3] == magic[3] &&
		binary.LittleEndian.Uint32(meta[offInitialized:]) != 0
}

// Init writes a fresh header into a zeroed meta region.
func Init(meta []byte, magic [4]byte, capacity, auxOffset uint64) {
	copy(meta[offMagic:], magic[:])
	binary.LittleEndian.PutUint32(meta[offVersion:], version)
	binary.LittleEndian.PutUint32(meta[offInitialized:], 1)
	binary.LittleEndian.PutUint32(meta[offPad0:], 0)
	binary.LittleEndian.PutUint64(meta[offCapacity:], capacity)
	binary.LittleEndian.PutUint64(meta[offCount:], 0)
	binary.LittleEndian.PutUint64(meta[offGeneration:], 0)
	binary.LittleEndian.PutUint64(meta[offAuxOffset:], auxOffset)
	binary.LittleEndian.PutUint64(meta[offWriterOwner:], 0)
	clear(meta[offReserved : offReserved+4])
	writeCRC(meta)
}

func Capacity(meta []byte) uint64  { return binary.LittleEndian.Uint64(meta[offCapacity:]) }
func AuxOffset(meta []byte) uint64 { return binary.LittleEndian.Uint64(meta[offAuxOffset:]) }

func Count(meta []byte) uint64 { return binary.LittleEndian.Uint64(meta[offCount:]) }

func SetCount(meta []byte, n uint64) {
	binary.LittleEndian.PutUint64(meta[offCount:], n)
	writeCRC(meta)
}

// Generation returns the crash-detection counter. Odd means a writer is,
// or was at crash time, mid critical section.
func Generation(meta []byte) uint64 { return binary.LittleEndian.Uint64(meta[offGeneration:]) }

// WriterOwner returns the owner tag recorded by the most recent
// BeginWrite. It is only meaningful while Generation is odd: that is the
// only time it names a critical section that might still be open, or was
// abandoned mid-write by a crashed owner.
func WriterOwner(meta []byte) uint64 { return binary.LittleEndian.Uint64(meta[offWriterOwner:]) }

// BeginWrite and EndWrite bracket a critical section; a process that dies
// between them leaves Generation odd, which callers use to detect an
// abandoned, possibly inconsistent mapping left by a crashed owner.
// BeginWrite records owner so a later caller that finds Generation odd
// knows whose locks to sweep before proceeding.
func BeginWrite(meta []byte, owner uint64) {
	binary.LittleEndian.PutUint64(meta[offGeneration:], Generation(meta)+1)
	binary.LittleEndian.PutUint64(meta[offWriterOwner:], owner)
	writeCRC(meta)
}

func EndWrite(meta []byte) {
	binary.LittleEndian.PutUint64(meta[offGeneration:], Generation(meta)+1)
	writeCRC(meta)
}

func writeCRC(meta []byte) {
	sum := crc32.Checksum(meta[:offHeaderCRC32C], crcTable)
	binary.LittleEndian.PutUint32(meta[offHeaderCRC32C:], sum)
}

// VerifyCRC reports whether the header's stored checksum matches its
// content.
func VerifyCRC(meta []byte) bool {
	want := binary.LittleEndian.Uint32(meta[offHeaderCRC32C:])
	got := crc32.Checksum(meta[:offHeaderCRC32C], crcTable)
	return want == got
}
