package ipcos

import (
	"os"
	"sync/atomic"
)

// Owner tags identify the logical holder of a row or table lock. They are
// opaque to everything above this package: two tags are either equal or
// not, nothing else about them is inspected except by the recovery
// sweeper, which needs to recover the originating process id.
//
// A tag packs a 32-bit pid into the high half and a 32-bit per-process
// sequence number into the low half, so that two lock attempts made by
// the same OS process but distinct logical connections (or the same
// connection across Init/Finish cycles within a test) never collide.
var localSeq atomic.Uint32

// NewOwnerTag returns a fresh owner tag for the calling process.
func NewOwnerTag() uint64 {
	seq := localSeq.Add(1)
	return EncodeOwner(int32(os.Getpid()), seq)
}

// EncodeOwner packs a pid and a sequence number into one owner tag.
func EncodeOwner(pid int32, seq uint32) uint64 {
	return uint64(uint32(pid))<<32 | uint64(seq)
}

// DecodeOwnerPid extracts the originating process id from an owner tag.
func DecodeOwnerPid(owner uint64) int32 {
	return int32(owner >> 32)
}
