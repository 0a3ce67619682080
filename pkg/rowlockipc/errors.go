package rowlockipc

import (
	"errors"
)

var (
	// ErrLocked is returned when a row or table lock conflicts with a lock
	// already held by a different owner.
	ErrLocked = errors.New("rowlockipc: already locked by another owner")

	// ErrOutOfMemory is returned when a lock table's probe wraps without
	// finding either the target or a free slot. Capacity minus one slot
	// is always reserved empty, so this means the table is full.
	ErrOutOfMemory = errors.New("rowlockipc: lock table is full")

	// ErrCantOpen is returned when a backing mapping file cannot be
	// created or opened.
	ErrCantOpen = errors.New("rowlockipc: cannot open backing file")

	// ErrIOSeek is returned when sizing a backing file, or reading a
	// presence count, fails.
	ErrIOSeek = errors.New("rowlockipc: seek/truncate failed")

	// ErrIOWrite is returned when a write to a backing or presence file
	// fails.
	ErrIOWrite = errors.New("rowlockipc: write failed")

	// ErrIOMmap is returned when a backing file cannot be mapped.
	ErrIOMmap = errors.New("rowlockipc: mmap failed")

	// ErrCorrupt is returned when an already-initialized mapping's header
	// fails its checksum. A header without the expected magic is treated
	// as uninitialized and rewritten, and a capacity different from the
	// requested one is adopted; neither returns ErrCorrupt.
	ErrCorrupt = errors.New("rowlockipc: lock table header is corrupt")

	// ErrInvalidOptions is returned when Init is called with options that
	// cannot produce a usable lock table.
	ErrInvalidOptions = errors.New("rowlockipc: invalid options")
)

// There is no ErrInternal sentinel: an invariant violation deep enough to
// leave the shared mapping in an indeterminate state has no well-defined
// error return, since the caller cannot safely continue operating on the
// mapping either way. ipctable.Table.Delete panics instead, the Go
// realization of the original design's "fatal, abort the process".
