package rowlockipc

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/sqlumdash/rowlockipc/internal/ipcos"
	"github.com/sqlumdash/rowlockipc/internal/ipctable"
	"github.com/sqlumdash/rowlockipc/internal/rowslot"
	"github.com/sqlumdash/rowlockipc/internal/tableslot"
)

// Handle is one process's view of a database's row- and table-lock
// state. It is safe for concurrent use by multiple goroutines within the
// process; cross-process coordination happens through the mapped files
// it holds open.
type Handle struct {
	path   string
	owner  uint64
	logger *slog.Logger

	rowMtx   *ipcos.Mutex
	rowMap   *ipcos.Mapping
	rowClass rowslot.Class
	rowTbl   *ipctable.Table[rowslot.Key]

	tableMtx   *ipcos.Mutex
	tableMap   *ipcos.Mapping
	tableClass tableslot.Class
	tableTbl   *ipctable.Table[tableslot.Key]

	rowidMap   *ipcos.Mapping
	rowidClass tableslot.RowidClass
	rowidTbl   *ipctable.Table[int32]
}

// Init attaches to (creating if necessary) the row- and table-lock
// mappings for the database at opts.Path. Path is resolved to an
// absolute path first, so that two processes naming the same database
// from different working directories attach to the same mappings.
func Init(opts Options) (h *Handle, err error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrInvalidOptions, opts.Path, err)
	}

	h = &Handle{
		path:   absPath,
		owner:  ipcos.NewOwnerTag(),
		logger: opts.logger(),
	}

	// Keep a reference of our own: `return nil, err` sets h to nil before
	// this deferred cleanup runs.
	partial := h
	defer func() {
		if err != nil {
			partial.Finish()
		}
	}()

	h.rowClass = rowslot.Class{}
	h.rowMtx, h.rowMap, err = openClassMapping(h.rowClass.MapName(absPath), absPath+".rowlock.mtx",
		rowslot.HeaderSize, opts.rowCapacity(), rowslot.SlotSize, h.rowClass, "row")
	if err != nil {
		return nil, err
	}

	capacity := h.rowClass.Capacity(h.rowMap.Bytes()[:rowslot.HeaderSize])
	meta := h.rowMap.Bytes()[:rowslot.HeaderSize]
	data := h.rowMap.Bytes()[rowslot.HeaderSize:]
	h.rowTbl = ipctable.NewTable[rowslot.Key](h.rowClass, meta, data, capacity)

	h.tableClass = tableslot.Class{}
	h.tableMtx, h.tableMap, err = openClassMapping(h.tableClass.MapName(absPath), absPath+".tablelock.mtx",
		tableslot.HeaderSize, opts.tableCapacity(), tableslot.SlotSize, h.tableClass, "table")
	if err != nil {
		return nil, err
	}

	tcap := h.tableClass.Capacity(h.tableMap.Bytes()[:tableslot.HeaderSize])
	tmeta := h.tableMap.Bytes()[:tableslot.HeaderSize]
	tdata := h.tableMap.Bytes()[tableslot.HeaderSize:]
	h.tableTbl = ipctable.NewTable[tableslot.Key](h.tableClass, tmeta, tdata, tcap)

	// The CachedRowid directory shares its critical section with the
	// table-lock mapping rather than opening a mutex of its own: its only
	// user, AllocateRowid, runs under the table-lock mutex.
	h.rowidClass = tableslot.RowidClass{}
	h.rowidMap, err = openAuxMapping(h.rowidClass.MapName(absPath), h.tableMtx,
		tableslot.HeaderSize, opts.tableCapacity(), tableslot.RowidSlotSize, h.rowidClass, "rowid")
	if err != nil {
		return nil, err
	}

	rcap := h.rowidClass.Capacity(h.rowidMap.Bytes()[:tableslot.HeaderSize])
	rmeta := h.rowidMap.Bytes()[:tableslot.HeaderSize]
	rdata := h.rowidMap.Bytes()[tableslot.HeaderSize:]
	h.rowidTbl = ipctable.NewTable[int32](h.rowidClass, rmeta, rdata, rcap)

	return h, nil
}

// classHeader is the subset of ipctable.Class every class header shares,
// used by openClassMapping to initialize or validate a fresh mapping
// without depending on the element's key type.
type classHeader interface {
	HeaderInitialized(meta []byte) bool
	InitHeader(meta []byte, capacity uint64)
	Capacity(meta []byte) uint64
	VerifyCRC(meta []byte) bool
}

func openClassMapping[C classHeader](mapPath, mtxPath string, headerSize int, capacity uint64, slotSize int, class C, kind string) (*ipcos.Mutex, *ipcos.Mapping, error) {
	mtx, err := ipcos.OpenMutex(mtxPath)
	if err != nil {
		return nil, nil, translateErr(err)
	}

	if err := mtx.Lock(); err != nil {
		_ = mtx.Close()
		return nil, nil, fmt.Errorf("%w: acquiring %s mutex: %v", ErrCantOpen, kind, err)
	}
	defer mtx.Unlock()

	m, err := mapAndInitClass(mapPath, headerSize, capacity, slotSize, class, kind)
	if err != nil {
		_ = mtx.Close()
		return nil, nil, err
	}

	return mtx, m, nil
}

// openAuxMapping opens or initializes a mapping guarded by an already
// existing mutex, rather than one of its own.
func openAuxMapping[C classHeader](mapPath string, mtx *ipcos.Mutex, headerSize int, capacity uint64, slotSize int, class C, kind string) (*ipcos.Mapping, error) {
	if err := mtx.Lock(); err != nil {
		return nil, fmt.Errorf("%w: acquiring %s mutex: %v", ErrCantOpen, kind, err)
	}
	defer mtx.Unlock()

	return mapAndInitClass(mapPath, headerSize, capacity, slotSize, class, kind)
}

// mapAndInitClass maps mapPath sized for capacity, initializing a fresh
// header if needed. An already-initialized header is checked against its
// own CRC32-C checksum before anything else is trusted from it. If the
// file already holds a header recorded with a different capacity, the
// initial mapping (sized off the caller's requested capacity) is replaced
// with one sized off the capacity already on disk, since capacity is
// fixed at creation time and every subsequent open must honor it. Only
// once the final mapping is settled does it register itself in the
// segment's shared presence count.
func mapAndInitClass[C classHeader](mapPath string, headerSize int, capacity uint64, slotSize int, class C, kind string) (*ipcos.Mapping, error) {
	size := headerSize + int(capacity)*slotSize
	m, err := ipcos.OpenMapping(mapPath, size)
	if err != nil {
		return nil, translateErr(err)
	}

	meta := m.Bytes()[:headerSize]
	if !class.HeaderInitialized(meta) {
		class.InitHeader(meta, capacity)
	} else {
		if !class.VerifyCRC(meta) {
			_ = m.CloseKeepingPresence()
			return nil, fmt.Errorf("%w: %s header checksum mismatch", ErrCorrupt, kind)
		}

		actual := class.Capacity(meta)
		if actual != capacity {
			if err := m.CloseKeepingPresence(); err != nil {
				return nil, translateErr(err)
			}

			size = headerSize + int(actual)*slotSize
			m, err = ipcos.OpenMapping(mapPath, size)
			if err != nil {
				return nil, translateErr(err)
			}
		}
	}

	if _, err := m.AddPresence(1); err != nil {
		_ = m.CloseKeepingPresence()
		return nil, translateErr(err)
	}

	return m, nil
}

func translateErr(err error) error {
	switch {
	case errors.Is(err, ipcos.ErrCantOpen):
		return fmt.Errorf("%w: %v", ErrCantOpen, err)
	case errors.Is(err, ipcos.ErrIOSeek):
		return fmt.Errorf("%w: %v", ErrIOSeek, err)
	case errors.Is(err, ipcos.ErrIOWrite):
		return fmt.Errorf("%w: %v", ErrIOWrite, err)
	case errors.Is(err, ipcos.ErrIOMmap):
		return fmt.Errorf("%w: %v", ErrIOMmap, err)
	default:
		return err
	}
}

// Finish unlocks every row and table lock held by h's owner, then
// releases every mapping and mutex it holds. It is safe to call more
// than once.
func (h *Handle) Finish() error {
	var errs []error

	if h.rowMtx != nil && h.rowTbl != nil {
		if err := h.rowMtx.Lock(); err != nil {
			errs = append(errs, err)
		} else {
			if _, err := h.unlockRowsMatching(func(owner uint64) bool { return owner == h.owner }); err != nil {
				errs = append(errs, err)
			}
			if err := h.rowMtx.Unlock(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if h.tableMtx != nil && h.tableTbl != nil {
		if err := h.tableMtx.Lock(); err != nil {
			errs = append(errs, err)
		} else {
			if _, err := h.unlockTablesMatching(func(owner uint64) bool { return owner == h.owner }); err != nil {
				errs = append(errs, err)
			}
			if err := h.tableMtx.Unlock(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if h.rowMap != nil {
		if err := h.rowMap.Close(); err != nil {
			errs = append(errs, err)
		}
		h.rowMap = nil
	}
	if h.rowMtx != nil {
		if err := h.rowMtx.Close(); err != nil {
			errs = append(errs, err)
		}
		h.rowMtx = nil
	}
	if h.tableMap != nil {
		if err := h.tableMap.Close(); err != nil {
			errs = append(errs, err)
		}
		h.tableMap = nil
	}
	if h.tableMtx != nil {
		if err := h.tableMtx.Close(); err != nil {
			errs = append(errs, err)
		}
		h.tableMtx = nil
	}
	if h.rowidMap != nil {
		if err := h.rowidMap.Close(); err != nil {
			errs = append(errs, err)
		}
		h.rowidMap = nil
	}

	return errors.Join(errs...)
}

// Owner returns this handle's opaque owner tag, used by callers that need
// to persist it alongside their own connection state (for example, to
// report it back to a process-liveness sweeper).
func (h *Handle) Owner() uint64 { return h.owner }
