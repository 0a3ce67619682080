package rowlockipc

import (
	"fmt"

	"github.com/sqlumdash/rowlockipc/internal/ipctable"
)

// AllocateRowid hands out the next rowid for tableID and advances the
// table's cached counter. The first call for a given table returns 1.
//
// This is guarded by the same mutex as the table-lock table, since the
// CachedRowid directory is a per-table auxiliary structure maintained
// alongside table locks rather than a standalone facility.
func (h *Handle) AllocateRowid(tableID int32) (int64, error) {
	if err := h.tableMtx.Lock(); err != nil {
		return 0, fmt.Errorf("rowlockipc: AllocateRowid: %w", err)
	}
	defer h.tableMtx.Unlock()

	if err := h.recoverTableMutexIfDirty(); err != nil {
		return 0, err
	}

	status, idx := h.rowidTbl.Search(tableID)

	switch status {
	case ipctable.StatusFound:
		slot := h.rowidClass.Slot(h.rowidTbl.Data, idx)
		next := h.rowidClass.NextRowid(slot)
		h.rowidClass.SetNextRowid(slot, next+1)
		return next, nil

	case ipctable.StatusFree:
		const first = int64(1)
		h.rowidTbl.Insert(idx, func(slot []byte) { h.rowidClass.Encode(slot, tableID, first+1) })
		return first, nil

	default: // StatusFull
		return 0, fmt.Errorf("%w: cached rowid directory", ErrOutOfMemory)
	}
}
