package rowlockipc

// Stats summarizes a handle's lock table occupancy, for introspection and
// testing.
type Stats struct {
	RowLocks   uint64
	TableLocks uint64
}

// Stats reports the current occupancy of the row- and table-lock tables.
func (h *Handle) Stats() (Stats, error) {
	if err := h.rowMtx.Lock(); err != nil {
		return Stats{}, err
	}
	if err := h.recoverRowMutexIfDirty(); err != nil {
		h.rowMtx.Unlock()
		return Stats{}, err
	}
	rowCount := h.rowTbl.Count()
	if err := h.rowMtx.Unlock(); err != nil {
		return Stats{}, err
	}

	if err := h.tableMtx.Lock(); err != nil {
		return Stats{}, err
	}
	if err := h.recoverTableMutexIfDirty(); err != nil {
		h.tableMtx.Unlock()
		return Stats{}, err
	}
	tableCount := h.tableTbl.Count()
	if err := h.tableMtx.Unlock(); err != nil {
		return Stats{}, err
	}

	return Stats{RowLocks: rowCount, TableLocks: tableCount}, nil
}
