package rowlockipc

// recoverRowMutexIfDirty inspects the row mapping's crash-detection
// Generation counter immediately after acquiring rowMtx. An odd
// Generation means a previous holder's critical section was never closed
// out, almost always because the owning process died mid-write. It sweeps
// every row lock recorded under that owner before the caller proceeds,
// the Go realization of spec.md's "next acquirer observes an owner-died
// status" robust-mutex behavior. The caller must already hold rowMtx.
func (h *Handle) recoverRowMutexIfDirty() error {
	meta := h.rowTbl.Meta
	if h.rowClass.Generation(meta)%2 == 0 {
		return nil
	}

	deadOwner := h.rowClass.WriterOwner(meta)
	h.rowClass.EndWrite(meta)

	h.logger.Warn("rowlockipc: previous row-lock holder died mid critical section, sweeping its locks",
		"owner", deadOwner)

	_, err := h.unlockRowsMatching(func(owner uint64) bool { return owner == deadOwner })
	return err
}

// recoverTableMutexIfDirty is recoverRowMutexIfDirty for the table-lock
// mapping. The caller must already hold tableMtx.
func (h *Handle) recoverTableMutexIfDirty() error {
	meta := h.tableTbl.Meta
	if h.tableClass.Generation(meta)%2 == 0 {
		return nil
	}

	deadOwner := h.tableClass.WriterOwner(meta)
	h.tableClass.EndWrite(meta)

	h.logger.Warn("rowlockipc: previous table-lock holder died mid critical section, sweeping its locks",
		"owner", deadOwner)

	_, err := h.unlockTablesMatching(func(owner uint64) bool { return owner == deadOwner })
	return err
}
