package rowlockipc

import (
	"fmt"

	"github.com/sqlumdash/rowlockipc/internal/ipcos"
	"github.com/sqlumdash/rowlockipc/internal/ipctable"
	"github.com/sqlumdash/rowlockipc/internal/rowslot"
	"github.com/sqlumdash/rowlockipc/internal/tableslot"
)

// unlockRowsMatching removes every row lock whose owner tag satisfies
// match, using the two-pass collect-then-delete shape every sweep in this
// package follows: ForEachValid mutating the table it is iterating would
// shift indices out from under the callback. The caller must already
// hold rowMtx.
func (h *Handle) unlockRowsMatching(match func(owner uint64) bool) (int, error) {
	var victims []rowslot.Key
	h.rowTbl.ForEachValid(func(idx uint64, slot []byte) bool {
		if match(h.rowClass.Owner(slot)) {
			victims = append(victims, rowslot.Key{TableID: h.rowClass.TableID(slot), RowID: h.rowClass.RowID(slot)})
		}
		return true
	})

	if len(victims) == 0 {
		return 0, nil
	}

	h.rowClass.BeginWrite(h.rowTbl.Meta, h.owner)
	defer h.rowClass.EndWrite(h.rowTbl.Meta)

	removed := 0
	for _, key := range victims {
		status, idx := h.rowTbl.Search(key)
		if status != ipctable.StatusFound {
			continue
		}
		h.rowTbl.Delete(idx)
		removed++
	}

	return removed, nil
}

// unlockTablesMatching is unlockRowsMatching for table locks. The caller
// must already hold tableMtx.
func (h *Handle) unlockTablesMatching(match func(owner uint64) bool) (int, error) {
	var victims []tableslot.Key
	h.tableTbl.ForEachValid(func(idx uint64, slot []byte) bool {
		owner := h.tableClass.Owner(slot)
		if match(owner) {
			victims = append(victims, tableslot.Key{TableID: h.tableClass.TableID(slot), Owner: owner})
		}
		return true
	})

	if len(victims) == 0 {
		return 0, nil
	}

	h.tableClass.BeginWrite(h.tableTbl.Meta, h.owner)
	defer h.tableClass.EndWrite(h.tableTbl.Meta)

	removed := 0
	for _, key := range victims {
		status, idx := h.tableTbl.Search(key)
		if status != ipctable.StatusFound {
			continue
		}
		h.tableTbl.Delete(idx)
		removed++
	}

	return removed, nil
}

// UnlockRecordsForProcess removes every row lock owned by the process
// identified by procName (formatted "pid=<N>", see [ipcos.ProcessName]),
// regardless of which Handle originally acquired them. It returns the
// number of locks removed.
//
// Callers are responsible for having already established that the
// process is dead; this method does not check.
func (h *Handle) UnlockRecordsForProcess(procName string) (int, error) {
	pid, err := ipcos.ParseProcessName(procName)
	if err != nil {
		return 0, err
	}

	if err := h.rowMtx.Lock(); err != nil {
		return 0, fmt.Errorf("rowlockipc: UnlockRecordsForProcess: %w", err)
	}
	defer h.rowMtx.Unlock()

	if err := h.recoverRowMutexIfDirty(); err != nil {
		return 0, err
	}

	return h.unlockRowsMatching(func(owner uint64) bool { return ipcos.DecodeOwnerPid(owner) == pid })
}

// UnlockTablesForProcess removes every table lock owned by the process
// identified by procName. See [Handle.UnlockRecordsForProcess] for the
// liveness-check contract.
func (h *Handle) UnlockTablesForProcess(procName string) (int, error) {
	pid, err := ipcos.ParseProcessName(procName)
	if err != nil {
		return 0, err
	}

	if err := h.tableMtx.Lock(); err != nil {
		return 0, fmt.Errorf("rowlockipc: UnlockTablesForProcess: %w", err)
	}
	defer h.tableMtx.Unlock()

	if err := h.recoverTableMutexIfDirty(); err != nil {
		return 0, err
	}

	return h.unlockTablesMatching(func(owner uint64) bool { return ipcos.DecodeOwnerPid(owner) == pid })
}

// SweepRecordsForProcess opens the row-lock mapping for the database at
// path and removes every row lock owned by the process identified by
// procName, returning the number of locks removed. It is meant to be
// called by an external process-liveness sweeper, not by a live
// connection holding its own locks.
func SweepRecordsForProcess(path string, procName string) (int, error) {
	h, err := Init(Options{Path: path})
	if err != nil {
		return 0, err
	}
	defer h.Finish()

	return h.UnlockRecordsForProcess(procName)
}

// SweepTablesForProcess is [SweepRecordsForProcess] for table locks.
func SweepTablesForProcess(path string, procName string) (int, error) {
	h, err := Init(Options{Path: path})
	if err != nil {
		return 0, err
	}
	defer h.Finish()

	return h.UnlockTablesForProcess(procName)
}
