package rowlockipc

import (
	"fmt"

	"github.com/sqlumdash/rowlockipc/internal/ipctable"
	"github.com/sqlumdash/rowlockipc/internal/rowslot"
	"github.com/sqlumdash/rowlockipc/internal/tableslot"
)

// LockRecord acquires an exclusive lock on one row, identified by
// (tableID, rowID). Locking a row this handle already holds is a no-op.
//
// Returns [ErrLocked] if a different owner already holds the row, and
// [ErrOutOfMemory] if the row-lock table has no free slots left.
func (h *Handle) LockRecord(tableID int32, rowID int64) error {
	if err := h.rowMtx.Lock(); err != nil {
		return fmt.Errorf("rowlockipc: LockRecord: %w", err)
	}
	defer h.rowMtx.Unlock()

	if err := h.recoverRowMutexIfDirty(); err != nil {
		return err
	}

	key := rowslot.Key{TableID: tableID, RowID: rowID}
	status, idx := h.rowTbl.Search(key)

	switch status {
	case ipctable.StatusFound:
		slot := h.rowClass.Slot(h.rowTbl.Data, idx)
		if h.rowClass.Owner(slot) != h.owner {
			return fmt.Errorf("%w: table %d row %d", ErrLocked, tableID, rowID)
		}
		return nil

	case ipctable.StatusFree:
		h.rowClass.BeginWrite(h.rowTbl.Meta, h.owner)
		h.rowTbl.Insert(idx, func(slot []byte) { h.rowClass.Encode(slot, key, h.owner) })
		h.rowClass.EndWrite(h.rowTbl.Meta)
		return nil

	default: // StatusFull
		return fmt.Errorf("%w: row lock table", ErrOutOfMemory)
	}
}

// UnlockRecord releases this handle's lock on one row. Unlocking a row
// this handle does not hold is a no-op.
//
// Returns [ErrLocked] if the row is held by a different owner.
func (h *Handle) UnlockRecord(tableID int32, rowID int64) error {
	if err := h.rowMtx.Lock(); err != nil {
		return fmt.Errorf("rowlockipc: UnlockRecord: %w", err)
	}
	defer h.rowMtx.Unlock()

	if err := h.recoverRowMutexIfDirty(); err != nil {
		return err
	}

	key := rowslot.Key{TableID: tableID, RowID: rowID}
	status, idx := h.rowTbl.Search(key)
	if status != ipctable.StatusFound {
		return nil
	}

	slot := h.rowClass.Slot(h.rowTbl.Data, idx)
	if h.rowClass.Owner(slot) != h.owner {
		return fmt.Errorf("%w: table %d row %d", ErrLocked, tableID, rowID)
	}

	h.rowClass.BeginWrite(h.rowTbl.Meta, h.owner)
	h.rowTbl.Delete(idx)
	h.rowClass.EndWrite(h.rowTbl.Meta)
	return nil
}

// LockTable acquires (or promotes) this handle's lock on a table to at
// least mode, reporting the mode this handle held on the table before the
// call (ModeNone if it held none). Locking at a mode weaker than one
// already held is a no-op that leaves the stronger mode in place and
// still reports the previously held mode.
//
// Returns [ErrLocked] if mode conflicts with a lock held by a different
// owner, and [ErrOutOfMemory] if the table-lock table has no free slots
// left.
func (h *Handle) LockTable(tableID int32, mode tableslot.Mode) (tableslot.Mode, error) {
	if err := h.tableMtx.Lock(); err != nil {
		return tableslot.ModeNone, fmt.Errorf("rowlockipc: LockTable: %w", err)
	}
	defer h.tableMtx.Unlock()

	if err := h.recoverTableMutexIfDirty(); err != nil {
		return tableslot.ModeNone, err
	}

	if err := h.checkTableConflicts(tableID, mode, h.owner); err != nil {
		return tableslot.ModeNone, err
	}

	key := tableslot.Key{TableID: tableID, Owner: h.owner}
	status, idx := h.tableTbl.Search(key)

	switch status {
	case ipctable.StatusFound:
		slot := h.tableClass.Slot(h.tableTbl.Data, idx)
		prev := h.tableClass.Mode(slot)
		h.tableClass.BeginWrite(h.tableTbl.Meta, h.owner)
		h.tableClass.SetMode(slot, tableslot.Promote(prev, mode))
		h.tableClass.EndWrite(h.tableTbl.Meta)
		return prev, nil

	case ipctable.StatusFree:
		h.tableClass.BeginWrite(h.tableTbl.Meta, h.owner)
		h.tableTbl.Insert(idx, func(slot []byte) { h.tableClass.Encode(slot, key, mode) })
		h.tableClass.EndWrite(h.tableTbl.Meta)
		return tableslot.ModeNone, nil

	default: // StatusFull
		return tableslot.ModeNone, fmt.Errorf("%w: table lock table", ErrOutOfMemory)
	}
}

// checkTableConflicts reports ErrLocked if any lock held on tableID by an
// owner other than excludeOwner is incompatible with mode.
func (h *Handle) checkTableConflicts(tableID int32, mode tableslot.Mode, excludeOwner uint64) error {
	var conflict error

	h.tableTbl.ForEachValid(func(idx uint64, slot []byte) bool {
		if h.tableClass.TableID(slot) != tableID || h.tableClass.Owner(slot) == excludeOwner {
			return true
		}
		if !tableslot.Compatible(h.tableClass.Mode(slot), mode) {
			conflict = fmt.Errorf("%w: table %d", ErrLocked, tableID)
			return false
		}
		return true
	})

	return conflict
}

// QueryTableLock reports the strongest mode currently held on a table by
// any owner, ModeNone if nobody holds a lock on it.
func (h *Handle) QueryTableLock(tableID int32) (tableslot.Mode, error) {
	if err := h.tableMtx.Lock(); err != nil {
		return tableslot.ModeNone, fmt.Errorf("rowlockipc: QueryTableLock: %w", err)
	}
	defer h.tableMtx.Unlock()

	if err := h.recoverTableMutexIfDirty(); err != nil {
		return tableslot.ModeNone, err
	}

	best := tableslot.ModeNone
	h.tableTbl.ForEachValid(func(idx uint64, slot []byte) bool {
		if h.tableClass.TableID(slot) == tableID {
			best = tableslot.Promote(best, h.tableClass.Mode(slot))
		}
		return true
	})

	return best, nil
}

// UnlockTable releases this handle's lock on a table. Unlocking a table
// this handle does not hold is a no-op.
func (h *Handle) UnlockTable(tableID int32) error {
	if err := h.tableMtx.Lock(); err != nil {
		return fmt.Errorf("rowlockipc: UnlockTable: %w", err)
	}
	defer h.tableMtx.Unlock()

	if err := h.recoverTableMutexIfDirty(); err != nil {
		return err
	}

	key := tableslot.Key{TableID: tableID, Owner: h.owner}
	status, idx := h.tableTbl.Search(key)
	if status != ipctable.StatusFound {
		return nil
	}

	h.tableClass.BeginWrite(h.tableTbl.Meta, h.owner)
	h.tableTbl.Delete(idx)
	h.tableClass.EndWrite(h.tableTbl.Meta)
	return nil
}
