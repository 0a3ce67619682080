package rowlockipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlumdash/rowlockipc/internal/ipctable"
	"github.com/sqlumdash/rowlockipc/internal/rowslot"
	"github.com/sqlumdash/rowlockipc/internal/tableslot"
)

// simulateCrashedRowWriter plants a row lock owned by deadOwner directly
// (bypassing LockRecord, which would use h's own owner) and leaves the
// header's Generation odd, as if deadOwner's process died between
// BeginWrite and EndWrite.
func simulateCrashedRowWriter(t *testing.T, h *Handle, tableID int32, rowID int64, deadOwner uint64) {
	t.Helper()

	key := rowslot.Key{TableID: tableID, RowID: rowID}
	status, idx := h.rowTbl.Search(key)
	require.Equal(t, ipctable.StatusFree, status)

	h.rowTbl.Insert(idx, func(slot []byte) { h.rowClass.Encode(slot, key, deadOwner) })
	h.rowClass.BeginWrite(h.rowTbl.Meta, deadOwner)
}

func simulateCrashedTableWriter(t *testing.T, h *Handle, tableID int32, deadOwner uint64, mode tableslot.Mode) {
	t.Helper()

	key := tableslot.Key{TableID: tableID, Owner: deadOwner}
	status, idx := h.tableTbl.Search(key)
	require.Equal(t, ipctable.StatusFree, status)

	h.tableTbl.Insert(idx, func(slot []byte) { h.tableClass.Encode(slot, key, mode) })
	h.tableClass.BeginWrite(h.tableTbl.Meta, deadOwner)
}

func Test_RecoverRowMutex_Sweeps_A_Crashed_Writers_Locks_On_Next_Acquisition(t *testing.T) {
	t.Parallel()

	h, err := Init(Options{Path: dbPath(t)})
	require.NoError(t, err)
	defer h.Finish()

	const deadOwner = uint64(0xDEAD0001)
	simulateCrashedRowWriter(t, h, 1, 100, deadOwner)
	require.Equal(t, uint64(1), h.rowClass.Generation(h.rowTbl.Meta)%2)

	// Any operation that acquires rowMtx observes the dirty generation and
	// sweeps deadOwner's locks before doing its own work.
	require.NoError(t, h.LockRecord(1, 200))

	stats, err := h.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.RowLocks, "the dead owner's row lock should have been swept")

	status, _ := h.rowTbl.Search(rowslot.Key{TableID: 1, RowID: 100})
	assert.Equal(t, ipctable.StatusFree, status)

	assert.Equal(t, uint64(0), h.rowClass.Generation(h.rowTbl.Meta)%2, "recovery must close out the abandoned critical section")
}

func Test_RecoverTableMutex_Sweeps_A_Crashed_Writers_Locks_On_Next_Acquisition(t *testing.T) {
	t.Parallel()

	h, err := Init(Options{Path: dbPath(t)})
	require.NoError(t, err)
	defer h.Finish()

	const deadOwner = uint64(0xDEAD0002)
	simulateCrashedTableWriter(t, h, 5, deadOwner, tableslot.ModeWrite)
	require.Equal(t, uint64(1), h.tableClass.Generation(h.tableTbl.Meta)%2)

	mode, err := h.QueryTableLock(5)
	require.NoError(t, err)
	assert.Equal(t, tableslot.ModeNone, mode, "the dead owner's table lock should have been swept")

	assert.Equal(t, uint64(0), h.tableClass.Generation(h.tableTbl.Meta)%2)
}
