package rowlockipc_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlumdash/rowlockipc/internal/ipcos"
	"github.com/sqlumdash/rowlockipc/internal/tableslot"
	"github.com/sqlumdash/rowlockipc/pkg/rowlockipc"
)

func Test_UnlockRecordsForProcess_Removes_Only_The_Targeted_Processs_Locks(t *testing.T) {
	t.Parallel()

	h1, h2 := twoHandles(t)

	require.NoError(t, h1.LockRecord(1, 1))
	require.NoError(t, h1.LockRecord(1, 2))
	require.NoError(t, h2.LockRecord(1, 3))

	// Both handles are in this test process, so sweeping our own pid
	// removes every row lock regardless of which handle acquired it.
	removed, err := h1.UnlockRecordsForProcess(ipcos.ProcessName(int32(os.Getpid())))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	stats, err := h1.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.RowLocks)
}

func Test_UnlockRecordsForProcess_Is_A_No_Op_For_An_Unrelated_Pid(t *testing.T) {
	t.Parallel()

	h, err := rowlockipc.Init(rowlockipc.Options{Path: dbPath(t)})
	require.NoError(t, err)
	defer h.Finish()

	require.NoError(t, h.LockRecord(1, 1))

	removed, err := h.UnlockRecordsForProcess(ipcos.ProcessName(1 << 30))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func Test_UnlockTablesForProcess_Removes_Only_The_Targeted_Processs_Locks(t *testing.T) {
	t.Parallel()

	h, err := rowlockipc.Init(rowlockipc.Options{Path: dbPath(t)})
	require.NoError(t, err)
	defer h.Finish()

	_, err = h.LockTable(5, tableslot.ModeWrite)
	require.NoError(t, err)

	removed, err := h.UnlockTablesForProcess(ipcos.ProcessName(int32(os.Getpid())))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	mode, err := h.QueryTableLock(5)
	require.NoError(t, err)
	assert.Equal(t, tableslot.ModeNone, mode)
}

func Test_SweepRecordsForProcess_Opens_Its_Own_Handle_And_Removes_Matching_Locks(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	h, err := rowlockipc.Init(rowlockipc.Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, h.LockRecord(1, 1))

	// h is deliberately never Finished: Finish now sweeps its own owner's
	// locks before unmapping, which would remove this one before the
	// recovery sweeper below got a chance to. Leaving h open simulates a
	// process that died holding the lock instead of shutting down
	// gracefully.

	removed, err := rowlockipc.SweepRecordsForProcess(path, ipcos.ProcessName(int32(os.Getpid())))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
