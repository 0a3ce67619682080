package rowlockipc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlumdash/rowlockipc/pkg/rowlockipc"
)

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func Test_Init_Requires_A_Path(t *testing.T) {
	t.Parallel()

	_, err := rowlockipc.Init(rowlockipc.Options{})
	assert.ErrorIs(t, err, rowlockipc.ErrInvalidOptions)
}

func Test_Init_Finish_Round_Trips_On_A_Fresh_Database(t *testing.T) {
	t.Parallel()

	h, err := rowlockipc.Init(rowlockipc.Options{Path: dbPath(t)})
	require.NoError(t, err)

	stats, err := h.Stats()
	require.NoError(t, err)
	assert.Equal(t, rowlockipc.Stats{}, stats)

	require.NoError(t, h.Finish())
}

func Test_Second_Handle_Reattaches_To_The_Same_Mappings(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	h1, err := rowlockipc.Init(rowlockipc.Options{Path: path})
	require.NoError(t, err)
	defer h1.Finish()

	require.NoError(t, h1.LockRecord(1, 100))

	h2, err := rowlockipc.Init(rowlockipc.Options{Path: path})
	require.NoError(t, err)
	defer h2.Finish()

	stats, err := h2.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.RowLocks)

	assert.NotEqual(t, h1.Owner(), h2.Owner())
}

func Test_Second_Init_Honors_The_Capacity_Recorded_By_The_First(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	h1, err := rowlockipc.Init(rowlockipc.Options{Path: path, RowCapacity: 64})
	require.NoError(t, err)
	defer h1.Finish()

	// A different requested capacity on reattach must not panic or
	// corrupt the mapping; the on-disk capacity wins. h1 stays open so the
	// segment recorded at capacity 64 is still on disk when h2 attaches,
	// rather than being removed by h1's own last-close cleanup.
	h2, err := rowlockipc.Init(rowlockipc.Options{Path: path, RowCapacity: 4096})
	require.NoError(t, err)
	defer h2.Finish()

	require.NoError(t, h2.LockRecord(1, 1))
	stats, err := h2.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.RowLocks)
}

func Test_Init_Reports_ErrCorrupt_When_The_Row_Header_Checksum_Is_Wrong(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	h1, err := rowlockipc.Init(rowlockipc.Options{Path: path})
	require.NoError(t, err)
	defer h1.Finish()

	f, err := os.OpenFile(path+".rlock", os.O_RDWR, 0)
	require.NoError(t, err)
	var b [1]byte
	_, err = f.ReadAt(b[:], 0x10)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], 0x10)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = rowlockipc.Init(rowlockipc.Options{Path: path})
	assert.ErrorIs(t, err, rowlockipc.ErrCorrupt)
}

func Test_Finish_Removes_Mapping_Files_Once_The_Last_Handle_Closes(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	h1, err := rowlockipc.Init(rowlockipc.Options{Path: path})
	require.NoError(t, err)

	h2, err := rowlockipc.Init(rowlockipc.Options{Path: path})
	require.NoError(t, err)

	require.NoError(t, h1.Finish())

	// h2 is still open: the segment and management files must survive.
	assert.FileExists(t, path+".rlock")
	assert.FileExists(t, path+".rlock.mng")
	assert.FileExists(t, path+".tlock")
	assert.FileExists(t, path+".tlock.mng")

	require.NoError(t, h2.Finish())

	assert.NoFileExists(t, path+".rlock")
	assert.NoFileExists(t, path+".rlock.mng")
	assert.NoFileExists(t, path+".tlock")
	assert.NoFileExists(t, path+".tlock.mng")
}
