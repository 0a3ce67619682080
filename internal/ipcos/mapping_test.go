package ipcos_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlumdash/rowlockipc/internal/ipcos"
)

// openAndRegister opens a mapping and registers one presence reference on
// it, the contract every real caller (pkg/rowlockipc's mapAndInitClass)
// follows: OpenMapping itself never touches the presence count, since the
// capacity-mismatch remap path needs to reopen a mapping without
// prematurely counting or uncounting a reference.
func openAndRegister(t *testing.T, path string, size int) *ipcos.Mapping {
	t.Helper()
	m, err := ipcos.OpenMapping(path, size)
	require.NoError(t, err)
	_, err = m.AddPresence(1)
	require.NoError(t, err)
	return m
}

func Test_OpenMapping_Creates_And_Grows_A_New_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seg")

	m := openAndRegister(t, path, 4096)
	defer m.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
	assert.Len(t, m.Bytes(), 4096)
}

func Test_OpenMapping_Changes_Are_Visible_Through_A_Second_Mapping(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seg")

	m1 := openAndRegister(t, path, 4096)
	defer m1.Close()

	m1.Bytes()[0] = 0x42

	m2 := openAndRegister(t, path, 4096)
	defer m2.Close()

	assert.Equal(t, byte(0x42), m2.Bytes()[0])
}

func Test_OpenMapping_Does_Not_Shrink_An_Existing_Larger_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seg")

	m1 := openAndRegister(t, path, 8192)
	// A second reference keeps the segment alive past m1.Close, the same
	// way a sibling Handle does in pkg/rowlockipc.
	_, err := m1.AddPresence(1)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2 := openAndRegister(t, path, 4096)
	defer m2.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), info.Size())
}
