package ipctable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlumdash/rowlockipc/internal/ipctable"
)

// intSlotSize is the fixed slot width used by the test-only class below:
// one byte validity marker followed by the key's 8-byte value.
const intSlotSize = 9

// intClass is a minimal ipctable.Class[int] used only to exercise the
// generic engine in isolation, independent of any real wire format.
type intClass struct{}

func (intClass) MapName(absPath string) string { return absPath + ".int" }
func (intClass) HeaderInitialized(meta []byte) bool {
	return len(meta) > 0 && meta[0] != 0
}
func (intClass) InitHeader(meta []byte, capacity uint64) { meta[0] = 1 }
func (intClass) Count(meta []byte) uint64                { return 0 }
func (intClass) SetCount(meta []byte, n uint64)           {}
func (intClass) SlotSize() int                            { return intSlotSize }
func (intClass) Slot(data []byte, idx uint64) []byte {
	off := idx * intSlotSize
	return data[off : off+intSlotSize]
}
func (intClass) IsValid(slot []byte) bool { return slot[0] != 0 }
func (intClass) IsTarget(slot []byte, target int) bool {
	return intClass{}.decode(slot) == target
}
func (intClass) Hash(slot []byte, capacity uint64) uint64 {
	return uint64(intClass{}.decode(slot)) % capacity
}
func (intClass) Clear(slot []byte)    { clear(slot) }
func (intClass) Copy(dst, src []byte) { copy(dst, src) }
func (intClass) Prev(idx, capacity uint64) uint64 {
	if idx == 0 {
		return capacity - 1
	}
	return idx - 1
}
func (intClass) Next(idx, capacity uint64) uint64 {
	idx++
	if idx == capacity {
		return 0
	}
	return idx
}
func (intClass) CalcHash(key int, capacity uint64) uint64 { return uint64(key) % capacity }

func (intClass) decode(slot []byte) int {
	var v int
	for i := 8; i >= 1; i-- {
		v = v<<8 | int(slot[i])
	}
	return v
}

func (intClass) encode(slot []byte, key int) {
	slot[0] = 1
	v := key
	for i := 1; i <= 8; i++ {
		slot[i] = byte(v)
		v >>= 8
	}
}

func newTestTable(t *testing.T, capacity uint64) (*ipctable.Table[int], intClass) {
	t.Helper()
	class := intClass{}
	meta := make([]byte, 1)
	data := make([]byte, capacity*intSlotSize)
	return ipctable.NewTable[int](class, meta, data, capacity), class
}

func insert(t *testing.T, tbl *ipctable.Table[int], class intClass, key int) {
	t.Helper()
	status, idx := tbl.Search(key)
	require.Equal(t, ipctable.StatusFree, status)
	tbl.Insert(idx, func(slot []byte) { class.encode(slot, key) })
}

func Test_Search_Returns_Found_When_Key_Already_Present(t *testing.T) {
	t.Parallel()

	tbl, _ := newTestTable(t, 8)
	insert(t, tbl, intClass{}, 5)

	status, idx := tbl.Search(5)

	assert.Equal(t, ipctable.StatusFound, status)
	assert.Equal(t, uint64(5), idx)
}

func Test_Search_Returns_Free_At_First_Empty_Slot_On_Probe_Chain(t *testing.T) {
	t.Parallel()

	tbl, _ := newTestTable(t, 8)
	insert(t, tbl, intClass{}, 5) // occupies 5
	insert(t, tbl, intClass{}, 13) // hashes to 5, probes to 6

	status, idx := tbl.Search(13)
	assert.Equal(t, ipctable.StatusFound, status)
	assert.Equal(t, uint64(6), idx)

	status, idx = tbl.Search(21) // hashes to 5, would probe to 7
	assert.Equal(t, ipctable.StatusFree, status)
	assert.Equal(t, uint64(7), idx)
}

// Test_Delete_Backward_Shift_Matches_Worked_Example exercises the exact
// N=8 scenario used to validate the rebalance algorithm: keys hashing to 5
// occupy slots 5, 6, 7, 0 in that probe order; deleting slot 6 must shift
// the key at slot 0 back into slot 6, leaving slot 0 empty.
func Test_Delete_Backward_Shift_Matches_Worked_Example(t *testing.T) {
	t.Parallel()

	tbl, class := newTestTable(t, 8)

	// Four keys that all hash to bucket 5 under key%8, occupying the
	// probe chain 5,6,7,0 in insertion order.
	keys := []int{5, 13, 21, 29}
	for _, k := range keys {
		insert(t, tbl, class, k)
	}

	status, idx := tbl.Search(13)
	require.Equal(t, ipctable.StatusFound, status)
	require.Equal(t, uint64(6), idx)

	tbl.Delete(idx)

	// The key that was at slot 0 (29) must have moved into slot 6.
	status, idx = tbl.Search(29)
	assert.Equal(t, ipctable.StatusFound, status)
	assert.Equal(t, uint64(6), idx)

	// Slot 0 is now empty.
	slot0 := class.Slot(tbl.Data, 0)
	assert.False(t, class.IsValid(slot0))

	// The deleted key is gone.
	status, _ = tbl.Search(13)
	assert.Equal(t, ipctable.StatusFree, status)
}

func Test_Delete_Of_Isolated_Slot_Just_Clears_It(t *testing.T) {
	t.Parallel()

	tbl, class := newTestTable(t, 8)
	insert(t, tbl, class, 42)

	status, idx := tbl.Search(42)
	require.Equal(t, ipctable.StatusFound, status)

	tbl.Delete(idx)

	status, _ = tbl.Search(42)
	assert.Equal(t, ipctable.StatusFree, status)
}

func Test_ForEachValid_Visits_Every_Occupied_Slot(t *testing.T) {
	t.Parallel()

	tbl, class := newTestTable(t, 8)
	want := map[int]bool{1: true, 2: true, 3: true}
	for k := range want {
		insert(t, tbl, class, k)
	}

	got := map[int]bool{}
	tbl.ForEachValid(func(idx uint64, slot []byte) bool {
		got[class.decode(slot)] = true
		return true
	})

	assert.Equal(t, want, got)
}
