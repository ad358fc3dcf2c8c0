package heapusage

import (
	"math"
	"sort"
	"testing"

	"github.com/cznic/mathutil"
	"github.com/stretchr/testify/require"
)

func TestOrderedTableInsertGetRemove(t *testing.T) {
	tab := newOrderedTable()
	rec := &AllocRecord{UserPtr: 0x1000, UserSize: 16}
	tab.insert(rec)

	got, ok := tab.get(0x1000)
	require.True(t, ok)
	require.Equal(t, rec, got)

	tab.remove(0x1000)
	_, ok = tab.get(0x1000)
	require.False(t, ok)
}

func TestOrderedTablePredecessor(t *testing.T) {
	tab := newOrderedTable()
	for _, ptr := range []uintptr{0x1000, 0x2000, 0x3000} {
		tab.insert(&AllocRecord{UserPtr: ptr, UserSize: 0x10})
	}

	rec, ok := tab.predecessor(0x2500)
	require.True(t, ok)
	require.Equal(t, uintptr(0x2000), rec.UserPtr)

	rec, ok = tab.predecessor(0x2000)
	require.True(t, ok)
	require.Equal(t, uintptr(0x2000), rec.UserPtr)

	_, ok = tab.predecessor(0x500)
	require.False(t, ok)
}

func TestOrderedTableRandomOrderStaysSorted(t *testing.T) {
	tab := newOrderedTable()
	rng, err := mathutil.NewFC32(1, math.MaxInt32, true)
	require.NoError(t, err)
	rng.Seed(7)

	var ptrs []uintptr
	for i := 0; i < 2000; i++ {
		ptr := uintptr(rng.Next())
		if _, exists := tab.get(ptr); exists {
			continue
		}
		ptrs = append(ptrs, ptr)
		tab.insert(&AllocRecord{UserPtr: ptr})
	}

	require.True(t, sort.SliceIsSorted(tab.keys, func(i, j int) bool { return tab.keys[i] < tab.keys[j] }))
	require.Equal(t, len(ptrs), tab.len())

	for _, ptr := range ptrs[:len(ptrs)/2] {
		tab.remove(ptr)
	}
	require.True(t, sort.SliceIsSorted(tab.keys, func(i, j int) bool { return tab.keys[i] < tab.keys[j] }))
}

func TestOrderedTableEachAscending(t *testing.T) {
	tab := newOrderedTable()
	for _, ptr := range []uintptr{0x30, 0x10, 0x20} {
		tab.insert(&AllocRecord{UserPtr: ptr})
	}

	var seen []uintptr
	tab.each(func(rec *AllocRecord) { seen = append(seen, rec.UserPtr) })
	require.Equal(t, []uintptr{0x10, 0x20, 0x30}, seen)
}
