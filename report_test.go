package heapusage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrHexWidthMatchesPointerSize(t *testing.T) {
	w := addrHexWidth()
	require.Contains(t, []int{8, 16}, w)
}

func TestPrintCallStackElidesWrapperFrame(t *testing.T) {
	var buf bytes.Buffer
	printCallStack(&buf, 1234, []uintptr{1, 2, 3}, newSymbolCache(nil), true)
	out := buf.String()
	require.Contains(t, out, "==1234==    at 0x")
	require.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("at 0x")))
}

func TestPrintCallStackEmptyStack(t *testing.T) {
	var buf bytes.Buffer
	printCallStack(&buf, 1, nil, newSymbolCache(nil), true)
	require.Contains(t, buf.String(), "empty callstack")
}

func TestGroupByStackAggregatesSharedStacks(t *testing.T) {
	tab := newOrderedTable()
	stackA := []uintptr{10, 20}
	stackB := []uintptr{30, 40}

	tab.insert(&AllocRecord{UserPtr: 1, UserSize: 16, AllocStack: stackA})
	tab.insert(&AllocRecord{UserPtr: 2, UserSize: 32, AllocStack: stackA})
	tab.insert(&AllocRecord{UserPtr: 3, UserSize: 8, AllocStack: stackB})

	groups := groupByStack(tab)
	require.Len(t, groups, 2)

	total := map[string]uint64{}
	count := map[string]int{}
	for _, g := range groups {
		total[stackKey(g.stack)] += g.size
		count[stackKey(g.stack)] = g.count
	}
	require.EqualValues(t, 48, total[stackKey(stackA)])
	require.Equal(t, 2, count[stackKey(stackA)])
	require.EqualValues(t, 8, total[stackKey(stackB)])
}
