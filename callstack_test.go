package heapusage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaptureStackNonEmpty(t *testing.T) {
	stack := captureStack(0)
	require.NotEmpty(t, stack)
	require.LessOrEqual(t, len(stack), maxCallStack)
}

func TestStackKeyDistinguishesOrderAndLength(t *testing.T) {
	a := []uintptr{1, 2, 3}
	b := []uintptr{1, 2, 3}
	c := []uintptr{3, 2, 1}
	d := []uintptr{1, 2}

	require.Equal(t, stackKey(a), stackKey(b))
	require.NotEqual(t, stackKey(a), stackKey(c))
	require.NotEqual(t, stackKey(a), stackKey(d))
}
