package heapusage

import (
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestEngineGuardTDetectsOverflow(t *testing.T) {
	e := newTestEngine(t, Config{Overflow: true})
	e.cfg.Output = filepath.Join(t.TempDir(), "hulog.txt")

	p := e.Malloc(16)
	require.NotNil(t, p)

	diag := e.GuardT(func() {
		b := unsafe.Slice((*byte)(p), 4096)
		b[4095] = 1
	})

	require.NotNil(t, diag)
	require.Equal(t, FaultOverflow, diag.Kind)
}

func TestEngineGuardTDetectsUseAfterFree(t *testing.T) {
	e := newTestEngine(t, Config{UseAfterFree: true})

	p := e.Malloc(16)
	require.NotNil(t, p)
	e.Free(p)

	diag := e.GuardT(func() {
		b := unsafe.Slice((*byte)(p), 16)
		b[0] = 1
	})

	require.NotNil(t, diag)
	require.Equal(t, FaultUseAfterFree, diag.Kind)
}

func TestEngineGuardTNoFaultReturnsNil(t *testing.T) {
	e := newTestEngine(t, Config{})

	p := e.Malloc(16)
	require.NotNil(t, p)

	diag := e.GuardT(func() {
		b := unsafe.Slice((*byte)(p), 16)
		b[0] = 1
	})
	require.Nil(t, diag)
	e.Free(p)
}
