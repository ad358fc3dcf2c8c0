package heapusage

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Output = filepath.Join(t.TempDir(), "hulog.txt")
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestEngineMallocFreeRoundTrip(t *testing.T) {
	e := newTestEngine(t, Config{})

	p := e.Malloc(128)
	require.NotNil(t, p)

	b := unsafe.Slice((*byte)(p), 128)
	for i := range b {
		b[i] = byte(i)
	}

	require.EqualValues(t, 128, e.MallocSize(p))
	e.Free(p)
	require.Zero(t, e.MallocSize(p))
}

func TestEngineCallocZeroesMemory(t *testing.T) {
	e := newTestEngine(t, Config{})

	p := e.Calloc(4, 32)
	require.NotNil(t, p)
	b := unsafe.Slice((*byte)(p), 4*32)
	for _, v := range b {
		require.Zero(t, v)
	}
	e.Free(p)
}

func TestEngineReallocGrowsAndPreservesData(t *testing.T) {
	e := newTestEngine(t, Config{})

	p := e.Malloc(16)
	b := unsafe.Slice((*byte)(p), 16)
	for i := range b {
		b[i] = byte(i + 1)
	}

	grown := e.Realloc(p, 4096)
	require.NotNil(t, grown)
	gb := unsafe.Slice((*byte)(grown), 16)
	for i, v := range gb {
		require.Equal(t, byte(i+1), v)
	}
	e.Free(grown)
}

func TestEngineLeakReportWritesSummary(t *testing.T) {
	e := newTestEngine(t, Config{Leak: true})

	p := e.Malloc(256)
	require.NotNil(t, p)

	e.Shutdown()

	data, err := os.ReadFile(e.cfg.Output)
	require.NoError(t, err)
	require.Contains(t, string(data), "HEAP SUMMARY")
	require.Contains(t, string(data), "LEAK SUMMARY")
}

func TestEngineFreeUnknownPointerIsNoop(t *testing.T) {
	e := newTestEngine(t, Config{})
	e.Free(unsafe.Pointer(uintptr(0xdeadbeef)))
}
