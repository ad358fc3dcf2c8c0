package heapusage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, cfg Config) *tracker {
	t.Helper()
	cfg.Output = filepath.Join(t.TempDir(), "hulog.txt")
	tr, err := newTracker(cfg, newSymbolCache(nil))
	require.NoError(t, err)
	tr.enable(true)
	return tr
}

func TestTrackerLogMallocAndFree(t *testing.T) {
	tr := newTestTracker(t, Config{})

	tr.logEvent(EventMalloc, 0x1000, 64, 0)
	rec, ok := tr.live.get(0x1000)
	require.True(t, ok)
	require.EqualValues(t, 64, rec.UserSize)
	require.EqualValues(t, 1, tr.counters.TotalAllocs)
	require.EqualValues(t, 64, tr.counters.CurrentAllocBytes)

	tr.logEvent(EventFree, 0x1000, 0, 0)
	_, ok = tr.live.get(0x1000)
	require.False(t, ok)
	require.EqualValues(t, 1, tr.counters.TotalFrees)
	require.Zero(t, tr.counters.CurrentAllocBytes)
}

func TestTrackerMinSizeFilter(t *testing.T) {
	tr := newTestTracker(t, Config{MinSize: 128})
	tr.logEvent(EventMalloc, 0x2000, 32, 0)
	_, ok := tr.live.get(0x2000)
	require.False(t, ok)
}

func TestTrackerDoubleFreeDiagnostic(t *testing.T) {
	tr := newTestTracker(t, Config{DoubleFree: true})

	tr.logEvent(EventMalloc, 0x3000, 16, 0)
	tr.logEvent(EventFree, 0x3000, 0, 0)
	tr.logEvent(EventFree, 0x3000, 0, 0)

	data, err := os.ReadFile(tr.cfg.Output)
	require.NoError(t, err)
	require.Contains(t, string(data), "Invalid deallocation")
}

func TestTrackerDisabledIgnoresEvents(t *testing.T) {
	tr := newTestTracker(t, Config{})
	tr.enable(false)
	tr.logEvent(EventMalloc, 0x4000, 16, 0)
	_, ok := tr.live.get(0x4000)
	require.False(t, ok)
}

func TestTrackerReuseClearsFreedEntry(t *testing.T) {
	tr := newTestTracker(t, Config{DoubleFree: true})

	tr.logEvent(EventMalloc, 0x5000, 16, 0)
	tr.logEvent(EventFree, 0x5000, 0, 0)
	_, ok := tr.freed.get(0x5000)
	require.True(t, ok)

	tr.logEvent(EventMalloc, 0x5000, 32, 0)
	_, ok = tr.freed.get(0x5000)
	require.False(t, ok)
}
