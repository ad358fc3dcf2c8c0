package heapusage

import (
	"fmt"
	"os"
)

// EventKind distinguishes the two events the tracker observes, mirroring
// spec.md §4.2's EVENT_MALLOC / EVENT_FREE.
type EventKind int

const (
	// EventMalloc reports a successful allocation.
	EventMalloc EventKind = iota + 1
	// EventFree reports a deallocation request.
	EventFree
)

// AllocRecord is one live or recently-freed block (spec.md §3).
type AllocRecord struct {
	UserPtr  uintptr
	UserSize uint64

	// SysPtr/SysSize are populated only in guarded mode; equal to
	// UserPtr/UserSize otherwise.
	SysPtr  uintptr
	SysSize uint64

	AllocStack []uintptr
	FreeStack  []uintptr

	// Count is used only inside the reporter's grouped view: the number
	// of blocks sharing AllocStack.
	Count int
}

// Counters are the running, mostly-monotonic totals of spec.md §3.
type Counters struct {
	TotalAllocs       uint64
	TotalFrees        uint64
	TotalAllocBytes   uint64
	CurrentAllocBytes uint64
	PeakAllocBytes    uint64
}

// tracker implements C2: per-pointer bookkeeping, counters, and the
// invalid-deallocation diagnostic. Every method assumes the caller already
// holds the Engine's reentrantMutex — the tracker itself does not lock,
// exactly as the original's allocations/symbol_cache maps are touched only
// from inside log_event's critical section.
type tracker struct {
	cfg Config

	live  *orderedTable
	freed *orderedTable

	counters Counters
	enabled  bool

	syms *symbolCache
	out  *os.File

	pid int
}

func newTracker(cfg Config, syms *symbolCache) (*tracker, error) {
	t := &tracker{
		cfg:   cfg,
		live:  newOrderedTable(),
		freed: newOrderedTable(),
		syms:  syms,
		pid:   os.Getpid(),
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "heapusage error: unable to open output file (%s) for writing\n", cfg.Output)
		return t, err
	}
	defer f.Close()

	fmt.Fprintf(f, "==%d== Heapusage - https://github.com/d99kris/heapusage\n", t.pid)
	fmt.Fprintf(f, "==%d== \n", t.pid)
	return t, nil
}

// enable toggles whether logEvent records anything (spec.md §4.2 log_enable).
func (t *tracker) enable(on bool) { t.enabled = on }

// appendFile opens the report destination in append mode, matching
// spec.md §4.2/§4.4's "open in append mode" contract. Failure to open is
// silent/best-effort (spec.md §7.2/§4.5).
func (t *tracker) appendFile() (*os.File, bool) {
	f, err := os.OpenFile(t.cfg.Output, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false
	}
	return f, true
}

// logEvent implements spec.md §4.2's FREE branch, and the MALLOC branch
// for the non-guarded case where sys_ptr/sys_size equal user_ptr/size.
// skip is the number of additional frames to elide from the captured
// stack (so a caller several layers above the wrapper can still land on
// the right frame).
func (t *tracker) logEvent(kind EventKind, ptr uintptr, size uint64, skip int) {
	if !t.enabled {
		return
	}

	switch kind {
	case EventMalloc:
		t.logMalloc(ptr, size, ptr, size, skip+1)
	case EventFree:
		t.logFree(ptr, skip+1)
	}
}

// logMalloc is logEvent's MALLOC branch with explicit sys_ptr/sys_size,
// used directly by Engine.Malloc/Calloc when the guarded allocator is
// involved: the fault handler's overflow classification (fault.go) needs
// the real mapped extent, not just the user-visible size, to tell an
// in-bounds write from a guard-page write.
func (t *tracker) logMalloc(ptr uintptr, size uint64, sysPtr uintptr, sysSize uint64, skip int) {
	if ptr == 0 {
		return
	}
	if size < t.cfg.MinSize {
		return
	}

	// The address is being reused; any stale freed-table entry for it no
	// longer describes live memory.
	t.freed.remove(ptr)

	rec := &AllocRecord{
		UserPtr:    ptr,
		UserSize:   size,
		SysPtr:     sysPtr,
		SysSize:    sysSize,
		AllocStack: captureStack(skip + 1),
		Count:      1,
	}
	t.live.insert(rec)

	t.counters.TotalAllocs++
	t.counters.TotalAllocBytes += size
	t.counters.CurrentAllocBytes += size
	if t.counters.CurrentAllocBytes > t.counters.PeakAllocBytes {
		t.counters.PeakAllocBytes = t.counters.CurrentAllocBytes
	}
}

func (t *tracker) logFree(ptr uintptr, skip int) {
	if ptr == 0 {
		return
	}

	if rec, ok := t.live.get(ptr); ok {
		t.counters.CurrentAllocBytes -= rec.UserSize
		t.live.remove(ptr)
		if t.cfg.UseAfterFree || t.cfg.DoubleFree {
			rec.FreeStack = captureStack(skip + 1)
			t.freed.insert(rec)
		}
		t.counters.TotalFrees++
		return
	}

	t.counters.TotalFrees++

	if !t.cfg.DoubleFree {
		return
	}

	prior, ok := t.freed.get(ptr)
	if !ok {
		return
	}

	currentStack := captureStack(skip + 1)
	if !isInterestingSource(t.syms, currentStack) {
		return
	}

	t.reportInvalidDeallocation(ptr, currentStack, prior)
}

func (t *tracker) reportInvalidDeallocation(ptr uintptr, currentStack []uintptr, prior *AllocRecord) {
	f, ok := t.appendFile()
	if !ok {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "==%d== Invalid deallocation at:\n", t.pid)
	printCallStack(f, t.pid, currentStack, t.syms, t.cfg.NoSyms)
	fmt.Fprintf(f, "==%d==  Address %#x is a block of size %d free'd at:\n", t.pid, ptr, prior.UserSize)
	printCallStack(f, t.pid, prior.FreeStack, t.syms, t.cfg.NoSyms)
	fmt.Fprintf(f, "==%d==  Block was alloc'd at:\n", t.pid)
	printCallStack(f, t.pid, prior.AllocStack, t.syms, t.cfg.NoSyms)
	fmt.Fprintf(f, "==%d== \n", t.pid)
}

// removeFreedAllocation drops a stale FreedTable entry once the guarded
// allocator has permanently reclaimed the block from quarantine (spec.md
// §3's FreedTable lifecycle, invoked from guarded.go).
func (t *tracker) removeFreedAllocation(ptr uintptr) {
	t.freed.remove(ptr)
}
