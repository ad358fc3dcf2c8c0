package heapusage

import (
	"fmt"
	"io"
	"sort"
	"strconv"
)

// addrHexWidth is 16 hex digits on 64-bit targets, 8 on 32-bit, per
// spec.md §6.3.
func addrHexWidth() int {
	if strconv.IntSize == 32 {
		return 8
	}
	return 16
}

// printCallStack writes one "at 0x..." line per frame, eliding slot 0 (the
// wrapper itself, per spec.md §4.2) and omitting the trailing ": <symbol>"
// when nosyms is set or no symbol resolves.
func printCallStack(w io.Writer, pid int, stack []uintptr, syms *symbolCache, nosyms bool) {
	if len(stack) == 0 {
		fmt.Fprintf(w, "==%d==    error: backtrace returned empty callstack\n", pid)
		return
	}

	width := addrHexWidth()
	for i := 1; i < len(stack); i++ {
		addr := stack[i]
		fmt.Fprintf(w, "==%d==    at 0x%0*x", pid, width, addr)
		if nosyms {
			fmt.Fprintln(w)
			continue
		}
		if sym := syms.symbol(addr); sym != "" {
			fmt.Fprintf(w, ": %s\n", sym)
		} else {
			fmt.Fprintln(w)
		}
	}
}

// leakGroup is one entry of spec.md §4.5's AllocByStack: all live
// allocations that share an identical alloc_stack, aggregated.
type leakGroup struct {
	stack []uintptr
	size  uint64
	count int
}

// groupByStack implements spec.md §4.5 step 1.
func groupByStack(live *orderedTable) []*leakGroup {
	index := map[string]*leakGroup{}
	var order []*leakGroup

	live.each(func(rec *AllocRecord) {
		key := stackKey(rec.AllocStack)
		g, ok := index[key]
		if !ok {
			g = &leakGroup{stack: rec.AllocStack}
			index[key] = g
			order = append(order, g)
		}
		g.size += rec.UserSize
		g.count++
	})

	return order
}

// Summary writes the report: a HEAP SUMMARY block, leak details (if
// enabled), and a LEAK SUMMARY block — spec.md §4.5 / §6.3.
//
// onDemand mirrors the original's log_summary(ondemand) parameter but is
// not used: the output is identical either way, and recording is paused
// for the duration of the write in both cases.
func (e *Engine) Summary(onDemand bool) {
	_ = onDemand
	e.tracker.enable(false)
	defer e.tracker.enable(true)

	f, ok := e.tracker.appendFile()
	if !ok {
		return
	}
	defer f.Close()

	t := e.tracker
	c := t.counters

	liveBytes := uint64(0)
	liveBlocks := 0
	t.live.each(func(rec *AllocRecord) {
		liveBytes += rec.UserSize
		liveBlocks++
	})

	fmt.Fprintf(f, "==%d== HEAP SUMMARY:\n", t.pid)
	fmt.Fprintf(f, "==%d==     in use at exit: %d bytes in %d blocks\n", t.pid, liveBytes, liveBlocks)
	fmt.Fprintf(f, "==%d==   total heap usage: %d allocs, %d frees, %d bytes allocated\n",
		t.pid, c.TotalAllocs, c.TotalFrees, c.TotalAllocBytes)
	fmt.Fprintf(f, "==%d==    peak heap usage: %d bytes allocated\n", t.pid, c.PeakAllocBytes)
	fmt.Fprintf(f, "==%d== \n", t.pid)

	if t.cfg.Leak {
		groups := groupByStack(t.live)
		sort.Slice(groups, func(i, j int) bool { return groups[i].size < groups[j].size })

		for i := len(groups) - 1; i >= 0; i-- {
			g := groups[i]
			if g.size < t.cfg.MinSize {
				continue
			}
			if !isInterestingSource(t.syms, g.stack) {
				continue
			}
			fmt.Fprintf(f, "==%d== %d bytes in %d block(s) are lost, originally allocated at:\n",
				t.pid, g.size, g.count)
			printCallStack(f, t.pid, g.stack, t.syms, t.cfg.NoSyms)
			fmt.Fprintf(f, "==%d== \n", t.pid)
		}
	}

	fmt.Fprintf(f, "==%d== LEAK SUMMARY:\n", t.pid)
	fmt.Fprintf(f, "==%d==    definitely lost: %d bytes in %d blocks\n", t.pid, liveBytes, liveBlocks)
	fmt.Fprintf(f, "==%d== \n", t.pid)
}
