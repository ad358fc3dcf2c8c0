// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"os"
	"unsafe"

	"github.com/rs/zerolog"
)

// sizeMultiple is the original's double-word alignment for user
// allocations (spec.md §4.3.1): 2*sizeof(void*).
const sizeMultiple = 2 * unsafe.Sizeof(uintptr(0))

func roundUp(n, multiple uintptr) uintptr {
	if multiple == 0 {
		return n
	}
	if r := n % multiple; r != 0 {
		return n + multiple - r
	}
	return n
}

func calcUserSize(userSize uintptr) uintptr { return roundUp(userSize, sizeMultiple) }

func calcSysSize(userSize uintptr, overflow bool) uintptr {
	padded := roundUp(userSize, uintptr(pageSize))
	if overflow {
		padded += uintptr(pageSize)
	}
	return padded
}

// guardedPage is the system-level record behind one guarded user
// allocation:
//
//	<------------- N pages -------------> <--- 1 page --->
//	| - - - - - - - - - ------------------|----------------|
//	|   (pad to page)   | User Allocation | Protected Page |
//	| - - - - - - - - - ------------------|----------------|
//	^                   ^
//	|                   |
//  sysPtr            userPtr
//
// The trailing protected page only exists when overflow detection is on.
type guardedPage struct {
	userPtr  uintptr
	userSize uint64
	sysPtr   uintptr
	sysSize  int
}

// guardedAllocator implements C3's fenced allocator (spec.md §4.3):
// every guarded user allocation gets its own mmap'd region, with an
// optional trailing PROT_NONE guard page for overflow detection and, when
// use-after-free detection is on, PROT_NONE quarantine after Free instead
// of an immediate unmap. Trivial requests (size 0 or below cfg.MinSize)
// fall straight through to the shared UnderlyingAllocator, exactly as
// hu_malloc/hu_free fall through to libc's malloc/free when humalloc
// isn't applicable.
type guardedAllocator struct {
	cfg        Config
	underlying *UnderlyingAllocator
	tracker    *tracker
	log        zerolog.Logger

	// pages holds only the currently-live guarded allocations.
	pages map[uintptr]*guardedPage

	// everGuarded additionally remembers every user_ptr ever handed out by
	// this allocator, even after Free — the Go analogue of the original's
	// UserAddrs set (distinct from ActiveAllocs/pages). Without it, a
	// double free of a guarded pointer would look "not ours" once pages
	// no longer has an entry, and Engine would wrongly hand the stale
	// pointer to the underlying allocator a second time instead of
	// letting the tracker's double-free diagnostic run (spec.md §4.3.2).
	everGuarded map[uintptr]bool

	quarantine    *quarantineQueue
	mprotectCalls uint64
}

func newGuardedAllocator(cfg Config, underlying *UnderlyingAllocator, t *tracker, log zerolog.Logger) *guardedAllocator {
	return &guardedAllocator{
		cfg:         cfg,
		underlying:  underlying,
		tracker:     t,
		log:         log,
		pages:       map[uintptr]*guardedPage{},
		everGuarded: map[uintptr]bool{},
		quarantine:  newQuarantineQueue(physicalQuarantineBudget()),
	}
}

// protect wraps platformMprotect with the same call-counting diagnostic
// the original's hu_mprotect performs: on failure, warn, and on Linux
// terminate if the process is approaching /proc/sys/vm/max_map_count.
func (a *guardedAllocator) protect(addr uintptr, size int, prot int) error {
	a.mprotectCalls++
	err := platformMprotect(unsafe.Pointer(addr), size, prot)
	if err == nil {
		return nil
	}

	a.log.Warn().Err(err).Uintptr("addr", addr).Int("size", size).Int("prot", prot).Msg("mprotect failed")

	if pressured, maxMapCount := maxMapCountPressure(a.mprotectCalls); pressured {
		a.log.Error().
			Uint64("max_map_count", maxMapCount).
			Uint64("mprotect_count", a.mprotectCalls).
			Msg("approaching vm.max_map_count, try increasing it, e.g.: sudo sysctl -w vm.max_map_count=<larger value>")
		os.Exit(1)
	}

	return err
}

// Malloc implements hu_malloc (spec.md §4.3.1).
func (a *guardedAllocator) Malloc(userSize uint64) (uintptr, uintptr, uint64, error) {
	if userSize == 0 || userSize < a.cfg.MinSize {
		ptr, err := a.underlying.Malloc(uintptr(userSize))
		return ptr, ptr, userSize, err
	}

	roundedUserSize := calcUserSize(uintptr(userSize))
	sysSize := calcSysSize(roundedUserSize, a.cfg.Overflow)

	b, err := platformMmap(int(sysSize))
	if err != nil {
		// spec.md §4.3.1 step 3: failure to obtain system memory for a
		// guarded allocation is fatal, not a recoverable error — the
		// same treatment the original gives a failing posix_memalign.
		a.log.Error().Err(err).Uint64("size", userSize).Msg("guarded allocation failed, out of memory")
		os.Exit(1)
	}
	sysPtr := uintptr(unsafe.Pointer(&b[0]))

	userPtr := sysPtr
	if a.cfg.Overflow {
		postFencePtr := sysPtr + sysSize - uintptr(pageSize)
		if err := a.protect(postFencePtr, pageSize, protNone); err != nil {
			_ = platformMunmap(unsafe.Pointer(sysPtr), int(sysSize))
			return 0, 0, 0, err
		}
		userPtr = postFencePtr - roundedUserSize
	}

	a.pages[userPtr] = &guardedPage{
		userPtr:  userPtr,
		userSize: userSize,
		sysPtr:   sysPtr,
		sysSize:  int(sysSize),
	}
	a.everGuarded[userPtr] = true

	return userPtr, sysPtr, uint64(sysSize), nil
}

// Free implements hu_free's guarded branch (spec.md §4.3.2). The handled
// return reports whether userPtr belongs to this allocator's domain (live
// or previously freed); when false, the caller falls through to the
// underlying allocator. When handled is true but the pointer was not
// live, this is a double free: nothing is released here, and the event
// is left for the tracker's double-free diagnostic to report.
func (a *guardedAllocator) Free(userPtr uintptr) (handled bool, err error) {
	if !a.everGuarded[userPtr] {
		return false, nil
	}

	page, found := a.pages[userPtr]
	if !found {
		return true, nil
	}
	delete(a.pages, userPtr)

	if a.cfg.UseAfterFree {
		if err := a.protect(page.sysPtr, page.sysSize, protNone); err != nil {
			return true, err
		}

		rec := &AllocRecord{UserPtr: page.userPtr, UserSize: page.userSize, SysPtr: page.sysPtr, SysSize: uint64(page.sysSize)}
		a.quarantine.push(&quarantineEntry{rec: rec, page: page}, func(dropped *quarantineEntry) {
			a.evictQuarantine(dropped)
		})
		return true, nil
	}

	if err := a.protect(page.sysPtr, page.sysSize, protReadWrite); err != nil {
		return true, err
	}
	return true, platformMunmap(unsafe.Pointer(page.sysPtr), page.sysSize)
}

// evictQuarantine releases a quarantined page back to the OS once the
// queue exceeds its budget: unprotect, unmap, and tell the tracker the
// FreedTable entry no longer describes protected memory (spec.md §4.3.4).
func (a *guardedAllocator) evictQuarantine(e *quarantineEntry) {
	if err := a.protect(e.page.sysPtr, e.page.sysSize, protReadWrite); err != nil {
		a.log.Warn().Err(err).Msg("failed to unprotect quarantined page before release")
	}
	if err := platformMunmap(unsafe.Pointer(e.page.sysPtr), e.page.sysSize); err != nil {
		a.log.Warn().Err(err).Msg("failed to unmap quarantined page")
	}
	if a.tracker != nil {
		a.tracker.removeFreedAllocation(e.page.userPtr)
	}
}

// Calloc implements hu_calloc's guarded branch (spec.md §4.3.3).
func (a *guardedAllocator) Calloc(n, size uint64) (uintptr, uintptr, uint64, error) {
	total := n * size
	userPtr, sysPtr, sysSize, err := a.Malloc(total)
	if err != nil || userPtr == 0 {
		return userPtr, sysPtr, sysSize, err
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(userPtr)), int(total))
	for i := range b {
		b[i] = 0
	}
	return userPtr, sysPtr, sysSize, nil
}

// lookup reports the guardedPage backing a live guarded user pointer, used
// by Realloc and by MallocSize's guarded branch.
func (a *guardedAllocator) lookup(userPtr uintptr) (*guardedPage, bool) {
	p, ok := a.pages[userPtr]
	return p, ok
}

// MallocSize implements hu_malloc_size's guarded branch (spec.md §4.3.5):
// the rounded user size of a live guarded allocation, or 0 if unknown —
// Go has no portable malloc_size() to fall back to outside this
// bookkeeping (see DESIGN.md).
func (a *guardedAllocator) MallocSize(userPtr uintptr) uint64 {
	p, ok := a.lookup(userPtr)
	if !ok {
		return 0
	}
	return uint64(calcUserSize(uintptr(p.userSize)))
}
