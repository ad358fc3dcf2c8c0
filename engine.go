// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"unsafe"

	"github.com/rs/zerolog"
)

// Engine is C1, the interception shell: every exported allocation method
// takes the reentrant lock and checks the call depth (a depth above one
// goes straight to the UnderlyingAllocator without recording), then
// routes the request to the guarded allocator (if enabled and the request
// qualifies) or the shared UnderlyingAllocator, logging the event to the
// tracker either way. The Engine keeps no separate bypass flag; the call
// depth is the only gate.
type Engine struct {
	cfg Config

	lock reentrantMutex

	underlying *UnderlyingAllocator
	guarded    *guardedAllocator // nil unless cfg.guardedEnabled()
	tracker    *tracker
	syms       *symbolCache
	log        zerolog.Logger

	watcher *signalWatcher // nil unless cfg.Signal != 0
}

// New constructs an Engine from cfg. The report file is created
// (truncated) immediately, matching hu_log_init; a non-nil error means the
// report destination could not be opened, but the returned Engine is still
// usable: events are still tracked and counted, and every later report
// write is silently dropped, matching the original's fail-open behavior
// for a file it treats as best-effort.
func New(cfg Config) (*Engine, error) {
	log := newDiagLogger()
	syms := newSymbolCache(nil)

	t, err := newTracker(cfg, syms)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Output).Msg("failed to open report file")
	}

	e := &Engine{
		cfg:        cfg,
		underlying: &UnderlyingAllocator{},
		tracker:    t,
		syms:       syms,
		log:        log,
	}

	if cfg.guardedEnabled() {
		e.guarded = newGuardedAllocator(cfg, e.underlying, t, log)
	}

	t.enable(true)

	if cfg.Signal != 0 {
		e.watcher = newSignalWatcher(cfg.Signal, e, log)
		e.watcher.start()
	}

	return e, err
}

// Malloc implements hu_malloc's top-level gating (spec.md §4.1/§4.3.1):
// bypass while inside the engine's own instrumentation (depth > 1),
// otherwise route to the guarded allocator when enabled, else the shared
// underlying one, logging the resulting event either way.
func (e *Engine) Malloc(size uintptr) unsafe.Pointer {
	depth := e.lock.Lock()
	defer e.lock.Unlock()

	if depth > 1 {
		ptr, _ := e.underlying.Malloc(size)
		return unsafe.Pointer(ptr)
	}

	var userPtr, sysPtr uintptr
	var sysSize uint64
	var err error
	if e.guarded != nil {
		userPtr, sysPtr, sysSize, err = e.guarded.Malloc(uint64(size))
	} else {
		userPtr, err = e.underlying.Malloc(size)
		sysPtr, sysSize = userPtr, uint64(size)
	}
	if err != nil {
		e.log.Warn().Err(err).Uint64("size", uint64(size)).Msg("allocation failed")
		return nil
	}

	e.tracker.logMalloc(userPtr, uint64(size), sysPtr, sysSize, 1)
	return unsafe.Pointer(userPtr)
}

// Free implements hu_free's top-level gating (spec.md §4.1/§4.3.2).
func (e *Engine) Free(ptr unsafe.Pointer) {
	userPtr := uintptr(ptr)
	depth := e.lock.Lock()
	defer e.lock.Unlock()

	if depth > 1 || userPtr == 0 {
		if depth > 1 {
			_ = e.underlying.Free(userPtr)
		}
		return
	}

	if e.guarded != nil {
		ok, err := e.guarded.Free(userPtr)
		if ok {
			if err != nil {
				e.log.Warn().Err(err).Msg("free failed")
			}
			e.tracker.logEvent(EventFree, userPtr, 0, 1)
			return
		}
	}

	// Only hand ptr to the underlying allocator if it actually came from
	// there: unlike the original's posix free(), UnderlyingAllocator.Free
	// dereferences ptr as a page header and has no way to validate a
	// pointer it never produced. The tracker's live table is exactly the
	// set of pointers e.underlying.Malloc has returned and not yet freed,
	// so it doubles as that validity check (spec.md §4.3.2's
	// hu_user_addrs membership test).
	if _, ok := e.tracker.live.get(userPtr); ok {
		_ = e.underlying.Free(userPtr)
	}
	e.tracker.logEvent(EventFree, userPtr, 0, 1)
}

// Calloc implements hu_calloc's top-level gating (spec.md §4.3.3).
func (e *Engine) Calloc(n, size uintptr) unsafe.Pointer {
	depth := e.lock.Lock()
	defer e.lock.Unlock()

	if depth > 1 {
		ptr, _ := e.underlying.Calloc(n, size)
		return unsafe.Pointer(ptr)
	}

	var userPtr, sysPtr uintptr
	var sysSize uint64
	var err error
	if e.guarded != nil {
		userPtr, sysPtr, sysSize, err = e.guarded.Calloc(uint64(n), uint64(size))
	} else {
		userPtr, err = e.underlying.Calloc(n, size)
		sysPtr, sysSize = userPtr, uint64(n*size)
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("calloc failed")
		return nil
	}

	e.tracker.logMalloc(userPtr, uint64(n*size), sysPtr, sysSize, 1)
	return unsafe.Pointer(userPtr)
}

// Realloc implements hu_realloc (spec.md §4.3's realloc branch): a fresh
// allocation plus copy plus free of the old block. It does this in every
// mode, for guarded and non-guarded blocks alike; it never calls
// UnderlyingAllocator.Realloc, so the result always has a new address.
func (e *Engine) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return e.Malloc(size)
	}
	if size == 0 {
		e.Free(ptr)
		return nil
	}

	newPtr := e.Malloc(size)
	if newPtr == nil {
		return nil
	}

	oldSize := e.MallocSize(ptr)
	copySize := size
	if oldSize < uint64(copySize) {
		copySize = uintptr(oldSize)
	}
	if copySize > 0 {
		dst := unsafe.Slice((*byte)(newPtr), int(copySize))
		src := unsafe.Slice((*byte)(ptr), int(copySize))
		copy(dst, src)
	}

	e.Free(ptr)
	return newPtr
}

// MallocSize implements hu_malloc_size (spec.md §4.3.5): the guarded
// branch reports the rounded user size of a live guarded allocation, the
// non-guarded branch defers to the underlying allocator's reported size —
// UnderlyingAllocator.Size plays the role of the original's malloc_size()
// query — falling back to 0 when neither knows the pointer.
func (e *Engine) MallocSize(ptr unsafe.Pointer) uint64 {
	userPtr := uintptr(ptr)
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.guarded != nil {
		if _, ok := e.guarded.lookup(userPtr); ok {
			return e.guarded.MallocSize(userPtr)
		}
	}

	// Only defer to the underlying allocator for a pointer the tracker
	// still considers live: like Engine.Free, UnderlyingAllocator.Size
	// dereferences ptr as a page header and has no way to validate a
	// pointer it never produced or has already reclaimed.
	if _, ok := e.tracker.live.get(userPtr); !ok {
		return 0
	}
	if size, ok := e.underlying.Size(userPtr); ok {
		return uint64(size)
	}
	return 0
}

// Report implements hu_report: an explicit, on-demand write of the
// current summary, independent of process exit (spec.md §4.5/§6.1).
func (e *Engine) Report() { e.Summary(true) }

// Shutdown flushes the final summary and stops the on-demand signal
// watcher, the destructor-equivalent teardown spec.md §5 describes.
func (e *Engine) Shutdown() {
	if e.watcher != nil {
		e.watcher.stop()
	}
	e.Summary(false)
}
