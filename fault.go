// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"fmt"
	"os"
	"runtime/debug"
)

// FaultKind classifies a recovered access fault against the live/freed
// tables, mirroring spec.md §4.4 steps 6-7.
type FaultKind int

const (
	// FaultUnclassified is a fault the handler could not attribute to any
	// tracked allocation.
	FaultUnclassified FaultKind = iota
	// FaultOverflow is a write past the end of a still-live guarded
	// allocation (addr falls inside [userPtr, userPtr+sysSize) of a live
	// record, past its user-visible bound).
	FaultOverflow
	// FaultUseAfterFree is an access that falls within a quarantined,
	// freed allocation's address range.
	FaultUseAfterFree
)

func (k FaultKind) String() string {
	switch k {
	case FaultOverflow:
		return "overflow"
	case FaultUseAfterFree:
		return "use-after-free"
	default:
		return "unclassified"
	}
}

// FaultDiagnostic is what Engine.Guard/Engine.GuardT report for a recovered
// access fault, carrying everything spec.md §4.4 writes to the report.
type FaultDiagnostic struct {
	Kind   FaultKind
	Addr   uintptr
	Stack  []uintptr
	Record *AllocRecord
}

// faultAddr is the shape runtime.Error implements for a fault recovered
// under debug.SetPanicOnFault — the documented, non-cgo mechanism this
// package uses in place of installing a sigaction handler for SIGSEGV /
// SIGBUS (spec.md §0/§4.4).
type faultAddr interface {
	Addr() uintptr
}

// Guard runs fn with faults-as-panics enabled for the calling goroutine
// (spec.md §4.4's signal handler, Go-native form). A recovered access
// fault is classified, appended to the report, and — unlike GuardT — the
// process is terminated afterward (step 8), matching the original
// handler's unconditional exit.
func (e *Engine) Guard(fn func()) *FaultDiagnostic {
	d := e.guard(fn)
	if d != nil {
		os.Exit(1)
	}
	return d
}

// GuardT is Guard's test-only sibling: it returns the diagnostic instead
// of exiting, so spec.md §8 scenarios 3 and 4 can be asserted without
// terminating the test binary.
func (e *Engine) GuardT(fn func()) *FaultDiagnostic {
	return e.guard(fn)
}

func (e *Engine) guard(fn func()) (diag *FaultDiagnostic) {
	prev := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(prev)

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		fa, ok := r.(faultAddr)
		if !ok {
			panic(r)
		}

		diag = e.handleFault(fa.Addr())
	}()

	fn()
	return nil
}

// handleFault implements spec.md §4.4 steps 1-7. The engine's lock is
// taken so classification reads a consistent view of the live/freed
// tables, mirroring "set bypass" around the original's signal handler
// body.
func (e *Engine) handleFault(addr uintptr) *FaultDiagnostic {
	e.lock.Lock()
	defer e.lock.Unlock()

	stack := captureStack(3)
	if !isInterestingSource(e.tracker.syms, stack) {
		return nil
	}

	d := &FaultDiagnostic{Kind: FaultUnclassified, Addr: addr, Stack: stack}

	if rec, ok := e.tracker.live.predecessor(addr); ok && addr >= rec.UserPtr && addr < rec.UserPtr+uintptr(rec.SysSize) {
		d.Kind = FaultOverflow
		d.Record = rec
	} else if rec, ok := e.tracker.freed.predecessor(addr); ok && addr >= rec.UserPtr && addr < rec.UserPtr+uintptr(rec.SysSize) {
		d.Kind = FaultUseAfterFree
		d.Record = rec
	}

	e.reportFault(d)
	return d
}

func (e *Engine) reportFault(d *FaultDiagnostic) {
	f, ok := e.tracker.appendFile()
	if !ok {
		return
	}
	defer f.Close()

	pid := e.tracker.pid
	fmt.Fprintf(f, "==%d== Invalid memory access at:\n", pid)
	printCallStack(f, pid, d.Stack, e.tracker.syms, e.cfg.NoSyms)

	switch d.Kind {
	case FaultOverflow:
		blockSize := calcUserSize(uintptr(d.Record.UserSize))
		blockEnd := d.Record.UserPtr + blockSize
		fmt.Fprintf(f, "==%d==  Address %#x is %d bytes after a block of size %d alloc'd at:\n", pid, d.Addr, d.Addr-blockEnd, blockSize)
		printCallStack(f, pid, d.Record.AllocStack, e.tracker.syms, e.cfg.NoSyms)
	case FaultUseAfterFree:
		blockSize := calcUserSize(uintptr(d.Record.UserSize))
		blockEnd := d.Record.UserPtr + blockSize
		if d.Addr < blockEnd {
			fmt.Fprintf(f, "==%d==  Address %#x is %d bytes inside a block of size %d free'd at:\n", pid, d.Addr, d.Addr-d.Record.UserPtr, blockSize)
		} else {
			fmt.Fprintf(f, "==%d==  Address %#x is %d bytes after a block of size %d free'd at:\n", pid, d.Addr, d.Addr-blockEnd, blockSize)
		}
		printCallStack(f, pid, d.Record.FreeStack, e.tracker.syms, e.cfg.NoSyms)
		fmt.Fprintf(f, "==%d==  Block was alloc'd at:\n", pid)
		printCallStack(f, pid, d.Record.AllocStack, e.tracker.syms, e.cfg.NoSyms)
	default:
		fmt.Fprintf(f, "==%d==  Address %#x is not inside any known block\n", pid, d.Addr)
	}
	fmt.Fprintf(f, "==%d== \n", pid)
}
