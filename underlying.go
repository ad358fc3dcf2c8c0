// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"unsafe"

	"github.com/cznic/mathutil"
)

const underlyingAlign = 16 // must be >= 16

var (
	underlyingHeaderSize = roundupInt(int(unsafe.Sizeof(underlyingPage{})), underlyingAlign)
	underlyingMaxSlot    = pageSize>>1 - underlyingHeaderSize
)

// roundupInt is the int-sized counterpart of roundUp (guarded.go), kept
// separate because the slab allocator below indexes fixed-size arrays by
// bit length rather than working in uintptr/uint64 like the guarded path.
func roundupInt(n, m int) int { return (n + m - 1) &^ (m - 1) }

type underlyingNode struct {
	prev, next *underlyingNode
}

type underlyingPage struct {
	brk  int
	log  uint
	size int
	used int
}

// UnderlyingAllocator is the "real libc" the original humalloc.cpp falls
// through to: a page/slab allocator adapted from the teacher's
// cznic/memory.Allocator, generalized from a []byte-returning API to a
// pointer-identity (uintptr) one so it can serve as the allocator behind
// every non-guarded, or guarded-but-trivial, request (spec.md §4.1/§4.3).
// Its zero value is ready for use.
type UnderlyingAllocator struct {
	bytes int
	cap   [64]int
	lists [64]*underlyingNode
	pages [64]*underlyingPage
	regs  map[*underlyingPage]struct{}
}

func (a *UnderlyingAllocator) mmapPage(size int) (*underlyingPage, error) {
	b, err := platformMmap(size)
	if err != nil {
		return nil, err
	}

	a.bytes += len(b)
	p := (*underlyingPage)(unsafe.Pointer(&b[0]))
	if a.regs == nil {
		a.regs = map[*underlyingPage]struct{}{}
	}
	p.size = len(b)
	a.regs[p] = struct{}{}
	return p, nil
}

func (a *UnderlyingAllocator) newPage(size int) (*underlyingPage, error) {
	p, err := a.mmapPage(size + underlyingHeaderSize)
	if err != nil {
		return nil, err
	}
	p.log = 0
	return p, nil
}

func (a *UnderlyingAllocator) newSharedPage(log uint) (*underlyingPage, error) {
	if a.cap[log] == 0 {
		a.cap[log] = (pageSize - underlyingHeaderSize) / (1 << log)
	}
	size := underlyingHeaderSize + a.cap[log]<<log
	p, err := a.mmapPage(size)
	if err != nil {
		return nil, err
	}

	a.pages[log] = p
	p.log = log
	return p, nil
}

func (a *UnderlyingAllocator) unmapPage(p *underlyingPage) error {
	delete(a.regs, p)
	return platformMunmap(unsafe.Pointer(p), p.size)
}

// Close releases all OS resources used by a and resets it to its zero
// value. Not calling Close before process exit is fine.
func (a *UnderlyingAllocator) Close() (err error) {
	for p := range a.regs {
		if e := a.unmapPage(p); e != nil && err == nil {
			err = e
		}
	}
	*a = UnderlyingAllocator{}
	return err
}

// Malloc allocates size bytes and returns the address of the first byte.
// It returns (0, nil) for a zero size, matching C's "may return NULL or a
// unique pointer" latitude by picking the simpler of the two.
func (a *UnderlyingAllocator) Malloc(size uintptr) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}

	n := int(size)
	log := uint(mathutil.BitLen(roundupInt(n, underlyingAlign) - 1))
	if 1<<log > underlyingMaxSlot {
		p, err := a.newPage(n)
		if err != nil {
			return 0, err
		}
		return uintptr(unsafe.Pointer(p)) + uintptr(underlyingHeaderSize), nil
	}

	if a.lists[log] == nil && a.pages[log] == nil {
		if _, err := a.newSharedPage(log); err != nil {
			return 0, err
		}
	}

	if p := a.pages[log]; p != nil {
		p.used++
		p.brk++
		ptr := uintptr(unsafe.Pointer(p)) + uintptr(underlyingHeaderSize+(p.brk-1)<<log)
		if p.brk == a.cap[log] {
			a.pages[log] = nil
		}
		return ptr, nil
	}

	node := a.lists[log]
	p := (*underlyingPage)(unsafe.Pointer(uintptr(unsafe.Pointer(node)) &^ uintptr(pageSize-1)))
	a.lists[log] = node.next
	if node.next != nil {
		node.next.prev = nil
	}
	p.used++
	return uintptr(unsafe.Pointer(node)), nil
}

// Calloc is like Malloc except the allocated memory is zeroed.
func (a *UnderlyingAllocator) Calloc(n, size uintptr) (uintptr, error) {
	total := n * size
	ptr, err := a.Malloc(total)
	if err != nil || ptr == 0 {
		return ptr, err
	}

	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(total))
	for i := range b {
		b[i] = 0
	}
	return ptr, nil
}

// Free deallocates memory acquired from Malloc, Calloc or Realloc.
func (a *UnderlyingAllocator) Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}

	p := (*underlyingPage)(unsafe.Pointer(ptr &^ uintptr(pageSize-1)))
	log := p.log
	if log == 0 {
		a.bytes -= p.size
		return a.unmapPage(p)
	}

	n := (*underlyingNode)(unsafe.Pointer(ptr))
	n.prev = nil
	n.next = a.lists[log]
	if n.next != nil {
		n.next.prev = n
	}
	a.lists[log] = n
	p.used--
	if p.used != 0 {
		return nil
	}

	for i := 0; i < p.brk; i++ {
		n := (*underlyingNode)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(underlyingHeaderSize+i<<log)))
		switch {
		case n.prev == nil:
			a.lists[log] = n.next
			if n.next != nil {
				n.next.prev = nil
			}
		case n.next == nil:
			n.prev.next = nil
		default:
			n.prev.next = n.next
			n.next.prev = n.prev
		}
	}

	if a.pages[log] == p {
		a.pages[log] = nil
	}
	a.bytes -= p.size
	return a.unmapPage(p)
}

// Size reports the usable size of the block at ptr, which must have been
// returned by Malloc, Calloc or Realloc. It plays the role of the
// original's malloc_size()/platform fallback (spec.md §4.3.5's non-guarded
// branch): Go has no portable "ask the allocator how big this block is"
// primitive outside its own bookkeeping, so this is that bookkeeping.
func (a *UnderlyingAllocator) Size(ptr uintptr) (uintptr, bool) {
	if ptr == 0 {
		return 0, false
	}
	p := (*underlyingPage)(unsafe.Pointer(ptr &^ uintptr(pageSize-1)))
	if p.log != 0 {
		return 1 << p.log, true
	}
	return uintptr(p.size - underlyingHeaderSize), true
}

// Realloc changes the size of the block at ptr to size bytes, copying
// min(size, old usable size) bytes and freeing the old block if it moved.
func (a *UnderlyingAllocator) Realloc(ptr uintptr, size uintptr) (uintptr, error) {
	if ptr == 0 {
		return a.Malloc(size)
	}
	if size == 0 {
		return 0, a.Free(ptr)
	}

	us, _ := a.Size(ptr)
	if us >= size {
		return ptr, nil
	}

	newPtr, err := a.Malloc(size)
	if err != nil {
		return 0, err
	}

	copySize := us
	if size < copySize {
		copySize = size
	}
	if copySize > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(newPtr)), int(copySize))
		src := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(copySize))
		copy(dst, src)
	}

	return newPtr, a.Free(ptr)
}
