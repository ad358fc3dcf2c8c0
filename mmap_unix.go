// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Heapusage Authors.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package heapusage

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// platformMmap anonymously maps size bytes, rounded up by the kernel to a
// whole number of pages, and returns it as a byte slice. Adapted from the
// teacher's mmap_unix.go (itself from mmap-go), moved off the stdlib
// syscall package onto golang.org/x/sys/unix so this file can also expose
// platformMprotect for the guarded allocator (guarded.go) — a facility
// raw syscall does not provide portably across the platforms above.
func platformMmap(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	if uintptr(unsafe.Pointer(&b[0]))&uintptr(pageSize-1) != 0 {
		panic("internal error: mmap returned a non-page-aligned address")
	}

	return b, nil
}

func platformMunmap(addr unsafe.Pointer, size int) error {
	b := unsafe.Slice((*byte)(addr), size)
	return unix.Munmap(b)
}

// platformMprotect changes the protection of the size bytes starting at
// addr. Used by guarded.go to install and lift guard pages and quarantine
// protection — a facility the teacher's mmap files never needed, since
// cznic/memory never reprotects a page after mapping it.
func platformMprotect(addr unsafe.Pointer, size int, prot int) error {
	b := unsafe.Slice((*byte)(addr), size)
	return unix.Mprotect(b, prot)
}
