// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Heapusage Authors.

package heapusage

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var pageSize = os.Getpagesize()

// mmap on Windows is a two-step process: CreateFileMapping gets a handle,
// MapViewOfFile gets an actual pointer into memory. Adapted from the
// teacher's mmap_windows.go, moved off stdlib syscall onto
// golang.org/x/sys/windows so this file can also expose platformMprotect
// via VirtualProtect, which the teacher's version never needed.
var handleMap = map[uintptr]windows.Handle{}

func platformMmap(size int) ([]byte, error) {
	maxSizeHigh := uint32(int64(size) >> 32)
	maxSizeLow := uint32(int64(size) & 0xFFFFFFFF)

	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, maxSizeHigh, maxSizeLow, nil)
	if h == 0 {
		return nil, os.NewSyscallError("CreateFileMapping", err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if addr == 0 {
		return nil, os.NewSyscallError("MapViewOfFile", err)
	}

	if addr&uintptr(pageSize-1) != 0 {
		panic("internal error: mmap returned a non-page-aligned address")
	}

	handleMap[addr] = h
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func platformMunmap(addr unsafe.Pointer, size int) error {
	a := uintptr(addr)
	if err := windows.UnmapViewOfFile(a); err != nil {
		return err
	}

	handle, ok := handleMap[a]
	if !ok {
		return errors.New("heapusage: unmap of unknown base address")
	}
	delete(handleMap, a)

	return windows.CloseHandle(handle)
}

// platformMprotect changes the protection of the size bytes starting at
// addr via VirtualProtect, backing the guard pages and quarantine
// protection that guarded.go installs. prot takes a Windows PAGE_*
// constant so the call signature matches platformMprotect's Unix
// counterpart (which takes a PROT_* constant), letting guarded.go stay
// platform-neutral.
func platformMprotect(addr unsafe.Pointer, size int, prot int) error {
	var old uint32
	return windows.VirtualProtect(uintptr(addr), uintptr(size), uint32(prot), &old)
}
