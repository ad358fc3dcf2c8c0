// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package heapusage

import (
	"bytes"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

const (
	protNone      = unix.PROT_NONE
	protReadWrite = unix.PROT_READ | unix.PROT_WRITE
)

// maxMapCountPressure reports whether the cumulative mprotect call count is
// past half of /proc/sys/vm/max_map_count, the same threshold
// humalloc.cpp's hu_mprotect warns at on Linux — each guard page and
// quarantine reprotection is a distinct VMA, and the kernel caps how many
// a process may hold. Absent on non-Linux kernels, where the read simply
// fails and this reports false.
func maxMapCountPressure(callCount uint64) (pressured bool, maxMapCount uint64) {
	data, err := os.ReadFile("/proc/sys/vm/max_map_count")
	if err != nil {
		return false, 0
	}

	n, err := strconv.ParseUint(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return false, 0
	}

	return callCount > n/2, n
}
