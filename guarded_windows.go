// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import "golang.org/x/sys/windows"

const (
	protNone      = windows.PAGE_NOACCESS
	protReadWrite = windows.PAGE_READWRITE
)

// maxMapCountPressure has no Windows analogue — VirtualAlloc/VirtualProtect
// are not subject to a Linux-style process-wide mapping-count ceiling — so
// this always reports no pressure, matching the original's #if
// defined(__linux__) guard around the same diagnostic.
func maxMapCountPressure(callCount uint64) (pressured bool, maxMapCount uint64) {
	return false, 0
}
