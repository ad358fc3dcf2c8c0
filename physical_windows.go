// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// physicalQuarantineBudget returns 10% of physical RAM via
// GlobalMemoryStatusEx, Windows' counterpart to the original's
// sysconf(_SC_PHYS_PAGES)-based computation.
func physicalQuarantineBudget() uint64 {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0
	}
	return status.TotalPhys / 10
}
