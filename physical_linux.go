// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import "golang.org/x/sys/unix"

// physicalQuarantineBudget returns 10% of physical RAM, the quarantine
// ceiling spec.md §4.3 names explicitly. unix.Sysinfo gives the same
// figure sysconf(_SC_PHYS_PAGES)*sysconf(_SC_PAGE_SIZE) does in the
// original's hu_malloc_init; a failed syscall falls back to 0, which
// newQuarantineQueue treats as "use quarantineCap".
func physicalQuarantineBudget() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit) / 10
}
