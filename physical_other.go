// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux && !windows

package heapusage

// physicalQuarantineBudget has no portable implementation on these
// platforms in the corpus's dependency set (unix.Sysinfo is Linux-only);
// 0 tells newQuarantineQueue to fall back to the fixed quarantineCap.
func physicalQuarantineBudget() uint64 { return 0 }
