// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import "container/list"

// quarantineCap is the fallback bound on the quarantine's retained bytes,
// used by newQuarantineQueue when physicalQuarantineBudget cannot
// determine physical RAM and returns 0; otherwise the bound is 10% of
// physical RAM.
const quarantineCap = 16 << 20 // 16 MiB

// quarantineQueue is the FreedTable's protection queue (spec.md §3): freed,
// guarded blocks are kept mapped but PROT_NONE until evicted FIFO, so a
// use-after-free against a recently freed block still faults. No queue
// library appears anywhere in the retrieved corpus, so this is a thin
// wrapper over container/list (see DESIGN.md).
type quarantineQueue struct {
	l    *list.List
	size uint64
	cap  uint64
}

// quarantineEntry is the payload of each list element.
type quarantineEntry struct {
	rec  *AllocRecord
	page *guardedPage
}

func newQuarantineQueue(capBytes uint64) *quarantineQueue {
	if capBytes == 0 {
		capBytes = quarantineCap
	}
	return &quarantineQueue{l: list.New(), cap: capBytes}
}

// push enqueues a freed guarded block and evicts from the front until the
// queue is back under capacity, invoking evict for each dropped entry.
func (q *quarantineQueue) push(e *quarantineEntry, evict func(*quarantineEntry)) {
	q.l.PushBack(e)
	q.size += e.rec.SysSize

	for q.size > q.cap {
		front := q.l.Front()
		if front == nil {
			break
		}
		dropped := q.l.Remove(front).(*quarantineEntry)
		q.size -= dropped.rec.SysSize
		evict(dropped)
	}
}

func (q *quarantineQueue) len() int { return q.l.Len() }
