package heapusage

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID parses the numeric id out of the header line of
// runtime.Stack, e.g. "goroutine 37 [running]:". This is the same
// technique small packages like joeycumines-go-utilpkg/goroutineid exist
// to wrap; it is reimplemented directly here rather than importing that
// module, since recursion detection is on the hot path of every wrapper
// call and the dependency's API surface wasn't available to ground a call
// against (see DESIGN.md).
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]

	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}

	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// reentrantMutex serializes every wrapper invocation behind a single,
// process-wide critical section (spec.md §5: "a single global lock
// serializes instrumentation"), while allowing the goroutine that already
// holds it to re-enter without blocking itself — the Go analogue of the
// original's PTHREAD_RECURSIVE_MUTEX. The depth that Lock returns tells
// the caller whether this is a self-reentry (depth > 1), matching §4.1
// step 3.
type reentrantMutex struct {
	held     sync.Mutex // the real cross-goroutine exclusion primitive
	ownerMu  sync.Mutex // protects owner/count below
	owner    int64
	ownerSet bool
	count    int
}

// Lock acquires the lock (blocking only if held by a different goroutine)
// and returns the call depth after acquisition.
func (m *reentrantMutex) Lock() (depth int) {
	gid := goroutineID()

	m.ownerMu.Lock()
	if m.ownerSet && m.owner == gid {
		m.count++
		depth = m.count
		m.ownerMu.Unlock()
		return depth
	}
	m.ownerMu.Unlock()

	m.held.Lock()

	m.ownerMu.Lock()
	m.owner = gid
	m.ownerSet = true
	m.count = 1
	depth = 1
	m.ownerMu.Unlock()
	return depth
}

// Unlock releases one level of recursion, releasing the underlying
// cross-goroutine lock only once the outermost call returns.
func (m *reentrantMutex) Unlock() {
	m.ownerMu.Lock()
	m.count--
	remaining := m.count
	if remaining <= 0 {
		m.ownerSet = false
		m.owner = 0
	}
	m.ownerMu.Unlock()

	if remaining <= 0 {
		m.held.Unlock()
	}
}
