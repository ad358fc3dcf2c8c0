package heapusage

import "runtime"

// maxCallStack bounds captured call stacks to a fixed maximum depth,
// matching spec.md §3's AllocRecord.alloc_stack / free_stack.
const maxCallStack = 20

// captureStack records up to maxCallStack program counters, skipping the
// given number of frames (so callers can elide their own wrapper frames).
// Slot 0 is always the wrapper itself, per spec.md §4.2, and is elided by
// consumers such as printCallStack (report.go) rather than here.
func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, maxCallStack)
	n := runtime.Callers(skip+1, pcs)
	return pcs[:n]
}

// stackKey turns a callstack into a comparable Go value suitable for use
// as a map key, preserving both length and order — two stacks are equal
// iff they have the same depth and the same sequence of addresses
// (spec.md §9, "Call-stack identity for grouping").
func stackKey(stack []uintptr) string {
	// A length-prefixed byte string keeps distinct stacks (e.g. one being
	// a prefix of the other) from colliding, while still comparing equal
	// only for identical ordered sequences.
	buf := make([]byte, 0, len(stack)*8+8)
	buf = appendUintptr(buf, uintptr(len(stack)))
	for _, pc := range stack {
		buf = appendUintptr(buf, pc)
	}
	return string(buf)
}

func appendUintptr(buf []byte, v uintptr) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v))
		v >>= 8
	}
	return buf
}
