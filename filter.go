package heapusage

// suppressedObjects lists the basenames of owning objects whose faults or
// deallocations are never interesting — the Go analogue of the original's
// platform suppression list (currently just "libobjc.A.dylib" on Apple
// platforms: Objective-C runtime bookkeeping that legitimately frees
// memory the target program never touched directly).
var suppressedObjects = map[string]bool{
	"libobjc.A.dylib": true,
}

// isInterestingSource walks a captured stack from the deepest frame toward
// the caller, resolves the owning object of each address, and stops at the
// first frame with a non-empty object. runtime.Callers (callstack.go) fills
// index 0 with the innermost/deepest frame and the last index with the
// outermost one (runtime.main/runtime.goexit), so the walk runs forward
// from index 0. Go-runtime-internal frames are skipped rather than
// classified, since they are never themselves the classification target;
// only a frame on the suppression list causes the event to be discarded
// (spec.md §4.2.1).
func isInterestingSource(syms *symbolCache, stack []uintptr) bool {
	for i := 0; i < len(stack); i++ {
		obj := syms.object(stack[i])
		if obj == "" || obj == "runtime" {
			continue
		}
		return !suppressedObjects[obj]
	}
	return true
}
