package heapusage

import "sort"

// orderedTable backs both the LiveTable and the FreedTable of spec.md §3:
// a map for O(1) exact lookup by user_ptr, plus a sorted index for the
// "greatest key <= address" predecessor query the fault handler (C4) and
// invalid-deallocation diagnostics need. No ordered-map or B-tree library
// appears anywhere in the retrieved corpus, so this is a small
// sort.Search-based structure rather than an imported dependency (see
// DESIGN.md).
type orderedTable struct {
	byPtr map[uintptr]*AllocRecord
	keys  []uintptr // kept sorted ascending, parallel to byPtr
}

func newOrderedTable() *orderedTable {
	return &orderedTable{byPtr: map[uintptr]*AllocRecord{}}
}

func (t *orderedTable) len() int { return len(t.byPtr) }

func (t *orderedTable) get(ptr uintptr) (*AllocRecord, bool) {
	r, ok := t.byPtr[ptr]
	return r, ok
}

func (t *orderedTable) insert(rec *AllocRecord) {
	ptr := rec.UserPtr
	if _, exists := t.byPtr[ptr]; !exists {
		i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= ptr })
		t.keys = append(t.keys, 0)
		copy(t.keys[i+1:], t.keys[i:])
		t.keys[i] = ptr
	}
	t.byPtr[ptr] = rec
}

func (t *orderedTable) remove(ptr uintptr) {
	if _, exists := t.byPtr[ptr]; !exists {
		return
	}
	delete(t.byPtr, ptr)
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= ptr })
	if i < len(t.keys) && t.keys[i] == ptr {
		t.keys = append(t.keys[:i], t.keys[i+1:]...)
	}
}

// predecessor returns the record with the greatest user_ptr <= addr, as
// required by spec.md §4.4 steps 6-7 and invariant "ordered-by-address
// lookups".
func (t *orderedTable) predecessor(addr uintptr) (*AllocRecord, bool) {
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] > addr })
	if i == 0 {
		return nil, false
	}
	return t.byPtr[t.keys[i-1]], true
}

// each calls fn for every record in ascending address order.
func (t *orderedTable) each(fn func(*AllocRecord)) {
	for _, k := range t.keys {
		fn(t.byPtr[k])
	}
}
