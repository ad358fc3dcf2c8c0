package heapusage

import (
	"fmt"
	"path"
	"runtime"
	"strings"
	"sync"
)

// Resolver resolves an instruction address to a human-readable frame. It
// is a collaborator of this package (spec.md §1 lists "symbol resolution"
// as deliberately external); the default implementation below is the same
// runtime.Callers/runtime.CallersFrames technique
// other_examples/4df2c74f_agaynor-arrow__go-arrow-memory-checked_allocator.go.go
// uses to print its own leak stacks, so no third-party symbolizer is
// needed to play this role idiomatically in Go.
type Resolver interface {
	Resolve(pc uintptr) (symbol string, object string)
}

type runtimeResolver struct{}

func (runtimeResolver) Resolve(pc uintptr) (string, string) {
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.Function == "" {
		return "", ""
	}

	object := ""
	if idx := strings.LastIndexByte(frame.Function, '/'); idx >= 0 {
		rest := frame.Function[idx+1:]
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			object = rest[:dot]
		}
	} else if dot := strings.IndexByte(frame.Function, '.'); dot >= 0 {
		object = frame.Function[:dot]
	}

	symbol := fmt.Sprintf("%s (%s:%d)", frame.Function, path.Base(frame.File), frame.Line)
	return symbol, object
}

// symbolCache memoizes address->symbol resolution, opaque to the rest of
// the core per spec.md §3.
type symbolCache struct {
	mu       sync.Mutex
	resolver Resolver
	symbols  map[uintptr]string
	objects  map[uintptr]string
}

func newSymbolCache(r Resolver) *symbolCache {
	if r == nil {
		r = runtimeResolver{}
	}
	return &symbolCache{
		resolver: r,
		symbols:  map[uintptr]string{},
		objects:  map[uintptr]string{},
	}
}

func (c *symbolCache) symbol(pc uintptr) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.symbols[pc]; ok {
		return s
	}
	s, o := c.resolver.Resolve(pc)
	c.symbols[pc] = s
	c.objects[pc] = o
	return s
}

// object returns the basename of the owning object for pc, used by the
// interesting-source filter (filter.go).
func (c *symbolCache) object(pc uintptr) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.objects[pc]; ok {
		return o
	}
	s, o := c.resolver.Resolve(pc)
	c.symbols[pc] = s
	c.objects[pc] = o
	return o
}
