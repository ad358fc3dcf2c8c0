// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heapusage implements a dynamic heap-usage analyzer engine.
//
// It is the instrumentation core of a Valgrind-memcheck-style tool: given
// a stream of allocation events (Malloc, Free, Calloc, Realloc) it tracks
// per-block metadata keyed by pointer, optionally services those requests
// through a page-fenced guarded allocator to catch buffer overflows and
// use-after-free accesses, and produces a textual report of leaks, double
// frees, and invalid accesses at teardown or on demand.
//
// A caller routes its allocation call sites through an *Engine; how those
// call sites are reached (LD_PRELOAD, DYLD_INSERT_LIBRARIES, a build-time
// wrapper, or direct calls as in this package's tests) is outside the
// scope of this package.
package heapusage
