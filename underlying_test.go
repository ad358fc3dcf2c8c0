// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"math"
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
	"github.com/stretchr/testify/require"
)

// quota mirrors the teacher's all_test.go budget: allocate this many bytes
// total across randomly sized blocks before freeing them all back.
const underlyingQuota = 64 << 20

func TestUnderlyingAllocatorRandomAllocFree(t *testing.T) {
	var a UnderlyingAllocator
	defer a.Close()

	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	require.NoError(t, err)
	rng.Seed(42)

	const max = 4096
	rem := underlyingQuota
	var ptrs []uintptr
	var sizes []int

	for rem > 0 {
		size := rng.Next()%max + 1
		rem -= size

		ptr, err := a.Malloc(uintptr(size))
		require.NoError(t, err)
		require.NotZero(t, ptr)

		b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
		for i := range b {
			b[i] = byte(i)
		}

		ptrs = append(ptrs, ptr)
		sizes = append(sizes, size)
	}

	for i, ptr := range ptrs {
		b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), sizes[i])
		for j, v := range b {
			require.Equal(t, byte(j), v)
		}
		require.NoError(t, a.Free(ptr))
	}

	require.Zero(t, a.bytes)
}

func TestUnderlyingAllocatorMallocZero(t *testing.T) {
	var a UnderlyingAllocator
	ptr, err := a.Malloc(0)
	require.NoError(t, err)
	require.Zero(t, ptr)
}

func TestUnderlyingAllocatorCalloc(t *testing.T) {
	var a UnderlyingAllocator
	defer a.Close()

	ptr, err := a.Calloc(8, 16)
	require.NoError(t, err)
	require.NotZero(t, ptr)

	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), 8*16)
	for _, v := range b {
		require.Zero(t, v)
	}
	require.NoError(t, a.Free(ptr))
}

func TestUnderlyingAllocatorRealloc(t *testing.T) {
	var a UnderlyingAllocator
	defer a.Close()

	ptr, err := a.Malloc(32)
	require.NoError(t, err)
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), 32)
	for i := range b {
		b[i] = byte(i)
	}

	grown, err := a.Realloc(ptr, 4096)
	require.NoError(t, err)
	require.NotZero(t, grown)

	gb := unsafe.Slice((*byte)(unsafe.Pointer(grown)), 32)
	for i, v := range gb {
		require.Equal(t, byte(i), v)
	}

	require.NoError(t, a.Free(grown))
}
