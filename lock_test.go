package heapusage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReentrantMutexSelfReentry(t *testing.T) {
	var m reentrantMutex

	d1 := m.Lock()
	require.Equal(t, 1, d1)

	d2 := m.Lock()
	require.Equal(t, 2, d2)

	m.Unlock()
	m.Unlock()
}

func TestReentrantMutexExcludesOtherGoroutines(t *testing.T) {
	var m reentrantMutex
	m.Lock()

	var wg sync.WaitGroup
	wg.Add(1)
	unlocked := make(chan struct{})

	go func() {
		defer wg.Done()
		m.Lock()
		close(unlocked)
		m.Unlock()
	}()

	select {
	case <-unlocked:
		t.Fatal("other goroutine acquired lock while held")
	default:
	}

	m.Unlock()
	wg.Wait()
}
