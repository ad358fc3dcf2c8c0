// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// signalFromNumber turns the raw HU_SIGNO value into an os.Signal.
// syscall.Signal implements os.Signal on every port the standard library
// supports, so this needs no platform split unlike the mmap/guard code.
func signalFromNumber(signo int) os.Signal { return syscall.Signal(signo) }

// signalWatcher is the on-demand report path of spec.md §6.1's "signal
// number" external interface: an explicit, cancellable goroutine instead
// of a raw sigaction handler, which §4.4 reserves for access faults only.
// Grounded on the corpus's own supervised-background-goroutine pattern
// (other_examples' e2b-dev-infra uffd.Userfaultfd keeps its event loop in
// an errgroup.Group).
type signalWatcher struct {
	sig    os.Signal
	engine *Engine
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	ch     chan os.Signal
}

func newSignalWatcher(signo int, e *Engine, log zerolog.Logger) *signalWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	return &signalWatcher{
		sig:    signalFromNumber(signo),
		engine: e,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		group:  group,
		ch:     make(chan os.Signal, 1),
	}
}

func (w *signalWatcher) start() {
	signal.Notify(w.ch, w.sig)
	w.group.Go(func() error {
		for {
			select {
			case <-w.ctx.Done():
				signal.Stop(w.ch)
				return nil
			case <-w.ch:
				w.log.Info().Msg("on-demand report signal received")
				w.engine.Report()
			}
		}
	})
}

// stop cancels the watcher and waits for it to exit. The watcher
// goroutine returns nil on cancellation, so Wait's result is discarded.
func (w *signalWatcher) stop() {
	w.cancel()
	_ = w.group.Wait()
}
