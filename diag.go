// Copyright 2017 The Heapusage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapusage

import (
	"os"

	"github.com/rs/zerolog"
)

// newDiagLogger builds the engine's ambient diagnostics logger: init
// failures, mprotect pressure, config warnings — everything that is not
// the heap/leak report itself (report.go writes that with plain
// fmt.Fprintf so its line grammar stays exactly spec.md §6.3's, untouched
// by a structured logger). Grounded on
// joeycumines-go-utilpkg/logiface-zerolog's pairing of a structured
// front-end with github.com/rs/zerolog; here zerolog is used directly
// since this package doesn't otherwise need logiface's backend-agnostic
// facade.
func newDiagLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Str("component", "heapusage").Logger()
}
