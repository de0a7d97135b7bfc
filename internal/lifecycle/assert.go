// Package lifecycle implements the bookkeeping that makes handle teardown safe:
// a per-handle pending-work tracker with a single deferred terminal slot, and a
// per-owner registry of live dependent handles.
//
// Everything in this package is confined to the request loop. Nothing here
// performs engine I/O, and every operation is O(1) or O(log n).
//
// Invariant violations (tracker underflow, incrementing a terminal handle,
// double registration) indicate a lifecycle bug in the coordinator and abort
// with a panic wrapping logging.ErrFatal. Continuing would risk touching
// engine state that has already been released.
package lifecycle

import (
	"fmt"

	"github.com/aalhour/rockyardhost/internal/logging"
)

// Violation is the panic value raised by a failed lifecycle assertion.
type Violation struct {
	Msg string
}

func (v *Violation) Error() string {
	return "lifecycle violation: " + v.Msg
}

// Unwrap lets errors.Is(v, logging.ErrFatal) succeed.
func (v *Violation) Unwrap() error {
	return logging.ErrFatal
}

// Assertf logs at FATAL and panics with a *Violation when cond is false.
func Assertf(logger logging.Logger, cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	logging.OrDefault(logger).Fatalf("%s", msg)
	panic(&Violation{Msg: msg})
}
