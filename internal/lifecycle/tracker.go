package lifecycle

import (
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

// Queuer hands a work item to the worker pool. *scheduler.Scheduler
// satisfies it.
type Queuer interface {
	Queue(w *scheduler.WorkItem)
}

// Tracker counts the in-flight work of a single handle and holds at most one
// deferred terminal work item (a close or commit/rollback) that is queued the
// moment the count drops to zero.
//
// The count starts at zero for every handle kind. A handle with a deferred
// item is already terminal: no new work may be attributed to it.
type Tracker struct {
	name     string
	queue    Queuer
	logger   logging.Logger
	pending  int
	deferred *scheduler.WorkItem
	terminal bool
}

// NewTracker returns a tracker for the handle called name. Deferred work is
// handed to q.
func NewTracker(name string, q Queuer, logger logging.Logger) *Tracker {
	return &Tracker{name: name, queue: q, logger: logging.OrDefault(logger)}
}

// Increment records one more unit of in-flight work.
func (t *Tracker) Increment() {
	Assertf(t.logger, !t.terminal, "%s: work attributed after terminal transition", t.name)
	t.pending++
}

// Decrement records that one unit of work has finished. When the count
// reaches zero and a terminal item is waiting, that item is queued and the
// slot is cleared.
func (t *Tracker) Decrement() {
	Assertf(t.logger, t.pending > 0, "%s: pending work underflow", t.name)
	t.pending--
	if t.pending == 0 && t.deferred != nil {
		w := t.deferred
		t.deferred = nil
		t.logger.Debugf("%s: releasing deferred %s", t.name, w.Name)
		t.queue.Queue(w)
	}
}

// HasPendingWork reports whether any work is still in flight.
func (t *Tracker) HasPendingWork() bool {
	return t.pending > 0
}

// Pending returns the in-flight count.
func (t *Tracker) Pending() int {
	return t.pending
}

// MarkTerminal flags the handle as closing. Further Increment calls are
// violations.
func (t *Tracker) MarkTerminal() {
	t.terminal = true
}

// Terminal reports whether MarkTerminal or Defer has been called.
func (t *Tracker) Terminal() bool {
	return t.terminal
}

// Defer parks w until the count drops to zero. The handle becomes terminal.
// Only one item may be parked at a time, and parking with no pending work is
// a violation (the caller should queue directly).
func (t *Tracker) Defer(w *scheduler.WorkItem) {
	Assertf(t.logger, t.deferred == nil, "%s: deferred slot already occupied by %s", t.name, nameOf(t.deferred))
	Assertf(t.logger, t.pending > 0, "%s: deferring %s with no pending work", t.name, w.Name)
	t.terminal = true
	t.deferred = w
	t.logger.Debugf("%s: deferred %s, pending=%d", t.name, w.Name, t.pending)
}

// QueueOrDefer queues w right away when nothing is in flight and otherwise
// parks it. It reports whether w was deferred.
func (t *Tracker) QueueOrDefer(w *scheduler.WorkItem) bool {
	if t.pending > 0 {
		t.Defer(w)
		return true
	}
	t.terminal = true
	t.queue.Queue(w)
	return false
}

// Deferred reports whether a terminal item is parked.
func (t *Tracker) Deferred() bool {
	return t.deferred != nil
}

func nameOf(w *scheduler.WorkItem) string {
	if w == nil {
		return "<nil>"
	}
	return w.Name
}
