// Package scheduler runs deferred work for the request loop.
//
// A WorkItem has an execute phase that runs on a bounded pool of worker
// goroutines and a completion phase (OK or Fail, then Finally) that runs
// serialized on the request loop. Completions are delivered in the order the
// execute phases finished, which is not necessarily the order the items were
// queued.
package scheduler

// WorkItem is a unit of deferred work.
//
// Execute runs off the request loop and must not touch loop-confined state.
// OK or Fail runs on the loop with the outcome, followed by Finally. Any of
// the hooks may be nil.
type WorkItem struct {
	// Name identifies the work in logs, e.g. "db.get" or "iterator.close".
	Name string

	// Execute performs the work. A nil Execute completes with success.
	Execute func() error

	// OK runs on the loop when Execute returned nil.
	OK func()

	// Fail runs on the loop when Execute returned an error.
	Fail func(err error)

	// Finally runs on the loop after OK or Fail.
	Finally func()

	queued bool
}

// NewWorkItem returns a WorkItem with the given name and execute phase.
func NewWorkItem(name string, execute func() error) *WorkItem {
	return &WorkItem{Name: name, Execute: execute}
}

// Queued reports whether the item has been handed to a Scheduler.
func (w *WorkItem) Queued() bool {
	return w.queued
}

func (w *WorkItem) run() error {
	if w.Execute == nil {
		return nil
	}
	return w.Execute()
}

func (w *WorkItem) complete(err error) {
	if err == nil {
		if w.OK != nil {
			w.OK()
		}
	} else if w.Fail != nil {
		w.Fail(err)
	}
	if w.Finally != nil {
		w.Finally()
	}
}
