package rockyardhost

// teardown.go implements database close.
//
// Close never tears down engine state that a dependent handle or in-flight
// work may still touch. When work is pending, the close work item is parked
// in the database tracker and every live dependent is closed through its
// own close path. Each dependent detaches when its close completes, the
// last detach drains the tracker, and that queues the parked close.

import (
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

// Close closes the database after closing every iterator, rolling back
// every open transaction and releasing every snapshot. Closing twice
// succeeds.
func (d *Database) Close(cb func(error)) {
	d.env.assertLoop("db.close")
	cb = orNoop(cb)
	if d.isClosing || d.hasClosed {
		d.env.reject(cb, nil)
		return
	}
	d.isClosing = true

	w := scheduler.NewWorkItem("db.close", func() error {
		if d.store == nil {
			return nil
		}
		return d.store.Close()
	})
	w.OK = func() { d.finishClose(cb, nil) }
	w.Fail = func(err error) { d.finishClose(cb, fromEngine(err)) }

	if !d.tracker.QueueOrDefer(w) {
		d.logger.Debugf(logging.NSDB+"closing %s", d.location)
		return
	}
	d.logger.Debugf(logging.NSDB+"close of %s deferred, pending=%d", d.location, d.tracker.Pending())
	d.cascade()
}

// cascade closes the live dependents. Handles already on their way out are
// skipped, and so are transactions that are committing.
func (d *Database) cascade() {
	for _, it := range d.iterators.Snapshot() {
		if !it.isClosing && !it.hasClosed {
			it.Close(nil)
		}
	}
	for _, t := range d.transactions.Snapshot() {
		if !t.settled() {
			t.Rollback(nil)
		}
	}
	for _, s := range d.snapshots.Snapshot() {
		if !s.isReleasing && !s.hasReleased {
			s.Release(nil)
		}
	}
}

func (d *Database) finishClose(cb func(error), err error) {
	d.hasClosed = true
	d.isClosing = false
	d.isOpen = false
	d.store = nil
	if err != nil {
		d.logger.Warnf(logging.NSDB+"close %s: %v", d.location, err)
	} else {
		d.logger.Infof(logging.NSDB+"closed %s", d.location)
	}
	cb(err)
	d.env.detach(d)
}
