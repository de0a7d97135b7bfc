package rockyardhost

// iterator.go implements range iterators over a database or a transaction.

import (
	"bytes"

	"github.com/aalhour/rockyardhost/internal/lifecycle"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

// Iterator reads an ordered key range in batches.
//
// At most one NextBatch is in flight at a time. Seek only records its
// target; the next batch applies it before reading. Close issued during a
// batch is parked until the batch completes.
type Iterator struct {
	db  *Database
	txn *Transaction // nil for database iterators
	id  uint64

	cursor  *rangeCursor
	mode    IteratorMode
	hwm     int
	tracker *lifecycle.Tracker
	// pins are charged for the iterator's lifetime.
	pins    []*lifecycle.Tracker

	seekTarget []byte
	hasSeek    bool

	isNexting bool
	isClosing bool
	hasClosed bool
}

func newIterator(db *Database, txn *Transaction, c cursor, o *IteratorOptions) *Iterator {
	hwm := o.HighWaterMarkBytes
	if hwm <= 0 {
		hwm = DefaultHighWaterMarkBytes
	}
	it := &Iterator{
		db:     db,
		txn:    txn,
		cursor: newRangeCursor(c, newKeyRange(&o.RangeOptions)),
		mode:   o.Mode,
		hwm:    hwm,
	}
	it.tracker = lifecycle.NewTracker(logging.NSIter+"iterator", db.env.sched, db.logger)
	return it
}

// ID returns the iterator's id within its owner.
func (it *Iterator) ID() uint64 { return it.id }

// Seek repositions the iterator at target for the next batch. A target
// outside the range leaves the iterator exhausted.
func (it *Iterator) Seek(target []byte) error {
	it.db.env.assertLoop("iterator.seek")
	if it.isClosing || it.hasClosed {
		return ErrIteratorNotOpen
	}
	it.seekTarget = bytes.Clone(target)
	if it.seekTarget == nil {
		it.seekTarget = []byte{}
	}
	it.hasSeek = true
	return nil
}

// NextBatch reads up to size entries. finished is true once the range, the
// limit, or the data is exhausted.
func (it *Iterator) NextBatch(size int, cb func(entries []Entry, finished bool, err error)) {
	it.db.env.assertLoop("iterator.nextBatch")
	if cb == nil {
		cb = func([]Entry, bool, error) {}
	}
	var reject error
	switch {
	case it.isClosing || it.hasClosed:
		reject = ErrIteratorNotOpen
	case it.isNexting:
		reject = ErrIteratorBusy
	}
	if reject != nil {
		it.db.env.sched.Post(func() { cb(nil, false, reject) })
		return
	}

	target, seek := it.seekTarget, it.hasSeek
	it.seekTarget, it.hasSeek = nil, false
	it.isNexting = true

	rc, mode, hwm := it.cursor, it.mode, it.hwm
	var entries []Entry
	var more bool
	w := scheduler.NewWorkItem("iterator.next", func() (err error) {
		if seek {
			rc.seek(target)
		}
		entries, more, err = rc.readMany(size, hwm, mode)
		return err
	})
	// isNexting clears before cb so the callback may request the next batch.
	w.OK = func() {
		it.isNexting = false
		cb(entries, !more, nil)
	}
	w.Fail = func(err error) {
		it.isNexting = false
		cb(nil, false, fromEngine(err))
	}
	charge(w, it.tracker)
	it.db.env.sched.Queue(w)
}

// Close releases the engine cursor and detaches the iterator from its
// owner. Closing twice succeeds.
func (it *Iterator) Close(cb func(error)) {
	it.db.env.assertLoop("iterator.close")
	cb = orNoop(cb)
	if it.isClosing || it.hasClosed {
		it.db.env.reject(cb, nil)
		return
	}
	it.isClosing = true

	c := it.cursor.c
	w := scheduler.NewWorkItem("iterator.close", c.Close)
	w.OK = func() { it.finishClose(cb, nil) }
	w.Fail = func(err error) { it.finishClose(cb, fromEngine(err)) }
	if it.tracker.QueueOrDefer(w) {
		it.db.logger.Debugf(logging.NSIter+"%d close deferred behind batch", it.id)
	}
}

func (it *Iterator) finishClose(cb func(error), err error) {
	it.hasClosed = true
	it.isClosing = false
	for _, t := range it.pins {
		t.Decrement()
	}
	it.pins = nil
	if it.txn != nil {
		it.txn.iterators.Detach(it.id)
	} else {
		it.db.iterators.Detach(it.id)
	}
	it.db.logger.Debugf(logging.NSIter+"%d closed", it.id)
	cb(err)
}
