package rockyardhost

// database.go implements the root handle.

import (
	"bytes"
	"fmt"

	"github.com/aalhour/rockyardhost/internal/engine"
	"github.com/aalhour/rockyardhost/internal/lifecycle"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

// Database is the root handle over one engine connection.
//
// It owns three registries of dependent handles (iterators, transactions and
// snapshots) and a tracker counting its in-flight work plus every live
// dependent. Close waits for both to drain, cascading a close over the
// dependents first.
//
// All methods must be called on the request loop.
type Database struct {
	env      *Env
	id       uint64
	location string
	logger   logging.Logger

	// store is non-nil from a successful open until close completes.
	store store

	tracker      *lifecycle.Tracker
	iterators    *lifecycle.Registry[*Iterator]
	transactions *lifecycle.Registry[*Transaction]
	snapshots    *lifecycle.Registry[*Snapshot]

	isOpening bool
	isOpen    bool
	isClosing bool
	hasClosed bool
}

func newDatabase(e *Env, location string) *Database {
	d := &Database{env: e, location: location, logger: e.logger}
	d.tracker = lifecycle.NewTracker(logging.NSDB+location, e.sched, e.logger)
	d.iterators = lifecycle.NewRegistry[*Iterator](logging.NSDB+"iterators", d.tracker, e.logger)
	d.transactions = lifecycle.NewRegistry[*Transaction](logging.NSDB+"transactions", d.tracker, e.logger)
	d.snapshots = lifecycle.NewRegistry[*Snapshot](logging.NSDB+"snapshots", d.tracker, e.logger)
	return d
}

// Location returns the database directory.
func (d *Database) Location() string { return d.location }

// IsOpen reports whether the database is open and not closing.
func (d *Database) IsOpen() bool { return d.isOpen && !d.isClosing && !d.hasClosed }

// ready rejects requests unless the database is open.
func (d *Database) ready() error {
	switch {
	case d.isClosing || d.hasClosed:
		return ErrDatabaseClosed
	case !d.isOpen:
		return ErrDatabaseNotOpen
	}
	return nil
}

// pin resolves a read point to engine read options plus the trackers the
// read must be charged to.
func (d *Database) pin(rp ReadPoint, fillCache bool) (engine.ReadOptions, []*lifecycle.Tracker, error) {
	ro := engine.ReadOptions{FillCache: fillCache}
	trackers := []*lifecycle.Tracker{d.tracker}
	if rp == nil {
		return ro, trackers, nil
	}
	s, ok := rp.(*Snapshot)
	if !ok || s == nil || s.db != d {
		return ro, nil, invalidArgument("snapshot does not belong to this database")
	}
	if s.isReleasing || s.hasReleased {
		return ro, nil, ErrSnapshotReleased
	}
	ro.Snapshot = s.snap
	return ro, append(trackers, s.tracker), nil
}

func (d *Database) readOptions(o *ReadOptions) (engine.ReadOptions, []*lifecycle.Tracker, error) {
	if o == nil {
		o = DefaultReadOptions()
	}
	return d.pin(o.Snapshot, o.FillCache)
}

// Open opens the engine. Open is charged to the database so that a Close
// requested meanwhile runs after it.
func (d *Database) Open(opts *Options, cb func(error)) {
	d.env.assertLoop("db.open")
	cb = orNoop(cb)
	switch {
	case d.isClosing || d.hasClosed:
		d.env.reject(cb, ErrDatabaseClosed)
		return
	case d.isOpening || d.isOpen:
		d.env.reject(cb, invalidArgument("Database is already open"))
		return
	}
	eo, err := opts.engineOptions(d.logger)
	if err != nil {
		d.env.reject(cb, err)
		return
	}

	d.isOpening = true
	var st store
	w := scheduler.NewWorkItem("db.open", func() (err error) {
		st, err = d.env.open(d.location, eo)
		return err
	})
	w.OK = func() {
		d.isOpening = false
		d.store = st
		d.isOpen = true
		d.logger.Infof(logging.NSDB+"opened %s", d.location)
		cb(nil)
	}
	w.Fail = func(err error) {
		d.isOpening = false
		cb(fromEngine(err))
	}
	charge(w, d.tracker)
	d.env.sched.Queue(w)
}

// Get reads key. A missing key fails with NOT_FOUND.
func (d *Database) Get(key []byte, o *ReadOptions, cb func([]byte, error)) {
	d.env.assertLoop("db.get")
	ro, trackers, err := d.prepareRead(o)
	if err != nil {
		rejectWith(d.env, cb, err)
		return
	}
	key = bytes.Clone(key)
	st := d.store
	var value []byte
	w := scheduler.NewWorkItem("db.get", func() (err error) {
		value, err = st.Get(ro, key)
		return err
	})
	completeWith(w, &value, cb)
	charge(w, trackers...)
	d.env.sched.Queue(w)
}

// MultiGet reads keys at one consistent point. Missing keys yield nil.
func (d *Database) MultiGet(keys [][]byte, o *ReadOptions, cb func([][]byte, error)) {
	d.env.assertLoop("db.multiGet")
	ro, trackers, err := d.prepareRead(o)
	if err != nil {
		rejectWith(d.env, cb, err)
		return
	}
	keys = cloneAll(keys)
	st := d.store
	var values [][]byte
	w := scheduler.NewWorkItem("db.multiGet", func() (err error) {
		values, err = st.MultiGet(ro, keys)
		return err
	})
	completeWith(w, &values, cb)
	charge(w, trackers...)
	d.env.sched.Queue(w)
}

func (d *Database) prepareRead(o *ReadOptions) (engine.ReadOptions, []*lifecycle.Tracker, error) {
	if err := d.ready(); err != nil {
		return engine.ReadOptions{}, nil, err
	}
	return d.readOptions(o)
}

// Put writes key.
func (d *Database) Put(key, value []byte, o *WriteOptions, cb func(error)) {
	d.env.assertLoop("db.put")
	key, value = bytes.Clone(key), bytes.Clone(value)
	wo := o.engine()
	d.write("db.put", cb, func(st store) error { return st.Put(wo, key, value) })
}

// Delete removes key. Deleting a missing key succeeds.
func (d *Database) Delete(key []byte, o *WriteOptions, cb func(error)) {
	d.env.assertLoop("db.delete")
	key = bytes.Clone(key)
	wo := o.engine()
	d.write("db.delete", cb, func(st store) error { return st.Delete(wo, key) })
}

// BatchDo applies ops atomically.
func (d *Database) BatchDo(ops []BatchOp, o *WriteOptions, cb func(error)) {
	d.env.assertLoop("db.batchDo")
	b, err := buildBatch(ops)
	if err != nil {
		d.env.reject(cb, err)
		return
	}
	wo := o.engine()
	d.write("db.batchDo", cb, func(st store) error { return st.Write(wo, b) })
}

// write queues a tracked mutation.
func (d *Database) write(name string, cb func(error), fn func(st store) error) {
	if err := d.ready(); err != nil {
		d.env.reject(cb, err)
		return
	}
	st := d.store
	w := scheduler.NewWorkItem(name, func() error { return fn(st) })
	complete(w, cb)
	charge(w, d.tracker)
	d.env.sched.Queue(w)
}

// Clear deletes every key in the range.
func (d *Database) Clear(o *RangeOptions, w *WriteOptions, cb func(error)) {
	d.env.assertLoop("db.clear")
	if o == nil {
		o = &RangeOptions{}
	}
	ro, trackers, err := d.prepareRange(o)
	if err != nil {
		d.env.reject(cb, err)
		return
	}
	st := d.store
	bounds := newKeyRange(o)
	wo := w.engine()
	item := scheduler.NewWorkItem("db.clear", func() error {
		c, err := st.NewIterator(ro)
		if err != nil {
			return err
		}
		return clearRange(c, bounds, func(keys [][]byte) error {
			return st.Write(wo, deleteBatch(keys))
		})
	})
	complete(item, cb)
	charge(item, trackers...)
	d.env.sched.Queue(item)
}

// Count counts the keys in the range.
func (d *Database) Count(o *RangeOptions, cb func(int, error)) {
	d.env.assertLoop("db.count")
	if o == nil {
		o = &RangeOptions{}
	}
	ro, trackers, err := d.prepareRange(o)
	if err != nil {
		rejectWith(d.env, cb, err)
		return
	}
	st := d.store
	bounds := newKeyRange(o)
	var n int
	w := scheduler.NewWorkItem("db.count", func() error {
		c, err := st.NewIterator(ro)
		if err != nil {
			return err
		}
		n, err = countRange(c, bounds)
		return err
	})
	completeWith(w, &n, cb)
	charge(w, trackers...)
	d.env.sched.Queue(w)
}

func (d *Database) prepareRange(o *RangeOptions) (engine.ReadOptions, []*lifecycle.Tracker, error) {
	if err := d.ready(); err != nil {
		return engine.ReadOptions{}, nil, err
	}
	return d.pin(o.Snapshot, o.FillCache)
}

// ApproximateSize estimates the on-disk bytes of keys in [start, end).
func (d *Database) ApproximateSize(start, end []byte, cb func(uint64, error)) {
	d.env.assertLoop("db.approximateSize")
	if err := d.ready(); err != nil {
		rejectWith(d.env, cb, err)
		return
	}
	start, end = bytes.Clone(start), bytes.Clone(end)
	st := d.store
	var size uint64
	w := scheduler.NewWorkItem("db.approximateSize", func() (err error) {
		size, err = st.ApproximateSize(start, end)
		return err
	})
	completeWith(w, &size, cb)
	charge(w, d.tracker)
	d.env.sched.Queue(w)
}

// CompactRange flushes the memtable and compacts tables overlapping
// [start, end]. Nil bounds are open.
func (d *Database) CompactRange(start, end []byte, cb func(error)) {
	d.env.assertLoop("db.compactRange")
	start, end = bytes.Clone(start), bytes.Clone(end)
	d.write("db.compactRange", cb, func(st store) error { return st.CompactRange(start, end) })
}

// GetProperty reads an engine property such as "rocksdb.stats". Unknown
// names fail with NOT_FOUND.
func (d *Database) GetProperty(name string, cb func(string, error)) {
	d.env.assertLoop("db.getProperty")
	if err := d.ready(); err != nil {
		rejectWith(d.env, cb, err)
		return
	}
	st := d.store
	var value string
	w := scheduler.NewWorkItem("db.getProperty", func() error {
		v, ok := st.GetProperty(name)
		if !ok {
			return &Error{Code: CodeNotFound, Kind: KindEngine, Message: fmt.Sprintf("unknown property %q", name)}
		}
		value = v
		return nil
	})
	completeWith(w, &value, cb)
	charge(w, d.tracker)
	d.env.sched.Queue(w)
}

// NewIterator creates an iterator over the range in o and registers it.
func (d *Database) NewIterator(o *IteratorOptions) (*Iterator, error) {
	d.env.assertLoop("db.newIterator")
	if err := d.ready(); err != nil {
		return nil, err
	}
	if o == nil {
		o = &IteratorOptions{}
	}
	ro, trackers, err := d.pin(o.Snapshot, o.FillCache)
	if err != nil {
		return nil, err
	}
	c, err := d.store.NewIterator(ro)
	if err != nil {
		return nil, fromEngine(err)
	}
	it := newIterator(d, nil, c, o)
	it.id = d.iterators.NextID()
	d.iterators.Attach(it.id, it)
	// The registry charges d.tracker; a pinned snapshot is charged until
	// the iterator closes.
	it.pins = trackers[1:]
	for _, t := range it.pins {
		t.Increment()
	}
	d.logger.Debugf(logging.NSIter+"%d attached to %s", it.id, d.location)
	return it, nil
}

// NewSnapshot pins the current state and registers the snapshot.
func (d *Database) NewSnapshot() (*Snapshot, error) {
	d.env.assertLoop("db.newSnapshot")
	if err := d.ready(); err != nil {
		return nil, err
	}
	s := newSnapshot(d, d.store.GetSnapshot())
	s.id = d.snapshots.NextID()
	d.snapshots.Attach(s.id, s)
	d.logger.Debugf(logging.NSSnap+"%d attached to %s", s.id, d.location)
	return s, nil
}

// BeginTransaction starts an optimistic transaction and registers it.
func (d *Database) BeginTransaction(o *TransactionOptions) (*Transaction, error) {
	d.env.assertLoop("db.beginTransaction")
	if err := d.ready(); err != nil {
		return nil, err
	}
	if o == nil {
		o = &TransactionOptions{}
	}
	et, err := d.store.BeginTransaction(engine.WriteOptions{Sync: o.Sync}, engine.TransactionOptions{SetSnapshot: o.SetSnapshot})
	if err != nil {
		return nil, fromEngine(err)
	}
	t := newTransaction(d, et)
	t.id = d.transactions.NextID()
	d.transactions.Attach(t.id, t)
	d.logger.Debugf(logging.NSTxn+"%d attached to %s", t.id, d.location)
	return t, nil
}

// Batch returns an empty chained batch bound to d.
func (d *Database) Batch() *Batch {
	d.env.assertLoop("db.batch")
	return newBatch(d)
}

// charge counts w against each tracker until its completion has run.
func charge(w *scheduler.WorkItem, trackers ...*lifecycle.Tracker) {
	for _, t := range trackers {
		t.Increment()
	}
	finally := w.Finally
	w.Finally = func() {
		if finally != nil {
			finally()
		}
		for _, t := range trackers {
			t.Decrement()
		}
	}
}

// completeWith routes w's outcome and the value it produced to cb.
func completeWith[T any](w *scheduler.WorkItem, v *T, cb func(T, error)) {
	if cb == nil {
		cb = func(T, error) {}
	}
	w.OK = func() { cb(*v, nil) }
	w.Fail = func(err error) {
		var zero T
		cb(zero, fromEngine(err))
	}
}

func rejectWith[T any](e *Env, cb func(T, error), err error) {
	if cb == nil {
		return
	}
	e.sched.Post(func() {
		var zero T
		cb(zero, err)
	})
}

func cloneAll(keys [][]byte) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = bytes.Clone(k)
	}
	return out
}
