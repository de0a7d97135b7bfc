package rockyardhost

// transaction.go implements optimistic transactions.

import (
	"bytes"

	"github.com/aalhour/rockyardhost/internal/engine"
	"github.com/aalhour/rockyardhost/internal/lifecycle"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

// Transaction buffers writes and reads through them. Conflicts are checked
// at commit time and fail with TRANSACTION_CONFLICT.
//
// Once Commit or Rollback is requested every other operation fails with
// TRANSACTION_COMMITTED or TRANSACTION_ROLLBACKED. The decision waits for
// the transaction's in-flight work and closes its iterators first.
type Transaction struct {
	db       *Database
	id       uint64
	engineID uint64

	// txn is released as soon as the commit or rollback has executed.
	txn       txnStore
	snapshot  *TransactionSnapshot
	tracker   *lifecycle.Tracker
	iterators *lifecycle.Registry[*Iterator]

	isCommitting  bool
	hasCommitted  bool
	isRollbacking bool
	hasRollbacked bool
}

func newTransaction(db *Database, et txnStore) *Transaction {
	t := &Transaction{db: db, txn: et, engineID: et.ID()}
	t.tracker = lifecycle.NewTracker(logging.NSTxn+"transaction", db.env.sched, db.logger)
	t.iterators = lifecycle.NewRegistry[*Iterator](logging.NSTxn+"iterators", t.tracker, db.logger)
	return t
}

// ID returns the engine transaction id.
func (t *Transaction) ID() uint64 { return t.engineID }

func (t *Transaction) ready() error {
	switch {
	case t.isCommitting || t.hasCommitted:
		return ErrTransactionCommitted
	case t.isRollbacking || t.hasRollbacked:
		return ErrTransactionRollbacked
	}
	return nil
}

// settled reports whether a commit or rollback has been requested.
func (t *Transaction) settled() bool {
	return t.ready() != nil
}

func (t *Transaction) pin(rp ReadPoint, fillCache bool) (engine.ReadOptions, error) {
	ro := engine.ReadOptions{FillCache: fillCache}
	if rp == nil {
		return ro, nil
	}
	s, ok := rp.(*TransactionSnapshot)
	if !ok || s == nil || s.txn != t {
		return ro, invalidArgument("snapshot does not belong to this transaction")
	}
	ro.Snapshot = s.snap
	return ro, nil
}

func (t *Transaction) readOptions(o *ReadOptions) (engine.ReadOptions, error) {
	if err := t.ready(); err != nil {
		return engine.ReadOptions{}, err
	}
	if o == nil {
		o = DefaultReadOptions()
	}
	return t.pin(o.Snapshot, o.FillCache)
}

// call queues fn as work charged to the transaction.
func call[T any](t *Transaction, name string, cb func(T, error), fn func(et txnStore) (T, error)) {
	et := t.txn
	var v T
	w := scheduler.NewWorkItem(name, func() (err error) {
		v, err = fn(et)
		return err
	})
	completeWith(w, &v, cb)
	charge(w, t.tracker)
	t.db.env.sched.Queue(w)
}

// Get reads key through the transaction's writes.
func (t *Transaction) Get(key []byte, o *ReadOptions, cb func([]byte, error)) {
	t.get("transaction.get", key, o, cb, false)
}

// GetForUpdate reads key like Get and adds it to the commit-time conflict
// check.
func (t *Transaction) GetForUpdate(key []byte, o *ReadOptions, cb func([]byte, error)) {
	t.get("transaction.getForUpdate", key, o, cb, true)
}

func (t *Transaction) get(name string, key []byte, o *ReadOptions, cb func([]byte, error), forUpdate bool) {
	t.db.env.assertLoop(name)
	ro, err := t.readOptions(o)
	if err != nil {
		rejectWith(t.db.env, cb, err)
		return
	}
	key = bytes.Clone(key)
	call(t, name, cb, func(et txnStore) ([]byte, error) {
		if forUpdate {
			return et.GetForUpdate(ro, key)
		}
		return et.Get(ro, key)
	})
}

// MultiGet reads keys through the transaction's writes. Missing keys yield
// nil.
func (t *Transaction) MultiGet(keys [][]byte, o *ReadOptions, cb func([][]byte, error)) {
	t.multiGet("transaction.multiGet", keys, o, cb, false)
}

// MultiGetForUpdate is MultiGet that also tracks every key for conflicts.
func (t *Transaction) MultiGetForUpdate(keys [][]byte, o *ReadOptions, cb func([][]byte, error)) {
	t.multiGet("transaction.multiGetForUpdate", keys, o, cb, true)
}

func (t *Transaction) multiGet(name string, keys [][]byte, o *ReadOptions, cb func([][]byte, error), forUpdate bool) {
	t.db.env.assertLoop(name)
	ro, err := t.readOptions(o)
	if err != nil {
		rejectWith(t.db.env, cb, err)
		return
	}
	keys = cloneAll(keys)
	call(t, name, cb, func(et txnStore) ([][]byte, error) {
		if forUpdate {
			return et.MultiGetForUpdate(ro, keys)
		}
		return et.MultiGet(ro, keys)
	})
}

// Put buffers a write of key.
func (t *Transaction) Put(key, value []byte, cb func(error)) {
	t.db.env.assertLoop("transaction.put")
	key, value = bytes.Clone(key), bytes.Clone(value)
	t.write("transaction.put", cb, func(et txnStore) error { return et.Put(key, value) })
}

// Delete buffers a deletion of key.
func (t *Transaction) Delete(key []byte, cb func(error)) {
	t.db.env.assertLoop("transaction.delete")
	key = bytes.Clone(key)
	t.write("transaction.delete", cb, func(et txnStore) error { return et.Delete(key) })
}

func (t *Transaction) write(name string, cb func(error), fn func(et txnStore) error) {
	if err := t.ready(); err != nil {
		t.db.env.reject(cb, err)
		return
	}
	call(t, name, func(_ struct{}, err error) { orNoop(cb)(err) }, func(et txnStore) (struct{}, error) {
		return struct{}{}, fn(et)
	})
}

// Clear deletes every key of the range visible to the transaction.
func (t *Transaction) Clear(o *RangeOptions, cb func(error)) {
	t.db.env.assertLoop("transaction.clear")
	if o == nil {
		o = &RangeOptions{}
	}
	if err := t.ready(); err != nil {
		t.db.env.reject(cb, err)
		return
	}
	ro, err := t.pin(o.Snapshot, o.FillCache)
	if err != nil {
		t.db.env.reject(cb, err)
		return
	}
	bounds := newKeyRange(o)
	t.write("transaction.clear", cb, func(et txnStore) error {
		c, err := et.NewIterator(ro)
		if err != nil {
			return err
		}
		return clearRange(c, bounds, func(keys [][]byte) error {
			for _, k := range keys {
				if err := et.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Count counts the keys of the range visible to the transaction.
func (t *Transaction) Count(o *RangeOptions, cb func(int, error)) {
	t.db.env.assertLoop("transaction.count")
	if o == nil {
		o = &RangeOptions{}
	}
	if err := t.ready(); err != nil {
		rejectWith(t.db.env, cb, err)
		return
	}
	ro, err := t.pin(o.Snapshot, o.FillCache)
	if err != nil {
		rejectWith(t.db.env, cb, err)
		return
	}
	bounds := newKeyRange(o)
	call(t, "transaction.count", cb, func(et txnStore) (int, error) {
		c, err := et.NewIterator(ro)
		if err != nil {
			return 0, err
		}
		return countRange(c, bounds)
	})
}

// NewIterator creates an iterator over the transaction's view of the range
// and registers it with the transaction.
func (t *Transaction) NewIterator(o *IteratorOptions) (*Iterator, error) {
	t.db.env.assertLoop("transaction.newIterator")
	if err := t.ready(); err != nil {
		return nil, err
	}
	if o == nil {
		o = &IteratorOptions{}
	}
	ro, err := t.pin(o.Snapshot, o.FillCache)
	if err != nil {
		return nil, err
	}
	c, err := t.txn.NewIterator(ro)
	if err != nil {
		return nil, fromEngine(err)
	}
	it := newIterator(t.db, t, c, o)
	it.id = t.iterators.NextID()
	t.iterators.Attach(it.id, it)
	t.db.logger.Debugf(logging.NSIter+"%d attached to transaction %d", it.id, t.engineID)
	return it, nil
}

// Snapshot pins the transaction to the current state and returns the read
// point. Keys tracked afterwards conflict with any later write. Read points
// returned by earlier calls stay valid until the transaction settles.
func (t *Transaction) Snapshot() (*TransactionSnapshot, error) {
	t.db.env.assertLoop("transaction.snapshot")
	if err := t.ready(); err != nil {
		return nil, err
	}
	if err := t.txn.SetSnapshot(); err != nil {
		return nil, fromEngine(err)
	}
	t.snapshot = &TransactionSnapshot{txn: t, snap: t.txn.GetSnapshot()}
	return t.snapshot, nil
}

// Commit applies the buffered writes. Committing twice succeeds; committing
// a rolled back transaction fails with TRANSACTION_ROLLBACKED.
func (t *Transaction) Commit(cb func(error)) {
	t.db.env.assertLoop("transaction.commit")
	switch {
	case t.isRollbacking || t.hasRollbacked:
		t.db.env.reject(cb, ErrTransactionRollbacked)
	case t.isCommitting || t.hasCommitted:
		t.db.env.reject(cb, nil)
	default:
		t.isCommitting = true
		t.settle("transaction.commit", txnStore.Commit, cb, func() { t.hasCommitted = true })
	}
}

// Rollback discards the buffered writes. Rolling back twice succeeds;
// rolling back a committed transaction fails with TRANSACTION_COMMITTED.
func (t *Transaction) Rollback(cb func(error)) {
	t.db.env.assertLoop("transaction.rollback")
	switch {
	case t.isCommitting || t.hasCommitted:
		t.db.env.reject(cb, ErrTransactionCommitted)
	case t.isRollbacking || t.hasRollbacked:
		t.db.env.reject(cb, nil)
	default:
		t.isRollbacking = true
		t.settle("transaction.rollback", txnStore.Rollback, cb, func() { t.hasRollbacked = true })
	}
}

// settle queues the commit or rollback once the transaction's work has
// drained, closing its iterators first.
func (t *Transaction) settle(name string, decide func(txnStore) error, cb func(error), mark func()) {
	cb = orNoop(cb)
	et := t.txn
	finish := func(err error) {
		mark()
		t.isCommitting, t.isRollbacking = false, false
		t.txn, t.snapshot = nil, nil
		t.db.transactions.Detach(t.id)
		t.db.logger.Debugf(logging.NSTxn+"%d settled: %s", t.engineID, name)
		cb(err)
	}
	w := scheduler.NewWorkItem(name, func() error { return decide(et) })
	w.OK = func() { finish(nil) }
	w.Fail = func(err error) { finish(fromEngine(err)) }
	if !t.tracker.QueueOrDefer(w) {
		return
	}
	for _, it := range t.iterators.Snapshot() {
		if !it.isClosing && !it.hasClosed {
			it.Close(nil)
		}
	}
}
