package engine

// transaction.go implements optimistic transactions.
//
// A transaction buffers its writes in a batch and mirrors them into a
// private memtable so its own reads and iterators see them. Nothing is
// locked while it runs. At commit every key it wrote or read for update is
// checked against the database: if any got a newer version after the
// transaction started tracking it, the commit fails with ErrBusy.

import (
	"bytes"
	"errors"
	"sync"

	"github.com/aalhour/rockyardhost/internal/batch"
	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/memtable"
)

// Transaction is an optimistic transaction. Its methods are safe for
// concurrent use, but iterators it returns are not.
type Transaction struct {
	db *DB
	id uint64
	wo WriteOptions

	mu       sync.Mutex
	batch    *batch.WriteBatch
	delta    *memtable.MemTable
	deltaSeq dbformat.SequenceNumber
	tracked  map[string]dbformat.SequenceNumber
	snapshot *Snapshot
	closed   bool

	// retired holds snapshots replaced by SetSnapshot. Reads may still be
	// pinned to them, so they are released when the transaction ends.
	retired []*Snapshot
}

// BeginTransaction starts a transaction whose commit is written with wo.
func (db *DB) BeginTransaction(wo WriteOptions, to TransactionOptions) (*Transaction, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	t := &Transaction{
		db:      db,
		id:      db.nextTxnID.Add(1),
		wo:      wo,
		batch:   batch.New(),
		delta:   memtable.New(),
		tracked: make(map[string]dbformat.SequenceNumber),
	}
	if to.SetSnapshot {
		t.snapshot = db.GetSnapshot()
	}
	db.logger.Debugf(logging.NSTxn+"begin %d", t.id)
	return t, nil
}

// ID returns the transaction's id, unique within the DB.
func (t *Transaction) ID() uint64 { return t.id }

// SetSnapshot pins the transaction to the current state. Keys tracked from
// now on conflict with any write after this point. A snapshot it replaces
// stays readable until the transaction ends.
func (t *Transaction) SetSnapshot() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	if t.snapshot != nil {
		t.retired = append(t.retired, t.snapshot)
	}
	t.snapshot = t.db.GetSnapshot()
	return nil
}

// GetSnapshot returns the snapshot set by SetSnapshot or at begin, or nil.
// It is owned by the transaction and released when the transaction ends.
func (t *Transaction) GetSnapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// trackLocked records the sequence a key is validated against. The first
// tracking wins.
func (t *Transaction) trackLocked(key []byte) {
	if _, ok := t.tracked[string(key)]; ok {
		return
	}
	seq := dbformat.SequenceNumber(t.db.lastSeq.Load())
	if t.snapshot != nil {
		seq = t.snapshot.seq
	}
	t.tracked[string(key)] = seq
}

// Put buffers a write of key.
func (t *Transaction) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	t.trackLocked(key)
	t.batch.Put(key, value)
	t.deltaSeq++
	t.delta.Add(t.deltaSeq, dbformat.TypeValue, key, value)
	return nil
}

// Delete buffers a deletion of key.
func (t *Transaction) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	t.trackLocked(key)
	t.batch.Delete(key)
	t.deltaSeq++
	t.delta.Add(t.deltaSeq, dbformat.TypeDeletion, key, nil)
	return nil
}

// Get reads key through the transaction's own writes.
func (t *Transaction) Get(ro ReadOptions, key []byte) ([]byte, error) {
	return t.get(ro, key, false)
}

// GetForUpdate reads key like Get and adds it to the commit-time conflict
// check.
func (t *Transaction) GetForUpdate(ro ReadOptions, key []byte) ([]byte, error) {
	return t.get(ro, key, true)
}

func (t *Transaction) get(ro ReadOptions, key []byte, forUpdate bool) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransactionClosed
	}
	if forUpdate {
		t.trackLocked(key)
	}
	v, deleted, found := t.delta.Get(key, dbformat.MaxSequenceNumber)
	t.mu.Unlock()
	if found {
		if deleted {
			return nil, ErrNotFound
		}
		return append([]byte{}, v...), nil
	}
	return t.db.Get(ro, key)
}

// MultiGet reads keys through the transaction's own writes. Missing keys
// yield nil entries.
func (t *Transaction) MultiGet(ro ReadOptions, keys [][]byte) ([][]byte, error) {
	return t.multiGet(ro, keys, false)
}

// MultiGetForUpdate is MultiGet with every key tracked for conflicts.
func (t *Transaction) MultiGetForUpdate(ro ReadOptions, keys [][]byte) ([][]byte, error) {
	return t.multiGet(ro, keys, true)
}

func (t *Transaction) multiGet(ro ReadOptions, keys [][]byte, forUpdate bool) ([][]byte, error) {
	values := make([][]byte, len(keys))
	var missIdx []int
	var missKeys [][]byte

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransactionClosed
	}
	for i, key := range keys {
		if forUpdate {
			t.trackLocked(key)
		}
		v, deleted, found := t.delta.Get(key, dbformat.MaxSequenceNumber)
		switch {
		case found && !deleted:
			values[i] = append([]byte{}, v...)
		case !found:
			missIdx = append(missIdx, i)
			missKeys = append(missKeys, key)
		}
	}
	t.mu.Unlock()

	if len(missKeys) == 0 {
		return values, nil
	}
	base, err := t.db.MultiGet(ro, missKeys)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		values[i] = base[j]
	}
	return values, nil
}

// NewIterator returns an iterator over the database overlaid with the
// transaction's writes as of this call.
func (t *Transaction) NewIterator(ro ReadOptions) (*TransactionIterator, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransactionClosed
	}
	delta := newDBIter(t.delta.NewIterator(), t.deltaSeq, true, nil)
	t.mu.Unlock()

	base, err := t.db.NewIterator(ro)
	if err != nil {
		return nil, err
	}
	return &TransactionIterator{base: base, delta: delta}, nil
}

// Commit validates tracked keys and writes the buffered batch atomically.
// The transaction ends whatever the outcome.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	defer t.endLocked()

	db := t.db
	if db.closed.Load() {
		return ErrClosed
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	for key, seq := range t.tracked {
		latest, err := db.latestSequenceLocked([]byte(key))
		if err != nil {
			return err
		}
		if latest > seq {
			db.logger.Debugf(logging.NSTxn+"commit %d: conflict on %q (%d > %d)", t.id, key, latest, seq)
			return newError(CodeBusy, nil, "write conflict on key %q", key)
		}
	}
	if t.batch.Count() == 0 {
		return nil
	}
	if err := db.writeLocked(t.wo, t.batch); err != nil {
		return err
	}
	db.logger.Debugf(logging.NSTxn+"commit %d: %d records", t.id, t.batch.Count())
	return nil
}

// Rollback discards the buffered writes. The transaction ends.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	t.endLocked()
	t.db.logger.Debugf(logging.NSTxn+"rollback %d", t.id)
	return nil
}

func (t *Transaction) endLocked() {
	t.closed = true
	if t.snapshot != nil {
		t.db.ReleaseSnapshot(t.snapshot)
		t.snapshot = nil
	}
	for _, s := range t.retired {
		t.db.ReleaseSnapshot(s)
	}
	t.retired = nil
	t.batch.Clear()
	t.tracked = nil
}

// latestSequenceLocked returns the sequence of the newest version of key,
// or 0 when none is known. Requires writeMu.
func (db *DB) latestSequenceLocked(key []byte) (dbformat.SequenceNumber, error) {
	target := dbformat.NewInternalKey(key, dbformat.MaxSequenceNumber, dbformat.TypeForSeek)
	it := db.mem.NewIterator()
	it.Seek(target)
	if it.Valid() {
		ik := dbformat.InternalKey(it.Key())
		if bytes.Equal(ik.UserKey(), key) {
			return ik.Sequence(), nil
		}
	}
	for _, tf := range db.tables {
		if !tf.reader.MayContain(key) {
			continue
		}
		ti := tf.reader.NewIterator(false)
		ti.Seek(target)
		if err := ti.Error(); err != nil {
			return 0, tableError(err, tf.number)
		}
		if ti.Valid() {
			ik := dbformat.InternalKey(ti.Key())
			if bytes.Equal(ik.UserKey(), key) {
				return ik.Sequence(), nil
			}
		}
	}
	return 0, nil
}

// IsConflict reports whether err is a commit-time write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrBusy)
}
