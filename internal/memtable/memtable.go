// Package memtable holds recent writes in a sorted in-memory structure until
// they are flushed to a table file.
//
// Entries are keyed by internal key (user key, sequence, type), so every
// version of a user key is retained until compaction drops it.
package memtable

import (
	"bytes"
	"sync/atomic"

	"github.com/aalhour/rockyardhost/internal/dbformat"
)

// perEntryOverhead approximates node and slice-header cost for usage
// accounting.
const perEntryOverhead = 64

// MemTable is safe for one writer and many concurrent readers.
type MemTable struct {
	list  *skiplist
	bytes atomic.Int64
}

// New returns an empty memtable.
func New() *MemTable {
	return &MemTable{list: newSkiplist(dbformat.Compare)}
}

// Add inserts a record. Callers serialize Add.
func (m *MemTable) Add(seq dbformat.SequenceNumber, t dbformat.ValueType, key, value []byte) {
	ikey := dbformat.NewInternalKey(key, seq, t)
	var v []byte
	if t == dbformat.TypeValue {
		v = append([]byte(nil), value...)
	}
	m.list.insert(ikey, v)
	m.bytes.Add(int64(len(ikey) + len(v) + perEntryOverhead))
}

// Get looks up the newest version of key visible at seq. found reports
// whether any version was seen; deleted reports that version is a tombstone.
func (m *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, deleted, found bool) {
	n := m.list.findGreaterOrEqual(dbformat.NewInternalKey(key, seq, dbformat.TypeForSeek), nil)
	if n == nil {
		return nil, false, false
	}
	ik := dbformat.InternalKey(n.key)
	if !bytes.Equal(ik.UserKey(), key) {
		return nil, false, false
	}
	if ik.Type() == dbformat.TypeDeletion {
		return nil, true, true
	}
	return n.value, false, true
}

// ApproximateMemoryUsage returns the bytes held by the memtable.
func (m *MemTable) ApproximateMemoryUsage() int64 {
	return m.bytes.Load()
}

// Count returns the number of records.
func (m *MemTable) Count() int64 {
	return m.list.count.Load()
}

// Empty reports whether no records were added.
func (m *MemTable) Empty() bool {
	return m.Count() == 0
}

// NewIterator returns an iterator over internal keys.
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{list: m.list}
}

// Iterator walks a memtable in internal-key order.
type Iterator struct {
	list *skiplist
	node *node
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the current internal key.
func (it *Iterator) Key() []byte { return it.node.key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.node.value }

// Error always returns nil.
func (it *Iterator) Error() error { return nil }

// SeekToFirst positions at the smallest key.
func (it *Iterator) SeekToFirst() { it.node = it.list.head.next[0].Load() }

// SeekToLast positions at the largest key.
func (it *Iterator) SeekToLast() { it.node = it.list.findLast() }

// Seek positions at the first key >= target.
func (it *Iterator) Seek(target []byte) { it.node = it.list.findGreaterOrEqual(target, nil) }

// Next advances.
func (it *Iterator) Next() { it.node = it.node.next[0].Load() }

// Prev steps back.
func (it *Iterator) Prev() { it.node = it.list.findLessThan(it.node.key) }

// Close is a no-op.
func (it *Iterator) Close() error { return nil }
