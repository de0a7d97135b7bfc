package engine

import (
	"bytes"
	"errors"
)

// TransactionIterator merges a transaction's buffered writes over a
// database iterator. On equal keys the buffered write wins, and a buffered
// delete hides the key.
//
// Both sides are user-key iterators with unique keys. Moving forward, both
// sit at or after the current key; moving in reverse, at or before it.
type TransactionIterator struct {
	base    *Iterator
	delta   *Iterator
	current *Iterator
	dir     iterDirection
}

// Valid reports whether the iterator is positioned at an entry.
func (it *TransactionIterator) Valid() bool { return it.current != nil }

// Key returns the current key.
func (it *TransactionIterator) Key() []byte { return it.current.Key() }

// Value returns the current value.
func (it *TransactionIterator) Value() []byte { return it.current.Value() }

// Error returns the first error of either side.
func (it *TransactionIterator) Error() error {
	return errors.Join(it.base.Error(), it.delta.Error())
}

// Close closes both sides.
func (it *TransactionIterator) Close() error {
	it.current = nil
	return errors.Join(it.base.Close(), it.delta.Close())
}

// SeekToFirst moves to the smallest key.
func (it *TransactionIterator) SeekToFirst() {
	it.dir = forward
	it.base.SeekToFirst()
	it.delta.SeekToFirst()
	it.resolveForward()
}

// SeekToLast moves to the largest key.
func (it *TransactionIterator) SeekToLast() {
	it.dir = reverse
	it.base.SeekToLast()
	it.delta.SeekToLast()
	it.resolveReverse()
}

// Seek moves to the first key >= target.
func (it *TransactionIterator) Seek(target []byte) {
	it.dir = forward
	it.base.Seek(target)
	it.delta.Seek(target)
	it.resolveForward()
}

// SeekForPrev moves to the last key <= target.
func (it *TransactionIterator) SeekForPrev(target []byte) {
	it.dir = reverse
	it.base.SeekForPrev(target)
	it.delta.SeekForPrev(target)
	it.resolveReverse()
}

// Next moves to the next key.
func (it *TransactionIterator) Next() {
	if it.current == nil {
		return
	}
	k := append([]byte(nil), it.Key()...)
	if it.dir == reverse {
		it.dir = forward
		it.base.Seek(k)
		it.delta.Seek(k)
	}
	stepPast(it.base, k, (*Iterator).Next)
	stepPast(it.delta, k, (*Iterator).Next)
	it.resolveForward()
}

// Prev moves to the previous key.
func (it *TransactionIterator) Prev() {
	if it.current == nil {
		return
	}
	k := append([]byte(nil), it.Key()...)
	if it.dir == forward {
		it.dir = reverse
		it.base.SeekForPrev(k)
		it.delta.SeekForPrev(k)
	}
	stepPast(it.base, k, (*Iterator).Prev)
	stepPast(it.delta, k, (*Iterator).Prev)
	it.resolveReverse()
}

func stepPast(side *Iterator, k []byte, move func(*Iterator)) {
	if side.Valid() && bytes.Equal(side.Key(), k) {
		move(side)
	}
}

// resolveForward picks the smaller side, skipping buffered deletes.
func (it *TransactionIterator) resolveForward() {
	for {
		bv, dv := it.base.Valid(), it.delta.Valid()
		if !dv {
			it.current = nil
			if bv {
				it.current = it.base
			}
			return
		}
		c := 1
		if bv {
			c = bytes.Compare(it.base.Key(), it.delta.Key())
		}
		if c < 0 {
			it.current = it.base
			return
		}
		if !it.delta.Deleted() {
			it.current = it.delta
			return
		}
		if c == 0 {
			it.base.Next()
		}
		it.delta.Next()
	}
}

// resolveReverse picks the larger side, skipping buffered deletes.
func (it *TransactionIterator) resolveReverse() {
	for {
		bv, dv := it.base.Valid(), it.delta.Valid()
		if !dv {
			it.current = nil
			if bv {
				it.current = it.base
			}
			return
		}
		c := -1
		if bv {
			c = bytes.Compare(it.base.Key(), it.delta.Key())
		}
		if c > 0 {
			it.current = it.base
			return
		}
		if !it.delta.Deleted() {
			it.current = it.delta
			return
		}
		if c == 0 {
			it.base.Prev()
		}
		it.delta.Prev()
	}
}
