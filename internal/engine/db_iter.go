package engine

// db_iter.go turns the internal-key stream of a merging iterator into a
// user-key iterator.
//
// The internal stream holds every version of every key, newest first per
// key. Iterator exposes only the newest version visible at its sequence
// number and hides tombstones. Forward and reverse scans keep the
// underlying iterator in different places:
//
//   - forward: positioned at the entry whose user key is Key()
//   - reverse: positioned just before all entries for Key(); the key and
//     value are copied into savedKey and savedValue

import (
	"bytes"
	"errors"

	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/iterator"
	"github.com/aalhour/rockyardhost/internal/table"
)

type iterDirection int

const (
	forward iterDirection = iota
	reverse
)

// Iterator walks user keys in ascending order. It is not safe for
// concurrent use and must be closed.
type Iterator struct {
	iter    iterator.Iterator
	seq     dbformat.SequenceNumber
	release func()

	// keepTombstones surfaces the newest tombstone of a key as an entry
	// with Deleted() true. Transactions use it for their write overlay.
	keepTombstones bool

	dir        iterDirection
	valid      bool
	deleted    bool
	savedKey   []byte
	savedValue []byte
	closed     bool
}

func newDBIter(it iterator.Iterator, seq dbformat.SequenceNumber, keepTombstones bool, release func()) *Iterator {
	return &Iterator{iter: it, seq: seq, keepTombstones: keepTombstones, release: release}
}

// Valid reports whether the iterator is positioned at an entry.
func (i *Iterator) Valid() bool { return i.valid }

// Key returns the current user key. The slice is only valid until the next
// move.
func (i *Iterator) Key() []byte {
	if i.dir == forward {
		return dbformat.InternalKey(i.iter.Key()).UserKey()
	}
	return i.savedKey
}

// Value returns the current value.
func (i *Iterator) Value() []byte {
	if i.dir == forward {
		return i.iter.Value()
	}
	return i.savedValue
}

// Deleted reports whether the current entry is a tombstone. Always false
// unless the iterator keeps tombstones.
func (i *Iterator) Deleted() bool { return i.deleted }

// Error returns the first error met by the underlying iterator.
func (i *Iterator) Error() error {
	err := i.iter.Error()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, table.ErrCorruption):
		return corruption(err, "iterator")
	default:
		return ioError(err, "iterator")
	}
}

// Close releases the pinned tables. It is safe to call more than once.
func (i *Iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.valid = false
	err := i.iter.Close()
	if i.release != nil {
		i.release()
	}
	return err
}

// SeekToFirst moves to the smallest key.
func (i *Iterator) SeekToFirst() {
	i.dir = forward
	i.savedValue = i.savedValue[:0]
	i.iter.SeekToFirst()
	i.findNextUserEntry(false)
}

// SeekToLast moves to the largest key.
func (i *Iterator) SeekToLast() {
	i.dir = reverse
	i.savedValue = i.savedValue[:0]
	i.iter.SeekToLast()
	i.findPrevUserEntry()
}

// Seek moves to the first key >= target.
func (i *Iterator) Seek(target []byte) {
	i.dir = forward
	i.savedValue = i.savedValue[:0]
	i.iter.Seek(dbformat.NewInternalKey(target, i.seq, dbformat.TypeForSeek))
	i.findNextUserEntry(false)
}

// SeekForPrev moves to the last key <= target.
func (i *Iterator) SeekForPrev(target []byte) {
	i.Seek(target)
	if !i.Valid() {
		i.SeekToLast()
		return
	}
	if bytes.Compare(i.Key(), target) > 0 {
		i.Prev()
	}
}

// Next moves to the next key.
func (i *Iterator) Next() {
	if !i.valid {
		return
	}
	if i.dir == reverse {
		i.dir = forward
		// The underlying iterator sits before the entries of savedKey.
		if !i.iter.Valid() {
			i.iter.SeekToFirst()
		} else {
			i.iter.Next()
		}
		if !i.iter.Valid() {
			i.valid = false
			i.savedKey = i.savedKey[:0]
			return
		}
	} else {
		i.savedKey = append(i.savedKey[:0], dbformat.InternalKey(i.iter.Key()).UserKey()...)
		i.iter.Next()
	}
	i.findNextUserEntry(true)
}

// findNextUserEntry advances to the first visible entry, skipping keys
// <= savedKey when skipping is set.
func (i *Iterator) findNextUserEntry(skipping bool) {
	for ; i.iter.Valid(); i.iter.Next() {
		ik := dbformat.InternalKey(i.iter.Key())
		if ik.Sequence() > i.seq {
			continue
		}
		uk := ik.UserKey()
		if skipping && bytes.Compare(uk, i.savedKey) <= 0 {
			continue
		}
		switch ik.Type() {
		case dbformat.TypeDeletion:
			i.savedKey = append(i.savedKey[:0], uk...)
			skipping = true
			if i.keepTombstones {
				i.valid, i.deleted = true, true
				return
			}
		case dbformat.TypeValue:
			i.valid, i.deleted = true, false
			return
		}
	}
	i.savedKey = i.savedKey[:0]
	i.valid = false
}

// Prev moves to the previous key.
func (i *Iterator) Prev() {
	if !i.valid {
		return
	}
	if i.dir == forward {
		// Step back past every entry of the current key.
		i.savedKey = append(i.savedKey[:0], dbformat.InternalKey(i.iter.Key()).UserKey()...)
		for {
			i.iter.Prev()
			if !i.iter.Valid() {
				i.valid = false
				i.savedKey = i.savedKey[:0]
				i.savedValue = i.savedValue[:0]
				return
			}
			if bytes.Compare(dbformat.InternalKey(i.iter.Key()).UserKey(), i.savedKey) < 0 {
				break
			}
		}
		i.dir = reverse
	}
	i.findPrevUserEntry()
}

// findPrevUserEntry scans backwards collecting the newest visible version
// of the next smaller key.
func (i *Iterator) findPrevUserEntry() {
	found := false
	valueType := dbformat.TypeDeletion
	for i.iter.Valid() {
		ik := dbformat.InternalKey(i.iter.Key())
		if ik.Sequence() <= i.seq {
			uk := ik.UserKey()
			if found && (i.keepTombstones || valueType != dbformat.TypeDeletion) &&
				bytes.Compare(uk, i.savedKey) < 0 {
				break
			}
			found = true
			valueType = ik.Type()
			i.savedKey = append(i.savedKey[:0], uk...)
			if valueType == dbformat.TypeDeletion {
				i.savedValue = i.savedValue[:0]
			} else {
				i.savedValue = append(i.savedValue[:0], i.iter.Value()...)
			}
		}
		i.iter.Prev()
	}

	if !found || (valueType == dbformat.TypeDeletion && !i.keepTombstones) {
		i.valid = false
		i.savedKey = i.savedKey[:0]
		i.savedValue = i.savedValue[:0]
		i.dir = forward
		return
	}
	i.valid = true
	i.deleted = valueType == dbformat.TypeDeletion
}
