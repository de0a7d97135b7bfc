package rockyardhost

// range.go walks a bounded key range over an engine cursor. It runs only in
// the execute phase of work items.

import (
	"bytes"
	"errors"
)

// clearChunkBytes bounds the keys collected per delete batch in Clear.
const clearChunkBytes = 16 << 10

// Entry is one key/value pair returned by an iterator batch. Key or Value
// is nil when the iterator mode leaves it out.
type Entry struct {
	Key   []byte
	Value []byte
}

// keyRange is a resolved RangeOptions. A negative limit is unbounded.
type keyRange struct {
	lt, lte, gt, gte []byte
	limit            int
	reverse          bool
}

func newKeyRange(o *RangeOptions) keyRange {
	r := keyRange{
		lt:      bytes.Clone(o.Lt),
		lte:     bytes.Clone(o.Lte),
		gt:      bytes.Clone(o.Gt),
		gte:     bytes.Clone(o.Gte),
		limit:   -1,
		reverse: o.Reverse,
	}
	if o.Limit != nil {
		r.limit = *o.Limit
	}
	return r
}

// outOfRange reports whether k falls outside the bounds. Lte wins over Lt
// and Gte over Gt.
func (r *keyRange) outOfRange(k []byte) bool {
	if r.lte != nil {
		if bytes.Compare(k, r.lte) > 0 {
			return true
		}
	} else if r.lt != nil && bytes.Compare(k, r.lt) >= 0 {
		return true
	}
	if r.gte != nil {
		if bytes.Compare(k, r.gte) < 0 {
			return true
		}
	} else if r.gt != nil && bytes.Compare(k, r.gt) <= 0 {
		return true
	}
	return false
}

// rangeCursor positions c within a keyRange and reads it in batches.
type rangeCursor struct {
	keyRange
	c cursor

	count int
	// seeked is set once the cursor has been positioned.
	seeked bool
	// pending is set while the cursor sits on an entry not yet returned.
	pending bool
}

func newRangeCursor(c cursor, r keyRange) *rangeCursor {
	return &rangeCursor{keyRange: r, c: c}
}

func (rc *rangeCursor) valid() bool {
	return rc.c.Valid() && !rc.outOfRange(rc.c.Key())
}

// take counts one entry against the limit.
func (rc *rangeCursor) take() bool {
	if rc.limit < 0 {
		return true
	}
	rc.count++
	return rc.count <= rc.limit
}

func (rc *rangeCursor) next() {
	if rc.reverse {
		rc.c.Prev()
	} else {
		rc.c.Next()
	}
}

func (rc *rangeCursor) seekToFirst() {
	if rc.reverse {
		rc.c.SeekToLast()
	} else {
		rc.c.SeekToFirst()
	}
}

// seekToEnd leaves the cursor exhausted in the iteration direction.
func (rc *rangeCursor) seekToEnd() {
	if rc.reverse {
		rc.c.SeekToFirst()
		rc.c.Prev()
	} else {
		rc.c.SeekToLast()
		rc.c.Next()
	}
}

// seekToRange positions the cursor on the first entry of the range.
func (rc *rangeCursor) seekToRange() {
	rc.seeked, rc.pending = true, true
	if !rc.reverse {
		switch {
		case rc.gte != nil:
			rc.c.Seek(rc.gte)
		case rc.gt != nil:
			rc.c.Seek(rc.gt)
			if rc.c.Valid() && bytes.Equal(rc.c.Key(), rc.gt) {
				rc.c.Next()
			}
		default:
			rc.c.SeekToFirst()
		}
		return
	}

	switch {
	case rc.lte != nil:
		rc.c.Seek(rc.lte)
		if !rc.c.Valid() {
			rc.c.SeekToLast()
		} else if bytes.Compare(rc.c.Key(), rc.lte) > 0 {
			rc.c.Prev()
		}
	case rc.lt != nil:
		rc.c.Seek(rc.lt)
		if !rc.c.Valid() {
			rc.c.SeekToLast()
		} else if bytes.Compare(rc.c.Key(), rc.lt) >= 0 {
			rc.c.Prev()
		}
	default:
		rc.c.SeekToLast()
	}
}

// seek positions the cursor on the first entry at or past target in the
// iteration direction. A target outside the range exhausts the cursor.
func (rc *rangeCursor) seek(target []byte) {
	rc.seeked, rc.pending = true, true
	if rc.outOfRange(target) {
		rc.seekToEnd()
		return
	}
	before := func() bool {
		cmp := bytes.Compare(rc.c.Key(), target)
		if rc.reverse {
			return cmp > 0
		}
		return cmp < 0
	}
	rc.c.Seek(target)
	if rc.c.Valid() {
		if before() {
			rc.next()
		}
		return
	}
	rc.seekToFirst()
	if rc.c.Valid() && before() {
		rc.seekToEnd()
	}
}

// advance moves to the next candidate entry and reports whether it may be
// returned.
func (rc *rangeCursor) advance() bool {
	if rc.pending {
		rc.pending = false
	} else {
		rc.next()
	}
	return rc.valid() && rc.take()
}

// readMany reads up to size entries, stopping early once the bytes read
// exceed hwm. more is false when the range is exhausted.
func (rc *rangeCursor) readMany(size, hwm int, mode IteratorMode) (entries []Entry, more bool, err error) {
	if !rc.seeked {
		rc.seekToRange()
	}
	size = max(size, 1)
	n := 0
	for {
		if !rc.advance() {
			return entries, false, rc.c.Error()
		}
		var e Entry
		if mode != IterateValues {
			e.Key = bytes.Clone(rc.c.Key())
			n += len(e.Key)
		}
		if mode != IterateKeys {
			e.Value = bytes.Clone(rc.c.Value())
			if e.Value == nil {
				e.Value = []byte{}
			}
			n += len(e.Value)
		}
		entries = append(entries, e)
		if n > hwm || len(entries) >= size {
			return entries, true, nil
		}
	}
}

// clearRange deletes the range in chunks through del. It closes c.
func clearRange(c cursor, r keyRange, del func(keys [][]byte) error) (err error) {
	defer func() { err = errors.Join(err, c.Close()) }()
	rc := newRangeCursor(c, r)
	rc.seekToRange()
	for {
		var keys [][]byte
		n, done := 0, false
		for n <= clearChunkBytes {
			if !rc.advance() {
				done = true
				break
			}
			k := bytes.Clone(c.Key())
			keys = append(keys, k)
			n += len(k)
		}
		if err := c.Error(); err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := del(keys); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// countRange counts the entries of the range. It closes c.
func countRange(c cursor, r keyRange) (n int, err error) {
	defer func() { err = errors.Join(err, c.Close()) }()
	rc := newRangeCursor(c, r)
	rc.seekToRange()
	for rc.advance() {
		n++
	}
	return n, c.Error()
}
