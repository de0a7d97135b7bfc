// Package iterator merges sorted internal-key iterators.
//
// MergingIterator yields the union of its children in comparator order and
// supports changing direction at any point: when the direction flips, every
// non-current child is repositioned relative to the current key.
package iterator

import "container/heap"

// Iterator is the internal iterator contract shared by memtables, tables,
// and the merging iterator itself.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	Next()
	Prev()
	Error() error
	Close() error
}

type direction int

const (
	forward direction = iota
	reverse
)

// MergingIterator merges children ordered by cmp. Forward iteration uses a
// min-heap; reverse iteration scans children for the largest key.
type MergingIterator struct {
	children []Iterator
	cmp      func(a, b []byte) int
	heap     *iterHeap
	current  int
	dir      direction
	err      error
}

// NewMergingIterator returns an iterator over children. Keys are expected to
// be unique across children; internal keys carry distinct sequence numbers.
func NewMergingIterator(cmp func(a, b []byte) int, children ...Iterator) *MergingIterator {
	return &MergingIterator{
		children: children,
		cmp:      cmp,
		heap:     &iterHeap{cmp: cmp},
		current:  -1,
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (m *MergingIterator) Valid() bool {
	return m.err == nil && m.current >= 0
}

// Key returns the current key.
func (m *MergingIterator) Key() []byte { return m.children[m.current].Key() }

// Value returns the current value.
func (m *MergingIterator) Value() []byte { return m.children[m.current].Value() }

// Error returns the first child error.
func (m *MergingIterator) Error() error { return m.err }

// Close closes every child.
func (m *MergingIterator) Close() error {
	var first error
	for _, c := range m.children {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MergingIterator) checkErrors() bool {
	for _, c := range m.children {
		if err := c.Error(); err != nil {
			m.err = err
			m.current = -1
			return false
		}
	}
	return true
}

func (m *MergingIterator) rebuildHeap() {
	m.heap.items = m.heap.items[:0]
	for i, c := range m.children {
		if c.Valid() {
			m.heap.items = append(m.heap.items, i)
		}
	}
	m.heap.children = m.children
	heap.Init(m.heap)
}

func (m *MergingIterator) findSmallest() {
	if m.heap.Len() == 0 {
		m.current = -1
		return
	}
	m.current = m.heap.items[0]
}

func (m *MergingIterator) findLargest() {
	m.current = -1
	for i, c := range m.children {
		if !c.Valid() {
			continue
		}
		if m.current < 0 || m.cmp(c.Key(), m.children[m.current].Key()) > 0 {
			m.current = i
		}
	}
}

// SeekToFirst positions at the smallest key.
func (m *MergingIterator) SeekToFirst() {
	m.err = nil
	for _, c := range m.children {
		c.SeekToFirst()
	}
	m.dir = forward
	if m.checkErrors() {
		m.rebuildHeap()
		m.findSmallest()
	}
}

// SeekToLast positions at the largest key.
func (m *MergingIterator) SeekToLast() {
	m.err = nil
	for _, c := range m.children {
		c.SeekToLast()
	}
	m.dir = reverse
	if m.checkErrors() {
		m.findLargest()
	}
}

// Seek positions at the first key >= target.
func (m *MergingIterator) Seek(target []byte) {
	m.err = nil
	for _, c := range m.children {
		c.Seek(target)
	}
	m.dir = forward
	if m.checkErrors() {
		m.rebuildHeap()
		m.findSmallest()
	}
}

// Next advances to the next key.
func (m *MergingIterator) Next() {
	if m.dir != forward {
		// Move every other child to the first entry after the current key.
		key := append([]byte(nil), m.Key()...)
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() && m.cmp(c.Key(), key) == 0 {
				c.Next()
			}
		}
		m.dir = forward
		if !m.checkErrors() {
			return
		}
		m.children[m.current].Next()
		if !m.checkErrors() {
			return
		}
		m.rebuildHeap()
		m.findSmallest()
		return
	}

	cur := m.children[m.current]
	cur.Next()
	if !m.checkErrors() {
		return
	}
	if cur.Valid() {
		heap.Fix(m.heap, 0)
	} else {
		heap.Pop(m.heap)
	}
	m.findSmallest()
}

// Prev steps back to the previous key.
func (m *MergingIterator) Prev() {
	if m.dir != reverse {
		// Move every other child to the last entry before the current key.
		key := append([]byte(nil), m.Key()...)
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() {
				c.Prev()
			} else {
				c.SeekToLast()
			}
		}
		m.dir = reverse
	}
	m.children[m.current].Prev()
	if m.checkErrors() {
		m.findLargest()
	}
}

type iterHeap struct {
	items    []int
	children []Iterator
	cmp      func(a, b []byte) int
}

func (h *iterHeap) Len() int { return len(h.items) }

func (h *iterHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if c := h.cmp(h.children[a].Key(), h.children[b].Key()); c != 0 {
		return c < 0
	}
	return a < b
}

func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *iterHeap) Push(x any) { h.items = append(h.items, x.(int)) }

func (h *iterHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}
