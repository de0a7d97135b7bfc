package memtable

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	maxHeight = 12
	branching = 4
)

// node holds one internal key and its value. Forward pointers are atomic so
// readers can traverse while the single writer links new nodes.
type node struct {
	key   []byte
	value []byte
	next  []atomic.Pointer[node]
}

func newNode(key, value []byte, height int) *node {
	return &node{key: key, value: value, next: make([]atomic.Pointer[node], height)}
}

// skiplist is ordered by cmp. Inserts require external synchronization;
// reads do not. Nodes are never removed.
type skiplist struct {
	head   *node
	height atomic.Int32
	cmp    func(a, b []byte) int
	rng    *rand.Rand
	count  atomic.Int64
}

func newSkiplist(cmp func(a, b []byte) int) *skiplist {
	sl := &skiplist{
		head: newNode(nil, nil, maxHeight),
		cmp:  cmp,
		rng:  rand.New(rand.NewPCG(0xdeadbeef, 0x5eed)),
	}
	sl.height.Store(1)
	return sl
}

func (sl *skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && sl.rng.IntN(branching) == 0 {
		h++
	}
	return h
}

// insert links key/value. key must not already be present.
func (sl *skiplist) insert(key, value []byte) {
	var prev [maxHeight]*node
	sl.findGreaterOrEqual(key, &prev)

	h := sl.randomHeight()
	if cur := int(sl.height.Load()); h > cur {
		for i := cur; i < h; i++ {
			prev[i] = sl.head
		}
		sl.height.Store(int32(h))
	}

	n := newNode(key, value, h)
	for i := range h {
		n.next[i].Store(prev[i].next[i].Load())
		prev[i].next[i].Store(n)
	}
	sl.count.Add(1)
}

// findGreaterOrEqual returns the first node >= key, filling prev with the
// predecessor at each level when prev is non-nil.
func (sl *skiplist) findGreaterOrEqual(key []byte, prev *[maxHeight]*node) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.cmp(next.key, key) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node < key, or nil.
func (sl *skiplist) findLessThan(key []byte) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.cmp(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			break
		}
		level--
	}
	if x == sl.head {
		return nil
	}
	return x
}

func (sl *skiplist) findLast() *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		if next := x.next[level].Load(); next != nil {
			x = next
			continue
		}
		if level == 0 {
			break
		}
		level--
	}
	if x == sl.head {
		return nil
	}
	return x
}
