package iterator

import (
	"bytes"
	"sort"
	"strings"
	"testing"
)

// sliceIter is a sorted in-memory Iterator.
type sliceIter struct {
	keys []string
	pos  int
}

func newSliceIter(keys ...string) *sliceIter {
	sort.Strings(keys)
	return &sliceIter{keys: keys, pos: -1}
}

func (s *sliceIter) Valid() bool   { return s.pos >= 0 && s.pos < len(s.keys) }
func (s *sliceIter) Key() []byte   { return []byte(s.keys[s.pos]) }
func (s *sliceIter) Value() []byte { return []byte("v" + s.keys[s.pos]) }
func (s *sliceIter) SeekToFirst()  { s.pos = 0 }
func (s *sliceIter) SeekToLast()   { s.pos = len(s.keys) - 1 }
func (s *sliceIter) Seek(t []byte) { s.pos = sort.SearchStrings(s.keys, string(t)) }
func (s *sliceIter) Next()         { s.pos++ }
func (s *sliceIter) Prev()         { s.pos-- }
func (s *sliceIter) Error() error  { return nil }
func (s *sliceIter) Close() error  { return nil }

func newTestMerge() *MergingIterator {
	return NewMergingIterator(bytes.Compare,
		newSliceIter("a", "d", "g"),
		newSliceIter("b", "e"),
		newSliceIter(),
		newSliceIter("c", "f", "h"),
	)
}

func collect(m *MergingIterator, forward bool) string {
	var out []string
	for ; m.Valid(); func() {
		if forward {
			m.Next()
		} else {
			m.Prev()
		}
	}() {
		out = append(out, string(m.Key()))
	}
	return strings.Join(out, "")
}

func TestMergingIterator_BothDirections(t *testing.T) {
	m := newTestMerge()
	m.SeekToFirst()
	if got := collect(m, true); got != "abcdefgh" {
		t.Errorf("forward = %q", got)
	}
	m.SeekToLast()
	if got := collect(m, false); got != "hgfedcba" {
		t.Errorf("reverse = %q", got)
	}
	m.Seek([]byte("cc"))
	if got := collect(m, true); got != "defgh" {
		t.Errorf("Seek(cc) forward = %q", got)
	}
}

func TestMergingIterator_DirectionSwitch(t *testing.T) {
	m := newTestMerge()
	m.Seek([]byte("d"))
	m.Next() // e
	m.Prev() // d
	if string(m.Key()) != "d" {
		t.Fatalf("after Next/Prev at %q, want d", m.Key())
	}
	m.Prev() // c
	m.Prev() // b
	if string(m.Key()) != "b" {
		t.Fatalf("after two Prev at %q, want b", m.Key())
	}
	m.Next() // c
	m.Next() // d
	if string(m.Key()) != "d" || string(m.Value()) != "vd" {
		t.Errorf("after switching forward at %q=%q, want d=vd", m.Key(), m.Value())
	}

	m.SeekToLast()
	m.Prev() // g
	m.Next() // h
	if string(m.Key()) != "h" {
		t.Errorf("at %q, want h", m.Key())
	}
	m.Next()
	if m.Valid() {
		t.Error("iterator valid past the end")
	}
}
