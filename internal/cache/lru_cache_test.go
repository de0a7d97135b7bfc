package cache

import (
	"bytes"
	"testing"
)

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache(10)
	c.Insert(Key{1, 0}, []byte("aaaa"))
	c.Insert(Key{1, 4}, []byte("bbbb"))

	// Touch the first block so the second becomes least recently used.
	if _, ok := c.Lookup(Key{1, 0}); !ok {
		t.Fatal("Lookup(first) missed")
	}
	c.Insert(Key{2, 0}, []byte("cccc"))

	if _, ok := c.Lookup(Key{1, 4}); ok {
		t.Error("least recently used block survived eviction")
	}
	if v, ok := c.Lookup(Key{1, 0}); !ok || !bytes.Equal(v, []byte("aaaa")) {
		t.Errorf("Lookup(first) = %q, %v", v, ok)
	}
	if c.Usage() != 8 {
		t.Errorf("Usage() = %d, want 8", c.Usage())
	}
	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("Stats() = %d hits, %d misses", hits, misses)
	}
}

func TestLRUCache_ReplaceAndEraseFile(t *testing.T) {
	c := NewLRUCache(100)
	c.Insert(Key{7, 0}, []byte("old"))
	c.Insert(Key{7, 0}, []byte("newer"))
	c.Insert(Key{7, 9}, []byte("x"))
	c.Insert(Key{8, 0}, []byte("y"))
	if c.Usage() != 7 {
		t.Errorf("Usage() = %d, want 7", c.Usage())
	}
	c.EraseFile(7)
	if c.Len() != 1 {
		t.Errorf("Len() = %d after EraseFile, want 1", c.Len())
	}
}

func TestLRUCache_OversizedAndDisabled(t *testing.T) {
	c := NewLRUCache(4)
	c.Insert(Key{1, 0}, []byte("too large"))
	if c.Len() != 0 {
		t.Error("oversized block cached")
	}
	off := NewLRUCache(0)
	off.Insert(Key{1, 0}, []byte("x"))
	if _, ok := off.Lookup(Key{1, 0}); ok {
		t.Error("zero-capacity cache stored a block")
	}
}
