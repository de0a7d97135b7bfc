package table

import (
	"fmt"
	"sort"

	"github.com/aalhour/rockyardhost/internal/cache"
	"github.com/aalhour/rockyardhost/internal/checksum"
	"github.com/aalhour/rockyardhost/internal/compression"
	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/encoding"
	"github.com/aalhour/rockyardhost/internal/filter"
	"github.com/aalhour/rockyardhost/internal/vfs"
)

type indexEntry struct {
	lastKey []byte
	handle  Handle
}

// Reader serves reads from one table file. It is safe for concurrent use.
type Reader struct {
	file     vfs.RandomAccessFile
	number   uint64
	cache    *cache.LRUCache
	checksum checksum.Type
	index    []indexEntry
	filter   *filter.Reader
	props    *Properties
	dataEnd  uint64
}

// Open reads the footer, index, filter, and properties of a table. The
// cache may be nil.
func Open(file vfs.RandomAccessFile, number uint64, c *cache.LRUCache) (*Reader, error) {
	size := file.Size()
	if size < FooterSize {
		return nil, corruptf("file %d is too short (%d bytes)", number, size)
	}
	buf := make([]byte, FooterSize)
	if _, err := file.ReadAt(buf, size-FooterSize); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}
	f, err := decodeFooter(buf)
	if err != nil {
		return nil, err
	}

	r := &Reader{file: file, number: number, cache: c, checksum: f.checksum, dataEnd: f.filter.Offset}

	indexData, err := r.readRaw(f.index)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	entries, err := decodeBlock(indexData)
	if err != nil {
		return nil, err
	}
	r.index = make([]indexEntry, 0, len(entries))
	for _, e := range entries {
		h, err := decodeHandle(e.value)
		if err != nil {
			return nil, err
		}
		r.index = append(r.index, indexEntry{lastKey: e.key, handle: h})
	}

	filterData, err := r.readRaw(f.filter)
	if err != nil {
		return nil, fmt.Errorf("read filter: %w", err)
	}
	r.filter = filter.NewReader(filterData)

	propsData, err := r.readRaw(f.props)
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	if r.props, err = decodeProperties(propsData); err != nil {
		return nil, err
	}
	return r, nil
}

// readRaw reads, verifies, and decompresses a block without the cache.
func (r *Reader) readRaw(h Handle) ([]byte, error) {
	buf := make([]byte, h.Size+TrailerSize)
	if _, err := r.file.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	stored := buf[:h.Size]
	ct := compression.Type(buf[h.Size])
	if r.checksum != checksum.TypeNoChecksum {
		want := encoding.DecodeFixed32(buf[h.Size+1:])
		if got := checksum.Compute(r.checksum, stored, byte(ct)); got != want {
			return nil, corruptf("block checksum mismatch in file %d at offset %d", r.number, h.Offset)
		}
	}
	data, err := compression.Decompress(ct, stored)
	if err != nil {
		return nil, corruptf("decompress block at offset %d: %v", h.Offset, err)
	}
	return data, nil
}

// readBlock returns the decoded entries of a data block, consulting the
// block cache first and filling it when fillCache is set.
func (r *Reader) readBlock(h Handle, fillCache bool) ([]kv, error) {
	key := cache.Key{FileNumber: r.number, BlockOffset: h.Offset}
	if r.cache != nil {
		if data, ok := r.cache.Lookup(key); ok {
			return decodeBlock(data)
		}
	}
	data, err := r.readRaw(h)
	if err != nil {
		return nil, err
	}
	if fillCache && r.cache != nil {
		r.cache.Insert(key, data)
	}
	return decodeBlock(data)
}

// Number returns the file number.
func (r *Reader) Number() uint64 { return r.number }

// Properties returns the table properties.
func (r *Reader) Properties() *Properties { return r.props }

// MayContain consults the filter for userKey.
func (r *Reader) MayContain(userKey []byte) bool {
	return r.filter.MayContain(userKey)
}

// ApproximateOffsetOf returns the file offset where ikey would be stored.
func (r *Reader) ApproximateOffsetOf(ikey []byte) uint64 {
	i := sort.Search(len(r.index), func(i int) bool {
		return dbformat.Compare(r.index[i].lastKey, ikey) >= 0
	})
	if i == len(r.index) {
		return r.dataEnd
	}
	return r.index[i].handle.Offset
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.cache != nil {
		r.cache.EraseFile(r.number)
	}
	return r.file.Close()
}

// NewIterator returns an iterator over the table's internal keys.
func (r *Reader) NewIterator(fillCache bool) *Iterator {
	return &Iterator{r: r, fillCache: fillCache, block: -1}
}

// Iterator is a two-level iterator: index position then block position.
type Iterator struct {
	r         *Reader
	fillCache bool
	block     int
	entries   []kv
	pos       int
	err       error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.block >= 0 && it.pos >= 0 && it.pos < len(it.entries)
}

// Key returns the current internal key.
func (it *Iterator) Key() []byte { return it.entries[it.pos].key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.entries[it.pos].value }

// Error returns the first read error.
func (it *Iterator) Error() error { return it.err }

// Close releases nothing; the reader owns the file.
func (it *Iterator) Close() error { return nil }

func (it *Iterator) load(i int) bool {
	if i < 0 || i >= len(it.r.index) {
		it.block, it.entries = -1, nil
		return false
	}
	entries, err := it.r.readBlock(it.r.index[i].handle, it.fillCache)
	if err != nil {
		it.err = err
		it.block, it.entries = -1, nil
		return false
	}
	it.block, it.entries = i, entries
	return true
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() {
	it.err = nil
	if it.load(0) {
		it.pos = 0
	}
}

// SeekToLast positions at the last entry.
func (it *Iterator) SeekToLast() {
	it.err = nil
	if it.load(len(it.r.index) - 1) {
		it.pos = len(it.entries) - 1
	}
}

// Seek positions at the first entry >= target.
func (it *Iterator) Seek(target []byte) {
	it.err = nil
	i := sort.Search(len(it.r.index), func(i int) bool {
		return dbformat.Compare(it.r.index[i].lastKey, target) >= 0
	})
	if !it.load(i) {
		return
	}
	it.pos = sort.Search(len(it.entries), func(j int) bool {
		return dbformat.Compare(it.entries[j].key, target) >= 0
	})
}

// Next advances.
func (it *Iterator) Next() {
	it.pos++
	if it.pos >= len(it.entries) && it.load(it.block+1) {
		it.pos = 0
	}
}

// Prev steps back.
func (it *Iterator) Prev() {
	it.pos--
	if it.pos < 0 && it.load(it.block-1) {
		it.pos = len(it.entries) - 1
	}
}
