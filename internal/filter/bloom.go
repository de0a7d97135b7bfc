// Package filter implements the per-table Bloom filter over user keys.
//
// Filter layout:
//
//	data[0:len-1] = filter bits
//	data[len-1]   = number of probes
//
// Probes use double hashing over the two halves of an XXH3-64 hash.
package filter

import "github.com/zeebo/xxh3"

// DefaultBitsPerKey gives roughly a 1% false-positive rate.
const DefaultBitsPerKey = 10

// Builder accumulates key hashes until Finish.
type Builder struct {
	bitsPerKey int
	hashes     []uint64
}

// NewBuilder returns a builder using bitsPerKey bits per added key.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey <= 0 {
		bitsPerKey = DefaultBitsPerKey
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// AddKey records key. Duplicate consecutive keys are collapsed.
func (b *Builder) AddKey(key []byte) {
	h := xxh3.Hash(key)
	if n := len(b.hashes); n > 0 && b.hashes[n-1] == h {
		return
	}
	b.hashes = append(b.hashes, h)
}

// NumKeys returns the number of distinct keys added.
func (b *Builder) NumKeys() int {
	return len(b.hashes)
}

// Finish encodes the filter and resets the builder.
func (b *Builder) Finish() []byte {
	bits := max(len(b.hashes)*b.bitsPerKey, 64)
	nbytes := (bits + 7) / 8
	bits = nbytes * 8

	// k = ln(2) * bits/key, clamped to [1, 30].
	probes := min(max(b.bitsPerKey*69/100, 1), 30)

	data := make([]byte, nbytes+1)
	for _, h := range b.hashes {
		h1, h2 := uint32(h), uint32(h>>32)
		for i := range probes {
			pos := (h1 + uint32(i)*h2) % uint32(bits)
			data[pos/8] |= 1 << (pos % 8)
		}
	}
	data[nbytes] = byte(probes)
	b.hashes = b.hashes[:0]
	return data
}

// Reader answers membership queries against an encoded filter.
type Reader struct {
	data   []byte
	bits   uint32
	probes int
}

// NewReader parses data. A nil or malformed filter matches everything.
func NewReader(data []byte) *Reader {
	if len(data) < 2 {
		return &Reader{}
	}
	return &Reader{
		data:   data[:len(data)-1],
		bits:   uint32(len(data)-1) * 8,
		probes: int(data[len(data)-1]),
	}
}

// MayContain reports false only when key was definitely never added.
func (r *Reader) MayContain(key []byte) bool {
	if r.bits == 0 || r.probes == 0 {
		return true
	}
	h := xxh3.Hash(key)
	h1, h2 := uint32(h), uint32(h>>32)
	for i := range r.probes {
		pos := (h1 + uint32(i)*h2) % r.bits
		if r.data[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}
