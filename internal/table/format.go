// Package table reads and writes immutable sorted table files.
//
// File layout:
//
//	[data block 1][trailer]
//	...
//	[data block N][trailer]
//	[filter block][trailer]
//	[properties block][trailer]
//	[index block][trailer]
//	[footer]
//
// Every block is a run of length-prefixed key/value pairs. Data blocks hold
// internal keys; the index block maps the last internal key of each data
// block to its handle; the properties block maps names to values.
//
// Trailer: 1-byte compression type, 4-byte checksum over the stored block
// bytes plus the type byte.
//
// Footer (49 bytes): filter, properties, and index handles as fixed64
// offset/size pairs, the checksum type, and the magic number.
package table

import (
	"errors"
	"fmt"

	"github.com/aalhour/rockyardhost/internal/checksum"
	"github.com/aalhour/rockyardhost/internal/encoding"
)

const (
	// TrailerSize is compression type (1) + checksum (4).
	TrailerSize = 5

	// FooterSize is three handles (16 each) + checksum type (1) + magic (8).
	FooterSize = 3*16 + 1 + 8

	// Magic identifies a table file.
	Magic uint64 = 0x726f636b79617264 // "rockyard"
)

// ErrCorruption wraps every format or checksum failure.
var ErrCorruption = errors.New("table: corruption")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}

// Handle locates a block. Size excludes the trailer.
type Handle struct {
	Offset uint64
	Size   uint64
}

type footer struct {
	filter, props, index Handle
	checksum             checksum.Type
}

func (f *footer) encode() []byte {
	buf := make([]byte, 0, FooterSize)
	for _, h := range []Handle{f.filter, f.props, f.index} {
		buf = encoding.AppendFixed64(buf, h.Offset)
		buf = encoding.AppendFixed64(buf, h.Size)
	}
	buf = append(buf, byte(f.checksum))
	return encoding.AppendFixed64(buf, Magic)
}

func decodeFooter(buf []byte) (*footer, error) {
	if len(buf) != FooterSize {
		return nil, corruptf("footer is %d bytes", len(buf))
	}
	if encoding.DecodeFixed64(buf[FooterSize-8:]) != Magic {
		return nil, corruptf("bad magic number")
	}
	s := encoding.NewSlice(buf)
	var hs [3]Handle
	for i := range hs {
		hs[i].Offset, _ = s.GetFixed64()
		hs[i].Size, _ = s.GetFixed64()
	}
	ct, _ := s.GetByte()
	return &footer{filter: hs[0], props: hs[1], index: hs[2], checksum: checksum.Type(ct)}, nil
}

// kv is a decoded block entry. Slices alias the block buffer.
type kv struct {
	key, value []byte
}

func appendEntry(dst, key, value []byte) []byte {
	dst = encoding.AppendLengthPrefixedSlice(dst, key)
	return encoding.AppendLengthPrefixedSlice(dst, value)
}

func decodeBlock(data []byte) ([]kv, error) {
	var out []kv
	s := encoding.NewSlice(data)
	for s.Remaining() > 0 {
		k, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return nil, corruptf("bad key at entry %d", len(out))
		}
		v, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return nil, corruptf("bad value at entry %d", len(out))
		}
		out = append(out, kv{key: k, value: v})
	}
	return out, nil
}
