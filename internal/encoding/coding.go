// Package encoding provides the little-endian fixed-width and varint
// primitives used by the WAL, write batches, and table files.
package encoding

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrBufferTooSmall is returned when a decode runs past the input.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")
	// ErrVarintOverflow is returned for a varint longer than 10 bytes.
	ErrVarintOverflow = errors.New("encoding: varint overflow")
)

// AppendFixed32 appends v as 4 little-endian bytes.
func AppendFixed32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// AppendFixed64 appends v as 8 little-endian bytes.
func AppendFixed64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// DecodeFixed32 reads 4 little-endian bytes. src must hold at least 4.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// DecodeFixed64 reads 8 little-endian bytes. src must hold at least 8.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendVarint64 appends v as an unsigned LEB128 varint.
func AppendVarint64(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// DecodeVarint64 decodes a varint and returns it with the bytes consumed.
func DecodeVarint64(src []byte) (uint64, int, error) {
	v, n := binary.Uvarint(src)
	switch {
	case n == 0:
		return 0, 0, ErrBufferTooSmall
	case n < 0:
		return 0, 0, ErrVarintOverflow
	}
	return v, n, nil
}

// AppendLengthPrefixedSlice appends varint(len(v)) followed by v.
func AppendLengthPrefixedSlice(dst, v []byte) []byte {
	dst = AppendVarint64(dst, uint64(len(v)))
	return append(dst, v...)
}

// Slice is a forward-only reader over an encoded buffer.
type Slice struct {
	data []byte
}

// NewSlice wraps data.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data}
}

// Remaining returns the number of unread bytes.
func (s *Slice) Remaining() int {
	return len(s.data)
}

// GetFixed32 consumes 4 bytes.
func (s *Slice) GetFixed32() (uint32, bool) {
	if len(s.data) < 4 {
		return 0, false
	}
	v := DecodeFixed32(s.data)
	s.data = s.data[4:]
	return v, true
}

// GetFixed64 consumes 8 bytes.
func (s *Slice) GetFixed64() (uint64, bool) {
	if len(s.data) < 8 {
		return 0, false
	}
	v := DecodeFixed64(s.data)
	s.data = s.data[8:]
	return v, true
}

// GetVarint64 consumes a varint.
func (s *Slice) GetVarint64() (uint64, bool) {
	v, n, err := DecodeVarint64(s.data)
	if err != nil {
		return 0, false
	}
	s.data = s.data[n:]
	return v, true
}

// GetByte consumes a single byte.
func (s *Slice) GetByte() (byte, bool) {
	if len(s.data) == 0 {
		return 0, false
	}
	b := s.data[0]
	s.data = s.data[1:]
	return b, true
}

// GetLengthPrefixedSlice consumes a varint length and that many bytes. The
// returned slice aliases the underlying buffer.
func (s *Slice) GetLengthPrefixedSlice() ([]byte, bool) {
	n, ok := s.GetVarint64()
	if !ok || uint64(len(s.data)) < n {
		return nil, false
	}
	v := s.data[:n:n]
	s.data = s.data[n:]
	return v, true
}
