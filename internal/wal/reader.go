package wal

import (
	"bufio"
	"errors"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/aalhour/rockyardhost/internal/encoding"
)

// Reader reads records written by Writer.
type Reader struct {
	src    *bufio.Reader
	header [HeaderSize]byte
	offset int64
}

// NewReader returns a reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(src)}
}

// ReadRecord returns the next payload, io.EOF at a clean end of file,
// ErrTruncated for a torn tail, or ErrCorruption.
func (r *Reader) ReadRecord() ([]byte, error) {
	n, err := io.ReadFull(r.src, r.header[:])
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.offset += int64(n)
		return nil, ErrTruncated
	case err != nil:
		return nil, err
	}

	sum := encoding.DecodeFixed64(r.header[0:8])
	length := encoding.DecodeFixed32(r.header[8:12])
	typ := RecordType(r.header[12])
	if typ == ZeroType && sum == 0 && length == 0 {
		return nil, io.EOF
	}
	if typ != BatchType || length > MaxRecordSize {
		return nil, ErrCorruption
	}

	payload := make([]byte, length)
	n, err = io.ReadFull(r.src, payload)
	if err != nil {
		r.offset += int64(HeaderSize + n)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	h := xxh3.New()
	_, _ = h.Write([]byte{byte(typ)})
	_, _ = h.Write(payload)
	if h.Sum64() != sum {
		return nil, ErrCorruption
	}
	r.offset += int64(HeaderSize) + int64(length)
	return payload, nil
}

// Offset returns the end offset of the last record returned.
func (r *Reader) Offset() int64 {
	return r.offset
}
