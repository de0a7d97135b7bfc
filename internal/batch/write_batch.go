// Package batch implements the encoded write batch applied atomically to the
// memtable and logged to the WAL as one record.
//
//	Header (12 bytes):
//	  - 8 bytes: first sequence number (little-endian)
//	  - 4 bytes: record count (little-endian)
//	Records (repeated):
//	  - 1 byte: tag (dbformat.ValueType)
//	  - length-prefixed key
//	  - length-prefixed value (TypeValue only)
package batch

import (
	"errors"
	"fmt"

	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/encoding"
)

// HeaderSize is sequence (8) + count (4).
const HeaderSize = 12

var (
	// ErrCorrupted indicates a malformed batch.
	ErrCorrupted = errors.New("batch: corrupted write batch")
	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")
)

// WriteBatch is a sequence of puts and deletes.
type WriteBatch struct {
	data []byte
}

// New returns an empty batch.
func New() *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize)}
}

// NewFromData wraps an encoded batch read from the WAL.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Put records key=value.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.data = append(wb.data, byte(dbformat.TypeValue))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.setCount(wb.Count() + 1)
}

// Delete records a tombstone for key.
func (wb *WriteBatch) Delete(key []byte) {
	wb.data = append(wb.data, byte(dbformat.TypeDeletion))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.setCount(wb.Count() + 1)
}

// Append copies every record of src onto wb.
func (wb *WriteBatch) Append(src *WriteBatch) {
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	wb.setCount(wb.Count() + src.Count())
}

// Clear drops every record.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	clear(wb.data)
}

// Clone returns a deep copy.
func (wb *WriteBatch) Clone() *WriteBatch {
	return &WriteBatch{data: append([]byte(nil), wb.data...)}
}

// Data returns the encoded batch.
func (wb *WriteBatch) Data() []byte { return wb.data }

// Size returns the encoded size in bytes.
func (wb *WriteBatch) Size() int { return len(wb.data) }

// Count returns the number of records.
func (wb *WriteBatch) Count() uint32 {
	return encoding.DecodeFixed32(wb.data[8:12])
}

func (wb *WriteBatch) setCount(n uint32) {
	copy(wb.data[8:12], encoding.AppendFixed32(nil, n))
}

// Sequence returns the sequence assigned to the first record.
func (wb *WriteBatch) Sequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(encoding.DecodeFixed64(wb.data[0:8]))
}

// SetSequence assigns the first record's sequence.
func (wb *WriteBatch) SetSequence(seq dbformat.SequenceNumber) {
	copy(wb.data[0:8], encoding.AppendFixed64(nil, uint64(seq)))
}

// Handler receives decoded records.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterate decodes every record in order and hands it to h.
func (wb *WriteBatch) Iterate(h Handler) error {
	s := encoding.NewSlice(wb.data[HeaderSize:])
	var seen uint32
	for s.Remaining() > 0 {
		tag, _ := s.GetByte()
		key, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return fmt.Errorf("%w: bad key in record %d", ErrCorrupted, seen)
		}
		var err error
		switch dbformat.ValueType(tag) {
		case dbformat.TypeValue:
			value, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return fmt.Errorf("%w: bad value in record %d", ErrCorrupted, seen)
			}
			err = h.Put(key, value)
		case dbformat.TypeDeletion:
			err = h.Delete(key)
		default:
			return fmt.Errorf("%w: unknown tag %#x", ErrCorrupted, tag)
		}
		if err != nil {
			return err
		}
		seen++
	}
	if seen != wb.Count() {
		return fmt.Errorf("%w: header count %d, found %d", ErrCorrupted, wb.Count(), seen)
	}
	return nil
}
