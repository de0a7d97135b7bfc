package wal

import (
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/aalhour/rockyardhost/internal/encoding"
)

// Syncer is implemented by destinations that can be flushed to stable storage.
type Syncer interface {
	Sync() error
}

// Writer appends records to a log file.
type Writer struct {
	dest   io.Writer
	offset int64
	buf    []byte
}

// NewWriter returns a writer appending to dest.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// AddRecord writes payload as a single record.
func (w *Writer) AddRecord(payload []byte) error {
	if len(payload) > MaxRecordSize {
		return fmt.Errorf("wal: record of %d bytes exceeds limit", len(payload))
	}
	h := xxh3.New()
	_, _ = h.Write([]byte{byte(BatchType)})
	_, _ = h.Write(payload)

	w.buf = w.buf[:0]
	w.buf = encoding.AppendFixed64(w.buf, h.Sum64())
	w.buf = encoding.AppendFixed32(w.buf, uint32(len(payload)))
	w.buf = append(w.buf, byte(BatchType))
	w.buf = append(w.buf, payload...)

	n, err := w.dest.Write(w.buf)
	w.offset += int64(n)
	return err
}

// Sync flushes the destination if it supports it.
func (w *Writer) Sync() error {
	if s, ok := w.dest.(Syncer); ok {
		return s.Sync()
	}
	return nil
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.offset
}
