package wal

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func writeRecords(t *testing.T, records ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range records {
		if err := w.AddRecord([]byte(r)); err != nil {
			t.Fatalf("AddRecord() error = %v", err)
		}
	}
	if w.Size() != int64(buf.Len()) {
		t.Errorf("Size() = %d, buffer = %d", w.Size(), buf.Len())
	}
	return buf.Bytes()
}

func TestReader_RoundTrip(t *testing.T) {
	data := writeRecords(t, "first", "", "third record")
	r := NewReader(bytes.NewReader(data))
	for _, want := range []string{"first", "", "third record"} {
		got, err := r.ReadRecord()
		if err != nil {
			t.Fatalf("ReadRecord() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("ReadRecord() = %q, want %q", got, want)
		}
	}
	if _, err := r.ReadRecord(); !errors.Is(err, io.EOF) {
		t.Errorf("final ReadRecord() error = %v, want io.EOF", err)
	}
	if r.Offset() != int64(len(data)) {
		t.Errorf("Offset() = %d, want %d", r.Offset(), len(data))
	}
}

func TestReader_TornTail(t *testing.T) {
	data := writeRecords(t, "complete", "will be torn")
	for _, cut := range []int{len(data) - 1, len(data) - 10} {
		r := NewReader(bytes.NewReader(data[:cut]))
		if _, err := r.ReadRecord(); err != nil {
			t.Fatalf("first record error = %v", err)
		}
		if _, err := r.ReadRecord(); !errors.Is(err, ErrTruncated) {
			t.Errorf("cut=%d: error = %v, want ErrTruncated", cut, err)
		}
	}
}

func TestReader_Corruption(t *testing.T) {
	data := writeRecords(t, "payload")
	data[len(data)-1] ^= 0xff
	if _, err := NewReader(bytes.NewReader(data)).ReadRecord(); !errors.Is(err, ErrCorruption) {
		t.Errorf("error = %v, want ErrCorruption", err)
	}
}

func TestReader_ZeroFilledTail(t *testing.T) {
	data := writeRecords(t, "x")
	data = append(data, make([]byte, 64)...)
	r := NewReader(bytes.NewReader(data))
	if _, err := r.ReadRecord(); err != nil {
		t.Fatalf("ReadRecord() error = %v", err)
	}
	if _, err := r.ReadRecord(); !errors.Is(err, io.EOF) {
		t.Errorf("error = %v, want io.EOF for preallocated tail", err)
	}
}
