package encoding

import (
	"bytes"
	"errors"
	"testing"
)

func TestSlice_ReadsWhatWasAppended(t *testing.T) {
	var buf []byte
	buf = AppendFixed32(buf, 0xcafebabe)
	buf = AppendFixed64(buf, 1<<60)
	buf = AppendVarint64(buf, 300)
	buf = append(buf, 0x7)
	buf = AppendLengthPrefixedSlice(buf, []byte("key"))

	s := NewSlice(buf)
	if v, ok := s.GetFixed32(); !ok || v != 0xcafebabe {
		t.Errorf("GetFixed32() = %#x, %v", v, ok)
	}
	if v, ok := s.GetFixed64(); !ok || v != 1<<60 {
		t.Errorf("GetFixed64() = %d, %v", v, ok)
	}
	if v, ok := s.GetVarint64(); !ok || v != 300 {
		t.Errorf("GetVarint64() = %d, %v", v, ok)
	}
	if b, ok := s.GetByte(); !ok || b != 0x7 {
		t.Errorf("GetByte() = %d, %v", b, ok)
	}
	if v, ok := s.GetLengthPrefixedSlice(); !ok || !bytes.Equal(v, []byte("key")) {
		t.Errorf("GetLengthPrefixedSlice() = %q, %v", v, ok)
	}
	if s.Remaining() != 0 {
		t.Errorf("Remaining() = %d", s.Remaining())
	}
	if _, ok := s.GetByte(); ok {
		t.Error("GetByte() on empty slice succeeded")
	}
}

func TestDecodeVarint64_Errors(t *testing.T) {
	if _, _, err := DecodeVarint64([]byte{0x80}); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("truncated varint error = %v", err)
	}
	over := bytes.Repeat([]byte{0xff}, 11)
	if _, _, err := DecodeVarint64(over); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("overlong varint error = %v", err)
	}
}

func TestGetLengthPrefixedSlice_Truncated(t *testing.T) {
	buf := AppendVarint64(nil, 10)
	buf = append(buf, "short"...)
	if _, ok := NewSlice(buf).GetLengthPrefixedSlice(); ok {
		t.Error("truncated slice decoded")
	}
}
