// Package dbformat defines the internal key format shared by the memtable,
// WAL replay, and table files.
//
// An internal key is the user key followed by an 8-byte trailer packing a
// 56-bit sequence number and an 8-bit value type:
//
//	| user key | (seq << 8) | type  (fixed64, little-endian) |
//
// Internal keys sort by user key ascending, then sequence descending, so that
// the newest version of a key is met first during a forward scan.
package dbformat

import (
	"bytes"
	"fmt"

	"github.com/aalhour/rockyardhost/internal/encoding"
)

// SequenceNumber orders writes. Every write batch consumes one sequence
// number per record.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the trailer size.
const NumInternalBytes = 8

// ValueType tags an internal key.
type ValueType uint8

const (
	// TypeDeletion is a tombstone.
	TypeDeletion ValueType = 0x0
	// TypeValue is a live value.
	TypeValue ValueType = 0x1
)

// TypeForSeek sorts before every other type at the same sequence, so a
// lookup key built with it lands on the newest visible entry.
const TypeForSeek = TypeValue

func (t ValueType) String() string {
	switch t {
	case TypeDeletion:
		return "DEL"
	case TypeValue:
		return "VAL"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// PackSequenceAndType packs seq and t into a trailer.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return uint64(seq)<<8 | uint64(t)
}

// InternalKey is an encoded internal key.
type InternalKey []byte

// NewInternalKey builds an internal key.
func NewInternalKey(userKey []byte, seq SequenceNumber, t ValueType) InternalKey {
	k := make([]byte, 0, len(userKey)+NumInternalBytes)
	k = append(k, userKey...)
	return encoding.AppendFixed64(k, PackSequenceAndType(seq, t))
}

// Valid reports whether k is long enough to hold a trailer.
func (k InternalKey) Valid() bool {
	return len(k) >= NumInternalBytes
}

// UserKey returns the user-key prefix.
func (k InternalKey) UserKey() []byte {
	return k[:len(k)-NumInternalBytes]
}

// Sequence returns the sequence number.
func (k InternalKey) Sequence() SequenceNumber {
	return SequenceNumber(encoding.DecodeFixed64(k[len(k)-NumInternalBytes:]) >> 8)
}

// Type returns the value type.
func (k InternalKey) Type() ValueType {
	return ValueType(k[len(k)-NumInternalBytes])
}

func (k InternalKey) String() string {
	if !k.Valid() {
		return fmt.Sprintf("<bad key %x>", []byte(k))
	}
	return fmt.Sprintf("%q@%d:%s", k.UserKey(), k.Sequence(), k.Type())
}

// Compare orders internal keys: user key ascending, then trailer descending.
func Compare(a, b []byte) int {
	if c := bytes.Compare(InternalKey(a).UserKey(), InternalKey(b).UserKey()); c != 0 {
		return c
	}
	at := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
	bt := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
	switch {
	case at > bt:
		return -1
	case at < bt:
		return 1
	}
	return 0
}
