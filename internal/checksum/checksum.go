// Package checksum provides the block and record checksums used by the
// storage engine's on-disk files.
//
// Table blocks carry a 32-bit checksum computed over the block contents plus
// the trailing compression-type byte. WAL records carry a full 64-bit XXH3.
package checksum

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

// Type is the checksum algorithm recorded in a table footer.
type Type uint8

const (
	// TypeNoChecksum disables verification.
	TypeNoChecksum Type = 0
	// TypeCRC32C is masked CRC32C (Castagnoli).
	TypeCRC32C Type = 1
	// TypeXXH3 is the low 32 bits of XXH3-64.
	TypeXXH3 Type = 4
)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeCRC32C:
		return "CRC32C"
	case TypeXXH3:
		return "XXH3"
	default:
		return "Unknown"
	}
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// Mask returns a masked representation of crc. Stored CRCs are masked so
// that computing a CRC over data containing embedded CRCs stays well mixed.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}

// Hash64 returns the XXH3-64 of data.
func Hash64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Compute returns the type-t checksum of data followed by lastByte.
func Compute(t Type, data []byte, lastByte byte) uint32 {
	switch t {
	case TypeCRC32C:
		crc := crc32.Checksum(data, crc32cTable)
		crc = crc32.Update(crc, crc32cTable, []byte{lastByte})
		return Mask(crc)
	case TypeXXH3:
		h := xxh3.New()
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{lastByte})
		return uint32(h.Sum64())
	default:
		return 0
	}
}
