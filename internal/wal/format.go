// Package wal reads and writes the write-ahead log.
//
// Each logical record is written as one physical record:
//
//	+------------+---------+------+---------+
//	| XXH3 (8B)  | Len(4B) | Type | Payload |
//	+------------+---------+------+---------+
//
// The checksum covers Type and Payload. A record cut short at the end of the
// file is a torn write from a crash and is reported as ErrTruncated so that
// recovery can stop cleanly; any other mismatch is ErrCorruption.
package wal

import "errors"

// HeaderSize is checksum (8) + length (4) + type (1).
const HeaderSize = 13

// MaxRecordSize bounds a single payload.
const MaxRecordSize = 1 << 30

// RecordType tags a physical record. Values are part of the file format.
type RecordType uint8

const (
	// ZeroType marks preallocated, never-written space.
	ZeroType RecordType = 0
	// BatchType carries one encoded write batch.
	BatchType RecordType = 1
)

var (
	// ErrCorruption is returned for a record whose checksum or header is bad.
	ErrCorruption = errors.New("wal: corrupt record")
	// ErrTruncated is returned for a partial record at end of file.
	ErrTruncated = errors.New("wal: truncated record")
)
