package table

import (
	"strconv"

	"github.com/aalhour/rockyardhost/internal/dbformat"
)

// Property names stored in the properties block.
const (
	PropNumEntries   = "rocksdb.num.entries"
	PropDeletedKeys  = "rocksdb.deleted.keys"
	PropRawKeySize   = "rocksdb.raw.key.size"
	PropRawValueSize = "rocksdb.raw.value.size"
	PropDataSize     = "rocksdb.data.size"
	PropNumBlocks    = "rocksdb.num.data.blocks"
	PropCompression  = "rocksdb.compression"
	PropSmallestKey  = "rockyard.smallest.key"
	PropLargestKey   = "rockyard.largest.key"
	PropMaxSequence  = "rockyard.max.sequence"
	PropDBID         = "rocksdb.creating.db.identity"
)

// Properties summarizes a table.
type Properties struct {
	NumEntries   uint64
	NumDeletions uint64
	RawKeySize   uint64
	RawValueSize uint64
	DataSize     uint64
	NumBlocks    uint64
	Compression  string

	// SmallestKey and LargestKey are internal keys.
	SmallestKey []byte
	LargestKey  []byte
	MaxSequence dbformat.SequenceNumber

	// DBID is the identity of the database that wrote the table.
	DBID string
}

func (p *Properties) encode() []byte {
	num := func(v uint64) []byte { return strconv.AppendUint(nil, v, 10) }
	// Entries are written in key order.
	var buf []byte
	buf = appendEntry(buf, []byte(PropCompression), []byte(p.Compression))
	buf = appendEntry(buf, []byte(PropDBID), []byte(p.DBID))
	buf = appendEntry(buf, []byte(PropDataSize), num(p.DataSize))
	buf = appendEntry(buf, []byte(PropDeletedKeys), num(p.NumDeletions))
	buf = appendEntry(buf, []byte(PropNumBlocks), num(p.NumBlocks))
	buf = appendEntry(buf, []byte(PropNumEntries), num(p.NumEntries))
	buf = appendEntry(buf, []byte(PropRawKeySize), num(p.RawKeySize))
	buf = appendEntry(buf, []byte(PropRawValueSize), num(p.RawValueSize))
	buf = appendEntry(buf, []byte(PropLargestKey), p.LargestKey)
	buf = appendEntry(buf, []byte(PropMaxSequence), num(uint64(p.MaxSequence)))
	buf = appendEntry(buf, []byte(PropSmallestKey), p.SmallestKey)
	return buf
}

func decodeProperties(data []byte) (*Properties, error) {
	entries, err := decodeBlock(data)
	if err != nil {
		return nil, err
	}
	p := &Properties{}
	for _, e := range entries {
		n, _ := strconv.ParseUint(string(e.value), 10, 64)
		switch string(e.key) {
		case PropNumEntries:
			p.NumEntries = n
		case PropDeletedKeys:
			p.NumDeletions = n
		case PropRawKeySize:
			p.RawKeySize = n
		case PropRawValueSize:
			p.RawValueSize = n
		case PropDataSize:
			p.DataSize = n
		case PropNumBlocks:
			p.NumBlocks = n
		case PropCompression:
			p.Compression = string(e.value)
		case PropSmallestKey:
			p.SmallestKey = append([]byte(nil), e.value...)
		case PropLargestKey:
			p.LargestKey = append([]byte(nil), e.value...)
		case PropMaxSequence:
			p.MaxSequence = dbformat.SequenceNumber(n)
		case PropDBID:
			p.DBID = string(e.value)
		}
	}
	return p, nil
}
