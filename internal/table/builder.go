package table

import (
	"fmt"
	"io"

	"github.com/aalhour/rockyardhost/internal/checksum"
	"github.com/aalhour/rockyardhost/internal/compression"
	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/encoding"
	"github.com/aalhour/rockyardhost/internal/filter"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// BlockSize is the target uncompressed data block size. Default: 4096.
	BlockSize int
	// Compression applied to data blocks. Default: NoCompression.
	Compression compression.Type
	// Checksum applied to every block. Default: TypeXXH3.
	Checksum checksum.Type
	// BloomBitsPerKey sizes the filter. Zero uses filter.DefaultBitsPerKey.
	BloomBitsPerKey int
	// DBID is recorded in the properties block.
	DBID string
}

// Builder writes a table file. Keys must be added in strictly increasing
// internal-key order.
type Builder struct {
	w      io.Writer
	opts   BuilderOptions
	offset uint64
	err    error

	block    []byte
	index    []byte
	filter   *filter.Builder
	props    Properties
	lastKey  []byte
	finished bool
}

// NewBuilder returns a builder writing to w.
func NewBuilder(w io.Writer, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.Checksum == checksum.TypeNoChecksum {
		opts.Checksum = checksum.TypeXXH3
	}
	return &Builder{
		w:      w,
		opts:   opts,
		filter: filter.NewBuilder(opts.BloomBitsPerKey),
		props:  Properties{Compression: opts.Compression.String(), DBID: opts.DBID},
	}
}

// Add appends an entry.
func (b *Builder) Add(ikey, value []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.lastKey != nil && dbformat.Compare(b.lastKey, ikey) >= 0 {
		b.err = fmt.Errorf("table: keys out of order: %v after %v", dbformat.InternalKey(ikey), dbformat.InternalKey(b.lastKey))
		return b.err
	}
	k := dbformat.InternalKey(ikey)
	if b.props.NumEntries == 0 {
		b.props.SmallestKey = append([]byte(nil), ikey...)
	}
	b.lastKey = append(b.lastKey[:0], ikey...)
	b.props.NumEntries++
	if k.Type() == dbformat.TypeDeletion {
		b.props.NumDeletions++
	}
	b.props.RawKeySize += uint64(len(ikey))
	b.props.RawValueSize += uint64(len(value))
	b.props.MaxSequence = max(b.props.MaxSequence, k.Sequence())
	b.filter.AddKey(k.UserKey())

	b.block = appendEntry(b.block, ikey, value)
	if len(b.block) >= b.opts.BlockSize {
		b.flushBlock()
	}
	return b.err
}

func (b *Builder) flushBlock() {
	if len(b.block) == 0 || b.err != nil {
		return
	}
	h := b.writeBlock(b.block, b.opts.Compression)
	// The index key is the block's last key, which is always b.lastKey here.
	b.index = appendEntry(b.index, b.lastKey, encodeHandle(h))
	b.props.NumBlocks++
	b.block = b.block[:0]
}

// writeBlock stores raw with the requested compression, falling back to
// no compression when it saves less than 1/8.
func (b *Builder) writeBlock(raw []byte, ct compression.Type) Handle {
	stored := raw
	if ct != compression.NoCompression {
		c, err := compression.Compress(ct, raw)
		if err == nil && len(c) < len(raw)-len(raw)/8 {
			stored = c
		} else {
			ct = compression.NoCompression
		}
	}
	h := Handle{Offset: b.offset, Size: uint64(len(stored))}
	trailer := []byte{byte(ct)}
	trailer = encoding.AppendFixed32(trailer, checksum.Compute(b.opts.Checksum, stored, byte(ct)))
	b.write(stored)
	b.write(trailer)
	return h
}

func (b *Builder) write(p []byte) {
	if b.err != nil {
		return
	}
	n, err := b.w.Write(p)
	b.offset += uint64(n)
	b.err = err
}

func encodeHandle(h Handle) []byte {
	buf := encoding.AppendVarint64(nil, h.Offset)
	return encoding.AppendVarint64(buf, h.Size)
}

func decodeHandle(data []byte) (Handle, error) {
	s := encoding.NewSlice(data)
	off, ok1 := s.GetVarint64()
	size, ok2 := s.GetVarint64()
	if !ok1 || !ok2 {
		return Handle{}, corruptf("bad block handle")
	}
	return Handle{Offset: off, Size: size}, nil
}

// Finish writes the trailing blocks and footer and returns the file size.
func (b *Builder) Finish() (uint64, error) {
	if b.finished {
		return b.offset, b.err
	}
	b.finished = true
	b.flushBlock()
	b.props.DataSize = b.offset
	b.props.LargestKey = append([]byte(nil), b.lastKey...)

	var f footer
	f.checksum = b.opts.Checksum
	f.filter = b.writeBlock(b.filter.Finish(), compression.NoCompression)
	f.props = b.writeBlock(b.props.encode(), compression.NoCompression)
	f.index = b.writeBlock(b.index, compression.NoCompression)
	b.write(f.encode())
	return b.offset, b.err
}

// NumEntries returns the number of entries added.
func (b *Builder) NumEntries() uint64 {
	return b.props.NumEntries
}
