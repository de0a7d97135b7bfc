package engine

import (
	"github.com/aalhour/rockyardhost/internal/checksum"
	"github.com/aalhour/rockyardhost/internal/compression"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/vfs"
)

// Options configures Open, Destroy, and Repair.
type Options struct {
	// CreateIfMissing creates the database directory and files when absent.
	CreateIfMissing bool

	// ErrorIfExists makes Open fail when the database already exists.
	ErrorIfExists bool

	// Compression applied to table data blocks.
	Compression compression.Type

	// WriteBufferSize is the memtable size that triggers a flush.
	WriteBufferSize int

	// BlockSize is the target uncompressed table block size.
	BlockSize int

	// MaxOpenFiles is recorded in the OPTIONS file.
	MaxOpenFiles int

	// CacheSize is the block cache capacity in bytes.
	CacheSize int64

	// Checksum applied to table blocks.
	Checksum checksum.Type

	// BloomBitsPerKey sizes each table's filter.
	BloomBitsPerKey int

	// MaxTables triggers a full compaction after a flush leaves more
	// tables than this.
	MaxTables int

	// InfoLogLevel is recorded in the OPTIONS file ("debug", "info", ...).
	InfoLogLevel string

	// Logger receives engine events. Nil uses a WARN stderr logger.
	Logger logging.Logger

	// FS is the filesystem. Nil uses the OS filesystem.
	FS vfs.FS
}

// DefaultOptions returns the defaults used by the host layer.
func DefaultOptions() Options {
	return Options{
		CreateIfMissing: true,
		Compression:     compression.SnappyCompression,
		WriteBufferSize: 4 << 20,
		BlockSize:       4096,
		MaxOpenFiles:    1000,
		CacheSize:       8 << 20,
		Checksum:        checksum.TypeXXH3,
		BloomBitsPerKey: 10,
		MaxTables:       8,
		InfoLogLevel:    "info",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = d.WriteBufferSize
	}
	if o.BlockSize <= 0 {
		o.BlockSize = d.BlockSize
	}
	if o.MaxOpenFiles <= 0 {
		o.MaxOpenFiles = d.MaxOpenFiles
	}
	if o.CacheSize < 0 {
		o.CacheSize = 0
	}
	if o.Checksum == checksum.TypeNoChecksum {
		o.Checksum = d.Checksum
	}
	if o.MaxTables <= 0 {
		o.MaxTables = d.MaxTables
	}
	if o.InfoLogLevel == "" {
		o.InfoLogLevel = d.InfoLogLevel
	}
	o.Logger = logging.OrDefault(o.Logger)
	if o.FS == nil {
		o.FS = vfs.Default()
	}
	return o
}

// ReadOptions configures reads.
type ReadOptions struct {
	// Snapshot pins the read to a point in time. Nil reads the latest state.
	Snapshot *Snapshot

	// FillCache controls whether blocks read are inserted in the block cache.
	FillCache bool
}

// DefaultReadOptions returns FillCache=true with no snapshot.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{FillCache: true}
}

// WriteOptions configures writes.
type WriteOptions struct {
	// Sync fsyncs the WAL before the write returns.
	Sync bool
}

// TransactionOptions configures BeginTransaction.
type TransactionOptions struct {
	// SetSnapshot takes a snapshot at begin, so conflict checks and reads
	// are relative to the transaction's start.
	SetSnapshot bool
}
