package rockyardhost

// options.go defines the option structs accepted by Env and the handles.
//
// A nil options pointer always means the Default* value.

import (
	"fmt"

	"github.com/aalhour/rockyardhost/internal/compression"
	"github.com/aalhour/rockyardhost/internal/engine"
	"github.com/aalhour/rockyardhost/internal/logging"
)

// DefaultHighWaterMarkBytes bounds the bytes a single iterator batch
// accumulates.
const DefaultHighWaterMarkBytes = 16 << 10

// EnvOptions configures an Env.
type EnvOptions struct {
	// Workers bounds concurrently executing work items.
	// Default: runtime.GOMAXPROCS(0).
	Workers int

	// Logger receives coordinator events. Nil uses a WARN stderr logger.
	Logger logging.Logger
}

// Options configures Database.Open.
type Options struct {
	// CreateIfMissing creates the database when it does not exist.
	// Default: true.
	CreateIfMissing bool

	// ErrorIfExists fails Open when the database already exists.
	ErrorIfExists bool

	// Compression names the table block codec: "none", "snappy", "zlib",
	// "lz4", "lz4hc" or "zstd". Default: "snappy".
	Compression string

	// WriteBufferSize is the memtable size that triggers a flush.
	// Default: 4 MiB.
	WriteBufferSize int

	// BlockSize is the target table block size. Default: 4 KiB.
	BlockSize int

	// MaxOpenFiles is recorded in the OPTIONS file. Default: 1000.
	MaxOpenFiles int

	// CacheSize is the block cache capacity in bytes. Default: 8 MiB.
	CacheSize int64

	// InfoLogLevel is one of "debug", "info", "warn", "error", "fatal" or
	// "header". When set and Logger is nil, the engine logs to stderr at
	// that level. Empty uses the Env logger.
	InfoLogLevel string

	// Logger receives engine events. Nil falls back as described for
	// InfoLogLevel.
	Logger logging.Logger
}

// DefaultOptions returns the Open defaults.
func DefaultOptions() *Options {
	d := engine.DefaultOptions()
	return &Options{
		CreateIfMissing: d.CreateIfMissing,
		Compression:     "snappy",
		WriteBufferSize: d.WriteBufferSize,
		BlockSize:       d.BlockSize,
		MaxOpenFiles:    d.MaxOpenFiles,
		CacheSize:       d.CacheSize,
	}
}

// engineOptions validates o and converts it. Invalid values are
// INVALID_ARGUMENT errors.
func (o *Options) engineOptions(fallback logging.Logger) (engine.Options, error) {
	if o == nil {
		o = DefaultOptions()
	}
	eo := engine.DefaultOptions()
	eo.CreateIfMissing = o.CreateIfMissing
	eo.ErrorIfExists = o.ErrorIfExists
	ct, err := compression.ParseType(o.Compression)
	if err != nil {
		return eo, invalidArgument(err.Error())
	}
	eo.Compression = ct
	if o.WriteBufferSize > 0 {
		eo.WriteBufferSize = o.WriteBufferSize
	}
	if o.BlockSize > 0 {
		eo.BlockSize = o.BlockSize
	}
	if o.MaxOpenFiles > 0 {
		eo.MaxOpenFiles = o.MaxOpenFiles
	}
	if o.CacheSize > 0 {
		eo.CacheSize = o.CacheSize
	}

	eo.Logger = fallback
	if o.InfoLogLevel != "" {
		level, err := logging.ParseLevel(o.InfoLogLevel)
		if err != nil {
			return eo, invalidArgument(fmt.Sprintf("invalid info log level %q", o.InfoLogLevel))
		}
		eo.InfoLogLevel = o.InfoLogLevel
		eo.Logger = logging.NewDefaultLogger(level)
	}
	if o.Logger != nil {
		eo.Logger = o.Logger
	}
	return eo, nil
}

// ReadPoint is a snapshot a read can be pinned to: a *Snapshot for
// database reads, a *TransactionSnapshot for transaction reads.
type ReadPoint interface {
	readPoint() *engine.Snapshot
}

// ReadOptions configures point reads.
type ReadOptions struct {
	// FillCache inserts blocks read into the block cache. Default: true.
	FillCache bool

	// Snapshot pins the read. Nil reads the latest committed state.
	Snapshot ReadPoint
}

// DefaultReadOptions returns FillCache=true with no snapshot.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{FillCache: true}
}

// WriteOptions configures writes.
type WriteOptions struct {
	// Sync fsyncs the write-ahead log before the write completes.
	Sync bool
}

// RangeOptions selects an ordered key range.
//
// Lte takes precedence over Lt and Gte over Gt. A nil bound is unset.
type RangeOptions struct {
	Lt, Lte, Gt, Gte []byte

	// Limit caps the number of entries visited. Nil or negative means
	// unbounded; zero visits nothing.
	Limit *int

	// Reverse walks the range from the top.
	Reverse bool

	// FillCache inserts blocks read into the block cache.
	FillCache bool

	// Snapshot pins the range.
	Snapshot ReadPoint
}

// Limit returns n for RangeOptions.Limit.
func Limit(n int) *int { return &n }

// IteratorMode selects what an iterator batch carries.
type IteratorMode int

const (
	// IterateEntries returns keys and values.
	IterateEntries IteratorMode = iota
	// IterateKeys returns keys only.
	IterateKeys
	// IterateValues returns values only.
	IterateValues
)

// IteratorOptions configures NewIterator.
type IteratorOptions struct {
	RangeOptions

	// Mode selects keys, values or both. Default: both.
	Mode IteratorMode

	// HighWaterMarkBytes cuts a batch once the key and value bytes it holds
	// exceed this. Default: DefaultHighWaterMarkBytes.
	HighWaterMarkBytes int
}

// TransactionOptions configures BeginTransaction.
type TransactionOptions struct {
	// SetSnapshot pins the transaction's conflict checks to its start.
	SetSnapshot bool

	// Sync fsyncs the write-ahead log on commit.
	Sync bool
}

func (o *WriteOptions) engine() engine.WriteOptions {
	if o == nil {
		return engine.WriteOptions{}
	}
	return engine.WriteOptions{Sync: o.Sync}
}
