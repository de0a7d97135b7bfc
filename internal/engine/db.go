// Package engine is a small embedded log-structured key-value store: a
// write-ahead log, a skiplist memtable, and immutable sorted tables merged
// by full compaction. It offers point reads, batched atomic writes,
// snapshots, ordered iterators, and optimistic transactions.
//
// A DB is safe for concurrent use. Iterators and transactions are not.
package engine

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aalhour/rockyardhost/internal/batch"
	"github.com/aalhour/rockyardhost/internal/cache"
	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/iterator"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/memtable"
	"github.com/aalhour/rockyardhost/internal/table"
	"github.com/aalhour/rockyardhost/internal/vfs"
	"github.com/aalhour/rockyardhost/internal/wal"
)

// multiGetParallelThreshold is the key count above which MultiGet fans out.
const multiGetParallelThreshold = 16

const multiGetWorkers = 8

// DB is an open database.
type DB struct {
	dir      string
	opts     Options
	fs       vfs.FS
	logger   logging.Logger
	lock     io.Closer
	identity string
	cache    *cache.LRUCache

	// writeMu serializes writers, flushes, and compactions. It guards the
	// log, nextFile, and bgErr.
	writeMu   sync.Mutex
	logFile   vfs.WritableFile
	log       *wal.Writer
	logNumber uint64
	nextFile  uint64
	bgErr     error

	// mu guards mem and tables. Both are replaced only while writeMu is
	// also held.
	mu     sync.RWMutex
	mem    *memtable.MemTable
	tables []*tableFile

	// lastSeq is published after a batch is fully applied to the memtable,
	// so readers never observe half a batch.
	lastSeq atomic.Uint64

	snapMu    sync.Mutex
	snapshots []*Snapshot

	nextTxnID atomic.Uint64
	closed    atomic.Bool
	stats     stats
}

type stats struct {
	writes      atomic.Int64
	writeBytes  atomic.Int64
	gets        atomic.Int64
	flushes     atomic.Int64
	compactions atomic.Int64
}

// Open opens the database in dir, creating it when allowed by opts.
func Open(dir string, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	fs := opts.FS
	if dir == "" {
		return nil, newError(CodeInvalidArgument, nil, "empty database path")
	}

	exists := vfs.Exists(fs, filepath.Join(dir, currentFileName))
	switch {
	case !exists && !opts.CreateIfMissing:
		return nil, newError(CodeInvalidArgument, nil, "%s: does not exist (create_if_missing is false)", dir)
	case exists && opts.ErrorIfExists:
		return nil, newError(CodeInvalidArgument, nil, "%s: exists (error_if_exists is true)", dir)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, ioError(err, "create %s", dir)
	}
	lockPath := filepath.Join(dir, lockFileName)
	lock, err := fs.Lock(lockPath)
	if err != nil {
		return nil, ioError(err, "lock %s", lockPath)
	}

	db := &DB{
		dir:    dir,
		opts:   opts,
		fs:     fs,
		logger: opts.Logger,
		lock:   lock,
		mem:    memtable.New(),
	}
	if opts.CacheSize > 0 {
		db.cache = cache.NewLRUCache(uint64(opts.CacheSize))
	}
	if err := db.recover(exists); err != nil {
		db.releaseResources()
		return nil, err
	}
	db.logger.Infof(logging.NSDB+"opened %s (id %s, last sequence %d, %d tables)",
		dir, db.identity, db.lastSeq.Load(), len(db.tables))
	return db, nil
}

// Close releases the directory lock and all files. Outstanding iterators
// keep their tables open until they are closed.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var firstErr error
	if db.logFile != nil {
		if err := db.logFile.Sync(); err != nil {
			firstErr = ioError(err, "sync log %d", db.logNumber)
		}
	}
	if err := db.releaseResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.logger.Infof(logging.NSDB+"closed %s", db.dir)
	return firstErr
}

func (db *DB) releaseResources() error {
	var firstErr error
	if db.logFile != nil {
		if err := db.logFile.Close(); err != nil {
			firstErr = ioError(err, "close log %d", db.logNumber)
		}
		db.logFile, db.log = nil, nil
	}
	db.mu.Lock()
	tables := db.tables
	db.tables = nil
	db.mu.Unlock()
	for _, t := range tables {
		t.unref()
	}
	if db.lock != nil {
		if err := db.lock.Close(); err != nil && firstErr == nil {
			firstErr = ioError(err, "unlock %s", db.dir)
		}
		db.lock = nil
	}
	return firstErr
}

// Identity returns the database's unique id from the IDENTITY file.
func (db *DB) Identity() string { return db.identity }

// Dir returns the database directory.
func (db *DB) Dir() string { return db.dir }

// LatestSequence returns the sequence number of the last applied write.
func (db *DB) LatestSequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(db.lastSeq.Load())
}

// Put sets key to value.
func (db *DB) Put(wo WriteOptions, key, value []byte) error {
	b := batch.New()
	b.Put(key, value)
	return db.Write(wo, b)
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(wo WriteOptions, key []byte) error {
	b := batch.New()
	b.Delete(key)
	return db.Write(wo, b)
}

// Write applies b atomically.
func (db *DB) Write(wo WriteOptions, b *batch.WriteBatch) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if b == nil || b.Count() == 0 {
		return nil
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.writeLocked(wo, b)
}

func (db *DB) writeLocked(wo WriteOptions, b *batch.WriteBatch) error {
	if db.bgErr != nil {
		return db.bgErr
	}
	if db.log == nil {
		return ErrClosed
	}
	first := dbformat.SequenceNumber(db.lastSeq.Load()) + 1
	b.SetSequence(first)
	if err := db.log.AddRecord(b.Data()); err != nil {
		db.bgErr = ioError(err, "append log %d", db.logNumber)
		db.logger.Errorf(logging.NSWAL+"%v", db.bgErr)
		return db.bgErr
	}
	if wo.Sync {
		if err := db.log.Sync(); err != nil {
			db.bgErr = ioError(err, "sync log %d", db.logNumber)
			db.logger.Errorf(logging.NSWAL+"%v", db.bgErr)
			return db.bgErr
		}
	}
	if err := b.Iterate(&memInserter{mem: db.mem, seq: first}); err != nil {
		return corruption(err, "apply batch")
	}
	db.lastSeq.Store(uint64(first) + uint64(b.Count()) - 1)
	db.stats.writes.Add(int64(b.Count()))
	db.stats.writeBytes.Add(int64(b.Size()))

	if db.mem.ApproximateMemoryUsage() >= int64(db.opts.WriteBufferSize) {
		if err := db.flushLocked(); err != nil {
			db.logger.Warnf(logging.NSDB+"flush after write: %v", err)
		}
	}
	return nil
}

// memInserter applies batch records to a memtable with consecutive
// sequence numbers.
type memInserter struct {
	mem *memtable.MemTable
	seq dbformat.SequenceNumber
}

func (h *memInserter) Put(key, value []byte) error {
	h.mem.Add(h.seq, dbformat.TypeValue, key, value)
	h.seq++
	return nil
}

func (h *memInserter) Delete(key []byte) error {
	h.mem.Add(h.seq, dbformat.TypeDeletion, key, nil)
	h.seq++
	return nil
}

// acquire pins the current memtable and tables. The caller must release.
func (db *DB) acquire(ro ReadOptions) (*readState, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	db.mu.RLock()
	rs := &readState{
		mem:    db.mem,
		tables: slices.Clone(db.tables),
		seq:    dbformat.SequenceNumber(db.lastSeq.Load()),
	}
	for _, t := range rs.tables {
		t.ref()
	}
	db.mu.RUnlock()

	if s := ro.Snapshot; s != nil {
		if s.released.Load() {
			rs.release()
			return nil, newError(CodeInvalidArgument, nil, "snapshot %d has been released", s.seq)
		}
		rs.seq = s.seq
	}
	return rs, nil
}

// Get returns the value of key. A missing key yields an error matching
// ErrNotFound.
func (db *DB) Get(ro ReadOptions, key []byte) ([]byte, error) {
	rs, err := db.acquire(ro)
	if err != nil {
		return nil, err
	}
	defer rs.release()
	db.stats.gets.Add(1)
	return db.getFrom(rs, key, ro.FillCache)
}

func (db *DB) getFrom(rs *readState, key []byte, fillCache bool) ([]byte, error) {
	if v, deleted, found := rs.mem.Get(key, rs.seq); found {
		if deleted {
			return nil, ErrNotFound
		}
		return append([]byte{}, v...), nil
	}
	target := dbformat.NewInternalKey(key, rs.seq, dbformat.TypeForSeek)
	for _, t := range rs.tables {
		if !t.reader.MayContain(key) {
			continue
		}
		it := t.reader.NewIterator(fillCache)
		it.Seek(target)
		if err := it.Error(); err != nil {
			return nil, tableError(err, t.number)
		}
		if !it.Valid() {
			continue
		}
		ik := dbformat.InternalKey(it.Key())
		if !bytes.Equal(ik.UserKey(), key) {
			continue
		}
		if ik.Type() == dbformat.TypeDeletion {
			return nil, ErrNotFound
		}
		return append([]byte{}, it.Value()...), nil
	}
	return nil, ErrNotFound
}

func tableError(err error, number uint64) error {
	if errors.Is(err, table.ErrCorruption) {
		return corruption(err, "table %06d", number)
	}
	return ioError(err, "table %06d", number)
}

// MultiGet reads keys at one consistent point in time. Missing keys yield
// nil entries; any other failure aborts the whole call.
func (db *DB) MultiGet(ro ReadOptions, keys [][]byte) ([][]byte, error) {
	rs, err := db.acquire(ro)
	if err != nil {
		return nil, err
	}
	defer rs.release()
	db.stats.gets.Add(int64(len(keys)))

	values := make([][]byte, len(keys))
	get := func(i int) error {
		v, err := db.getFrom(rs, keys[i], ro.FillCache)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		values[i] = v
		return err
	}

	if len(keys) <= multiGetParallelThreshold {
		for i := range keys {
			if err := get(i); err != nil {
				return nil, err
			}
		}
		return values, nil
	}

	var g errgroup.Group
	g.SetLimit(multiGetWorkers)
	for i := range keys {
		g.Go(func() error { return get(i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// NewIterator returns an iterator over the live keys, pinned to
// ro.Snapshot or to the latest state.
func (db *DB) NewIterator(ro ReadOptions) (*Iterator, error) {
	rs, err := db.acquire(ro)
	if err != nil {
		return nil, err
	}
	return newDBIter(db.internalIterator(rs, ro.FillCache), rs.seq, false, rs.release), nil
}

func (db *DB) internalIterator(rs *readState, fillCache bool) iterator.Iterator {
	children := make([]iterator.Iterator, 0, len(rs.tables)+1)
	children = append(children, rs.mem.NewIterator())
	for _, t := range rs.tables {
		children = append(children, t.reader.NewIterator(fillCache))
	}
	return iterator.NewMergingIterator(dbformat.Compare, children...)
}

// Flush writes the memtable to a new table and starts a fresh log.
func (db *DB) Flush() error {
	if db.closed.Load() {
		return ErrClosed
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.flushLocked()
}

// ApproximateSize estimates the table bytes holding keys in [start, end).
// A nil bound is open.
func (db *DB) ApproximateSize(start, end []byte) (uint64, error) {
	rs, err := db.acquire(ReadOptions{})
	if err != nil {
		return 0, err
	}
	defer rs.release()

	var total uint64
	for _, t := range rs.tables {
		var lo, hi uint64
		if start != nil {
			lo = t.reader.ApproximateOffsetOf(dbformat.NewInternalKey(start, dbformat.MaxSequenceNumber, dbformat.TypeForSeek))
		}
		if end != nil {
			hi = t.reader.ApproximateOffsetOf(dbformat.NewInternalKey(end, dbformat.MaxSequenceNumber, dbformat.TypeForSeek))
		} else {
			hi = t.reader.Properties().DataSize
		}
		if hi > lo {
			total += hi - lo
		}
	}
	return total, nil
}

func (db *DB) allocFileNumber() uint64 {
	n := db.nextFile
	db.nextFile++
	return n
}

// openTable opens table number n with one reference held by the caller.
func (db *DB) openTable(n uint64) (*tableFile, error) {
	path := tableFileName(db.dir, n)
	f, err := db.fs.OpenRandomAccess(path)
	if err != nil {
		return nil, ioError(err, "open %s", path)
	}
	r, err := table.Open(f, n, db.cache)
	if err != nil {
		f.Close()
		return nil, tableError(err, n)
	}
	t := &tableFile{number: n, path: path, size: f.Size(), reader: r, fs: db.fs, logger: db.logger}
	t.refs.Store(1)
	return t, nil
}

// writeTable drains it into table n, dropping versions no snapshot can
// see. It returns nil when nothing survived.
func (db *DB) writeTable(n uint64, it iterator.Iterator, bottommost bool) (*tableFile, error) {
	path := tableFileName(db.dir, n)
	f, err := db.fs.Create(path)
	if err != nil {
		return nil, ioError(err, "create %s", path)
	}
	w := bufio.NewWriterSize(f, 64<<10)
	b := table.NewBuilder(w, table.BuilderOptions{
		BlockSize:       db.opts.BlockSize,
		Compression:     db.opts.Compression,
		Checksum:        db.opts.Checksum,
		BloomBitsPerKey: db.opts.BloomBitsPerKey,
		DBID:            db.identity,
	})

	fail := func(err error) (*tableFile, error) {
		f.Close()
		_ = db.fs.Remove(path)
		return nil, err
	}
	if err := retain(it, db.snapshotSeqs(), bottommost, b.Add); err != nil {
		return fail(tableError(err, n))
	}
	if _, err := b.Finish(); err != nil {
		return fail(ioError(err, "write %s", path))
	}
	if err := w.Flush(); err != nil {
		return fail(ioError(err, "write %s", path))
	}
	if err := f.Sync(); err != nil {
		return fail(ioError(err, "sync %s", path))
	}
	if err := f.Close(); err != nil {
		_ = db.fs.Remove(path)
		return nil, ioError(err, "close %s", path)
	}
	if b.NumEntries() == 0 {
		_ = db.fs.Remove(path)
		return nil, nil
	}
	return db.openTable(n)
}
