package engine

// compaction.go implements memtable flush and full compaction.
//
// Both run under writeMu, so no write can interleave with them. Flush turns
// the memtable into the newest table; compaction merges every table into
// one. Because compaction is always full, the table list stays ordered
// newest first without per-table sequence ranges.

import (
	"bytes"
	"slices"

	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/iterator"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/memtable"
	"github.com/aalhour/rockyardhost/internal/vfs"
	"github.com/aalhour/rockyardhost/internal/wal"
)

// stripe returns the index of the oldest snapshot that can see seq, or
// len(snaps) when only the live state can. snaps is ascending.
func stripe(snaps []dbformat.SequenceNumber, seq dbformat.SequenceNumber) int {
	i, _ := slices.BinarySearch(snaps, seq)
	return i
}

// retain copies the entries of it to add, keeping only the newest version
// of each key per snapshot stripe. In a bottommost output a tombstone in
// the oldest stripe hides nothing and is dropped too.
func retain(it iterator.Iterator, snaps []dbformat.SequenceNumber, bottommost bool,
	add func(ikey, value []byte) error) error {
	var curKey []byte
	lastStripe := -1
	for it.SeekToFirst(); it.Valid(); it.Next() {
		ik := dbformat.InternalKey(it.Key())
		uk := ik.UserKey()
		if curKey == nil || !bytes.Equal(uk, curKey) {
			curKey = append(curKey[:0], uk...)
			lastStripe = -1
		}
		s := stripe(snaps, ik.Sequence())
		if s == lastStripe {
			continue
		}
		lastStripe = s
		if bottommost && s == 0 && ik.Type() == dbformat.TypeDeletion {
			continue
		}
		if err := add(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// flushLocked writes the memtable to a table, switches to a new log, and
// records both in CURRENT. Requires writeMu.
func (db *DB) flushLocked() error {
	if db.mem.Empty() {
		return nil
	}
	if db.bgErr != nil {
		return db.bgErr
	}
	n := db.allocFileNumber()
	memIter := db.mem.NewIterator()
	tf, err := db.writeTable(n, memIter, false)
	memIter.Close()
	if err != nil {
		return err
	}

	logNumber := db.allocFileNumber()
	logPath := logFileName(db.dir, logNumber)
	logFile, err := db.fs.Create(logPath)
	if err != nil {
		if tf != nil {
			tf.obsolete.Store(true)
			tf.unref()
		}
		return ioError(err, "create %s", logPath)
	}

	tables := db.tables
	if tf != nil {
		tables = append([]*tableFile{tf}, db.tables...)
	}
	if err := db.saveManifest(logNumber, tables); err != nil {
		logFile.Close()
		_ = db.fs.Remove(logPath)
		if tf != nil {
			tf.obsolete.Store(true)
			tf.unref()
		}
		return err
	}

	oldLog, oldLogNumber := db.logFile, db.logNumber
	db.mu.Lock()
	db.tables = tables
	db.mem = memtable.New()
	db.mu.Unlock()
	db.logFile, db.log, db.logNumber = logFile, wal.NewWriter(logFile), logNumber

	if oldLog != nil {
		if err := oldLog.Close(); err != nil {
			db.logger.Warnf(logging.NSWAL+"close log %d: %v", oldLogNumber, err)
		}
		db.removeFile(logFileName(db.dir, oldLogNumber))
	}
	db.stats.flushes.Add(1)
	if tf != nil {
		db.logger.Infof(logging.NSDB+"flushed memtable to table %06d (%d entries, %d bytes)",
			tf.number, tf.reader.Properties().NumEntries, tf.size)
	}

	if len(db.tables) > db.opts.MaxTables {
		return db.compactLocked()
	}
	return nil
}

// CompactRange flushes the memtable and, when any table overlaps the
// inclusive user-key range [start, end], merges all tables into one. Nil
// bounds are open.
func (db *DB) CompactRange(start, end []byte) error {
	if db.closed.Load() {
		return ErrClosed
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.flushLocked(); err != nil {
		return err
	}
	if !db.overlaps(start, end) {
		db.logger.Debugf(logging.NSCompact+"range [%q, %q] overlaps no table", start, end)
		return nil
	}
	return db.compactLocked()
}

func (db *DB) overlaps(start, end []byte) bool {
	for _, t := range db.tables {
		p := t.reader.Properties()
		smallest := dbformat.InternalKey(p.SmallestKey).UserKey()
		largest := dbformat.InternalKey(p.LargestKey).UserKey()
		if end != nil && bytes.Compare(smallest, end) > 0 {
			continue
		}
		if start != nil && bytes.Compare(largest, start) < 0 {
			continue
		}
		return true
	}
	return false
}

// compactLocked merges every table into a single bottommost table.
// Requires writeMu.
func (db *DB) compactLocked() error {
	old := db.tables
	if len(old) == 0 || (len(old) == 1 && old[0].reader.Properties().NumDeletions == 0) {
		return nil
	}
	children := make([]iterator.Iterator, 0, len(old))
	var inBytes int64
	for _, t := range old {
		children = append(children, t.reader.NewIterator(false))
		inBytes += t.size
	}
	merged := iterator.NewMergingIterator(dbformat.Compare, children...)
	n := db.allocFileNumber()
	tf, err := db.writeTable(n, merged, true)
	merged.Close()
	if err != nil {
		db.logger.Errorf(logging.NSCompact+"compaction into %06d failed: %v", n, err)
		return err
	}

	var tables []*tableFile
	if tf != nil {
		tables = []*tableFile{tf}
	}
	if err := db.saveManifest(db.logNumber, tables); err != nil {
		if tf != nil {
			tf.obsolete.Store(true)
			tf.unref()
		}
		return err
	}
	db.mu.Lock()
	db.tables = tables
	db.mu.Unlock()
	for _, t := range old {
		t.obsolete.Store(true)
		t.unref()
	}
	db.stats.compactions.Add(1)
	var outBytes int64
	if tf != nil {
		outBytes = tf.size
	}
	db.logger.Infof(logging.NSCompact+"compacted %d tables (%d bytes) into %d bytes", len(old), inBytes, outBytes)
	return nil
}

func (db *DB) saveManifest(logNumber uint64, tables []*tableFile) error {
	m := &manifest{
		nextFile:     db.nextFile,
		lastSequence: dbformat.SequenceNumber(db.lastSeq.Load()),
		logNumber:    logNumber,
		tables:       make([]uint64, 0, len(tables)),
	}
	for _, t := range tables {
		m.tables = append(m.tables, t.number)
	}
	return writeManifest(db.fs, db.dir, m)
}

func (db *DB) removeFile(path string) {
	if err := db.fs.Remove(path); err != nil && vfs.Exists(db.fs, path) {
		db.logger.Warnf(logging.NSEngine+"remove %s: %v", path, err)
	}
}
