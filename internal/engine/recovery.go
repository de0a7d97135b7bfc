package engine

// recovery.go rebuilds the in-memory state on Open.
//
// Recovery reads CURRENT, opens the listed tables, replays every log at or
// after the recorded log number into a memtable, and flushes what it
// replayed so the database starts on a fresh log. A torn record at the tail
// of a log is a crash artifact and ends replay of that log; any other bad
// record fails the open.

import (
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/aalhour/rockyardhost/internal/batch"
	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/memtable"
	"github.com/aalhour/rockyardhost/internal/options"
	"github.com/aalhour/rockyardhost/internal/wal"
)

// Version is written to the OPTIONS file.
const Version = "1.0.0"

func (db *DB) recover(exists bool) error {
	m := &manifest{nextFile: 1}
	if exists {
		var err error
		if m, err = readManifest(db.fs, db.dir); err != nil {
			return err
		}
	}
	if err := db.loadIdentity(); err != nil {
		return err
	}
	if exists {
		db.checkOptionsFile()
	}
	db.nextFile = max(m.nextFile, 1)

	for _, n := range m.tables {
		t, err := db.openTable(n)
		if err != nil {
			return err
		}
		db.tables = append(db.tables, t)
	}

	names, err := db.fs.ListDir(db.dir)
	if err != nil {
		return ioError(err, "list %s", db.dir)
	}
	var logs []uint64
	for _, name := range names {
		typ, n := parseFileName(name)
		if typ == fileLog || typ == fileTable {
			db.nextFile = max(db.nextFile, n+1)
		}
		if typ == fileLog && n >= m.logNumber {
			logs = append(logs, n)
		}
	}
	slices.Sort(logs)

	lastSeq := m.lastSequence
	for _, n := range logs {
		seq, err := db.replayLog(n, db.mem)
		if err != nil {
			return err
		}
		lastSeq = max(lastSeq, seq)
	}
	db.lastSeq.Store(uint64(lastSeq))

	if err := db.flushLocked(); err != nil {
		return err
	}
	if db.log == nil {
		// Nothing was replayed, so flushLocked did not switch logs.
		n := db.allocFileNumber()
		path := logFileName(db.dir, n)
		f, err := db.fs.Create(path)
		if err != nil {
			return ioError(err, "create %s", path)
		}
		if err := db.saveManifest(n, db.tables); err != nil {
			f.Close()
			return err
		}
		db.logFile, db.log, db.logNumber = f, wal.NewWriter(f), n
	}
	db.removeObsoleteFiles(names)
	return db.writeOptionsFile()
}

// replayLog applies log n to mem and returns the highest sequence seen.
func (db *DB) replayLog(n uint64, mem *memtable.MemTable) (dbformat.SequenceNumber, error) {
	path := logFileName(db.dir, n)
	f, err := db.fs.Open(path)
	if err != nil {
		return 0, ioError(err, "open %s", path)
	}
	defer f.Close()

	var maxSeq dbformat.SequenceNumber
	var records int
	r := wal.NewReader(f)
	for {
		payload, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, wal.ErrTruncated) {
			db.logger.Warnf(logging.NSWAL+"log %06d: dropping torn record at offset %d", n, r.Offset())
			break
		}
		if err != nil {
			return 0, corruption(err, "log %06d at offset %d", n, r.Offset())
		}
		b, err := batch.NewFromData(payload)
		if err != nil {
			return 0, corruption(err, "log %06d record %d", n, records)
		}
		if err := b.Iterate(&memInserter{mem: mem, seq: b.Sequence()}); err != nil {
			return 0, corruption(err, "log %06d record %d", n, records)
		}
		records++
		if b.Count() > 0 {
			maxSeq = max(maxSeq, b.Sequence()+dbformat.SequenceNumber(b.Count())-1)
		}
	}
	if records > 0 {
		db.logger.Infof(logging.NSWAL+"replayed %d records from log %06d", records, n)
	}
	return maxSeq, nil
}

func (db *DB) loadIdentity() error {
	path := filepath.Join(db.dir, identityFileName)
	if f, err := db.fs.Open(path); err == nil {
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return ioError(err, "read %s", path)
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			db.identity = id
			return nil
		}
	}
	db.identity = uuid.New().String()
	f, err := db.fs.Create(path)
	if err != nil {
		return ioError(err, "create %s", path)
	}
	if _, err := f.Write([]byte(db.identity + "\n")); err != nil {
		f.Close()
		return ioError(err, "write %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioError(err, "sync %s", path)
	}
	return f.Close()
}

// checkOptionsFile logs settings that changed since the last open. Data
// blocks record their own codec, so a change is never fatal.
func (db *DB) checkOptionsFile() {
	prev, err := options.ReadFile(db.fs, filepath.Join(db.dir, optionsFileName))
	if err != nil {
		db.logger.Warnf(logging.NSDB+"previous OPTIONS unreadable: %v", err)
		return
	}
	if prev.Compression != db.opts.Compression {
		db.logger.Infof(logging.NSDB+"compression changed from %s to %s; existing tables keep %s",
			prev.Compression, db.opts.Compression, prev.Compression)
	}
	if prev.Checksum != db.opts.Checksum {
		db.logger.Infof(logging.NSDB+"checksum changed from %s to %s", prev.Checksum, db.opts.Checksum)
	}
}

func (db *DB) writeOptionsFile() error {
	f := &options.File{
		Version:         Version,
		MaxOpenFiles:    db.opts.MaxOpenFiles,
		InfoLogLevel:    db.opts.InfoLogLevel,
		WriteBufferSize: int64(db.opts.WriteBufferSize),
		Compression:     db.opts.Compression,
		BlockSize:       db.opts.BlockSize,
		Checksum:        db.opts.Checksum,
		BlockCacheSize:  db.opts.CacheSize,
	}
	if err := options.WriteFile(db.fs, filepath.Join(db.dir, optionsFileName), f); err != nil {
		return ioError(err, "write OPTIONS")
	}
	return nil
}

// removeObsoleteFiles deletes logs before the live one, tables not in the
// live set, and leftover temporary files.
func (db *DB) removeObsoleteFiles(names []string) {
	live := make(map[uint64]bool, len(db.tables))
	for _, t := range db.tables {
		live[t.number] = true
	}
	for _, name := range names {
		typ, n := parseFileName(name)
		remove := false
		switch typ {
		case fileLog:
			remove = n < db.logNumber
		case fileTable:
			remove = !live[n]
		case fileTemp:
			remove = true
		}
		if remove {
			db.logger.Debugf(logging.NSEngine+"removing obsolete file %s", name)
			db.removeFile(filepath.Join(db.dir, name))
		}
	}
}
