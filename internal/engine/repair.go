package engine

// repair.go implements Destroy and Repair.

import (
	"cmp"
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/memtable"
)

// Destroy removes the database in dir. Files it does not recognize are
// left in place, in which case the directory itself survives.
func Destroy(dir string, opts Options) error {
	opts = opts.withDefaults()
	fs := opts.FS
	names, err := fs.ListDir(dir)
	if err != nil {
		// A missing directory is already destroyed.
		if _, statErr := fs.Stat(dir); statErr != nil {
			return nil
		}
		return ioError(err, "list %s", dir)
	}
	lockPath := filepath.Join(dir, lockFileName)
	lock, err := fs.Lock(lockPath)
	if err != nil {
		return ioError(err, "lock %s", lockPath)
	}

	var firstErr error
	for _, name := range names {
		typ, _ := parseFileName(name)
		if typ == fileUnknown || typ == fileLock {
			continue
		}
		if err := fs.Remove(filepath.Join(dir, name)); err != nil && firstErr == nil {
			firstErr = ioError(err, "remove %s", name)
		}
	}
	_ = fs.RemoveAll(filepath.Join(dir, lostDirName))
	lock.Close()
	_ = fs.Remove(lockPath)
	// Fails harmlessly when unknown files remain.
	_ = fs.Remove(dir)
	opts.Logger.Infof(logging.NSDB+"destroyed %s", dir)
	return firstErr
}

// Repair rebuilds CURRENT from whatever tables and logs are readable.
// Unreadable tables move to the lost/ subdirectory; readable log records
// become a new table. Data in damaged files is lost.
func Repair(dir string, opts Options) error {
	opts = opts.withDefaults()
	fs := opts.FS
	logger := opts.Logger

	lockPath := filepath.Join(dir, lockFileName)
	lock, err := fs.Lock(lockPath)
	if err != nil {
		return ioError(err, "lock %s", lockPath)
	}
	db := &DB{dir: dir, opts: opts, fs: fs, logger: logger, lock: lock, mem: memtable.New(), nextFile: 1}
	defer db.releaseResources()

	names, err := fs.ListDir(dir)
	if err != nil {
		return ioError(err, "list %s", dir)
	}
	if err := db.loadIdentity(); err != nil {
		return err
	}

	var tableNums, logNums []uint64
	for _, name := range names {
		typ, n := parseFileName(name)
		switch typ {
		case fileTable:
			tableNums = append(tableNums, n)
		case fileLog:
			logNums = append(logNums, n)
		}
		if typ == fileTable || typ == fileLog {
			db.nextFile = max(db.nextFile, n+1)
		}
	}

	var lastSeq dbformat.SequenceNumber
	for _, n := range tableNums {
		t, err := db.openTable(n)
		if err == nil {
			err = verifyTable(t)
			if err != nil {
				t.unref()
			}
		}
		if err != nil {
			logger.Warnf(logging.NSRepair+"table %06d: %v; moving to %s/", n, err, lostDirName)
			db.archive(tableFileName(dir, n))
			continue
		}
		lastSeq = max(lastSeq, t.reader.Properties().MaxSequence)
		db.tables = append(db.tables, t)
	}

	slices.Sort(logNums)
	for _, n := range logNums {
		mem := memtable.New()
		seq, err := db.replayLog(n, mem)
		if err != nil {
			// Corrupt logs are salvaged up to the first bad record.
			logger.Warnf(logging.NSRepair+"log %06d: %v", n, err)
		}
		if mem.Empty() {
			continue
		}
		// A log whose contents already reached a table would duplicate
		// its entries.
		if seq <= lastSeq && seq != 0 && len(db.tables) > 0 {
			logger.Infof(logging.NSRepair+"log %06d already flushed, skipping", n)
			continue
		}
		it := mem.NewIterator()
		t, err := db.writeTable(db.allocFileNumber(), it, false)
		it.Close()
		if err != nil {
			return err
		}
		if t != nil {
			lastSeq = max(lastSeq, t.reader.Properties().MaxSequence)
			db.tables = append(db.tables, t)
		}
	}

	// Newest first; table numbers grow with age.
	slices.SortFunc(db.tables, func(a, b *tableFile) int { return cmp.Compare(b.number, a.number) })
	db.lastSeq.Store(uint64(lastSeq))

	logNumber := db.allocFileNumber()
	f, err := fs.Create(logFileName(dir, logNumber))
	if err != nil {
		return ioError(err, "create log")
	}
	f.Close()
	if err := db.saveManifest(logNumber, db.tables); err != nil {
		return err
	}
	for _, n := range logNums {
		db.removeFile(logFileName(dir, n))
	}
	logger.Infof(logging.NSRepair+"repaired %s: %d tables, last sequence %d", dir, len(db.tables), lastSeq)
	return db.writeOptionsFile()
}

// verifyTable reads every block of t.
func verifyTable(t *tableFile) error {
	it := t.reader.NewIterator(false)
	defer it.Close()
	for it.SeekToFirst(); it.Valid(); it.Next() {
	}
	return it.Error()
}

// archive moves path into the lost/ subdirectory.
func (db *DB) archive(path string) {
	lost := filepath.Join(db.dir, lostDirName)
	if err := db.fs.MkdirAll(lost, 0o755); err != nil {
		db.logger.Errorf(logging.NSRepair+"create %s: %v", lost, err)
		return
	}
	if err := db.fs.Rename(path, filepath.Join(lost, filepath.Base(path))); err != nil {
		db.logger.Errorf(logging.NSRepair+"archive %s: %v", path, err)
	}
}

// IsLocked reports whether err is a failure to take the directory lock.
func IsLocked(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeIOError && strings.HasPrefix(e.Msg, "lock ")
}
