package engine

import (
	"sync/atomic"

	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/memtable"
	"github.com/aalhour/rockyardhost/internal/table"
	"github.com/aalhour/rockyardhost/internal/vfs"
)

// tableFile is a reference-counted open table. The DB's table list holds
// one reference; every read state that captured the table holds another.
// The last unref closes the reader and, once the table was compacted away,
// removes the file.
type tableFile struct {
	number   uint64
	path     string
	size     int64
	reader   *table.Reader
	fs       vfs.FS
	logger   logging.Logger
	refs     atomic.Int32
	obsolete atomic.Bool
}

func (t *tableFile) ref() { t.refs.Add(1) }

func (t *tableFile) unref() {
	if t.refs.Add(-1) != 0 {
		return
	}
	if err := t.reader.Close(); err != nil {
		t.logger.Warnf(logging.NSEngine+"close table %d: %v", t.number, err)
	}
	if t.obsolete.Load() {
		if err := t.fs.Remove(t.path); err != nil {
			t.logger.Warnf(logging.NSEngine+"remove obsolete table %d: %v", t.number, err)
		} else {
			t.logger.Debugf(logging.NSEngine+"removed obsolete table %d", t.number)
		}
	}
}

// readState is a consistent view for one read: the memtable, the tables
// newest first, and the sequence number everything at or below which is
// visible in them.
type readState struct {
	mem    *memtable.MemTable
	tables []*tableFile
	seq    dbformat.SequenceNumber
}

func (rs *readState) release() {
	for _, t := range rs.tables {
		t.unref()
	}
	rs.tables = nil
}
