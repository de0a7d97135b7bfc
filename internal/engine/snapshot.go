package engine

import (
	"slices"
	"sync/atomic"

	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/logging"
)

// Snapshot pins a sequence number. Reads through it see the database as
// of its creation, and flush and compaction keep the versions it needs
// until it is released.
type Snapshot struct {
	seq      dbformat.SequenceNumber
	released atomic.Bool
}

// Sequence returns the pinned sequence number.
func (s *Snapshot) Sequence() dbformat.SequenceNumber { return s.seq }

// Released reports whether ReleaseSnapshot has been called.
func (s *Snapshot) Released() bool { return s.released.Load() }

// GetSnapshot pins the current state.
func (db *DB) GetSnapshot() *Snapshot {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	s := &Snapshot{seq: dbformat.SequenceNumber(db.lastSeq.Load())}
	// Sequence numbers only grow, so appending keeps the list sorted.
	db.snapshots = append(db.snapshots, s)
	db.logger.Debugf(logging.NSSnap+"acquired snapshot at %d (%d live)", s.seq, len(db.snapshots))
	return s
}

// ReleaseSnapshot unpins s. Releasing twice is a no-op.
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	if i := slices.Index(db.snapshots, s); i >= 0 {
		db.snapshots = slices.Delete(db.snapshots, i, i+1)
	}
	db.logger.Debugf(logging.NSSnap+"released snapshot at %d (%d live)", s.seq, len(db.snapshots))
}

// snapshotSeqs returns the live snapshot sequences in ascending order,
// without duplicates.
func (db *DB) snapshotSeqs() []dbformat.SequenceNumber {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	seqs := make([]dbformat.SequenceNumber, 0, len(db.snapshots))
	for _, s := range db.snapshots {
		seqs = append(seqs, s.seq)
	}
	return slices.Compact(seqs)
}

func (db *DB) numSnapshots() (n int, oldest dbformat.SequenceNumber) {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	if len(db.snapshots) > 0 {
		oldest = db.snapshots[0].seq
	}
	return len(db.snapshots), oldest
}
