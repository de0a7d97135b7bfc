package rockyardhost

// snapshot.go implements database snapshots and transaction snapshots.

import (
	"github.com/aalhour/rockyardhost/internal/engine"
	"github.com/aalhour/rockyardhost/internal/lifecycle"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

// Snapshot pins a consistent view of a database for reads.
//
// Reads pinned to a snapshot are charged to it, so Release waits for them.
// An iterator pinned to it is charged until the iterator closes.
type Snapshot struct {
	db      *Database
	id      uint64
	snap    *engine.Snapshot
	tracker *lifecycle.Tracker

	isReleasing bool
	hasReleased bool
}

func newSnapshot(db *Database, snap *engine.Snapshot) *Snapshot {
	return &Snapshot{
		db:      db,
		snap:    snap,
		tracker: lifecycle.NewTracker(logging.NSSnap+"snapshot", db.env.sched, db.logger),
	}
}

func (s *Snapshot) readPoint() *engine.Snapshot { return s.snap }

// ID returns the snapshot's id within its database.
func (s *Snapshot) ID() uint64 { return s.id }

// Release unpins the snapshot and detaches it from the database.
// Releasing twice succeeds.
func (s *Snapshot) Release(cb func(error)) {
	s.db.env.assertLoop("snapshot.release")
	cb = orNoop(cb)
	if s.isReleasing || s.hasReleased {
		s.db.env.reject(cb, nil)
		return
	}
	s.isReleasing = true

	st, snap := s.db.store, s.snap
	w := scheduler.NewWorkItem("snapshot.release", func() error {
		st.ReleaseSnapshot(snap)
		return nil
	})
	w.OK = func() {
		s.hasReleased = true
		s.isReleasing = false
		s.db.snapshots.Detach(s.id)
		s.db.logger.Debugf(logging.NSSnap+"%d released", s.id)
		cb(nil)
	}
	s.tracker.QueueOrDefer(w)
}

// TransactionSnapshot is the read point of a transaction. It is owned by
// the transaction and ends with it; it is never released on its own.
type TransactionSnapshot struct {
	txn  *Transaction
	snap *engine.Snapshot
}

func (s *TransactionSnapshot) readPoint() *engine.Snapshot { return s.snap }
