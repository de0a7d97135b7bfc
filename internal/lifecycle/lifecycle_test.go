package lifecycle

import (
	"errors"
	"slices"
	"testing"

	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

type recordingQueue struct {
	names []string
}

func (q *recordingQueue) Queue(w *scheduler.WorkItem) {
	q.names = append(q.names, w.Name)
}

// expectViolation runs fn and fails the test unless it panics with a
// *Violation wrapping logging.ErrFatal.
func expectViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected lifecycle violation, got none")
		}
		v, ok := r.(*Violation)
		if !ok {
			t.Fatalf("panic value = %T (%v), want *Violation", r, r)
		}
		if !errors.Is(v, logging.ErrFatal) {
			t.Fatalf("violation %v does not wrap ErrFatal", v)
		}
	}()
	fn()
}

// =============================================================================
// Tracker
// =============================================================================

func TestTracker_StartsIdle(t *testing.T) {
	tr := NewTracker("db", &recordingQueue{}, logging.Discard)
	if tr.HasPendingWork() {
		t.Error("new tracker has pending work")
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestTracker_DeferredQueuedOnDrain(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker("db", q, logging.Discard)

	tr.Increment()
	tr.Increment()
	tr.Defer(scheduler.NewWorkItem("db.close", nil))

	if !tr.Terminal() {
		t.Error("tracker not terminal after Defer")
	}
	tr.Decrement()
	if len(q.names) != 0 {
		t.Fatalf("queued %v before drain", q.names)
	}
	tr.Decrement()
	if !slices.Equal(q.names, []string{"db.close"}) {
		t.Fatalf("queued = %v, want [db.close]", q.names)
	}
	if tr.Deferred() {
		t.Error("deferred slot not cleared")
	}
}

func TestTracker_QueueOrDefer(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker("iter", q, logging.Discard)

	if tr.QueueOrDefer(scheduler.NewWorkItem("iterator.close", nil)) {
		t.Error("idle tracker deferred instead of queueing")
	}
	if !slices.Equal(q.names, []string{"iterator.close"}) {
		t.Errorf("queued = %v", q.names)
	}

	q2 := &recordingQueue{}
	busy := NewTracker("iter", q2, logging.Discard)
	busy.Increment()
	if !busy.QueueOrDefer(scheduler.NewWorkItem("iterator.close", nil)) {
		t.Error("busy tracker queued instead of deferring")
	}
	busy.Decrement()
	if !slices.Equal(q2.names, []string{"iterator.close"}) {
		t.Errorf("queued = %v", q2.names)
	}
}

func TestTracker_Violations(t *testing.T) {
	tests := []struct {
		name string
		fn   func(tr *Tracker)
	}{
		{"underflow", func(tr *Tracker) { tr.Decrement() }},
		{"increment after terminal", func(tr *Tracker) {
			tr.MarkTerminal()
			tr.Increment()
		}},
		{"double defer", func(tr *Tracker) {
			tr.Increment()
			tr.Defer(scheduler.NewWorkItem("a", nil))
			tr.Defer(scheduler.NewWorkItem("b", nil))
		}},
		{"defer while idle", func(tr *Tracker) {
			tr.Defer(scheduler.NewWorkItem("a", nil))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("h", &recordingQueue{}, logging.Discard)
			expectViolation(t, func() { tt.fn(tr) })
		})
	}
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_AttachDetachCharges(t *testing.T) {
	tr := NewTracker("db", &recordingQueue{}, logging.Discard)
	reg := NewRegistry[string]("db.iterators", tr, logging.Discard)

	a, b := reg.NextID(), reg.NextID()
	if a >= b {
		t.Fatalf("ids not increasing: %d, %d", a, b)
	}
	reg.Attach(a, "a")
	reg.Attach(b, "b")
	if tr.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", tr.Pending())
	}

	if !reg.Detach(a) {
		t.Error("Detach(a) = false")
	}
	if reg.Detach(a) {
		t.Error("second Detach(a) = true, want no-op")
	}
	if tr.Pending() != 1 {
		t.Errorf("Pending() = %d after detach, want 1", tr.Pending())
	}
	if h, ok := reg.Get(b); !ok || h != "b" {
		t.Errorf("Get(b) = %q, %v", h, ok)
	}
}

func TestRegistry_SnapshotOrderedAndStable(t *testing.T) {
	reg := NewRegistry[uint64]("r", nil, logging.Discard)
	for range 5 {
		id := reg.NextID()
		reg.Attach(id, id)
	}
	snap := reg.Snapshot()
	for _, id := range snap {
		reg.Detach(id)
	}
	if !slices.Equal(snap, []uint64{1, 2, 3, 4, 5}) {
		t.Errorf("Snapshot() = %v", snap)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d after detaching all", reg.Len())
	}
	if next := reg.NextID(); next != 6 {
		t.Errorf("NextID() = %d, ids must not be reused", next)
	}
}

func TestRegistry_DoubleAttachIsViolation(t *testing.T) {
	reg := NewRegistry[int]("r", nil, logging.Discard)
	id := reg.NextID()
	reg.Attach(id, 1)
	expectViolation(t, func() { reg.Attach(id, 2) })
}
