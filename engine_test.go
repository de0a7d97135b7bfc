package rockyardhost

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	"github.com/aalhour/rockyardhost/internal/logging"
)

// These tests run the coordinator over the real storage engine.

func newEngineEnv(t *testing.T) *Env {
	t.Helper()
	e := NewEnv(&EnvOptions{Workers: 4, Logger: logging.Discard})
	t.Cleanup(func() {
		ctx, cancel := contextWithTimeout()
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return e
}

func openEngineDB(t *testing.T, e *Env, dir string) *Database {
	t.Helper()
	var d *Database
	err := e.Invoke(func(done func(error)) {
		d = e.NewDatabase(dir)
		d.Open(nil, done)
	})
	if err != nil {
		t.Fatalf("Open(%s) error = %v", dir, err)
	}
	return d
}

func put(t *testing.T, e *Env, d *Database, key, value string) {
	t.Helper()
	if err := e.Invoke(func(done func(error)) { d.Put(b(key), b(value), nil, done) }); err != nil {
		t.Fatalf("Put(%s) error = %v", key, err)
	}
}

func get(t *testing.T, e *Env, d *Database, key string, ro *ReadOptions) (string, error) {
	t.Helper()
	v, err := Await(e, func(done func([]byte, error)) { d.Get(b(key), ro, done) })
	return string(v), err
}

func TestEngine_EndToEnd(t *testing.T) {
	e := newEngineEnv(t)
	dir := filepath.Join(t.TempDir(), "db")
	d := openEngineDB(t, e, dir)

	for i := range 20 {
		put(t, e, d, "key"+strconv.Itoa(100+i), "value"+strconv.Itoa(i))
	}
	if v, err := get(t, e, d, "key105", nil); err != nil || v != "value5" {
		t.Errorf("Get(key105) = %q, %v", v, err)
	}
	if _, err := get(t, e, d, "nope", nil); !IsNotFound(err) {
		t.Errorf("Get(nope) error = %v, want NOT_FOUND", err)
	}

	it := newTestIterator(t, e, d, &IteratorOptions{RangeOptions: RangeOptions{
		Gte: b("key110"), Lt: b("key115"), Reverse: true,
	}})
	if got := drain(t, e, it, 2); !slices.Equal(got, []string{"key114", "key113", "key112", "key111", "key110"}) {
		t.Errorf("reverse range = %v", got)
	}

	snap := onLoop(t, e, func() *Snapshot {
		s, err := d.NewSnapshot()
		if err != nil {
			t.Fatalf("NewSnapshot() error = %v", err)
		}
		return s
	})
	put(t, e, d, "key100", "changed")
	if v, err := get(t, e, d, "key100", &ReadOptions{Snapshot: snap}); err != nil || v != "value0" {
		t.Errorf("Get(key100) at snapshot = %q, %v, want value0", v, err)
	}
	if v, err := get(t, e, d, "key100", nil); err != nil || v != "changed" {
		t.Errorf("Get(key100) = %q, %v, want changed", v, err)
	}

	if err := e.Invoke(func(done func(error)) { d.Clear(&RangeOptions{Lt: b("key105")}, nil, done) }); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	n, err := Await(e, func(done func(int, error)) { d.Count(nil, done) })
	if err != nil || n != 15 {
		t.Errorf("Count() = %d, %v, want 15", n, err)
	}
	if err := e.Invoke(func(done func(error)) { d.CompactRange(nil, nil, done) }); err != nil {
		t.Fatalf("CompactRange() error = %v", err)
	}
	size, err := Await(e, func(done func(uint64, error)) { d.ApproximateSize(nil, nil, done) })
	if err != nil || size == 0 {
		t.Errorf("ApproximateSize() = %d, %v, want > 0", size, err)
	}
	prop, err := Await(e, func(done func(string, error)) { d.GetProperty("rocksdb.num-snapshots", done) })
	if err != nil || prop != "1" {
		t.Errorf("num-snapshots = %q, %v, want 1", prop, err)
	}

	// Close with the iterator and snapshot still live.
	if err := e.Invoke(d.Close); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	d = openEngineDB(t, e, dir)
	if v, err := get(t, e, d, "key119", nil); err != nil || v != "value19" {
		t.Errorf("after reopen Get(key119) = %q, %v", v, err)
	}
	if _, err := get(t, e, d, "key101", nil); !IsNotFound(err) {
		t.Errorf("after reopen Get(key101) error = %v, want NOT_FOUND", err)
	}
}

func TestEngine_SecondOpenIsLocked(t *testing.T) {
	e := newEngineEnv(t)
	dir := filepath.Join(t.TempDir(), "db")
	openEngineDB(t, e, dir)

	err := e.Invoke(func(done func(error)) { e.NewDatabase(dir).Open(nil, done) })
	expectCode(t, err, CodeLocked)
	expectCode(t, e.Invoke(func(done func(error)) { e.Destroy(dir, done) }), CodeLocked)
}

func TestEngine_TransactionConflict(t *testing.T) {
	e := newEngineEnv(t)
	d := openEngineDB(t, e, filepath.Join(t.TempDir(), "db"))
	first := beginTestTxn(t, e, d)
	second := beginTestTxn(t, e, d)

	for _, txn := range []*Transaction{first, second} {
		if err := e.Invoke(func(done func(error)) { txn.Put(b("k"), b(strconv.FormatUint(txn.ID(), 10)), done) }); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if err := e.Invoke(first.Commit); err != nil {
		t.Fatalf("first Commit() error = %v", err)
	}
	expectCode(t, e.Invoke(second.Commit), CodeTransactionConflict)
	if err := e.Invoke(second.Commit); err != nil {
		t.Errorf("Commit() after conflict error = %v", err)
	}
	if v, err := get(t, e, d, "k", nil); err != nil || v != strconv.FormatUint(first.ID(), 10) {
		t.Errorf("Get(k) = %q, %v", v, err)
	}
}

func TestEngine_TransactionSnapshotOutlivesRepin(t *testing.T) {
	e := newEngineEnv(t)
	d := openEngineDB(t, e, filepath.Join(t.TempDir(), "db"))
	put(t, e, d, "k", "v1")

	txn := beginTestTxn(t, e, d)
	first := onLoop(t, e, func() *TransactionSnapshot {
		s, err := txn.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		return s
	})
	txnGet := func(rp ReadPoint) (string, error) {
		v, err := Await(e, func(done func([]byte, error)) { txn.Get(b("k"), &ReadOptions{Snapshot: rp}, done) })
		return string(v), err
	}

	put(t, e, d, "k", "v2")
	if v, err := txnGet(first); err != nil || v != "v1" {
		t.Fatalf("Get(k) at first snapshot = %q, %v, want v1", v, err)
	}

	// Re-pin with a read at the old point still queued.
	var second *TransactionSnapshot
	pending, err := Await(e, func(done func(string, error)) {
		txn.Get(b("k"), &ReadOptions{Snapshot: first}, func(v []byte, err error) { done(string(v), err) })
		s, err := txn.Snapshot()
		if err != nil {
			t.Errorf("second Snapshot() error = %v", err)
		}
		second = s
	})
	if err != nil || pending != "v1" {
		t.Errorf("Get(k) issued before re-pin = %q, %v, want v1", pending, err)
	}
	if v, err := txnGet(first); err != nil || v != "v1" {
		t.Errorf("Get(k) at first snapshot after re-pin = %q, %v, want v1", v, err)
	}
	if v, err := txnGet(second); err != nil || v != "v2" {
		t.Errorf("Get(k) at second snapshot = %q, %v, want v2", v, err)
	}

	if err := e.Invoke(txn.Rollback); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	prop, err := Await(e, func(done func(string, error)) { d.GetProperty("rocksdb.num-snapshots", done) })
	if err != nil || prop != "0" {
		t.Errorf("num-snapshots after rollback = %q, %v, want 0", prop, err)
	}
}

func TestEngine_DestroyAndRepair(t *testing.T) {
	e := newEngineEnv(t)
	dir := filepath.Join(t.TempDir(), "db")
	d := openEngineDB(t, e, dir)
	put(t, e, d, "a", "1")
	if err := e.Invoke(d.Close); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := e.Invoke(func(done func(error)) { e.Repair(dir, done) }); err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	d = openEngineDB(t, e, dir)
	if v, err := get(t, e, d, "a", nil); err != nil || v != "1" {
		t.Errorf("after repair Get(a) = %q, %v", v, err)
	}
	if err := e.Invoke(d.Close); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := e.Invoke(func(done func(error)) { e.Destroy(dir, done) }); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Stat(%s) error = %v, want not exist", dir, err)
	}
}
