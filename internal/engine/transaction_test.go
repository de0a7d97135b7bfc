package engine

import (
	"errors"
	"slices"
	"testing"
)

func beginTxn(t *testing.T, db *DB, setSnapshot bool) *Transaction {
	t.Helper()
	txn, err := db.BeginTransaction(WriteOptions{}, TransactionOptions{SetSnapshot: setSnapshot})
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	return txn
}

func TestTransaction_ReadYourWrites(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer db.Close()
	mustPut(t, db, "base", "0")

	txn := beginTxn(t, db, false)
	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := txn.Delete([]byte("base")); err != nil {
		t.Fatal(err)
	}

	if v, err := txn.Get(DefaultReadOptions(), []byte("k")); err != nil || string(v) != "v" {
		t.Errorf("txn.Get(k) = %q, %v", v, err)
	}
	if _, err := txn.Get(DefaultReadOptions(), []byte("base")); !errors.Is(err, ErrNotFound) {
		t.Errorf("txn.Get(base) error = %v, want ErrNotFound", err)
	}
	expectNotFound(t, db, DefaultReadOptions(), "k")
	expectValue(t, db, DefaultReadOptions(), "base", "0")

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	expectValue(t, db, DefaultReadOptions(), "k", "v")
	expectNotFound(t, db, DefaultReadOptions(), "base")

	if err := txn.Put([]byte("late"), nil); !errors.Is(err, ErrTransactionClosed) {
		t.Errorf("Put after Commit error = %v", err)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer db.Close()

	txn := beginTxn(t, db, true)
	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if got := property(t, db, PropNumSnapshots); got != "1" {
		t.Errorf("snapshots during txn = %s", got)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatal(err)
	}
	expectNotFound(t, db, DefaultReadOptions(), "k")
	if got := property(t, db, PropNumSnapshots); got != "0" {
		t.Errorf("snapshots after rollback = %s, want 0", got)
	}
	if err := txn.Rollback(); !errors.Is(err, ErrTransactionClosed) {
		t.Errorf("second Rollback error = %v", err)
	}
}

func TestTransaction_Conflicts(t *testing.T) {
	tests := []struct {
		name         string
		setSnapshot  bool
		run          func(t *testing.T, db *DB, txn *Transaction)
		wantConflict bool
	}{
		{
			name: "read for update then external write",
			run: func(t *testing.T, db *DB, txn *Transaction) {
				if _, err := txn.GetForUpdate(DefaultReadOptions(), []byte("k")); err != nil {
					t.Fatal(err)
				}
				mustPut(t, db, "k", "external")
			},
			wantConflict: true,
		},
		{
			name: "plain read is not tracked",
			run: func(t *testing.T, db *DB, txn *Transaction) {
				if _, err := txn.Get(DefaultReadOptions(), []byte("k")); err != nil {
					t.Fatal(err)
				}
				mustPut(t, db, "k", "external")
			},
		},
		{
			name: "write after snapshot conflicts",
			setSnapshot: true,
			run: func(t *testing.T, db *DB, txn *Transaction) {
				mustPut(t, db, "k", "external")
				if err := txn.Put([]byte("k"), []byte("mine")); err != nil {
					t.Fatal(err)
				}
			},
			wantConflict: true,
		},
		{
			name: "write before tracking without snapshot",
			run: func(t *testing.T, db *DB, txn *Transaction) {
				mustPut(t, db, "k", "external")
				if err := txn.Put([]byte("k"), []byte("mine")); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "conflict detected after flush",
			run: func(t *testing.T, db *DB, txn *Transaction) {
				if _, err := txn.MultiGetForUpdate(DefaultReadOptions(), [][]byte{[]byte("k")}); err != nil {
					t.Fatal(err)
				}
				mustPut(t, db, "k", "external")
				if err := db.Flush(); err != nil {
					t.Fatal(err)
				}
			},
			wantConflict: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t, t.TempDir(), testOptions())
			defer db.Close()
			mustPut(t, db, "k", "initial")

			txn := beginTxn(t, db, tt.setSnapshot)
			tt.run(t, db, txn)
			err := txn.Commit()
			if tt.wantConflict {
				if !IsConflict(err) {
					t.Fatalf("Commit() error = %v, want conflict", err)
				}
				expectValue(t, db, DefaultReadOptions(), "k", "external")
			} else if err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			if err := txn.Commit(); !errors.Is(err, ErrTransactionClosed) {
				t.Errorf("second Commit error = %v", err)
			}
		})
	}
}

func TestTransaction_SnapshotReads(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer db.Close()
	mustPut(t, db, "k", "v1")

	txn := beginTxn(t, db, false)
	defer txn.Rollback()
	if txn.GetSnapshot() != nil {
		t.Fatal("snapshot set without SetSnapshot")
	}
	if err := txn.SetSnapshot(); err != nil {
		t.Fatal(err)
	}
	snap := txn.GetSnapshot()
	mustPut(t, db, "k", "v2")

	v, err := txn.Get(ReadOptions{Snapshot: snap}, []byte("k"))
	if err != nil || string(v) != "v1" {
		t.Errorf("Get at txn snapshot = %q, %v, want v1", v, err)
	}
	v, err = txn.Get(DefaultReadOptions(), []byte("k"))
	if err != nil || string(v) != "v2" {
		t.Errorf("Get latest = %q, %v, want v2", v, err)
	}
}

func TestTransaction_ReplacedSnapshotStaysReadable(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer db.Close()
	mustPut(t, db, "k", "v1")

	txn := beginTxn(t, db, true)
	first := txn.GetSnapshot()
	mustPut(t, db, "k", "v2")
	if err := txn.SetSnapshot(); err != nil {
		t.Fatal(err)
	}
	second := txn.GetSnapshot()
	mustPut(t, db, "k", "v3")

	for _, tc := range []struct {
		snap *Snapshot
		want string
	}{{first, "v1"}, {second, "v2"}} {
		v, err := txn.Get(ReadOptions{Snapshot: tc.snap}, []byte("k"))
		if err != nil || string(v) != tc.want {
			t.Errorf("Get at snapshot %d = %q, %v, want %s", tc.snap.Sequence(), v, err, tc.want)
		}
	}
	if n, _ := db.GetProperty(PropNumSnapshots); n != "2" {
		t.Errorf("%s = %s before end, want 2", PropNumSnapshots, n)
	}

	if err := txn.Rollback(); err != nil {
		t.Fatal(err)
	}
	if !first.Released() || !second.Released() {
		t.Errorf("Released() = %v, %v after rollback, want true, true", first.Released(), second.Released())
	}
	if n, _ := db.GetProperty(PropNumSnapshots); n != "0" {
		t.Errorf("%s = %s after end, want 0", PropNumSnapshots, n)
	}
}

func TestTransaction_MultiGet(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer db.Close()
	mustPut(t, db, "a", "base-a")
	mustPut(t, db, "b", "base-b")

	txn := beginTxn(t, db, false)
	defer txn.Rollback()
	_ = txn.Put([]byte("a"), []byte("txn-a"))
	_ = txn.Delete([]byte("b"))
	_ = txn.Put([]byte("c"), []byte("txn-c"))

	values, err := txn.MultiGet(DefaultReadOptions(), [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			got[i] = "<nil>"
		} else {
			got[i] = string(v)
		}
	}
	want := []string{"txn-a", "<nil>", "txn-c", "<nil>"}
	if !slices.Equal(got, want) {
		t.Errorf("MultiGet = %v, want %v", got, want)
	}
}

func TestTransaction_IteratorOverlay(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer db.Close()
	mustPut(t, db, "a", "1")
	mustPut(t, db, "b", "2")
	mustPut(t, db, "c", "3")
	if err := db.Flush(); err != nil {
		t.Fatal(err)
	}

	txn := beginTxn(t, db, false)
	defer txn.Rollback()
	_ = txn.Put([]byte("b"), []byte("20"))
	_ = txn.Delete([]byte("c"))
	_ = txn.Put([]byte("d"), []byte("4"))
	_ = txn.Delete([]byte("zz"))

	it, err := txn.NewIterator(DefaultReadOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	_ = txn.Put([]byte("e"), []byte("after"))

	if got, want := scan(it, false), []string{"a=1", "b=20", "d=4"}; !slices.Equal(got, want) {
		t.Errorf("forward = %v, want %v", got, want)
	}
	if got, want := scan(it, true), []string{"d=4", "b=20", "a=1"}; !slices.Equal(got, want) {
		t.Errorf("reverse = %v, want %v", got, want)
	}

	steps := []struct {
		move func()
		want string
	}{
		{func() { it.Seek([]byte("b")) }, "b"},
		{it.Next, "d"},
		{it.Prev, "b"},
		{it.Prev, "a"},
		{it.Next, "b"},
		{func() { it.SeekForPrev([]byte("c")) }, "b"},
		{func() { it.Seek([]byte("c")) }, "d"},
	}
	for i, s := range steps {
		s.move()
		if !it.Valid() || string(it.Key()) != s.want {
			t.Fatalf("step %d: at %q (valid=%v), want %q", i, it.Key(), it.Valid(), s.want)
		}
	}
	it.Next()
	if it.Valid() {
		t.Errorf("Next past end is valid at %q", it.Key())
	}
	if err := it.Error(); err != nil {
		t.Errorf("Error() = %v", err)
	}
}
