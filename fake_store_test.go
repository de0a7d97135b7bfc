package rockyardhost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aalhour/rockyardhost/internal/batch"
	"github.com/aalhour/rockyardhost/internal/engine"
	"github.com/aalhour/rockyardhost/internal/logging"
)

// fakeStore is an in-memory store whose operations can be held at a gate,
// so tests control exactly which work is in flight. It records every
// release and flags any use of an object after its release.
type fakeStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	gates      map[string]*gate
	log        []string
	violations []string
	cursors    []*fakeCursor
	txns       []*fakeTxn
	snapshots  map[*engine.Snapshot]int
	closed     bool
	closes     int
	nextTxn    uint64
}

type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:      make(map[string][]byte),
		gates:     make(map[string]*gate),
		snapshots: make(map[*engine.Snapshot]int),
	}
}

// hold makes the next operation named op block until the gate is released.
func (f *fakeStore) hold(op string) *gate {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.gates[op] = g
	f.mu.Unlock()
	return g
}

func (f *fakeStore) pass(op string) {
	f.mu.Lock()
	g := f.gates[op]
	delete(f.gates, op)
	f.mu.Unlock()
	if g != nil {
		close(g.entered)
		<-g.release
	}
}

func (f *fakeStore) record(format string, args ...any) {
	f.mu.Lock()
	f.log = append(f.log, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeStore) violate(format string, args ...any) {
	f.mu.Lock()
	f.violations = append(f.violations, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeStore) checkOpen(op string) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		f.violate("%s after store close", op)
	}
}

func (f *fakeStore) seed(kv ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i+1 < len(kv); i += 2 {
		f.data[kv[i]] = []byte(kv[i+1])
	}
}

func (f *fakeStore) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.log)
}

// expectClean fails the test if any object was used after release or
// released twice.
func (f *fakeStore) expectClean(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.violations {
		t.Errorf("store violation: %s", v)
	}
}

func (f *fakeStore) sorted(overlay map[string]*[]byte) []fakeKV {
	f.mu.Lock()
	merged := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		merged[k] = v
	}
	f.mu.Unlock()
	for k, v := range overlay {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = *v
		}
	}
	kvs := make([]fakeKV, 0, len(merged))
	for k, v := range merged {
		kvs = append(kvs, fakeKV{key: []byte(k), value: v})
	}
	sort.Slice(kvs, func(i, j int) bool { return bytes.Compare(kvs[i].key, kvs[j].key) < 0 })
	return kvs
}

func (f *fakeStore) Get(_ engine.ReadOptions, key []byte) ([]byte, error) {
	f.pass("get")
	f.checkOpen("get")
	f.record("get %s", key)
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[string(key)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (f *fakeStore) MultiGet(ro engine.ReadOptions, keys [][]byte) ([][]byte, error) {
	f.checkOpen("multiGet")
	out := make([][]byte, len(keys))
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, k := range keys {
		out[i] = bytes.Clone(f.data[string(k)])
	}
	return out, nil
}

func (f *fakeStore) Put(_ engine.WriteOptions, key, value []byte) error {
	f.pass("put")
	f.checkOpen("put")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[string(key)] = bytes.Clone(value)
	return nil
}

func (f *fakeStore) Delete(_ engine.WriteOptions, key []byte) error {
	f.checkOpen("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, string(key))
	return nil
}

func (f *fakeStore) Write(_ engine.WriteOptions, b *batch.WriteBatch) error {
	f.checkOpen("write")
	f.mu.Lock()
	defer f.mu.Unlock()
	return b.Iterate(applier(f.data))
}

// applier replays a batch into a map.
type applier map[string][]byte

func (a applier) Put(k, v []byte) error {
	a[string(k)] = bytes.Clone(v)
	return nil
}

func (a applier) Delete(k []byte) error {
	delete(a, string(k))
	return nil
}

func (f *fakeStore) NewIterator(engine.ReadOptions) (cursor, error) {
	f.checkOpen("newIterator")
	return f.newCursor(nil), nil
}

func (f *fakeStore) newCursor(overlay map[string]*[]byte) *fakeCursor {
	c := &fakeCursor{f: f, kvs: f.sorted(overlay), pos: -1}
	f.mu.Lock()
	c.id = len(f.cursors)
	f.cursors = append(f.cursors, c)
	f.mu.Unlock()
	return c
}

func (f *fakeStore) GetSnapshot() *engine.Snapshot {
	f.checkOpen("getSnapshot")
	s := &engine.Snapshot{}
	f.mu.Lock()
	f.snapshots[s] = 0
	f.mu.Unlock()
	return s
}

func (f *fakeStore) ReleaseSnapshot(s *engine.Snapshot) {
	f.pass("releaseSnapshot")
	f.checkOpen("releaseSnapshot")
	f.record("snapshot.release")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s]++
	if f.snapshots[s] > 1 {
		f.violations = append(f.violations, "snapshot released twice")
	}
}

func (f *fakeStore) BeginTransaction(engine.WriteOptions, engine.TransactionOptions) (txnStore, error) {
	f.checkOpen("beginTransaction")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTxn++
	t := &fakeTxn{f: f, id: f.nextTxn, writes: make(map[string]*[]byte)}
	f.txns = append(f.txns, t)
	return t, nil
}

func (f *fakeStore) ApproximateSize(start, end []byte) (uint64, error) {
	f.checkOpen("approximateSize")
	return 0, nil
}

func (f *fakeStore) CompactRange(start, end []byte) error {
	f.checkOpen("compactRange")
	return nil
}

func (f *fakeStore) GetProperty(name string) (string, bool) {
	f.checkOpen("getProperty")
	if name == "rocksdb.num-snapshots" {
		return "0", true
	}
	return "", false
}

// Close flags any dependent object still live at close time.
func (f *fakeStore) Close() error {
	f.pass("close")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closed {
		f.violations = append(f.violations, "store closed twice")
	}
	f.closed = true
	for _, c := range f.cursors {
		if !c.closed.Load() {
			f.violations = append(f.violations, fmt.Sprintf("store closed with cursor %d open", c.id))
		}
	}
	for _, t := range f.txns {
		if !t.ended.Load() {
			f.violations = append(f.violations, fmt.Sprintf("store closed with transaction %d live", t.id))
		}
	}
	for _, n := range f.snapshots {
		if n == 0 {
			f.violations = append(f.violations, "store closed with a snapshot held")
		}
	}
	f.log = append(f.log, "store.close")
	return nil
}

type fakeKV struct {
	key, value []byte
}

type fakeCursor struct {
	f      *fakeStore
	id     int
	kvs    []fakeKV
	pos    int
	closed atomic.Bool
	busy   atomic.Int32
}

func (c *fakeCursor) enter(op string) func() {
	if c.busy.Add(1) > 1 {
		c.f.violate("cursor %d: concurrent %s", c.id, op)
	}
	if c.closed.Load() {
		c.f.violate("cursor %d: %s after close", c.id, op)
	}
	return func() { c.busy.Add(-1) }
}

func (c *fakeCursor) Valid() bool {
	defer c.enter("valid")()
	return c.pos >= 0 && c.pos < len(c.kvs)
}

func (c *fakeCursor) Key() []byte {
	defer c.enter("key")()
	return c.kvs[c.pos].key
}

func (c *fakeCursor) Value() []byte {
	defer c.enter("value")()
	return c.kvs[c.pos].value
}

func (c *fakeCursor) SeekToFirst() {
	c.f.pass("seek")
	defer c.enter("seekToFirst")()
	c.pos = 0
}

func (c *fakeCursor) SeekToLast() {
	c.f.pass("seek")
	defer c.enter("seekToLast")()
	c.pos = len(c.kvs) - 1
}

func (c *fakeCursor) Seek(target []byte) {
	c.f.pass("seek")
	defer c.enter("seek")()
	c.pos = sort.Search(len(c.kvs), func(i int) bool { return bytes.Compare(c.kvs[i].key, target) >= 0 })
}

func (c *fakeCursor) Next() {
	defer c.enter("next")()
	if c.pos >= 0 && c.pos < len(c.kvs) {
		c.pos++
	}
}

func (c *fakeCursor) Prev() {
	defer c.enter("prev")()
	if c.pos >= 0 && c.pos < len(c.kvs) {
		c.pos--
	}
}

func (c *fakeCursor) Error() error { return nil }

func (c *fakeCursor) Close() error {
	defer c.enter("close")()
	c.f.record("cursor.close %d", c.id)
	c.closed.Store(true)
	return nil
}

type fakeTxn struct {
	f      *fakeStore
	id     uint64
	mu     sync.Mutex
	writes map[string]*[]byte
	snap   *engine.Snapshot
	ended  atomic.Bool
}

func (t *fakeTxn) check(op string) {
	if t.ended.Load() {
		t.f.violate("transaction %d: %s after end", t.id, op)
	}
}

func (t *fakeTxn) ID() uint64 { return t.id }

func (t *fakeTxn) Get(ro engine.ReadOptions, key []byte) ([]byte, error) {
	t.check("get")
	t.mu.Lock()
	w, ok := t.writes[string(key)]
	t.mu.Unlock()
	if ok {
		if w == nil {
			return nil, engine.ErrNotFound
		}
		return bytes.Clone(*w), nil
	}
	return t.f.Get(ro, key)
}

func (t *fakeTxn) GetForUpdate(ro engine.ReadOptions, key []byte) ([]byte, error) {
	return t.Get(ro, key)
}

func (t *fakeTxn) MultiGet(ro engine.ReadOptions, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := t.Get(ro, k)
		if err != nil && !errors.Is(err, engine.ErrNotFound) {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *fakeTxn) MultiGetForUpdate(ro engine.ReadOptions, keys [][]byte) ([][]byte, error) {
	return t.MultiGet(ro, keys)
}

func (t *fakeTxn) Put(key, value []byte) error {
	t.f.pass("txn.put")
	t.check("put")
	v := bytes.Clone(value)
	t.mu.Lock()
	t.writes[string(key)] = &v
	t.mu.Unlock()
	return nil
}

func (t *fakeTxn) Delete(key []byte) error {
	t.check("delete")
	t.mu.Lock()
	t.writes[string(key)] = nil
	t.mu.Unlock()
	return nil
}

func (t *fakeTxn) SetSnapshot() error {
	t.check("setSnapshot")
	t.mu.Lock()
	t.snap = &engine.Snapshot{}
	t.mu.Unlock()
	return nil
}

func (t *fakeTxn) GetSnapshot() *engine.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *fakeTxn) NewIterator(engine.ReadOptions) (cursor, error) {
	t.check("newIterator")
	t.mu.Lock()
	overlay := make(map[string]*[]byte, len(t.writes))
	for k, v := range t.writes {
		overlay[k] = v
	}
	t.mu.Unlock()
	return t.f.newCursor(overlay), nil
}

func (t *fakeTxn) Commit() error {
	t.f.pass("commit")
	if t.ended.Swap(true) {
		t.f.violate("transaction %d ended twice", t.id)
	}
	t.mu.Lock()
	writes := t.writes
	t.mu.Unlock()
	t.f.mu.Lock()
	for k, v := range writes {
		if v == nil {
			delete(t.f.data, k)
		} else {
			t.f.data[k] = *v
		}
	}
	t.f.mu.Unlock()
	t.f.record("txn.commit %d", t.id)
	return nil
}

func (t *fakeTxn) Rollback() error {
	t.f.pass("rollback")
	if t.ended.Swap(true) {
		t.f.violate("transaction %d ended twice", t.id)
	}
	t.f.record("txn.rollback %d", t.id)
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

const testTimeout = 5 * time.Second

func newTestEnv(t *testing.T) (*Env, *fakeStore) {
	t.Helper()
	e := NewEnv(&EnvOptions{Workers: 4, Logger: logging.Discard})
	f := newFakeStore()
	var opened atomic.Bool
	e.open = func(string, engine.Options) (store, error) {
		if opened.CompareAndSwap(false, true) {
			return f, nil
		}
		return newFakeStore(), nil
	}
	t.Cleanup(func() {
		ctx, cancel := contextWithTimeout()
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return e, f
}

func openFakeDB(t *testing.T, e *Env) *Database {
	t.Helper()
	var d *Database
	err := e.Invoke(func(done func(error)) {
		d = e.NewDatabase("fake")
		d.Open(nil, done)
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return d
}

func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), testTimeout)
}

// onLoop runs fn on the request loop and returns its result.
func onLoop[T any](t *testing.T, e *Env, fn func() T) T {
	t.Helper()
	v, err := Await(e, func(done func(T, error)) { done(fn(), nil) })
	if err != nil {
		t.Fatalf("onLoop: %v", err)
	}
	return v
}

// waitFor blocks until ch yields or the test times out.
func waitFor[T any](t *testing.T, what string, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func expectCode(t *testing.T, err error, code Code) {
	t.Helper()
	var he *Error
	if err == nil || !asError(err, &he) || he.Code != code {
		t.Fatalf("error = %v, want %s", err, code)
	}
}

func asError(err error, target **Error) bool {
	he, ok := err.(*Error)
	if ok {
		*target = he
	}
	return ok
}

// recorder collects completion events on the loop.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}
