package rockyardhost

// store.go narrows the storage engine to what the handles use.
//
// The handles own these objects exclusively and only touch them from the
// execute phase of a work item, never from the request loop.

import (
	"github.com/aalhour/rockyardhost/internal/batch"
	"github.com/aalhour/rockyardhost/internal/engine"
)

// store is an open engine connection.
type store interface {
	Get(ro engine.ReadOptions, key []byte) ([]byte, error)
	MultiGet(ro engine.ReadOptions, keys [][]byte) ([][]byte, error)
	Put(wo engine.WriteOptions, key, value []byte) error
	Delete(wo engine.WriteOptions, key []byte) error
	Write(wo engine.WriteOptions, b *batch.WriteBatch) error
	NewIterator(ro engine.ReadOptions) (cursor, error)
	GetSnapshot() *engine.Snapshot
	ReleaseSnapshot(s *engine.Snapshot)
	BeginTransaction(wo engine.WriteOptions, to engine.TransactionOptions) (txnStore, error)
	ApproximateSize(start, end []byte) (uint64, error)
	CompactRange(start, end []byte) error
	GetProperty(name string) (string, bool)
	Close() error
}

// cursor is an engine iterator.
type cursor interface {
	Valid() bool
	Key() []byte
	Value() []byte
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	Next()
	Prev()
	Error() error
	Close() error
}

// txnStore is an engine transaction.
type txnStore interface {
	ID() uint64
	Get(ro engine.ReadOptions, key []byte) ([]byte, error)
	GetForUpdate(ro engine.ReadOptions, key []byte) ([]byte, error)
	MultiGet(ro engine.ReadOptions, keys [][]byte) ([][]byte, error)
	MultiGetForUpdate(ro engine.ReadOptions, keys [][]byte) ([][]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	SetSnapshot() error
	GetSnapshot() *engine.Snapshot
	NewIterator(ro engine.ReadOptions) (cursor, error)
	Commit() error
	Rollback() error
}

// opener opens the engine at a location.
type opener func(location string, opts engine.Options) (store, error)

func openEngine(location string, opts engine.Options) (store, error) {
	db, err := engine.Open(location, opts)
	if err != nil {
		return nil, err
	}
	return engineStore{db}, nil
}

type engineStore struct {
	*engine.DB
}

func (s engineStore) NewIterator(ro engine.ReadOptions) (cursor, error) {
	it, err := s.DB.NewIterator(ro)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (s engineStore) BeginTransaction(wo engine.WriteOptions, to engine.TransactionOptions) (txnStore, error) {
	t, err := s.DB.BeginTransaction(wo, to)
	if err != nil {
		return nil, err
	}
	return engineTxn{t}, nil
}

type engineTxn struct {
	*engine.Transaction
}

func (t engineTxn) NewIterator(ro engine.ReadOptions) (cursor, error) {
	it, err := t.Transaction.NewIterator(ro)
	if err != nil {
		return nil, err
	}
	return it, nil
}
