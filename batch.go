package rockyardhost

// batch.go implements atomic write batches.

import (
	"fmt"

	"github.com/aalhour/rockyardhost/internal/batch"
)

// OpType is the kind of a BatchOp.
type OpType int

const (
	// OpPut writes Key=Value.
	OpPut OpType = iota
	// OpDelete removes Key.
	OpDelete
)

// BatchOp is one operation of Database.BatchDo.
type BatchOp struct {
	Type  OpType
	Key   []byte
	Value []byte
}

func buildBatch(ops []BatchOp) (*batch.WriteBatch, error) {
	wb := batch.New()
	for i, op := range ops {
		switch op.Type {
		case OpPut:
			wb.Put(op.Key, op.Value)
		case OpDelete:
			wb.Delete(op.Key)
		default:
			return nil, invalidArgument(fmt.Sprintf("batch op %d: unknown type %d", i, op.Type))
		}
	}
	return wb, nil
}

func deleteBatch(keys [][]byte) *batch.WriteBatch {
	wb := batch.New()
	for _, k := range keys {
		wb.Delete(k)
	}
	return wb
}

// Batch accumulates writes on the request loop and applies them atomically
// with Write. Keys and values are copied, so callers may reuse their
// buffers. The batch stays usable after Write.
type Batch struct {
	db *Database
	wb *batch.WriteBatch
}

func newBatch(db *Database) *Batch {
	return &Batch{db: db, wb: batch.New()}
}

// Put adds a write of key.
func (b *Batch) Put(key, value []byte) *Batch {
	b.wb.Put(key, value)
	return b
}

// Delete adds a deletion of key.
func (b *Batch) Delete(key []byte) *Batch {
	b.wb.Delete(key)
	return b
}

// Clear drops every queued operation.
func (b *Batch) Clear() *Batch {
	b.wb.Clear()
	return b
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return int(b.wb.Count())
}

// Write applies the queued operations atomically.
func (b *Batch) Write(o *WriteOptions, cb func(error)) {
	b.db.env.assertLoop("batch.write")
	wb, wo := b.wb.Clone(), o.engine()
	b.db.write("batch.write", cb, func(st store) error { return st.Write(wo, wb) })
}
