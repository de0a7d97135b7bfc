package rockyardhost

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aalhour/rockyardhost/internal/engine"
)

func TestError_KindFollowsCode(t *testing.T) {
	engineCodes := map[Code]bool{
		CodeNotFound: true, CodeCorruption: true, CodeIOError: true, CodeLocked: true,
		CodeTransactionConflict: true, CodeInvalidArgument: true, CodeEngine: true,
	}
	tests := []struct {
		name string
		err  error
	}{
		{"not found sentinel", ErrNotFound},
		{"invalid argument sentinel", ErrInvalidArgument},
		{"raised invalid argument", invalidArgument("batch op 0: unknown type 9")},
		{"engine invalid argument", fromEngine(engine.ErrInvalidArgument)},
		{"engine transaction closed", fromEngine(engine.ErrTransactionClosed)},
		{"engine closed", fromEngine(engine.ErrClosed)},
		{"engine other", fromEngine(errors.New("disk on fire"))},
		{"database closed sentinel", ErrDatabaseClosed},
		{"snapshot released sentinel", ErrSnapshotReleased},
		{"protocol error", protocolError(CodeIteratorBusy, "Iterator is busy")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var he *Error
			if !errors.As(tt.err, &he) {
				t.Fatalf("%v is not an *Error", tt.err)
			}
			want := KindProtocol
			if engineCodes[he.Code] {
				want = KindEngine
			}
			if he.Kind != want {
				t.Errorf("%s: Kind = %v, want %v", he.Code, he.Kind, want)
			}
		})
	}
}

func TestError_InvalidArgumentFromRequests(t *testing.T) {
	e, f := newTestEnv(t)
	d := openFakeDB(t, e)
	other := openFakeDB(t, e)
	s := onLoop(t, e, func() *Snapshot {
		s, err := d.NewSnapshot()
		if err != nil {
			t.Fatalf("NewSnapshot() error = %v", err)
		}
		return s
	})

	errs := []error{
		e.Invoke(func(done func(error)) { d.BatchDo([]BatchOp{{Type: OpType(9), Key: b("x")}}, nil, done) }),
		e.Invoke(func(done func(error)) { d.Open(nil, done) }),
		e.Invoke(func(done func(error)) {
			other.Get(b("a"), &ReadOptions{Snapshot: s}, func(_ []byte, err error) { done(err) })
		}),
	}
	for i, err := range errs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			expectCode(t, err, CodeInvalidArgument)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("errors.Is(%v, ErrInvalidArgument) = false", err)
			}
			if kind := err.(*Error).Kind; kind != ErrInvalidArgument.Kind {
				t.Errorf("Kind = %v, want %v", kind, ErrInvalidArgument.Kind)
			}
		})
	}
	f.expectClean(t)
}
