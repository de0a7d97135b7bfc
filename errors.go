package rockyardhost

// errors.go defines the error taxonomy surfaced through completions.
//
// Every error handed to a callback is an *Error. Engine failures keep the
// engine error as their cause; protocol failures are raised by the
// coordinator itself before any engine call is made.

import (
	"errors"
	"strings"

	"github.com/aalhour/rockyardhost/internal/engine"
)

// Kind separates failures reported by the storage engine from misuse of the
// handle protocol.
type Kind int

const (
	// KindEngine marks failures reported by the storage engine and
	// malformed requests.
	KindEngine Kind = iota
	// KindProtocol marks requests rejected by handle state.
	KindProtocol
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindProtocol {
		return "protocol"
	}
	return "engine"
}

// Code is a stable machine-readable error category.
type Code string

// Engine codes.
const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeCorruption          Code = "CORRUPTION"
	CodeIOError             Code = "IO_ERROR"
	CodeLocked              Code = "LOCKED"
	CodeTransactionConflict Code = "TRANSACTION_CONFLICT"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeEngine              Code = "ENGINE_ERROR"
)

// Protocol codes.
const (
	CodeDatabaseNotOpen       Code = "DATABASE_NOT_OPEN"
	CodeDatabaseClosed        Code = "DATABASE_CLOSED"
	CodeTransactionCommitted  Code = "TRANSACTION_COMMITTED"
	CodeTransactionRollbacked Code = "TRANSACTION_ROLLBACKED"
	CodeIteratorNotOpen       Code = "ITERATOR_NOT_OPEN"
	CodeIteratorBusy          Code = "ITERATOR_BUSY"
	CodeSnapshotReleased      Code = "SNAPSHOT_RELEASED"
)

// Error is the error type passed to completions.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the engine cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrLocked)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNotFound            = &Error{Code: CodeNotFound, Kind: KindEngine, Message: "not found"}
	ErrCorruption          = &Error{Code: CodeCorruption, Kind: KindEngine, Message: "corruption"}
	ErrIOError             = &Error{Code: CodeIOError, Kind: KindEngine, Message: "io error"}
	ErrLocked              = &Error{Code: CodeLocked, Kind: KindEngine, Message: "database is locked"}
	ErrTransactionConflict = &Error{Code: CodeTransactionConflict, Kind: KindEngine, Message: "transaction conflict"}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument, Kind: KindEngine, Message: "invalid argument"}

	ErrDatabaseNotOpen       = &Error{Code: CodeDatabaseNotOpen, Kind: KindProtocol, Message: "Database is not open"}
	ErrDatabaseClosed        = &Error{Code: CodeDatabaseClosed, Kind: KindProtocol, Message: "Database is closed"}
	ErrTransactionCommitted  = &Error{Code: CodeTransactionCommitted, Kind: KindProtocol, Message: "Transaction is already committed"}
	ErrTransactionRollbacked = &Error{Code: CodeTransactionRollbacked, Kind: KindProtocol, Message: "Transaction is already rollbacked"}
	ErrIteratorNotOpen       = &Error{Code: CodeIteratorNotOpen, Kind: KindProtocol, Message: "Iterator is not open"}
	ErrIteratorBusy          = &Error{Code: CodeIteratorBusy, Kind: KindProtocol, Message: "Iterator is busy"}
	ErrSnapshotReleased      = &Error{Code: CodeSnapshotReleased, Kind: KindProtocol, Message: "Snapshot is released"}
)

// lockPrefix marks the engine's lock acquisition failures.
const lockPrefix = "IO error: lock "

func protocolError(code Code, msg string) *Error {
	return &Error{Code: code, Kind: KindProtocol, Message: msg}
}

// invalidArgument reports a malformed request. It carries the same kind as
// the engine's own argument errors.
func invalidArgument(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Kind: KindEngine, Message: msg}
}

// fromEngine maps an engine error onto the taxonomy. Errors that are
// already *Error pass through unchanged.
func fromEngine(err error) error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	msg := err.Error()
	var ee *engine.Error
	if !errors.As(err, &ee) {
		return &Error{Code: CodeEngine, Kind: KindEngine, Message: msg, Err: err}
	}
	var code Code
	switch ee.Code {
	case engine.CodeNotFound:
		code = CodeNotFound
	case engine.CodeCorruption:
		code = CodeCorruption
	case engine.CodeIOError:
		code = CodeIOError
		if strings.HasPrefix(ee.Error(), lockPrefix) {
			code = CodeLocked
		}
	case engine.CodeBusy:
		code = CodeTransactionConflict
	case engine.CodeInvalidArgument:
		code = CodeInvalidArgument
	case engine.CodeClosed:
		return &Error{Code: CodeDatabaseClosed, Kind: KindProtocol, Message: msg, Err: err}
	default:
		code = CodeEngine
	}
	return &Error{Code: code, Kind: KindEngine, Message: msg, Err: err}
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
