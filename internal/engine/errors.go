package engine

import (
	"errors"
	"fmt"
)

// Code classifies an engine error.
type Code int

const (
	// CodeNotFound means the key has no live value.
	CodeNotFound Code = iota + 1
	// CodeCorruption means on-disk data failed validation.
	CodeCorruption
	// CodeIOError means a filesystem operation failed.
	CodeIOError
	// CodeBusy means an optimistic transaction lost a write conflict.
	CodeBusy
	// CodeInvalidArgument means the request itself was malformed.
	CodeInvalidArgument
	// CodeClosed means the database has been closed.
	CodeClosed
)

func (c Code) prefix() string {
	switch c {
	case CodeNotFound:
		return "NotFound: "
	case CodeCorruption:
		return "Corruption: "
	case CodeIOError:
		return "IO error: "
	case CodeBusy:
		return "Resource busy: "
	case CodeInvalidArgument:
		return "Invalid argument: "
	case CodeClosed:
		return "Shutdown in progress: "
	default:
		return "Unknown: "
	}
}

// Error is the status value returned by every engine operation. Its text
// follows the "<Category>: <message>" convention, e.g.
// "IO error: lock /data/LOCK: resource temporarily unavailable".
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Code.prefix() + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, so errors.Is(err, ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrCorruption        = &Error{Code: CodeCorruption}
	ErrIO                = &Error{Code: CodeIOError}
	ErrBusy              = &Error{Code: CodeBusy}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrClosed            = &Error{Code: CodeClosed}
	ErrTransactionClosed = &Error{Code: CodeInvalidArgument, Msg: "transaction is closed"}
)

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func ioError(err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Error{Code: CodeIOError, Msg: msg, Err: err}
}

func corruption(err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Error{Code: CodeCorruption, Msg: msg, Err: err}
}

// CodeOf returns the Code of err, or 0 for non-engine errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
