package fluxio

import "fmt"

// Code classifies an [Error].
type Code int

const (
	// CodeError is a general error without a more specific classification.
	CodeError Code = iota + 1
	// CodeInvalidArg reports a misused API call, such as a malformed method
	// string or an operation on a consumed handle. These are returned
	// synchronously, never deferred into a task outcome.
	CodeInvalidArg
	// CodeIO reports a fatal transport error. The connection that produced
	// it is dead; every outstanding and subsequent operation on it fails.
	CodeIO
	// CodeUnexpectedEOF reports that the transport closed cleanly while an
	// HTTP message was still expected or incomplete.
	CodeUnexpectedEOF
	// CodeAbortedByCallback reports that a caller-supplied callback asked
	// to abort the operation it was driving.
	CodeAbortedByCallback
	// CodeInvalidPeerMessage reports that the peer sent bytes that could
	// not be parsed as HTTP/1.1.
	CodeInvalidPeerMessage
	// CodeCanceled reports that the connection was torn down by the caller
	// while the operation was still in flight.
	CodeCanceled
)

// String returns a short name for the code.
func (c Code) String() string {
	switch c {
	case CodeError:
		return "error"
	case CodeInvalidArg:
		return "invalid argument"
	case CodeIO:
		return "io error"
	case CodeUnexpectedEOF:
		return "unexpected eof"
	case CodeAbortedByCallback:
		return "aborted by callback"
	case CodeInvalidPeerMessage:
		return "invalid peer message"
	case CodeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the engine's error object. Usage errors are returned directly
// from the call that misused the API; terminal failures are carried as a
// task outcome tagged [TaskError].
type Error struct {
	code  Code
	msg   string
	cause error
	freed bool
}

func newError(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func errorf(code Code, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	e := &Error{code: code, msg: err.Error()}
	if cause := unwrapOnce(err); cause != nil {
		e.cause = cause
	}
	return e
}

func unwrapOnce(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

// Code returns the error's classification.
func (e *Error) Code() Code { return e.code }

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Free releases the error object. Freeing twice is a programming error.
func (e *Error) Free() {
	markFreed(&e.freed, "Error")
}
