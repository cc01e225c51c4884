package common

import (
	"context"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

// ErrorKind classifies every error that can be reported to a caller.
// Kinds travel over the wire as their string form.
type ErrorKind string

const (
	KindBindFailure          ErrorKind = "bind_failure"
	KindProcedureNotFound    ErrorKind = "procedure_not_found"
	KindKeyNotFound          ErrorKind = "key_not_found"
	KindTypeMismatch         ErrorKind = "type_mismatch"
	KindSerializationFailure ErrorKind = "serialization_failure"
	KindBusy                 ErrorKind = "busy"
	KindStreamClosed         ErrorKind = "stream_closed"
	KindConnectionFailure    ErrorKind = "connection_failure"
	KindTimeout              ErrorKind = "timeout"
	KindCancelled            ErrorKind = "cancelled"
	KindHandlerFailure       ErrorKind = "handler_failure"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrBindFailure          = &Error{Kind: KindBindFailure}
	ErrProcedureNotFound    = &Error{Kind: KindProcedureNotFound}
	ErrKeyNotFound          = &Error{Kind: KindKeyNotFound}
	ErrTypeMismatch         = &Error{Kind: KindTypeMismatch}
	ErrSerializationFailure = &Error{Kind: KindSerializationFailure}
	ErrBusy                 = &Error{Kind: KindBusy}
	ErrStreamClosed         = &Error{Kind: KindStreamClosed}
	ErrConnectionFailure    = &Error{Kind: KindConnectionFailure}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrCancelled            = &Error{Kind: KindCancelled}
	ErrHandlerFailure       = &Error{Kind: KindHandlerFailure}
)

// Error is the structured error type of the rpc layer
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error // optional cause, not transmitted
}

func (e *Error) Error() string {
	if d := e.detail(); d != "" {
		return fmt.Sprintf("%s: %s", e.Kind, d)
	}
	return string(e.Kind)
}

// detail is the message and cause of e without the kind. A direct cause of the
// same kind only adds its own detail, so wrapping does not repeat the kind.
func (e *Error) detail() string {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
		if inner, ok := e.Err.(*Error); ok && inner.Kind == e.Kind {
			cause = inner.detail()
		}
	}
	switch {
	case e.Msg == "":
		return cause
	case cause == "":
		return e.Msg
	default:
		return e.Msg + ": " + cause
	}
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// NewError creates an error of the given kind with a formatted message
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of the given kind that wraps a cause
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err. Errors without a kind are reported as handler failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindHandlerFailure
}

// HasKind reports whether err carries an explicit kind
func HasKind(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// ParseErrorKind converts a wire string back into a kind. Unknown strings map to KindHandlerFailure.
func ParseErrorKind(s string) ErrorKind {
	switch k := ErrorKind(s); k {
	case KindBindFailure, KindProcedureNotFound, KindKeyNotFound, KindTypeMismatch,
		KindSerializationFailure, KindBusy, KindStreamClosed, KindConnectionFailure,
		KindTimeout, KindCancelled, KindHandlerFailure:
		return k
	default:
		return KindHandlerFailure
	}
}

// FromContext converts a context error into the matching kind.
// DeadlineExceeded becomes a Timeout, everything else Cancelled.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, err, "deadline exceeded")
	}
	return WrapError(KindCancelled, err, "cancelled")
}
