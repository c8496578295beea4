// Package errs defines the runtime's error taxonomy: a structured error
// value carrying an operation name, a high-level kind, and an optional
// wrapped syscall errno. It is kept separate from the root package so both
// the root package and every internal subsystem can construct and compare
// these values without an import cycle.
package errs

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind is a high-level error category. The set is closed and mirrors the
// runtime's error taxonomy: every recoverable failure the core can produce
// carries exactly one of these.
type Kind string

const (
	Success          Kind = "success"
	UnknownError     Kind = "unknown error"
	CoroToCoro       Kind = "coroutine attempted to capture a second main coroutine on its thread"
	FromThreadToCoro Kind = "operation only valid from inside a service coroutine, called from a thread"
	NotInsideSrvCoro Kind = "not running inside a service coroutine"
	InsideSrvCoro    Kind = "running inside a service coroutine where this is not allowed"
	AlreadyOpen      Kind = "descriptor already open"
	NotOpen          Kind = "descriptor not open"
	WasClosed        Kind = "descriptor was closed"
	SrvStop          Kind = "service is stopping or stopped"
	OperationAborted Kind = "operation aborted by cancel or close"
	TimerExpired     Kind = "timer already expired"
	TimerNotExpired  Kind = "timer has a pending deadline"
	TimeoutExpired   Kind = "operation timed out"
)

// Error is the runtime's concrete error type. Programmer-error kinds
// (CoroToCoro, FromThreadToCoro, NotInsideSrvCoro, InsideSrvCoro) are never
// constructed by this package for return via a normal error path; Panic
// raises them as a panic carrying an *Error instead, per the "never
// swallowed, never returned as recoverable" precondition rule. (Package
// coro panics with its own sentinel error values, not with *Error.)
type Error struct {
	Op    string
	Code  Kind
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op == "" {
		return fmt.Sprintf("corosrv: %s", msg)
	}
	if e.Errno != 0 {
		return fmt.Sprintf("corosrv: %s: %s (errno %d)", e.Op, msg, e.Errno)
	}
	return fmt.Sprintf("corosrv: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New builds a plain error of the given kind.
func New(op string, code Kind, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// FromErrno wraps a syscall errno, classifying it into OperationAborted,
// TimeoutExpired or UnknownError as appropriate; anything not EAGAIN-class
// is surfaced unchanged via the Errno field, per the "execute_io surfaces
// the first non-retryable errno unchanged" rule.
func FromErrno(op string, errno syscall.Errno) *Error {
	code := UnknownError
	switch errno {
	case syscall.ECANCELED:
		code = OperationAborted
	case syscall.ETIMEDOUT:
		code = TimeoutExpired
	}
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// Wrap attaches op/context to an arbitrary inner error without discarding
// an existing *Error's classification.
func Wrap(op string, code Kind, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: e.Code, Errno: e.Errno, Msg: e.Msg, Inner: e}
	}
	msg := inner.Error()
	var errno syscall.Errno
	if errno2, ok := inner.(syscall.Errno); ok {
		errno = errno2
		if errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK || errno == syscall.EINTR {
			code = UnknownError
		}
	}
	return &Error{Op: op, Code: code, Errno: errno, Msg: msg, Inner: inner}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, code Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Panic raises a programmer-error *Error as a panic, per the rule that
// preconditions (wrong thread context, nonsensical arguments) are signalled
// by unwinding, never as a value a caller might ignore.
func Panic(op string, code Kind) {
	panic(&Error{Op: op, Code: code, Msg: string(code)})
}
