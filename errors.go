package corosrv

import "github.com/ehrlich-b/corosrv/internal/errs"

// ErrKind enumerates the runtime's error taxonomy. See internal/errs for
// the canonical definitions; this package re-exports them as the public
// surface so callers never need to import an internal package to compare
// error kinds.
type ErrKind = errs.Kind

const (
	Success          = errs.Success
	UnknownError     = errs.UnknownError
	CoroToCoro       = errs.CoroToCoro
	FromThreadToCoro = errs.FromThreadToCoro
	NotInsideSrvCoro = errs.NotInsideSrvCoro
	InsideSrvCoro    = errs.InsideSrvCoro
	AlreadyOpen      = errs.AlreadyOpen
	NotOpen          = errs.NotOpen
	WasClosed        = errs.WasClosed
	SrvStop          = errs.SrvStop
	OperationAborted = errs.OperationAborted
	TimerExpired     = errs.TimerExpired
	TimerNotExpired  = errs.TimerNotExpired
	TimeoutExpired   = errs.TimeoutExpired
)

// Error is the concrete error type this module uses for its error kinds.
// Use errors.As to recover it and inspect Code. BasicDescriptor.Close
// passes the close(2) errno through as a plain syscall.Errno.
type Error = errs.Error

// IsKind reports whether err is a *Error carrying the given kind.
func IsKind(err error, kind ErrKind) bool {
	return errs.Is(err, kind)
}
