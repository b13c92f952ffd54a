// Package hfperr classifies the error kinds of spec.md §7 and the
// policy (terminate the session vs. log-and-continue) attached to
// each.
package hfperr

import "fmt"

// Kind is one of the seven error categories the engine distinguishes.
type Kind int

const (
	// BadMessage: the AT grammar rejected a frame. Non-terminal: log,
	// drop the offending bytes, continue.
	BadMessage Kind = iota
	// NotSupported: the peer replied ERROR to a command the SLC
	// driver sent. Terminal.
	NotSupported
	// ConnReset: zero-length read, or POLLERR/POLLHUP equivalent.
	// Terminal.
	ConnReset
	// TimedOut: the SLC driver exhausted its retry budget. Terminal.
	TimedOut
	// Interrupted: an interrupted syscall. Always retried
	// transparently; never surfaced to a caller.
	Interrupted
	// IOError: any other read/write failure. Non-terminal,
	// best-effort: log and continue.
	IOError
	// HandlerIOError: the external AT-handler stream failed. The
	// handler fd is closed; the RFCOMM session keeps running.
	HandlerIOError
)

func (k Kind) String() string {
	switch k {
	case BadMessage:
		return "BAD_MESSAGE"
	case NotSupported:
		return "NOT_SUPPORTED"
	case ConnReset:
		return "CONN_RESET"
	case TimedOut:
		return "TIMED_OUT"
	case Interrupted:
		return "INTERRUPTED"
	case IOError:
		return "IO_ERROR"
	case HandlerIOError:
		return "HANDLER_IO_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func New(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, hfperr.Sentinel(hfperr.BadMessage)) etc.:
// any *Error target matches when its Kind equals e's, whatever its
// cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel returns a comparable *Error value for use with errors.Is,
// e.g. errors.Is(err, hfperr.Sentinel(hfperr.ConnReset)).
func Sentinel(k Kind) *Error { return &Error{Kind: k} }

// Terminal reports whether err should cause the event loop to stop
// the session, per the policy table in spec.md §7.
func Terminal(err error) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	switch e.Kind {
	case NotSupported, ConnReset, TimedOut:
		return true
	default:
		return false
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
