// Package errs provides the tagged error value used across the engine.
package errs

import "fmt"

// Kind tags an Error with a coarse, user-visible category.
type Kind int

const (
	NoError Kind = iota
	Generic
	IoError
	NotSupported
	Timeout
	Disconnected
	FileNotFound
	Misconfiguration
	Locked
	Initialization
)

func (k Kind) String() string {
	switch k {
	case NoError:
		return "no-error"
	case Generic:
		return "generic"
	case IoError:
		return "io"
	case NotSupported:
		return "not-supported"
	case Timeout:
		return "timeout"
	case Disconnected:
		return "disconnected"
	case FileNotFound:
		return "file-not-found"
	case Misconfiguration:
		return "misconfiguration"
	case Locked:
		return "locked"
	case Initialization:
		return "initialization"
	default:
		return "unknown"
	}
}

// Error is a tagged error value with an optional inner cause, forming a
// chain. Values are owned; cloning is explicit via Clone.
type Error struct {
	kind    Kind
	message string
	inner   error
}

// New creates a fresh Error of the given kind with no inner cause.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Stack prepends outer as a new top frame over inner, inner becoming the
// cause chain of outer.
func Stack(kind Kind, message string, inner error) *Error {
	return &Error{kind: kind, message: message, inner: inner}
}

// Kind returns the error's tag.
func (e *Error) Kind() Kind {
	if e == nil {
		return NoError
	}
	return e.kind
}

// Error implements the error interface, returning only the top message.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Unwrap exposes the inner cause so stdlib errors.Is/errors.As chain walks
// work the ordinary way on top of the tagged kind.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.inner
}

// Print renders the top-of-stack message only.
func (e *Error) Print() string {
	return e.Error()
}

// PrintStack renders the full cause chain, newest-first.
func (e *Error) PrintStack() string {
	if e == nil {
		return ""
	}
	out := fmt.Sprintf("[%s] %s", e.kind, e.message)
	cause := e.inner
	for cause != nil {
		out += fmt.Sprintf("\n  caused by: %s", cause.Error())
		unwrapper, ok := cause.(interface{ Unwrap() error })
		if !ok {
			break
		}
		cause = unwrapper.Unwrap()
	}
	return out
}

// IsSet reports whether e represents an actual error (non-nil and not of
// kind NoError).
func (e *Error) IsSet() bool {
	return e != nil && e.kind != NoError
}

// Clone returns a value copy of e; the inner cause is shared (errors are
// treated as immutable once created).
func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// SetIfUnset applies the "set if not set, else push as inner cause" rule
// callbacks use when feeding an error back into an Engine's sticky error
// slot. If *slot is nil, next becomes *slot; otherwise next is stacked as
// the new top frame with the previous *slot as its cause.
func SetIfUnset(slot **Error, next *Error) {
	if next == nil || !next.IsSet() {
		return
	}
	if *slot == nil || !(*slot).IsSet() {
		*slot = next
		return
	}
	*slot = &Error{kind: next.kind, message: next.message, inner: *slot}
}
