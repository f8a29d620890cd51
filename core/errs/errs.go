// Package errs defines the error taxonomy shared by the dispatch engine.
//
// Every error surfaced across a package boundary carries one of the kinds
// below so callers can map failures to their transport of choice without
// string matching. Validation failures are never retried; Internal marks
// store-layer faults that survived the engine's bounded retries.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes an engine error.
type Kind int

const (
	// KindUnknown is the zero value and marks uncategorized errors.
	KindUnknown Kind = iota
	// KindInvalidArgument rejects malformed input: bad recurrence
	// combinations, past start times, empty selectors, oversize payloads.
	KindInvalidArgument
	// KindNotFound reports an unknown microgrid or dispatch id.
	KindNotFound
	// KindFailedPrecondition rejects requests that conflict with current
	// state, such as a field mask naming both count and until.
	KindFailedPrecondition
	// KindResourceExhausted reports a terminated subscription whose buffer
	// overflowed.
	KindResourceExhausted
	// KindInternal reports a store-layer failure after retries.
	KindInternal
)

// String returns the wire-stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindFailedPrecondition:
		return "failed_precondition"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a categorized engine error. Use the constructors below; the zero
// value is not meaningful.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// InvalidArgf formats a KindInvalidArgument error.
func InvalidArgf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf formats a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// FailedPreconditionf formats a KindFailedPrecondition error.
func FailedPreconditionf(format string, args ...any) *Error {
	return &Error{Kind: KindFailedPrecondition, Msg: fmt.Sprintf(format, args...)}
}

// ResourceExhaustedf formats a KindResourceExhausted error.
func ResourceExhaustedf(format string, args ...any) *Error {
	return &Error{Kind: KindResourceExhausted, Msg: fmt.Sprintf(format, args...)}
}

// Internalf formats a KindInternal error.
func Internalf(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, unwrapping as needed.
// Errors outside the taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsInvalidArgument reports whether err is a KindInvalidArgument error.
func IsInvalidArgument(err error) bool { return KindOf(err) == KindInvalidArgument }

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsFailedPrecondition reports whether err is a KindFailedPrecondition error.
func IsFailedPrecondition(err error) bool { return KindOf(err) == KindFailedPrecondition }

// IsResourceExhausted reports whether err is a KindResourceExhausted error.
func IsResourceExhausted(err error) bool { return KindOf(err) == KindResourceExhausted }

// IsInternal reports whether err is a KindInternal error.
func IsInternal(err error) bool { return KindOf(err) == KindInternal }
