// Package corerr defines the closed set of error kinds the runtime core
// reports (spec §7) as a wrapped-error type, not a family of Go types, so
// call sites use errors.Is/errors.As rather than type switches.
package corerr

import (
	"errors"
	"fmt"
)

// Kind is one of the eight error kinds the core distinguishes. It is a
// closed string enum rather than a Go interface hierarchy.
type Kind string

const (
	InvalidInput     Kind = "InvalidInput"
	PermissionDenied Kind = "PermissionDenied"
	ProtocolError    Kind = "ProtocolError"
	Timeout          Kind = "Timeout"
	Cancelled        Kind = "Cancelled"
	UpstreamError    Kind = "UpstreamError"
	StoreError       Kind = "StoreError"
	Internal         Kind = "Internal"
)

// Fatal reports whether this kind always terminates the turn with an Error
// envelope rather than becoming a tool-result error.
func (k Kind) Fatal() bool {
	switch k {
	case ProtocolError, Timeout, Cancelled, StoreError, Internal:
		return true
	default:
		return false
	}
}

// CoreError wraps an underlying cause with a Kind, following the teacher's
// sentinel-plus-wrapped-error idiom: Is/As friendly via Unwrap.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// New builds a CoreError of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *CoreError,
// otherwise returns Internal.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
