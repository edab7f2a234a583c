// Package apperrors defines the error taxonomy shared across the coordination
// plane pipeline.
package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies an error category and the wire-level status it maps to.
type Code int

const (
	CodeProtocolError Code = iota
	CodeAuthError
	CodePermissionDenied
	CodeRateLimited
	CodeMergeRejected
	CodeWriteTimeout
	CodeClockSkew
	CodeStorageError
	CodeCancelled
)

// WireStatus returns the numeric status sent back to clients in an ERROR frame.
func (c Code) WireStatus() int {
	switch c {
	case CodeProtocolError:
		return 400
	case CodeAuthError:
		return 401
	case CodePermissionDenied:
		return 403
	case CodeClockSkew:
		return 409
	case CodeRateLimited:
		return 429
	case CodeWriteTimeout, CodeStorageError:
		return 503
	default:
		return 500
	}
}

func (c Code) String() string {
	switch c {
	case CodeProtocolError:
		return "ProtocolError"
	case CodeAuthError:
		return "AuthError"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeRateLimited:
		return "RateLimited"
	case CodeMergeRejected:
		return "MergeRejected"
	case CodeWriteTimeout:
		return "WriteTimeout"
	case CodeClockSkew:
		return "ClockSkew"
	case CodeStorageError:
		return "StorageError"
	case CodeCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the typed error carried through the session pipeline. It is never
// allowed to crash the session loop; pipeline stages catch it at the
// boundary and translate it into an ERROR frame or session close.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a Code to an existing error, preserving it for errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// As is a thin convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

var (
	ErrInvalidKey        = New(CodeProtocolError, "invalid key")
	ErrMapNotFound       = New(CodeProtocolError, "unknown map")
	ErrSessionClosed     = New(CodeCancelled, "session closed")
	ErrCursorInvalidated = New(CodeProtocolError, "cursor predicate mismatch")
)
