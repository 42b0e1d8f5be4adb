// Package errs provides the unified error type used across all of Conduit.
//
// Every subsystem (session drivers, export sinks, server, …) wraps its native
// errors into *errs.Error before returning them to callers. Callers use the
// Is* predicates to handle errors without importing driver-specific packages.
//
// Usage:
//
//	// In a driver — wrap native errors:
//	return errs.Wrap(errs.ErrKindQuery, "execute failed", sqliteErr)
//
//	// In a handler — check error kind:
//	if errs.IsBindingMismatch(err) {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing driver-specific codes.
// All backends (SQLite, MySQL, Postgres, MinIO, …) map their native errors to
// one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown         ErrKind = iota
	ErrKindConnection              // cannot establish or keep a session to the store
	ErrKindState                   // operation on a closed or invalid connection/cursor
	ErrKindBindingMismatch         // placeholder count != bind value count
	ErrKindTransaction             // commit/rollback rejected, or no transaction active
	ErrKindQuery                   // store-reported execution failure (syntax, constraint, type)
	ErrKindTimeout                 // context deadline / cancellation
	ErrKindNotFound                // missing object, bucket, table, …
	ErrKindInvalidInput            // bad arguments from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConnection:
		return "connection"
	case ErrKindState:
		return "state"
	case ErrKindBindingMismatch:
		return "binding_mismatch"
	case ErrKindTransaction:
		return "transaction"
	case ErrKindQuery:
		return "query"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all Conduit subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsConnection reports whether err is a connectivity or auth failure.
func IsConnection(err error) bool {
	return kindOf(err) == ErrKindConnection
}

// IsState reports whether err was caused by using a closed or invalid
// connection or cursor.
func IsState(err error) bool {
	return kindOf(err) == ErrKindState
}

// IsBindingMismatch reports whether err was caused by a placeholder/value
// count mismatch. Always caller-fixable, never retried automatically.
func IsBindingMismatch(err error) bool {
	return kindOf(err) == ErrKindBindingMismatch
}

// IsTransaction reports whether err is a commit/rollback failure.
func IsTransaction(err error) bool {
	return kindOf(err) == ErrKindTransaction
}

// IsQuery reports whether err is a store-reported execution failure.
func IsQuery(err error) bool {
	return kindOf(err) == ErrKindQuery
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
