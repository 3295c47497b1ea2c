// Package xerrors is the internal RFC 7807-flavored error type every core
// component returns. It never speaks Binance's wire shape directly; that
// translation happens once, at the REST boundary (internal/rest/errormap.go).
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error independent of its human-readable message, so
// callers (including the REST error mapper) can switch on it.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindInvalidOrder       Kind = "INVALID_ORDER"
	KindUnknownSymbol      Kind = "UNKNOWN_SYMBOL"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindRateLimit          Kind = "RATE_LIMIT"
	KindTimestampSkew      Kind = "TIMESTAMP_SKEW"
	KindConflict           Kind = "CONFLICT"
	KindInternal           Kind = "INTERNAL"
)

// FieldError names a single invalid request field.
type FieldError struct {
	Field   string
	Message string
}

// Error is the internal problem-details error. It chains like a builder:
// xerrors.New(xerrors.KindValidation, "bad quantity").WithField("quantity", "must be > 0")
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Reason sets/replaces the cause.
func (e *Error) Reason(cause error) *Error {
	e.cause = cause
	return e
}

// Explain replaces the human-readable message.
func (e *Error) Explain(message string) *Error {
	e.Message = message
	return e
}

// WithField appends a single field-level validation error.
func (e *Error) WithField(field, message string) *Error {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// WithFields appends several field-level validation errors at once.
func (e *Error) WithFields(fields ...FieldError) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

// Is lets errors.Is match by Kind rather than by pointer identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, falling
// back to KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Convenience constructors for the kinds the core packages raise most often.

func NotFound(message string) *Error          { return New(KindNotFound, message) }
func Validation(message string) *Error        { return New(KindValidation, message) }
func InsufficientFunds(message string) *Error { return New(KindInsufficientFunds, message) }
func InvalidOrder(message string) *Error      { return New(KindInvalidOrder, message) }
func UnknownSymbol(symbol string) *Error {
	return New(KindUnknownSymbol, "unknown symbol").WithField("symbol", symbol)
}
