// Package domainerrors defines the domain error taxonomy shared by all
// services. Services classify every rejected precondition with a Code so
// transports can translate uniformly and callers can branch without string
// matching. Conventionally imported as dErrors.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeBadRequest covers malformed or missing input at the boundary.
	CodeBadRequest Code = "bad_request"
	// CodeValidation covers inputs that parse but violate a domain rule
	// (zero amounts, unsupported asset, timeout out of range).
	CodeValidation Code = "validation_failed"
	// CodeForbidden covers a caller acting outside its role (wrong
	// counterparty, non-participant, non-governance).
	CodeForbidden Code = "forbidden"
	// CodeUnauthorized covers missing or invalid authentication.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound covers references to records that do not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict covers duplicate or competing mutations rejected by a
	// state or uniqueness guard (second completion, double acceptance).
	CodeConflict Code = "conflict"
	// CodeInvalidState covers operations attempted from a lifecycle state
	// that has no such transition.
	CodeInvalidState Code = "invalid_state"
	// CodeExpired covers operations attempted outside their eligibility
	// window (accept after expiry, refund before the timeout elapses).
	CodeExpired Code = "window_expired"
	// CodeInsufficientFunds covers balance, allowance, cap, or
	// remaining-funds-below-fee failures.
	CodeInsufficientFunds Code = "insufficient_funds"
	// CodeInternal covers unexpected infrastructure failures.
	CodeInternal Code = "internal_error"
)

// Error is the concrete domain error. Message is safe to surface to callers
// except for CodeInternal, where transports must redact it.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidState:
		return http.StatusConflict
	case CodeExpired:
		return http.StatusGone
	case CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
