// Package domainerrors carries stable, machine-readable error codes from the
// domain layer to the transport layer. Services return these (optionally
// wrapping an underlying cause) and handlers translate them into HTTP
// responses without string matching.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable machine-readable error identifier. Codes are part of the
// public API contract and must never be renamed.
type Code string

const (
	CodeValidation             Code = "validation_error"
	CodeBadRequest             Code = "bad_request"
	CodeInvalidInput           Code = "invalid_input"
	CodeIdempotencyKeyRequired Code = "idempotency_key_required"
	CodeUnauthorized           Code = "unauthorized"
	CodeNotFound               Code = "not_found"
	CodeDuplicateCertificate   Code = "duplicate_certificate"
	CodeIdempotencyInProgress  Code = "idempotency_in_progress"
	CodeIdempotencyConflict    Code = "idempotency_conflict"
	CodeCircuitOpen            Code = "circuit_open"
	CodeRegistryLookupFailed   Code = "registry_lookup_failed"
	CodeIssuerRejected         Code = "issuer_rejected"
	CodeInvalidStateTransition Code = "invalid_state_transition"
	CodePersistence            Code = "persistence_error"
	CodeTimeout                Code = "timeout"
	CodeInvariantViolation     Code = "invariant_violation"
	CodeInternal               Code = "internal_error"
)

// Error is a domain error with a code, a human message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
	// retryable overrides the code default when set through WithRetryable.
	retryable *bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a caller may retry the failed operation.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return retryableCodes[e.Code]
}

// New creates a domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// WithRetryable returns a copy of err with an explicit retryable flag. Errors
// without a domain code are wrapped as internal errors first.
func WithRetryable(err error, retryable bool) error {
	var de *Error
	if !errors.As(err, &de) {
		de = &Error{Code: CodeInternal, Message: "internal error", Err: err}
	}
	out := *de
	out.retryable = &retryable
	return &out
}

// As extracts the outermost domain error from err.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether any domain error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability in tests.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of the outermost domain error, or CodeInternal.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err is a retryable domain error.
func IsRetryable(err error) bool {
	if de, ok := As(err); ok {
		return de.Retryable()
	}
	return false
}

var retryableCodes = map[Code]bool{
	CodeCircuitOpen:           true,
	CodePersistence:           true,
	CodeTimeout:               true,
	CodeIdempotencyInProgress: true,
}

// ToHTTPStatus maps a code onto its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvalidInput, CodeIdempotencyKeyRequired:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicateCertificate, CodeIdempotencyInProgress:
		return http.StatusConflict
	case CodeIdempotencyConflict:
		return http.StatusUnprocessableEntity
	case CodeCircuitOpen, CodeRegistryLookupFailed, CodeIssuerRejected:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
