package registry

import (
	"errors"
	"fmt"
)

// ErrorCategory normalises registry failures.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorOutage         ErrorCategory = "outage"
	ErrorNotFound       ErrorCategory = "not_found"
	ErrorRateLimited    ErrorCategory = "rate_limited"
)

// Error is a categorised registry failure.
type Error struct {
	Category   ErrorCategory
	Operation  string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("registry %s [%s]: %s: %v", e.Operation, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("registry %s [%s]: %s", e.Operation, e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Underlying }

func newError(category ErrorCategory, op, msg string, underlying error) *Error {
	return &Error{Category: category, Operation: op, Message: msg, Underlying: underlying}
}

// CategoryOf returns the category of a registry error, or "" for other errors.
func CategoryOf(err error) ErrorCategory {
	var re *Error
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

func IsNotFound(err error) bool {
	return CategoryOf(err) == ErrorNotFound
}

// CountsAsFailure is the breaker failure predicate: a missing record is an
// answer, not an unhealthy registry.
func CountsAsFailure(err error) bool {
	return err != nil && !IsNotFound(err)
}
