package issuer

import (
	"errors"
	"fmt"
)

// ErrUnauthorized means the session token was refused. The gateway logs in
// again once before giving up.
var ErrUnauthorized = errors.New("issuer session rejected")

// RejectedError is an issuer answer carrying a negative status code. It is a
// business answer, not a sign of an unhealthy issuer.
type RejectedError struct {
	Operation string
	Code      int
	Message   string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("issuer %s rejected with status %d: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("issuer %s rejected with status %d", e.Operation, e.Code)
}

// AsRejected extracts a RejectedError from err.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// CountsAsFailure is the issuer breaker failure predicate.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	_, rejected := AsRejected(err)
	return !rejected
}
