package models

import (
	dErrors "certo/pkg/domain-errors"
)

// Status is the lifecycle state of a certificate.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusSuspended  Status = "suspended"
)

// ActiveStatuses are the statuses that occupy a business key.
var ActiveStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusSuspended:
		return true
	}
	return false
}

// IsActive reports whether a certificate in this status blocks a new
// certificate for the same business key.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusCompleted
}

// ParseStatus parses a status string (query parameters, store rows).
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid certificate status: "+s)
	}
	return st, nil
}
