package models

import "fmt"

// IssuerStatus is a status code reported by the issuer. Non-negative codes
// describe production progress; negative codes are errors.
type IssuerStatus int

const (
	IssuerStatusOK                IssuerStatus = 0
	IssuerStatusPendingGeneration IssuerStatus = 1
	IssuerStatusGenerating        IssuerStatus = 2
	IssuerStatusReadyForTransfer  IssuerStatus = 3
	IssuerStatusTransferred       IssuerStatus = 4
)

// Outcome is the lifecycle meaning of an issuer status.
type Outcome int

const (
	OutcomeUnmapped Outcome = iota
	OutcomeCompleted
	OutcomeProcessing
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeProcessing:
		return "processing"
	case OutcomeFailed:
		return "failed"
	default:
		return "unmapped"
	}
}

// Outcome classifies the code. Unknown non-negative codes are OutcomeUnmapped
// and must be left for a human to review.
func (s IssuerStatus) Outcome() Outcome {
	switch {
	case s < 0:
		return OutcomeFailed
	case s == IssuerStatusOK, s == IssuerStatusReadyForTransfer, s == IssuerStatusTransferred:
		return OutcomeCompleted
	case s == IssuerStatusPendingGeneration, s == IssuerStatusGenerating:
		return OutcomeProcessing
	default:
		return OutcomeUnmapped
	}
}

// IsError reports whether the code is an issuer error.
func (s IssuerStatus) IsError() bool { return s < 0 }

// Message is the human-readable description of the code.
func (s IssuerStatus) Message() string {
	if msg, ok := issuerMessages[s]; ok {
		return msg
	}
	if s < 0 {
		return fmt.Sprintf("issuer error (code %d)", int(s))
	}
	return fmt.Sprintf("unrecognised issuer status (code %d)", int(s))
}

var issuerMessages = map[IssuerStatus]string{
	IssuerStatusOK:                "certificate issued",
	IssuerStatusPendingGeneration: "certificate generation pending",
	IssuerStatusGenerating:        "certificate generation in progress",
	IssuerStatusReadyForTransfer:  "certificate ready for transfer",
	IssuerStatusTransferred:       "certificate transferred",

	-1:  "issuer internal error",
	-2:  "invalid request payload",
	-3:  "missing mandatory field",
	-5:  "unknown issuing company",
	-7:  "unknown agent code",
	-10: "policy not found at issuer",
	-11: "policy expired",
	-12: "policy not yet in force",
	-15: "invalid vehicle registration number",
	-16: "invalid chassis number",
	-20: "an active certificate already exists at the issuer",
	-25: "certificate quota exhausted",
	-30: "request number not found",
	-33: "operation not allowed in current certificate state",
	-36: "unauthorized: issuer rejected the credentials",
	-37: "session expired",
	-40: "issuer service unavailable",
}
