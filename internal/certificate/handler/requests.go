package handler

import (
	"strings"

	dErrors "certo/pkg/domain-errors"
)

// CreateRequest is the body of POST /certificates. Field normalisation and the
// business rules live in models.NewCertificateRequest; this only checks shape.
type CreateRequest struct {
	PolicyNumber       string            `json:"policy_number" validate:"required,max=64"`
	RegistrationNumber string            `json:"registration_number" validate:"required,max=32"`
	CompanyCode        string            `json:"company_code" validate:"required,max=32"`
	AgentCode          string            `json:"agent_code" validate:"max=32"`
	Metadata           map[string]string `json:"metadata"`
}

// ReasonRequest is the body of the cancel and suspend operations.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Validate implements httputil.Validatable.
func (r *ReasonRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}
