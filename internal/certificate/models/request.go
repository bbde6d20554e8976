package models

import (
	"strings"
	"unicode/utf8"

	dErrors "certo/pkg/domain-errors"
)

const (
	maxPolicyNumberLength       = 64
	maxRegistrationNumberLength = 20
	maxCompanyCodeLength        = 32
	maxAgentCodeLength          = 32
	maxMetadataEntries          = 32
)

// CertificateRequest is the validated input to issuance. Build it with
// NewCertificateRequest; it is not modified afterwards.
type CertificateRequest struct {
	PolicyNumber       string
	RegistrationNumber string
	CompanyCode        string
	AgentCode          string
	RequestedBy        string
	IdempotencyKey     string
	Metadata           map[string]string
}

// NewCertificateRequest normalises and validates the raw input. Registration
// and company codes are upper-cased; all fields are trimmed.
func NewCertificateRequest(policyNumber, registration, companyCode, agentCode, requestedBy string, metadata map[string]string) (CertificateRequest, error) {
	req := CertificateRequest{
		PolicyNumber:       strings.TrimSpace(policyNumber),
		RegistrationNumber: strings.ToUpper(strings.TrimSpace(registration)),
		CompanyCode:        strings.ToUpper(strings.TrimSpace(companyCode)),
		AgentCode:          strings.TrimSpace(agentCode),
		RequestedBy:        strings.TrimSpace(requestedBy),
		Metadata:           metadata,
	}
	if err := req.validate(); err != nil {
		return CertificateRequest{}, err
	}
	return req, nil
}

func (r CertificateRequest) validate() error {
	fields := []struct {
		name  string
		value string
		max   int
		req   bool
	}{
		{"policy_number", r.PolicyNumber, maxPolicyNumberLength, true},
		{"registration_number", r.RegistrationNumber, maxRegistrationNumberLength, true},
		{"company_code", r.CompanyCode, maxCompanyCodeLength, true},
		{"agent_code", r.AgentCode, maxAgentCodeLength, false},
	}
	for _, f := range fields {
		if f.req && f.value == "" {
			return dErrors.New(dErrors.CodeValidation, f.name+" is required")
		}
		if utf8.RuneCountInString(f.value) > f.max {
			return dErrors.New(dErrors.CodeValidation, f.name+" is too long")
		}
	}
	if r.RequestedBy == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "requester identity is required")
	}
	if len(r.Metadata) > maxMetadataEntries {
		return dErrors.New(dErrors.CodeValidation, "metadata has too many entries")
	}
	if _, reserved := r.Metadata[MetadataNeedsReview]; reserved {
		return dErrors.New(dErrors.CodeValidation, "metadata key needs_review is reserved")
	}
	return nil
}

func (r CertificateRequest) BusinessKey() BusinessKey {
	return BusinessKey{
		PolicyNumber:       r.PolicyNumber,
		RegistrationNumber: r.RegistrationNumber,
		CompanyCode:        r.CompanyCode,
	}
}
