package models

import (
	"maps"
	"time"

	id "certo/pkg/domain"
)

// MetadataNeedsReview is set on certificates that received an issuer status
// code with no lifecycle meaning.
const MetadataNeedsReview = "needs_review"

// BusinessKey is the (policy, registration, company) slot that holds at most
// one active certificate.
type BusinessKey struct {
	PolicyNumber       string
	RegistrationNumber string
	CompanyCode        string
}

func (k BusinessKey) String() string {
	return k.PolicyNumber + "/" + k.RegistrationNumber + "/" + k.CompanyCode
}

// Certificate is the persisted issuance record.
//
// Invariants:
//   - status changes only through Apply, following the lifecycle table
//   - ReferenceNumber is assigned once at creation and never changes
//   - at most one certificate per BusinessKey has an active status
type Certificate struct {
	ID              id.CertificateID
	ReferenceNumber string
	Key             BusinessKey
	AgentCode       string

	IssuerRequestNumber     string
	IssuerCertificateNumber string
	DownloadLocator         string

	status           Status
	LastIssuerStatus *int
	ErrorMessage     string
	TransientFailure bool
	RetryCount       int
	LastRetryAt      *time.Time

	RequestedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    map[string]string
}

// NewCertificate creates a pending certificate for an accepted request.
func NewCertificate(req CertificateRequest, reference string, now time.Time) *Certificate {
	return &Certificate{
		ID:              id.NewCertificateID(),
		ReferenceNumber: reference,
		Key:             req.BusinessKey(),
		AgentCode:       req.AgentCode,
		status:          StatusPending,
		RequestedBy:     req.RequestedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        maps.Clone(req.Metadata),
	}
}

// RestoreCertificate rehydrates a stored certificate. Stores are the only callers.
func RestoreCertificate(c Certificate, status Status) *Certificate {
	c.status = status
	return &c
}

func (c *Certificate) Status() Status { return c.status }

// NeedsReview reports whether the certificate carries an unmapped issuer status.
func (c *Certificate) NeedsReview() bool {
	return c.Metadata[MetadataNeedsReview] == "true"
}

// RetryableFailure reports whether the failure came from transport or breaker
// trouble rather than an issuer answer or a failed validation.
func (c *Certificate) RetryableFailure() bool {
	return c.status == StatusFailed && c.TransientFailure
}

// Clone returns a deep copy.
func (c *Certificate) Clone() *Certificate {
	out := *c
	if c.LastIssuerStatus != nil {
		v := *c.LastIssuerStatus
		out.LastIssuerStatus = &v
	}
	if c.LastRetryAt != nil {
		v := *c.LastRetryAt
		out.LastRetryAt = &v
	}
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}
