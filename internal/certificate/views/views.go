// Package views renders certificates for the HTTP surface. Create renders its
// response here once so the bytes cached under an idempotency key are the
// bytes the handler writes.
package views

import (
	"bytes"
	"encoding/json"
	"time"

	"certo/internal/certificate/models"
	"certo/internal/registry"
)

// Certificate is the public representation of a certificate.
type Certificate struct {
	ID                      string            `json:"id"`
	ReferenceNumber         string            `json:"reference_number"`
	PolicyNumber            string            `json:"policy_number"`
	RegistrationNumber      string            `json:"registration_number"`
	CompanyCode             string            `json:"company_code"`
	AgentCode               string            `json:"agent_code,omitempty"`
	Status                  string            `json:"status"`
	IssuerRequestNumber     string            `json:"issuer_request_number,omitempty"`
	IssuerCertificateNumber string            `json:"issuer_certificate_number,omitempty"`
	DownloadLocator         string            `json:"download_locator,omitempty"`
	LastIssuerStatus        *int              `json:"last_issuer_status,omitempty"`
	ErrorMessage            string            `json:"error_message,omitempty"`
	NeedsReview             bool              `json:"needs_review,omitempty"`
	RetryCount              int               `json:"retry_count"`
	LastRetryAt             *time.Time        `json:"last_retry_at,omitempty"`
	RequestedBy             string            `json:"requested_by"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
	Metadata                map[string]string `json:"metadata,omitempty"`
}

func FromModel(c *models.Certificate) Certificate {
	v := Certificate{
		ID:                      c.ID.String(),
		ReferenceNumber:         c.ReferenceNumber,
		PolicyNumber:            c.Key.PolicyNumber,
		RegistrationNumber:      c.Key.RegistrationNumber,
		CompanyCode:             c.Key.CompanyCode,
		AgentCode:               c.AgentCode,
		Status:                  c.Status().String(),
		IssuerRequestNumber:     c.IssuerRequestNumber,
		IssuerCertificateNumber: c.IssuerCertificateNumber,
		DownloadLocator:         c.DownloadLocator,
		LastIssuerStatus:        c.LastIssuerStatus,
		ErrorMessage:            c.ErrorMessage,
		NeedsReview:             c.NeedsReview(),
		RetryCount:              c.RetryCount,
		LastRetryAt:             c.LastRetryAt,
		RequestedBy:             c.RequestedBy,
		CreatedAt:               c.CreatedAt.UTC(),
		UpdatedAt:               c.UpdatedAt.UTC(),
	}
	if len(c.Metadata) > 0 {
		v.Metadata = make(map[string]string, len(c.Metadata))
		for k, val := range c.Metadata {
			if k != models.MetadataNeedsReview {
				v.Metadata[k] = val
			}
		}
		if len(v.Metadata) == 0 {
			v.Metadata = nil
		}
	}
	return v
}

// Download locates a certificate document.
type Download struct {
	ID              string `json:"id"`
	ReferenceNumber string `json:"reference_number"`
	DownloadLocator string `json:"download_locator"`
}

// PolicySearch is the result of a registry search.
type PolicySearch struct {
	Policies []registry.Policy `json:"policies"`
}

// Marshal renders v the way WriteJSON does, trailing newline included.
func Marshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
