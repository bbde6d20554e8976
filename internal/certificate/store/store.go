// Package store persists certificates. Both implementations enforce the
// one-active-certificate-per-business-key rule themselves and commit audit
// entries in the same unit of work as the certificate change they describe.
package store

import (
	"context"

	"certo/internal/audit"
	"certo/internal/certificate/models"
	id "certo/pkg/domain"
)

// DefaultListLimit bounds scans by the scheduled jobs.
const DefaultListLimit = 100

// Tx is one unit of work. Nothing it writes is visible to other callers
// until RunInTx returns nil, and nothing is kept when it returns an error.
type Tx interface {
	// Insert stages a new certificate. An active certificate for the same
	// business key fails with sentinel.ErrConflict.
	Insert(ctx context.Context, c *models.Certificate) error
	// LockByID loads a certificate and holds it for the rest of the unit of
	// work, so status changes are single-writer per certificate.
	LockByID(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error)
	// Update stages the new state of a locked certificate.
	Update(ctx context.Context, c *models.Certificate) error

	audit.Appender
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
