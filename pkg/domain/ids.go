// Package domain holds typed identifiers shared across modules. Distinct types
// keep a certificate id from being passed where an audit entry id is expected.
package domain

import (
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "certo/pkg/domain-errors"
)

// maxIDLength bounds input before it reaches the UUID parser.
const maxIDLength = 64

type (
	CertificateID uuid.UUID
	AuditEntryID  uuid.UUID
)

// NewCertificateID returns a fresh random certificate id.
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

// NewAuditEntryID returns a fresh random audit entry id.
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id CertificateID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) String() string  { return uuid.UUID(id).String() }
func (id AuditEntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// ParseCertificateID parses a certificate id at a trust boundary.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate id")
	return CertificateID(u), err
}

// ParseAuditEntryID parses an audit entry id at a trust boundary.
func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry id")
	return AuditEntryID(u), err
}

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength || !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}
