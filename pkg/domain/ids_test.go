package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certo/pkg/domain-errors"
)

// TestParseCertificateID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseCertificateID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseCertificateID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCertificateID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseCertificateID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseCertificateID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, CertificateID(valid), id)
		assert.Equal(t, valid.String(), id.String())
	})
}

func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE certificates;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errCert := ParseCertificateID(tt.input)
			_, errAudit := ParseAuditEntryID(tt.input)
			if tt.wantErr {
				require.Error(t, errCert)
				require.Error(t, errAudit)
				assert.True(t, dErrors.HasCode(errCert, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, errCert)
				require.NoError(t, errAudit)
			}
		})
	}
}

func TestNewIDs_AreNotNil(t *testing.T) {
	assert.False(t, NewCertificateID().IsNil())
	assert.False(t, NewAuditEntryID().IsNil())
	assert.True(t, CertificateID{}.IsNil())
}
