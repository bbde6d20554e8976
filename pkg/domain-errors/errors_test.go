package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode_WalksWrappedChain(t *testing.T) {
	inner := New(CodeCircuitOpen, "issuer unavailable")
	outer := Wrap(inner, CodeRegistryLookupFailed, "lookup failed")

	assert.True(t, HasCode(outer, CodeRegistryLookupFailed))
	assert.True(t, HasCode(outer, CodeCircuitOpen))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.Equal(t, CodeRegistryLookupFailed, CodeOf(outer))
}

func TestHasCode_ThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("create: %w", New(CodeDuplicateCertificate, "exists"))
	assert.True(t, Is(err, CodeDuplicateCertificate))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	t.Run("code defaults", func(t *testing.T) {
		assert.True(t, IsRetryable(New(CodeCircuitOpen, "open")))
		assert.True(t, IsRetryable(New(CodePersistence, "db down")))
		assert.False(t, IsRetryable(New(CodeDuplicateCertificate, "dup")))
		assert.False(t, IsRetryable(New(CodeInvalidStateTransition, "bad")))
		assert.False(t, IsRetryable(errors.New("plain")))
	})

	t.Run("explicit override", func(t *testing.T) {
		err := WithRetryable(New(CodeRegistryLookupFailed, "registry timeout"), true)
		assert.True(t, IsRetryable(err))
		assert.True(t, HasCode(err, CodeRegistryLookupFailed))
	})
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:             http.StatusBadRequest,
		CodeIdempotencyKeyRequired: http.StatusBadRequest,
		CodeDuplicateCertificate:   http.StatusConflict,
		CodeIdempotencyInProgress:  http.StatusConflict,
		CodeIdempotencyConflict:    http.StatusUnprocessableEntity,
		CodeCircuitOpen:            http.StatusBadGateway,
		CodeRegistryLookupFailed:   http.StatusBadGateway,
		CodeInvalidStateTransition: http.StatusInternalServerError,
		CodePersistence:            http.StatusInternalServerError,
		CodeNotFound:               http.StatusNotFound,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
