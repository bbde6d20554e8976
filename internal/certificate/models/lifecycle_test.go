package models

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certo/pkg/domain-errors"
)

var (
	allStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusSuspended}
	allEvents   = []Event{
		EventIssuerAccepted, EventIssuerCompleted, EventIssuerErrored, EventIssuerRejected,
		EventOperatorCancelled, EventOperatorSuspended, EventRetryRequested,
	}
)

func newTestCertificate(t *testing.T, status Status) *Certificate {
	t.Helper()
	req, err := NewCertificateRequest("P100", "ab-123-cd", "nsia001", "", "operator-1", nil)
	require.NoError(t, err)
	c := NewCertificate(req, "CRT-20260101-ABCDEF12", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return RestoreCertificate(*c, status)
}

func TestNextStatus_Table(t *testing.T) {
	legal := map[Status]map[Event]Status{
		StatusPending: {
			EventIssuerAccepted: StatusProcessing,
			EventIssuerRejected: StatusFailed,
		},
		StatusProcessing: {
			EventIssuerCompleted:   StatusCompleted,
			EventIssuerErrored:     StatusFailed,
			EventIssuerRejected:    StatusFailed,
			EventOperatorCancelled: StatusCancelled,
			EventOperatorSuspended: StatusSuspended,
		},
		StatusCompleted: {
			EventOperatorCancelled: StatusCancelled,
			EventOperatorSuspended: StatusSuspended,
		},
		StatusFailed: {
			EventRetryRequested: StatusPending,
		},
	}

	for _, from := range allStatuses {
		for _, ev := range allEvents {
			to, err := NextStatus(from, ev)
			want, ok := legal[from][ev]
			if ok {
				require.NoError(t, err, "%s + %s", from, ev)
				assert.Equal(t, want, to, "%s + %s", from, ev)
				continue
			}
			require.Error(t, err, "%s + %s must be illegal", from, ev)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		}
	}
}

func TestApply_IllegalTransitionDoesNotMutate(t *testing.T) {
	c := newTestCertificate(t, StatusCancelled)
	before := c.Clone()

	_, err := c.Apply(Transition{Event: EventIssuerCompleted, CertificateNumber: "X", At: time.Now()})
	require.Error(t, err)
	assert.Equal(t, before, c)
}

func TestApply_SideEffects(t *testing.T) {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("accepted stores request number", func(t *testing.T) {
		c := newTestCertificate(t, StatusPending)
		ch, err := c.Apply(Transition{Event: EventIssuerAccepted, RequestNumber: "REQ-1", At: at})
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, c.Status())
		assert.Equal(t, "REQ-1", c.IssuerRequestNumber)
		assert.Equal(t, at, c.UpdatedAt)
		assert.Equal(t, StatusPending, ch.From)
		assert.Equal(t, StatusProcessing, ch.To)
		assert.Equal(t, "pending", ch.OldValues["status"])
		assert.Equal(t, "REQ-1", ch.NewValues["issuer_request_number"])
	})

	t.Run("completed stores certificate number and locator", func(t *testing.T) {
		c := newTestCertificate(t, StatusProcessing)
		c.FlagUnmappedStatus(IssuerStatus(9), at)
		_, err := c.Apply(Transition{Event: EventIssuerCompleted, CertificateNumber: "ATT-9", DownloadLocator: "https://x/9", At: at})
		require.NoError(t, err)
		assert.Equal(t, "ATT-9", c.IssuerCertificateNumber)
		assert.Equal(t, "https://x/9", c.DownloadLocator)
		assert.False(t, c.NeedsReview())
	})

	t.Run("rejected stores code and message", func(t *testing.T) {
		c := newTestCertificate(t, StatusPending)
		code := IssuerStatus(-36)
		_, err := c.Apply(Transition{Event: EventIssuerRejected, IssuerStatus: &code, ErrorMessage: code.Message(), At: at})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, c.Status())
		require.NotNil(t, c.LastIssuerStatus)
		assert.Equal(t, -36, *c.LastIssuerStatus)
		assert.Equal(t, "unauthorized: issuer rejected the credentials", c.ErrorMessage)
		assert.False(t, c.RetryableFailure())
	})

	t.Run("transport failure has no code", func(t *testing.T) {
		c := newTestCertificate(t, StatusPending)
		_, err := c.Apply(Transition{Event: EventIssuerRejected, ErrorMessage: "issuer unavailable", Transient: true, At: at})
		require.NoError(t, err)
		assert.Nil(t, c.LastIssuerStatus)
		assert.True(t, c.RetryableFailure())
	})

	t.Run("validation failure is not retryable", func(t *testing.T) {
		c := newTestCertificate(t, StatusPending)
		_, err := c.Apply(Transition{Event: EventIssuerRejected, ErrorMessage: "policy is not in force", At: at})
		require.NoError(t, err)
		assert.Nil(t, c.LastIssuerStatus)
		assert.False(t, c.RetryableFailure())
	})

	t.Run("retry increments count", func(t *testing.T) {
		c := newTestCertificate(t, StatusFailed)
		c.ErrorMessage = "boom"
		_, err := c.Apply(Transition{Event: EventRetryRequested, At: at})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, c.Status())
		assert.Equal(t, 1, c.RetryCount)
		require.NotNil(t, c.LastRetryAt)
		assert.Equal(t, at, *c.LastRetryAt)
		assert.Empty(t, c.ErrorMessage)
	})
}

func TestFlagUnmappedStatus_KeepsStatus(t *testing.T) {
	c := newTestCertificate(t, StatusPending)
	c.FlagUnmappedStatus(IssuerStatus(17), time.Now())
	assert.Equal(t, StatusPending, c.Status())
	assert.True(t, c.NeedsReview())
	require.NotNil(t, c.LastIssuerStatus)
	assert.Equal(t, 17, *c.LastIssuerStatus)
}

// Random event sequences only ever produce paths through the table and never
// reach completed without passing through processing.
func TestApply_RandomWalksFollowTable(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		c := newTestCertificate(t, StatusPending)
		path := []Status{c.Status()}
		for range 12 {
			ev := allEvents[rng.IntN(len(allEvents))]
			prev := c.Status()
			if _, err := c.Apply(Transition{Event: ev, At: time.Now()}); err != nil {
				assert.Equal(t, prev, c.Status())
				continue
			}
			path = append(path, c.Status())
		}
		for i := 1; i < len(path); i++ {
			if path[i] == StatusCompleted {
				assert.Equal(t, StatusProcessing, path[i-1], "path %v", path)
			}
			switch path[i-1] {
			case StatusCancelled, StatusSuspended:
				t.Fatalf("transition out of %s in path %v", path[i-1], path)
			case StatusFailed:
				assert.Equal(t, StatusPending, path[i], "path %v", path)
			}
		}
	}
}
