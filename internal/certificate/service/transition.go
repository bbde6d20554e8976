package service

import (
	"context"
	"errors"
	"fmt"

	"certo/internal/audit"
	"certo/internal/certificate/models"
	"certo/internal/certificate/store"
	"certo/internal/issuer"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/bulkhead"
	"certo/pkg/platform/circuit"
	"certo/pkg/platform/sentinel"
)

// step is one locked read-modify-write of a certificate. mutate may return
// nil to record the audit entry without changing status.
type step struct {
	action  audit.Action
	details map[string]any
	mutate  func(c *models.Certificate) (*models.Change, error)
}

// apply runs st in one unit of work: lock, mutate, update, audit.
func (s *Service) apply(ctx context.Context, certificateID id.CertificateID, st step) (*models.Certificate, error) {
	var (
		out    *models.Certificate
		change *models.Change
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.LockByID(ctx, certificateID)
		if err != nil {
			return err
		}
		before := c.Status()

		change, err = st.mutate(c)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, c); err != nil {
			return err
		}

		rec := audit.Record{
			CertificateID: c.ID,
			Action:        st.action,
			OldStatus:     before.String(),
			NewStatus:     c.Status().String(),
			Details:       st.details,
		}
		if change != nil {
			rec.OldValues = change.OldValues
			rec.NewValues = change.NewValues
			if rec.Details == nil {
				rec.Details = map[string]any{}
			}
			rec.Details["event"] = string(change.Event)
		}
		if _, err := s.audit.Record(ctx, tx, rec); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, s.storeError(ctx, certificateID, st.action, err)
	}

	if change != nil {
		s.metrics.IncTransition(change.From.String(), change.To.String())
		s.logger.InfoContext(ctx, "certificate transitioned",
			"certificate_id", certificateID.String(),
			"event", string(change.Event),
			"from", change.From.String(),
			"to", change.To.String(),
		)
	}
	return out, nil
}

// transitionTo returns a mutate func applying t.
func transitionTo(t models.Transition) func(c *models.Certificate) (*models.Change, error) {
	return func(c *models.Certificate) (*models.Change, error) {
		ch, err := c.Apply(t)
		if err != nil {
			return nil, err
		}
		return &ch, nil
	}
}

// storeError translates a failed unit of work. Invalid transitions and
// persistence errors are logged with the attempted action for reconciliation.
func (s *Service) storeError(ctx context.Context, certificateID id.CertificateID, action audit.Action, err error) error {
	var translated error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "certificate not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeDuplicateCertificate, "an active certificate already exists for this policy and vehicle")
	case dErrors.HasCode(err, dErrors.CodeInvalidStateTransition):
		translated = err
	case dErrors.HasCode(err, dErrors.CodeTimeout):
		translated = err
	default:
		translated = dErrors.Wrap(err, dErrors.CodePersistence, "failed to persist certificate change")
	}
	s.logger.ErrorContext(ctx, "certificate change not applied",
		"certificate_id", certificateID.String(),
		"action", string(action),
		"error", err,
	)
	return translated
}

// issuerError translates a raw gateway error for the caller.
func issuerError(err error) error {
	if re, ok := issuer.AsRejected(err); ok {
		return dErrors.Wrap(err, dErrors.CodeIssuerRejected, models.IssuerStatus(re.Code).Message())
	}
	switch {
	case errors.Is(err, circuit.ErrOpen), errors.Is(err, bulkhead.ErrFull):
		return dErrors.Wrap(err, dErrors.CodeCircuitOpen, "issuer unavailable")
	case errors.Is(err, circuit.ErrTimeout):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "issuer request timed out")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "issuer request cancelled")
	default:
		return dErrors.WithRetryable(dErrors.Wrap(err, dErrors.CodeIssuerRejected, "issuer request failed"), true)
	}
}

// failureTransition records a failed issuer call against a certificate.
// Issuer answers keep their status code. Only transport and breaker failures,
// or registry errors carrying a retryable code, are marked for the transient
// retry job.
func failureTransition(err error, at models.Transition) models.Transition {
	t := at
	t.Event = models.EventIssuerRejected
	if re, ok := issuer.AsRejected(err); ok {
		code := models.IssuerStatus(re.Code)
		t.IssuerStatus = &code
		t.ErrorMessage = code.Message()
		return t
	}
	// registry errors arrive translated, issuer errors raw
	if _, ok := dErrors.As(err); ok {
		t.Transient = dErrors.IsRetryable(err)
	} else {
		t.Transient = true
	}
	switch {
	case dErrors.HasCode(err, dErrors.CodeCircuitOpen):
		t.ErrorMessage = "registry unavailable: circuit open"
	case dErrors.HasCode(err, dErrors.CodeRegistryLookupFailed):
		t.ErrorMessage = fmt.Sprintf("registry lookup failed: %s", messageOf(err))
	case dErrors.HasCode(err, dErrors.CodeValidation):
		t.ErrorMessage = messageOf(err)
	case errors.Is(err, circuit.ErrOpen), errors.Is(err, bulkhead.ErrFull):
		t.ErrorMessage = "issuer unavailable: circuit open"
	case errors.Is(err, circuit.ErrTimeout):
		t.ErrorMessage = "issuer request timed out"
	default:
		t.ErrorMessage = "issuer request failed"
	}
	return t
}

func messageOf(err error) string {
	if de, ok := dErrors.As(err); ok {
		return de.Message
	}
	return err.Error()
}
