package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"certo/internal/audit"
	"certo/internal/certificate/models"
	"certo/internal/registry"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/sentinel"
)

func (s *Service) Get(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	c, err := s.store.FindByID(ctx, certificateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load certificate")
	}
	return c, nil
}

// CheckStatus reconciles a processing certificate with the issuer. The check
// is always audited; a transition is recorded with it when the issuer status
// maps onto one.
func (s *Service) CheckStatus(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	ctx, span := startSpan(ctx, "certificate.check_status",
		attribute.String("certificate_id", certificateID.String()))
	c, err := s.checkStatus(ctx, certificateID)
	endSpan(span, err)
	s.metrics.IncOperation("check_status", outcome(err))
	return c, err
}

func (s *Service) checkStatus(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	c, err := s.Get(ctx, certificateID)
	if err != nil {
		return nil, err
	}

	if c.Status() != models.StatusProcessing || c.IssuerRequestNumber == "" {
		return s.apply(ctx, certificateID, step{
			action:  audit.ActionStatusChecked,
			details: map[string]any{"polled": false},
			mutate:  func(*models.Certificate) (*models.Change, error) { return nil, nil },
		})
	}

	res, callErr := s.issuer.CheckStatus(ctx, c.IssuerRequestNumber)
	if callErr != nil {
		translated := issuerError(callErr)
		if _, err := s.apply(ctx, certificateID, step{
			action:  audit.ActionStatusChecked,
			details: map[string]any{"polled": true, "error": messageOf(translated)},
			mutate:  func(*models.Certificate) (*models.Change, error) { return nil, nil },
		}); err != nil {
			return nil, errors.Join(translated, err)
		}
		return nil, translated
	}

	code := models.IssuerStatus(res.Status)
	at := s.clock()
	return s.apply(ctx, certificateID, step{
		action:  audit.ActionStatusChecked,
		details: map[string]any{"polled": true, "issuer_status": res.Status},
		mutate: func(c *models.Certificate) (*models.Change, error) {
			var t models.Transition
			switch code.Outcome() {
			case models.OutcomeCompleted:
				t = models.Transition{Event: models.EventIssuerCompleted, CertificateNumber: res.CertificateNumber, DownloadLocator: res.DownloadLocator, At: at}
			case models.OutcomeFailed:
				msg := res.Message
				if msg == "" {
					msg = code.Message()
				}
				t = models.Transition{Event: models.EventIssuerErrored, IssuerStatus: &code, ErrorMessage: msg, At: at}
			case models.OutcomeUnmapped:
				c.FlagUnmappedStatus(code, at)
				return nil, nil
			default:
				return nil, nil
			}
			// the certificate may have moved on since it was read
			if !models.CanApply(c.Status(), t.Event) {
				return nil, nil
			}
			return transitionTo(t)(c)
		},
	})
}

// Cancel asks the issuer to cancel the certificate, then records it.
func (s *Service) Cancel(ctx context.Context, certificateID id.CertificateID, reason string) (*models.Certificate, error) {
	c, err := s.operatorAction(ctx, certificateID, reason, models.EventOperatorCancelled, audit.ActionCancelled, s.issuer.Cancel)
	s.metrics.IncOperation("cancel", outcome(err))
	return c, err
}

// Suspend asks the issuer to suspend the certificate, then records it.
func (s *Service) Suspend(ctx context.Context, certificateID id.CertificateID, reason string) (*models.Certificate, error) {
	c, err := s.operatorAction(ctx, certificateID, reason, models.EventOperatorSuspended, audit.ActionSuspended, s.issuer.Suspend)
	s.metrics.IncOperation("suspend", outcome(err))
	return c, err
}

func (s *Service) operatorAction(
	ctx context.Context,
	certificateID id.CertificateID,
	reason string,
	ev models.Event,
	action audit.Action,
	call func(ctx context.Context, reference, reason string) error,
) (_ *models.Certificate, err error) {
	ctx, span := startSpan(ctx, "certificate."+string(action),
		attribute.String("certificate_id", certificateID.String()))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is too long")
	}

	c, err := s.Get(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	// validate before telling the issuer anything
	if _, err := models.NextStatus(c.Status(), ev); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Once the issuer has been told, the local record must follow even if
	// the caller goes away. The breaker timeout bounds the call.
	ctx = context.WithoutCancel(ctx)
	if err := call(ctx, c.ReferenceNumber, reason); err != nil {
		s.logger.WarnContext(ctx, "issuer refused operator action",
			"certificate_id", certificateID.String(),
			"action", string(action),
			"error", err,
		)
		return nil, issuerError(err)
	}

	return s.apply(ctx, certificateID, step{
		action:  action,
		details: map[string]any{"reason": reason},
		mutate:  transitionTo(models.Transition{Event: ev, Reason: reason, At: s.clock()}),
	})
}

// Retry moves a failed certificate back to pending and submits it again.
func (s *Service) Retry(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	ctx, span := startSpan(ctx, "certificate.retry",
		attribute.String("certificate_id", certificateID.String()))
	c, err := s.retry(ctx, certificateID)
	endSpan(span, err)
	s.metrics.IncOperation("retry", outcome(err))
	return c, err
}

func (s *Service) retry(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	c, err := s.apply(ctx, certificateID, step{
		action: audit.ActionStatusChanged,
		details: map[string]any{
			"operation": "retry",
		},
		mutate: transitionTo(models.Transition{Event: models.EventRetryRequested, At: s.clock()}),
	})
	if err != nil {
		return nil, err
	}

	req := models.CertificateRequest{
		PolicyNumber:       c.Key.PolicyNumber,
		RegistrationNumber: c.Key.RegistrationNumber,
		CompanyCode:        c.Key.CompanyCode,
		AgentCode:          c.AgentCode,
		RequestedBy:        c.RequestedBy,
	}
	policy, vehicle, err := s.lookup(ctx, req)
	if err != nil {
		// the record exists, so lookup failures land on it
		return s.apply(ctx, certificateID, step{
			action:  audit.ActionStatusChanged,
			details: map[string]any{"operation": "retry"},
			mutate:  transitionTo(failureTransition(err, models.Transition{At: s.clock()})),
		})
	}
	return s.submit(context.WithoutCancel(ctx), c, productionRequest(c, policy, vehicle))
}

// Download fetches the document locator of a completed certificate.
func (s *Service) Download(ctx context.Context, certificateID id.CertificateID) (_ *models.Certificate, err error) {
	ctx, span := startSpan(ctx, "certificate.download",
		attribute.String("certificate_id", certificateID.String()))
	defer func() {
		endSpan(span, err)
		s.metrics.IncOperation("download", outcome(err))
	}()

	c, err := s.Get(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if c.Status() != models.StatusCompleted {
		return nil, dErrors.New(dErrors.CodeInvalidStateTransition, "only completed certificates can be downloaded")
	}

	res, err := s.issuer.Download(ctx, c.ReferenceNumber)
	if err != nil {
		return nil, issuerError(err)
	}
	at := s.clock()
	return s.apply(ctx, certificateID, step{
		action:  audit.ActionDownloaded,
		details: map[string]any{"download_locator": res.Locator},
		mutate: func(c *models.Certificate) (*models.Change, error) {
			if c.Status() != models.StatusCompleted {
				return nil, dErrors.New(dErrors.CodeInvalidStateTransition, "only completed certificates can be downloaded")
			}
			c.RecordDownload(res.Locator, at)
			return nil, nil
		},
	})
}

// SearchPolicies passes a vehicle search through to the registry. Exactly one
// of registration or chassis must be set.
func (s *Service) SearchPolicies(ctx context.Context, registration, chassis string) ([]registry.Policy, error) {
	registration = strings.ToUpper(strings.TrimSpace(registration))
	chassis = strings.ToUpper(strings.TrimSpace(chassis))

	switch {
	case registration != "" && chassis != "":
		return nil, dErrors.New(dErrors.CodeValidation, "search by registration_number or chassis_number, not both")
	case registration != "":
		return s.registry.SearchByVehicle(ctx, registration)
	case chassis != "":
		return s.registry.SearchByChassis(ctx, chassis)
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "registration_number or chassis_number is required")
	}
}
