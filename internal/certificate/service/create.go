package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"certo/internal/audit"
	"certo/internal/certificate/models"
	"certo/internal/certificate/store"
	"certo/internal/certificate/views"
	"certo/internal/idempotency"
	"certo/internal/issuer"
	"certo/internal/registry"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/httputil"
	"certo/pkg/platform/sentinel"
)

// CreateCommand is the raw input to Create.
type CreateCommand struct {
	PolicyNumber       string
	RegistrationNumber string
	CompanyCode        string
	AgentCode          string
	RequestedBy        string
	IdempotencyKey     string
	Metadata           map[string]string
}

// CreationResult is the HTTP-shaped outcome of Create. Body is the exact
// response to write; on replay Certificate is nil.
type CreationResult struct {
	Certificate *models.Certificate
	StatusCode  int
	Body        []byte
	Replayed    bool
}

// Create runs the issuance pipeline: idempotency, duplicate check, registry
// lookup, record, issuer submission. Failures before the record exists are
// returned as errors; upstream failures after it are recorded on a failed
// certificate and returned as a normal result.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*CreationResult, error) {
	ctx, span := startSpan(ctx, "certificate.create",
		attribute.String("policy_number", strings.TrimSpace(cmd.PolicyNumber)),
		attribute.Bool("idempotent", cmd.IdempotencyKey != ""),
	)
	res, err := s.create(ctx, cmd)
	endSpan(span, err)
	s.metrics.IncOperation("create", outcome(err))
	return res, err
}

func (s *Service) create(ctx context.Context, cmd CreateCommand) (*CreationResult, error) {
	req, err := models.NewCertificateRequest(cmd.PolicyNumber, cmd.RegistrationNumber, cmd.CompanyCode, cmd.AgentCode, cmd.RequestedBy, cmd.Metadata)
	if err != nil {
		return nil, err
	}
	req.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)

	if req.IdempotencyKey != "" {
		d, err := s.idempotency.Begin(ctx, req.IdempotencyKey, req.RequestedBy, requestHash(req))
		if err != nil {
			return nil, err
		}
		switch d.Outcome {
		case idempotency.Replay:
			return &CreationResult{StatusCode: d.Response.StatusCode, Body: d.Response.Body, Replayed: true}, nil
		case idempotency.Conflict:
			return nil, idempotency.ErrConflict
		case idempotency.InProgress:
			return nil, idempotency.ErrInProgress
		}
	}

	cert, err := s.issue(ctx, req)
	return s.respond(ctx, req.IdempotencyKey, cert, err)
}

// respond renders the result once and stores it under key before returning.
func (s *Service) respond(ctx context.Context, key string, cert *models.Certificate, err error) (*CreationResult, error) {
	var res *CreationResult
	if err == nil {
		body, merr := views.Marshal(views.FromModel(cert))
		if merr != nil {
			err = dErrors.Wrap(merr, dErrors.CodeInternal, "failed to render certificate")
		} else {
			res = &CreationResult{Certificate: cert, StatusCode: http.StatusCreated, Body: body}
		}
	}
	if key == "" {
		return res, err
	}

	finishCtx := context.WithoutCancel(ctx)
	var ferr error
	if err != nil {
		status, body := httputil.ErrorResponse(err)
		ferr = s.idempotency.Fail(finishCtx, key, idempotency.Response{StatusCode: status, Body: body})
	} else {
		ferr = s.idempotency.Complete(finishCtx, key, idempotency.Response{StatusCode: res.StatusCode, Body: res.Body})
	}
	if ferr != nil {
		s.logger.ErrorContext(ctx, "failed to finish idempotency record",
			"idempotency_key", key,
			"error", ferr,
		)
	}
	return res, err
}

func (s *Service) issue(ctx context.Context, req models.CertificateRequest) (*models.Certificate, error) {
	if err := s.checkDuplicate(ctx, req.BusinessKey()); err != nil {
		return nil, err
	}

	// an open issuer breaker fails fast before any upstream call
	if !s.issuer.Available() {
		return nil, dErrors.New(dErrors.CodeCircuitOpen, "issuer unavailable")
	}

	policy, vehicle, err := s.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	cert, err := s.record(ctx, req)
	if err != nil {
		return nil, err
	}

	// The submission outlives the caller: once the issuer has the request
	// the outcome must be recorded. The breaker timeout bounds it.
	return s.submit(context.WithoutCancel(ctx), cert, productionRequest(cert, policy, vehicle))
}

func (s *Service) checkDuplicate(ctx context.Context, key models.BusinessKey) (err error) {
	ctx, span := startSpan(ctx, "certificate.duplicate_check")
	defer func() { endSpan(span, err) }()

	existing, err := s.store.FindActiveDuplicate(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to check for duplicate certificates")
	}
	s.logger.InfoContext(ctx, "duplicate certificate request",
		"certificate_id", existing.ID.String(),
		"status", existing.Status().String(),
	)
	return dErrors.New(dErrors.CodeDuplicateCertificate, "an active certificate already exists for this policy and vehicle")
}

// lookup fetches the policy and checks it covers the requested vehicle.
func (s *Service) lookup(ctx context.Context, req models.CertificateRequest) (_ *registry.Policy, _ registry.Vehicle, err error) {
	ctx, span := startSpan(ctx, "certificate.registry_lookup")
	defer func() { endSpan(span, err) }()

	policy, err := s.registry.FindPolicy(ctx, req.PolicyNumber)
	if err != nil {
		return nil, registry.Vehicle{}, err
	}
	if policy.CompanyCode != "" && !strings.EqualFold(policy.CompanyCode, req.CompanyCode) {
		return nil, registry.Vehicle{}, dErrors.New(dErrors.CodeValidation, "policy was not issued by company "+req.CompanyCode)
	}
	vehicle, ok := policy.Vehicle(req.RegistrationNumber)
	if !ok {
		return nil, registry.Vehicle{}, dErrors.New(dErrors.CodeValidation, "policy does not cover vehicle "+req.RegistrationNumber)
	}
	if !policy.InForce(s.clock()) {
		return nil, registry.Vehicle{}, dErrors.New(dErrors.CodeValidation, "policy is not in force")
	}
	return policy, vehicle, nil
}

// record creates the pending certificate and its created entry.
func (s *Service) record(ctx context.Context, req models.CertificateRequest) (_ *models.Certificate, err error) {
	ctx, span := startSpan(ctx, "certificate.record")
	defer func() { endSpan(span, err) }()

	now := s.clock()
	cert := models.NewCertificate(req, models.NewReferenceNumber(now), now)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Insert(ctx, cert); err != nil {
			return err
		}
		details := map[string]any{"reference_number": cert.ReferenceNumber}
		if req.IdempotencyKey != "" {
			details["idempotency_key"] = req.IdempotencyKey
		}
		_, err := s.audit.Record(ctx, tx, audit.Record{
			CertificateID: cert.ID,
			ActorID:       req.RequestedBy,
			Action:        audit.ActionCreated,
			NewStatus:     cert.Status().String(),
			Details:       details,
		})
		return err
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.New(dErrors.CodeDuplicateCertificate, "an active certificate already exists for this policy and vehicle")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to record certificate")
	}
	s.logger.InfoContext(ctx, "certificate recorded",
		"certificate_id", cert.ID.String(),
		"reference_number", cert.ReferenceNumber,
	)
	return cert, nil
}

// submit sends a pending certificate to the issuer and records the outcome.
func (s *Service) submit(ctx context.Context, cert *models.Certificate, payload issuer.ProductionRequest) (_ *models.Certificate, err error) {
	ctx, span := startSpan(ctx, "certificate.issuer_submit",
		attribute.String("certificate_id", cert.ID.String()))
	defer func() { endSpan(span, err) }()

	res, callErr := s.issuer.Submit(ctx, payload)
	at := models.Transition{At: s.clock()}
	if callErr != nil {
		s.logger.WarnContext(ctx, "issuer submission failed",
			"certificate_id", cert.ID.String(),
			"error", callErr,
		)
		return s.apply(ctx, cert.ID, step{
			action:  audit.ActionStatusChanged,
			details: map[string]any{"operation": "submit"},
			mutate:  transitionTo(failureTransition(callErr, at)),
		})
	}

	code := models.IssuerStatus(res.Status)
	details := map[string]any{"operation": "submit", "issuer_status": res.Status}
	if code.Outcome() == models.OutcomeUnmapped {
		s.logger.WarnContext(ctx, "unmapped issuer status",
			"certificate_id", cert.ID.String(),
			"issuer_status", res.Status,
		)
		return s.apply(ctx, cert.ID, step{
			action:  audit.ActionStatusChanged,
			details: details,
			mutate: func(c *models.Certificate) (*models.Change, error) {
				c.IssuerRequestNumber = res.RequestNumber
				c.FlagUnmappedStatus(code, at.At)
				return nil, nil
			},
		})
	}
	if code.Outcome() == models.OutcomeFailed {
		msg := code.Message()
		at.Event = models.EventIssuerRejected
		at.IssuerStatus = &code
		at.ErrorMessage = msg
		return s.apply(ctx, cert.ID, step{action: audit.ActionStatusChanged, details: details, mutate: transitionTo(at)})
	}

	at.Event = models.EventIssuerAccepted
	at.RequestNumber = res.RequestNumber
	return s.apply(ctx, cert.ID, step{action: audit.ActionStatusChanged, details: details, mutate: transitionTo(at)})
}

func productionRequest(c *models.Certificate, p *registry.Policy, v registry.Vehicle) issuer.ProductionRequest {
	return issuer.ProductionRequest{
		ReferenceNumber:    c.ReferenceNumber,
		PolicyNumber:       c.Key.PolicyNumber,
		CompanyCode:        c.Key.CompanyCode,
		AgentCode:          c.AgentCode,
		RegistrationNumber: c.Key.RegistrationNumber,
		ChassisNumber:      v.ChassisNumber,
		VehicleMake:        v.Make,
		VehicleModel:       v.Model,
		VehicleYear:        v.Year,
		UsageCategory:      v.UsageCategory,
		InsuredName:        p.Insured.Name,
		InsuredNationalID:  p.Insured.NationalID,
		InsuredPhone:       p.Insured.PhoneNumber,
		InsuredEmail:       p.Insured.Email,
		CoverStart:         formatDate(p.StartDate),
		CoverEnd:           formatDate(p.EndDate),
		Metadata:           userMetadata(c.Metadata),
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func userMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k != models.MetadataNeedsReview {
			out[k] = v
		}
	}
	return out
}

// hashedRequest is the normalised create request bound to a key.
type hashedRequest struct {
	PolicyNumber       string            `json:"policy_number"`
	RegistrationNumber string            `json:"registration_number"`
	CompanyCode        string            `json:"company_code"`
	AgentCode          string            `json:"agent_code"`
	Metadata           map[string]string `json:"metadata"`
}

func requestHash(req models.CertificateRequest) string {
	// map keys marshal sorted, so equal requests hash equally
	body, _ := json.Marshal(hashedRequest{
		PolicyNumber:       req.PolicyNumber,
		RegistrationNumber: req.RegistrationNumber,
		CompanyCode:        req.CompanyCode,
		AgentCode:          req.AgentCode,
		Metadata:           req.Metadata,
	})
	return idempotency.HashRequest(http.MethodPost, "/certificates", body, req.RequestedBy)
}
