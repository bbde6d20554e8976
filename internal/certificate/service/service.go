// Package service is the issuance orchestrator. It owns certificate status:
// every change goes through the lifecycle table, is written in the same unit
// of work as its audit entry, and is reported to metrics after commit.
//
// External systems are reached through the Registry and Issuer ports, which
// put their calls behind bulkheads and circuit breakers.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certo/internal/audit"
	"certo/internal/certificate/models"
	"certo/internal/certificate/store"
	"certo/internal/idempotency"
	"certo/internal/issuer"
	"certo/internal/platform/metrics"
	"certo/internal/registry"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
)

//go:generate mockgen -source=service.go -destination=mocks/service-mocks.go -package=mocks Registry,Issuer

const (
	// DefaultMaxRetries caps automatic retries of transient failures.
	DefaultMaxRetries = 3
	// DefaultReconcileAfter is how long a certificate may sit in processing
	// before the reconciliation job polls the issuer for it.
	DefaultReconcileAfter = 2 * time.Minute
	// DefaultBatchSize bounds each scheduled pass.
	DefaultBatchSize = 50

	maxReasonLength = 500
)

var tracer = otel.Tracer("certo/certificate")

var (
	_ Registry    = (*registry.Service)(nil)
	_ Issuer      = (*issuer.Gateway)(nil)
	_ Idempotency = (*idempotency.Guard)(nil)
)

// Store persists certificates.
type Store interface {
	FindByID(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error)
	// FindActiveDuplicate returns sentinel.ErrNotFound when the key is free.
	FindActiveDuplicate(ctx context.Context, key models.BusinessKey) (*models.Certificate, error)
	ListByStatus(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.Certificate, error)
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*models.Certificate, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
}

// Registry is the policy-of-record lookup. Errors are domain errors.
type Registry interface {
	FindPolicy(ctx context.Context, policyNumber string) (*registry.Policy, error)
	SearchByVehicle(ctx context.Context, registrationNumber string) ([]registry.Policy, error)
	SearchByChassis(ctx context.Context, chassisNumber string) ([]registry.Policy, error)
	Available() bool
}

// Issuer is the attestation authority gateway. Errors are returned raw:
// circuit.ErrOpen, circuit.ErrTimeout, bulkhead.ErrFull, *issuer.RejectedError
// or a transport error.
type Issuer interface {
	Available() bool
	Submit(ctx context.Context, req issuer.ProductionRequest) (issuer.SubmitResult, error)
	CheckStatus(ctx context.Context, requestNumber string) (issuer.StatusResult, error)
	Cancel(ctx context.Context, reference, reason string) error
	Suspend(ctx context.Context, reference, reason string) error
	Download(ctx context.Context, reference string) (issuer.DownloadResult, error)
}

// Idempotency is the two-phase guard used by Create.
type Idempotency interface {
	Begin(ctx context.Context, key, requester, hash string) (idempotency.Decision, error)
	Complete(ctx context.Context, key string, resp idempotency.Response) error
	Fail(ctx context.Context, key string, resp idempotency.Response) error
}

type Service struct {
	store       Store
	registry    Registry
	issuer      Issuer
	idempotency Idempotency
	audit       *audit.Writer

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	maxRetries     int
	reconcileAfter time.Duration
	batchSize      int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithReconcileAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reconcileAfter = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func New(st Store, reg Registry, iss Issuer, guard Idempotency, writer *audit.Writer, opts ...Option) *Service {
	s := &Service{
		store:          st,
		registry:       reg,
		issuer:         iss,
		idempotency:    guard,
		audit:          writer,
		logger:         slog.Default(),
		now:            time.Now,
		maxRetries:     DefaultMaxRetries,
		reconcileAfter: DefaultReconcileAfter,
		batchSize:      DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewWriterWithClock(s.now)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

// outcome is the metrics label for an operation result.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(dErrors.CodeOf(err))
}
