// Package registry looks up policies in the external policy-of-record system.
// Calls go through a bulkhead and a circuit breaker, and policy lookups are
// cached when a cache is configured.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"certo/internal/platform/metrics"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/bulkhead"
	"certo/pkg/platform/circuit"
	"certo/pkg/platform/sentinel"
)

// Cache stores policy lookups. GetPolicy returns sentinel.ErrNotFound on a miss.
type Cache interface {
	GetPolicy(ctx context.Context, policyNumber string) (*Policy, error)
	SetPolicy(ctx context.Context, policy *Policy) error
}

// Service is the registry lookup used by the orchestrator.
type Service struct {
	client   Client
	creds    Credentials
	breaker  *circuit.Breaker
	bulkhead *bulkhead.Bulkhead
	cache    Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithBulkhead(b *bulkhead.Bulkhead) Option {
	return func(s *Service) { s.bulkhead = b }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the lookup. breaker should be built with
// circuit.WithIsFailure(CountsAsFailure) so not-found answers do not trip it.
func NewService(client Client, creds Credentials, breaker *circuit.Breaker, opts ...Option) *Service {
	s := &Service{
		client:  client,
		creds:   creds,
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindPolicy returns the policy with its insured and vehicles.
func (s *Service) FindPolicy(ctx context.Context, policyNumber string) (*Policy, error) {
	policyNumber = strings.TrimSpace(policyNumber)
	if policyNumber == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "policy_number is required")
	}

	if s.cache != nil {
		p, err := s.cache.GetPolicy(ctx, policyNumber)
		switch {
		case err == nil:
			s.metrics.IncRegistryCache("hit")
			return p, nil
		case errors.Is(err, sentinel.ErrNotFound):
			s.metrics.IncRegistryCache("miss")
		default:
			s.metrics.IncRegistryCache("error")
			s.logger.WarnContext(ctx, "registry cache read failed", "error", err)
		}
	}

	p, err := call(ctx, s, "find_policy", func(ctx context.Context) (*Policy, error) {
		return s.client.FindPolicyAndInsured(ctx, s.creds, policyNumber)
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeRegistryLookupFailed, "policy not found in registry")
		}
		return nil, s.translate(ctx, "find_policy", err)
	}

	if s.cache != nil {
		if err := s.cache.SetPolicy(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "registry cache write failed",
				"policy_number", policyNumber,
				"error", err,
			)
		}
	}
	return p, nil
}

// SearchByVehicle returns the policies covering a registration number.
// No match is an empty result.
func (s *Service) SearchByVehicle(ctx context.Context, registrationNumber string) ([]Policy, error) {
	registrationNumber = strings.ToUpper(strings.TrimSpace(registrationNumber))
	if registrationNumber == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "registration_number is required")
	}
	return s.search(ctx, "find_by_vehicle", func(ctx context.Context) ([]Policy, error) {
		return s.client.FindByVehicle(ctx, s.creds, registrationNumber)
	})
}

// SearchByChassis returns the policies covering a chassis number.
func (s *Service) SearchByChassis(ctx context.Context, chassisNumber string) ([]Policy, error) {
	chassisNumber = strings.ToUpper(strings.TrimSpace(chassisNumber))
	if chassisNumber == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "chassis_number is required")
	}
	return s.search(ctx, "find_by_chassis", func(ctx context.Context) ([]Policy, error) {
		return s.client.FindByChassis(ctx, s.creds, chassisNumber)
	})
}

func (s *Service) search(ctx context.Context, op string, fn func(ctx context.Context) ([]Policy, error)) ([]Policy, error) {
	policies, err := call(ctx, s, op, fn)
	if err != nil {
		if IsNotFound(err) {
			return []Policy{}, nil
		}
		return nil, s.translate(ctx, op, err)
	}
	if policies == nil {
		policies = []Policy{}
	}
	return policies, nil
}

// Available reports whether the registry breaker would admit a call.
func (s *Service) Available() bool {
	return s.breaker.Available()
}

func call[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveUpstream("registry", op, time.Since(start)) }()

	return bulkhead.Run(ctx, s.bulkhead, s.breaker.Timeout(), func(ctx context.Context) (T, error) {
		return circuit.Execute(ctx, s.breaker, fn)
	})
}

func (s *Service) translate(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	s.logger.WarnContext(ctx, "registry call failed",
		"operation", op,
		"category", string(CategoryOf(err)),
		"error", err,
	)
	switch {
	case errors.Is(err, circuit.ErrOpen), errors.Is(err, bulkhead.ErrFull):
		return dErrors.Wrap(err, dErrors.CodeCircuitOpen, "registry unavailable")
	case errors.Is(err, circuit.ErrTimeout):
		return dErrors.WithRetryable(dErrors.Wrap(err, dErrors.CodeRegistryLookupFailed, "registry lookup timed out"), true)
	}
	wrapped := dErrors.Wrap(err, dErrors.CodeRegistryLookupFailed, "registry lookup failed")
	switch CategoryOf(err) {
	case ErrorTimeout, ErrorOutage, ErrorRateLimited:
		return dErrors.WithRetryable(wrapped, true)
	}
	return wrapped
}
