package service

import (
	"context"
	"errors"
	"fmt"

	"certo/internal/certificate/models"
)

// RetryTransientFailures resubmits failed certificates whose failure was a
// transport or breaker failure, up to the retry limit. It returns how many
// were resubmitted. An open issuer breaker ends the pass early.
func (s *Service) RetryTransientFailures(ctx context.Context) (int, error) {
	if !s.issuer.Available() {
		s.logger.InfoContext(ctx, "issuer unavailable, skipping transient retry")
		return 0, nil
	}
	certs, err := s.store.ListRetryable(ctx, s.maxRetries, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list retryable certificates: %w", err)
	}

	var (
		retried int
		errs    []error
	)
	for _, c := range certs {
		if ctx.Err() != nil || !s.issuer.Available() {
			break
		}
		if _, err := s.Retry(ctx, c.ID); err != nil {
			s.logger.WarnContext(ctx, "transient retry failed",
				"certificate_id", c.ID.String(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("retry %s: %w", c.ID, err))
			continue
		}
		retried++
	}
	if retried > 0 {
		s.logger.InfoContext(ctx, "retried transient failures", "count", retried)
	}
	return retried, errors.Join(errs...)
}

// ReconcileProcessing polls the issuer for certificates that have been in
// processing for longer than the reconcile delay. It returns how many changed
// status.
func (s *Service) ReconcileProcessing(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.reconcileAfter)
	certs, err := s.store.ListByStatus(ctx, models.StatusProcessing, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list processing certificates: %w", err)
	}

	var (
		changed int
		errs    []error
	)
	for _, c := range certs {
		if ctx.Err() != nil {
			break
		}
		if !s.issuer.Available() {
			s.logger.InfoContext(ctx, "issuer unavailable, stopping reconciliation")
			break
		}
		updated, err := s.CheckStatus(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", c.ID, err))
			continue
		}
		if updated.Status() != c.Status() {
			changed++
		}
	}
	if changed > 0 {
		s.logger.InfoContext(ctx, "reconciled processing certificates", "changed", changed)
	}
	return changed, errors.Join(errs...)
}
