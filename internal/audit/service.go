// Package audit records and queries the append-only certificate audit trail.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
)

// Store is the read and retention side of the audit trail.
type Store interface {
	Query(ctx context.Context, filter Filter, page Page) (PageResult, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service answers audit queries.
type Service struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ListByCertificate(ctx context.Context, certificateID id.CertificateID, page Page) (PageResult, error) {
	if certificateID.IsNil() {
		return PageResult{}, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}
	return s.query(ctx, Filter{CertificateID: certificateID}, page)
}

func (s *Service) ListByActor(ctx context.Context, actorID string, page Page) (PageResult, error) {
	if actorID == "" {
		return PageResult{}, dErrors.New(dErrors.CodeInvalidInput, "actor id is required")
	}
	return s.query(ctx, Filter{ActorID: actorID}, page)
}

func (s *Service) ListByAction(ctx context.Context, action Action, page Page) (PageResult, error) {
	if !action.IsValid() {
		return PageResult{}, dErrors.New(dErrors.CodeInvalidInput, "invalid audit action")
	}
	return s.query(ctx, Filter{Action: action}, page)
}

// ListByTimeRange returns entries with from <= created_at < to.
func (s *Service) ListByTimeRange(ctx context.Context, from, to time.Time, page Page) (PageResult, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return PageResult{}, dErrors.New(dErrors.CodeInvalidInput, "time range must have from before to")
	}
	return s.query(ctx, Filter{From: from, To: to}, page)
}

// Query runs an arbitrary filter combination.
func (s *Service) Query(ctx context.Context, filter Filter, page Page) (PageResult, error) {
	return s.query(ctx, filter, page)
}

func (s *Service) query(ctx context.Context, filter Filter, page Page) (PageResult, error) {
	res, err := s.store.Query(ctx, filter, page.Normalize())
	if err != nil {
		return PageResult{}, dErrors.Wrap(err, dErrors.CodePersistence, "failed to query audit entries")
	}
	return res, nil
}

// PurgeOlderThan deletes entries created before cutoff. Only the retention
// job calls it.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	s.logger.InfoContext(ctx, "purged audit entries",
		"count", n,
		"cutoff", cutoff,
	)
	return n, nil
}
