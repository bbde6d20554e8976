// Package idempotency makes mutating requests execute at most once per
// client-supplied key.
//
// The protocol is explicit and two-phase: Begin claims the key (or reports
// why the caller must not proceed), the caller renders its response, and
// Complete or Fail stores that response before it is returned. A key is bound
// to one request hash forever; records are only removed by SweepExpired.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"certo/internal/platform/metrics"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/sentinel"
)

const (
	// DefaultTTL is how long records are kept before the sweep removes them.
	DefaultTTL = 24 * time.Hour
	// MaxKeyLength bounds client keys.
	MaxKeyLength = 128
)

// Store persists idempotency records.
type Store interface {
	// CreatePending inserts rec if no record exists for rec.Key. It returns the
	// stored record when one already exists; created reports which happened.
	CreatePending(ctx context.Context, rec *Record) (existing *Record, created bool, err error)
	// Finish moves a pending record to status with resp. It returns
	// sentinel.ErrInvalidState when the record is no longer pending and
	// sentinel.ErrNotFound when it does not exist.
	Finish(ctx context.Context, key string, status Status, resp Response, at time.Time) error
	// Get returns the record for key or sentinel.ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)
	// DeleteExpired removes records whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Guard implements the two-phase idempotency protocol.
type Guard struct {
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// NewGuard creates a Guard over store.
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HashRequest hashes the normalised request: method, path, body and requester.
func HashRequest(method, path string, body []byte, requester string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	h.Write([]byte{'\n'})
	h.Write([]byte(requester))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateKey checks a client key.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return dErrors.New(dErrors.CodeIdempotencyKeyRequired, "Idempotency-Key header is required")
	}
	if len(key) > MaxKeyLength {
		return dErrors.New(dErrors.CodeBadRequest, "Idempotency-Key too long")
	}
	return nil
}

// Begin claims key for the request identified by hash.
func (g *Guard) Begin(ctx context.Context, key, requester, hash string) (Decision, error) {
	if err := ValidateKey(key); err != nil {
		return Decision{}, err
	}

	now := g.now()
	rec := &Record{
		Key:         key,
		RequestHash: hash,
		Status:      StatusPending,
		RequestedBy: requester,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}
	existing, created, err := g.store.CreatePending(ctx, rec)
	if err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodePersistence, "failed to record idempotency key")
	}

	d := decide(existing, created, hash)
	g.metrics.IncIdempotency(d.Outcome.String())
	if d.Outcome != Proceed {
		g.logger.InfoContext(ctx, "idempotency key already used",
			"idempotency_key", key,
			"decision", d.Outcome.String(),
		)
	}
	return d, nil
}

func decide(existing *Record, created bool, hash string) Decision {
	if created {
		return Decision{Outcome: Proceed}
	}
	if existing.RequestHash != hash {
		return Decision{Outcome: Conflict}
	}
	switch existing.Status {
	case StatusCompleted, StatusFailed:
		if existing.Response != nil {
			return Decision{Outcome: Replay, Response: existing.Response}
		}
	}
	return Decision{Outcome: InProgress}
}

// Complete stores a successful response under key. Repeated calls are no-ops.
func (g *Guard) Complete(ctx context.Context, key string, resp Response) error {
	return g.finish(ctx, key, StatusCompleted, resp)
}

// Fail stores a failure response under key. Later Begin calls replay it.
func (g *Guard) Fail(ctx context.Context, key string, resp Response) error {
	return g.finish(ctx, key, StatusFailed, resp)
}

// finish stores the outcome even when ctx is already cancelled; a record left
// pending would block the key until it expires.
func (g *Guard) finish(ctx context.Context, key string, status Status, resp Response) error {
	err := g.store.Finish(context.WithoutCancel(ctx), key, status, resp, g.now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrInvalidState):
		g.logger.WarnContext(ctx, "idempotency record already finished",
			"idempotency_key", key,
			"status", string(status),
		)
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "idempotency record not found")
	default:
		return dErrors.Wrap(err, dErrors.CodePersistence, fmt.Sprintf("failed to store %s idempotency response", status))
	}
}

// Do runs fn at most once for req.Key. A response with a status of 400 or
// above is stored with Fail, anything else with Complete. Replays return the
// stored response without calling fn.
func (g *Guard) Do(ctx context.Context, req Request, fn func(ctx context.Context) Response) (Response, error) {
	d, err := g.Begin(ctx, req.Key, req.Requester, req.Hash())
	if err != nil {
		return Response{}, err
	}
	switch d.Outcome {
	case Replay:
		return *d.Response, nil
	case Conflict:
		return Response{}, ErrConflict
	case InProgress:
		return Response{}, ErrInProgress
	}

	resp := fn(ctx)
	if resp.StatusCode >= 400 {
		err = g.Fail(ctx, req.Key, resp)
	} else {
		err = g.Complete(ctx, req.Key, resp)
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to finish idempotency record",
			"idempotency_key", req.Key,
			"error", err,
		)
	}
	return resp, nil
}

// SweepExpired deletes records past their expiry.
func (g *Guard) SweepExpired(ctx context.Context) (int64, error) {
	n, err := g.store.DeleteExpired(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired idempotency records: %w", err)
	}
	if n > 0 {
		g.logger.InfoContext(ctx, "swept expired idempotency records", "count", n)
	}
	return n, nil
}

var (
	// ErrConflict is returned when a key is reused with a different request.
	ErrConflict = dErrors.New(dErrors.CodeIdempotencyConflict, "Idempotency-Key reused with a different request")
	// ErrInProgress is returned while the original request is still running.
	ErrInProgress = dErrors.New(dErrors.CodeIdempotencyInProgress, "a request with this Idempotency-Key is in progress")
)
