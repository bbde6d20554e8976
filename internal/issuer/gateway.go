// Package issuer talks to the certificate-issuing authority. The Gateway is
// the only entry point the orchestrator uses: every call runs under the
// issuer bulkhead and breaker with a session from the SessionSource.
package issuer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"certo/internal/platform/metrics"
	"certo/pkg/platform/bulkhead"
	"certo/pkg/platform/circuit"
)

type Gateway struct {
	client   Client
	sessions SessionSource
	breaker  *circuit.Breaker
	bulkhead *bulkhead.Bulkhead
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Gateway)

func WithBulkhead(b *bulkhead.Bulkhead) Option {
	return func(g *Gateway) { g.bulkhead = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway wires the issuer. breaker should be built with
// circuit.WithIsFailure(CountsAsFailure).
func NewGateway(client Client, sessions SessionSource, breaker *circuit.Breaker, opts ...Option) *Gateway {
	g := &Gateway{
		client:   client,
		sessions: sessions,
		breaker:  breaker,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether the issuer breaker would admit a call.
func (g *Gateway) Available() bool {
	return g.breaker.Available()
}

func (g *Gateway) Submit(ctx context.Context, req ProductionRequest) (SubmitResult, error) {
	return call(ctx, g, "submit", func(ctx context.Context, s Session) (SubmitResult, error) {
		return g.client.SubmitProduction(ctx, s, req)
	})
}

func (g *Gateway) CheckStatus(ctx context.Context, requestNumber string) (StatusResult, error) {
	return call(ctx, g, "check_status", func(ctx context.Context, s Session) (StatusResult, error) {
		return g.client.CheckStatus(ctx, s, requestNumber)
	})
}

func (g *Gateway) Cancel(ctx context.Context, reference, reason string) error {
	_, err := call(ctx, g, "cancel", func(ctx context.Context, s Session) (struct{}, error) {
		return struct{}{}, g.client.Cancel(ctx, s, reference, reason)
	})
	return err
}

func (g *Gateway) Suspend(ctx context.Context, reference, reason string) error {
	_, err := call(ctx, g, "suspend", func(ctx context.Context, s Session) (struct{}, error) {
		return struct{}{}, g.client.Suspend(ctx, s, reference, reason)
	})
	return err
}

func (g *Gateway) Download(ctx context.Context, reference string) (DownloadResult, error) {
	return call(ctx, g, "download", func(ctx context.Context, s Session) (DownloadResult, error) {
		return g.client.Download(ctx, s, reference)
	})
}

// call runs fn with a session under the bulkhead and breaker. A refused
// session is dropped and fn retried once with a fresh login, inside the same
// breaker call.
func call[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context, s Session) (T, error)) (T, error) {
	start := time.Now()
	v, err := bulkhead.Run(ctx, g.bulkhead, g.breaker.Timeout(), func(ctx context.Context) (T, error) {
		return circuit.Execute(ctx, g.breaker, func(ctx context.Context) (T, error) {
			var zero T
			sess, err := g.sessions.Session(ctx)
			if err != nil {
				return zero, err
			}
			v, err := fn(ctx, sess)
			if !errors.Is(err, ErrUnauthorized) {
				return v, err
			}
			g.sessions.Invalidate(sess)
			if sess, err = g.sessions.Session(ctx); err != nil {
				return zero, err
			}
			return fn(ctx, sess)
		})
	})
	g.metrics.ObserveUpstream("issuer", op, time.Since(start))
	if err != nil {
		if _, ok := AsRejected(err); ok {
			g.logger.InfoContext(ctx, "issuer rejected call", "operation", op, "error", err)
		} else if ctx.Err() == nil {
			g.logger.WarnContext(ctx, "issuer call failed", "operation", op, "error", err)
		}
	}
	return v, err
}
