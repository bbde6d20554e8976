// Package outbox relays audit entries written to the audit_outbox table to
// Kafka. Entries are committed together with the state change they describe;
// the relay delivers them at least once.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"certo/internal/platform/metrics"
)

// DefaultBatchSize bounds how many rows one PublishPending call moves.
const DefaultBatchSize = 100

// Message is one outbox row ready to publish.
type Message struct {
	ID        string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Store reads and acknowledges outbox rows. FetchUnpublished and
// MarkPublished run inside the transaction opened by RunInTx.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	FetchUnpublished(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Publisher delivers a batch synchronously; a nil error means every message
// was acknowledged by the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

type Relay struct {
	store     Store
	publisher Publisher
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func NewRelay(store Store, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PublishPending publishes one batch of unpublished rows and marks them
// published. Rows stay locked for the duration so concurrent relays skip
// them. If publishing fails nothing is marked and the batch is retried on
// the next run.
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	var published int
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		msgs, err := r.store.FetchUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		if err := r.publisher.Publish(ctx, msgs); err != nil {
			return fmt.Errorf("publish audit outbox batch: %w", err)
		}
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if err := r.store.MarkPublished(ctx, ids, r.now().UTC()); err != nil {
			return err
		}
		published = len(msgs)
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "audit outbox relay failed", "error", err)
		return 0, err
	}
	if published > 0 {
		r.metrics.AddOutboxPublished(published)
		r.logger.DebugContext(ctx, "audit outbox published", "count", published)
	}
	return published, nil
}
