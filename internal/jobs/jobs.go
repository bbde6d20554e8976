package jobs

import (
	"context"
	"time"
)

// Job names, also used as the metrics label.
const (
	NameIdempotencySweep = "idempotency_sweep"
	NameAuditRetention   = "audit_retention"
	NameReconcile        = "reconcile_processing"
	NameTransientRetry   = "transient_retry"
	NameOutboxRelay      = "outbox_relay"
)

type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Reconciler interface {
	ReconcileProcessing(ctx context.Context) (int, error)
	RetryTransientFailures(ctx context.Context) (int, error)
}

type Relay interface {
	PublishPending(ctx context.Context) (int, error)
}

func IdempotencySweep(schedule string, g Sweeper) Job {
	return Job{Name: NameIdempotencySweep, Schedule: schedule, Run: g.SweepExpired}
}

// AuditRetention deletes audit entries older than retention.
func AuditRetention(schedule string, p Purger, retention time.Duration, now func() time.Time) Job {
	return Job{
		Name:     NameAuditRetention,
		Schedule: schedule,
		Run: func(ctx context.Context) (int64, error) {
			return p.PurgeOlderThan(ctx, now().UTC().Add(-retention))
		},
	}
}

func Reconcile(schedule string, r Reconciler) Job {
	return Job{Name: NameReconcile, Schedule: schedule, Run: counted(r.ReconcileProcessing)}
}

func TransientRetry(schedule string, r Reconciler) Job {
	return Job{Name: NameTransientRetry, Schedule: schedule, Run: counted(r.RetryTransientFailures)}
}

func OutboxRelay(schedule string, r Relay) Job {
	return Job{Name: NameOutboxRelay, Schedule: schedule, Run: counted(r.PublishPending)}
}

func counted(fn func(ctx context.Context) (int, error)) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		n, err := fn(ctx)
		return int64(n), err
	}
}
