// Package bulkhead bounds the number of concurrent calls into one external
// system so a slow dependency cannot absorb every request goroutine.
package bulkhead

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrFull is returned when a slot could not be acquired before ctx ended.
var ErrFull = errors.New("bulkhead full")

// Bulkhead is a named weighted semaphore.
type Bulkhead struct {
	name string
	sem  *semaphore.Weighted
}

// New creates a bulkhead admitting at most size concurrent calls. A size of
// zero or less means unbounded.
func New(name string, size int) *Bulkhead {
	b := &Bulkhead{name: name}
	if size > 0 {
		b.sem = semaphore.NewWeighted(int64(size))
	}
	return b
}

func (b *Bulkhead) Name() string { return b.name }

// Do runs fn once a slot is free. Waiting is bounded by ctx.
func (b *Bulkhead) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if b == nil || b.sem == nil {
		return fn(ctx)
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: %w: %w", b.name, ErrFull, err)
	}
	defer b.sem.Release(1)
	return fn(ctx)
}

// TryDo runs fn only if a slot is immediately available.
func (b *Bulkhead) TryDo(ctx context.Context, fn func(ctx context.Context) error) error {
	if b == nil || b.sem == nil {
		return fn(ctx)
	}
	if !b.sem.TryAcquire(1) {
		return fmt.Errorf("%s: %w", b.name, ErrFull)
	}
	defer b.sem.Release(1)
	return fn(ctx)
}

// Run waits at most wait for a slot, then calls fn with the caller's ctx.
// Bounding the wait separately keeps queueing time out of any timeout fn
// applies to the call itself.
func Run[T any](ctx context.Context, b *Bulkhead, wait time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b == nil || b.sem == nil {
		return fn(ctx)
	}
	acquireCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	if err := b.sem.Acquire(acquireCtx, 1); err != nil {
		return zero, fmt.Errorf("%s: %w: %w", b.name, ErrFull, err)
	}
	defer b.sem.Release(1)
	return fn(ctx)
}
