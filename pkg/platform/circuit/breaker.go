// Package circuit isolates callers from failing external systems.
//
// A Breaker counts outcomes over a rolling window. When the failure ratio
// reaches the configured percentage (with at least MinimumRequests observed)
// the breaker opens and every call fails with ErrOpen without invoking the
// wrapped function. After the reset timeout a single trial call is let
// through: success closes the breaker, failure re-opens it.
//
// Use one Breaker per external system so an outage in one never trips another.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned without calling the wrapped function while the breaker is open.
	ErrOpen = errors.New("circuit open")
	// ErrTimeout is returned when the wrapped call exceeds the breaker timeout.
	ErrTimeout = errors.New("circuit call timed out")
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultTimeout            = 10 * time.Second
	defaultErrorThresholdPct  = 50
	defaultMinimumRequests    = 5
	defaultResetTimeout       = 30 * time.Second
	defaultRollingWindow      = 10 * time.Second
	defaultRollingWindowSlots = 10
)

// Counts is a snapshot of the rolling window.
type Counts struct {
	Requests int
	Failures int
}

// Observer is notified after every state change.
type Observer func(name string, from, to State)

type bucket struct {
	start    int64
	requests int
	failures int
}

// Breaker is safe for concurrent use; its counters are the only shared state.
type Breaker struct {
	name string

	timeout         time.Duration
	thresholdPct    int
	minimumRequests int
	resetTimeout    time.Duration
	slotWidth       time.Duration
	isFailure       func(error) bool
	observer        Observer
	now             func() time.Time

	mu            sync.Mutex
	state         State
	openedAt      time.Time
	trialInFlight bool
	buckets       []bucket
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithTimeout bounds every wrapped call.
func WithTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithErrorThresholdPercentage sets the failure ratio (1-100) that opens the breaker.
func WithErrorThresholdPercentage(pct int) Option {
	return func(b *Breaker) {
		if pct > 0 && pct <= 100 {
			b.thresholdPct = pct
		}
	}
}

// WithMinimumRequests sets how many calls the window must hold before it may trip.
func WithMinimumRequests(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.minimumRequests = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before a trial call.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithRollingWindow sets the statistics window and its number of slots.
func WithRollingWindow(window time.Duration, slots int) Option {
	return func(b *Breaker) {
		if window <= 0 || slots <= 0 {
			return
		}
		b.buckets = make([]bucket, slots)
		b.slotWidth = window / time.Duration(slots)
		if b.slotWidth <= 0 {
			b.slotWidth = time.Nanosecond
		}
	}
}

// WithIsFailure decides which errors count against the breaker. Errors for
// which it returns false are business answers and count as successes.
func WithIsFailure(fn func(error) bool) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.isFailure = fn
		}
	}
}

// WithObserver registers a state change callback.
func WithObserver(o Observer) Option {
	return func(b *Breaker) {
		b.observer = o
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:            name,
		timeout:         defaultTimeout,
		thresholdPct:    defaultErrorThresholdPct,
		minimumRequests: defaultMinimumRequests,
		resetTimeout:    defaultResetTimeout,
		isFailure:       func(err error) bool { return err != nil },
		now:             time.Now,
		state:           StateClosed,
	}
	WithRollingWindow(defaultRollingWindow, defaultRollingWindowSlots)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// Timeout returns the per-call timeout.
func (b *Breaker) Timeout() time.Duration { return b.timeout }

// State returns the current state. An open breaker whose reset timeout has
// elapsed still reports StateOpen until a call performs the trial.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether calls would currently be rejected.
func (b *Breaker) IsOpen() bool {
	return !b.Available()
}

// Available reports whether a call made now would reach the wrapped function.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		return !b.now().Before(b.openedAt.Add(b.resetTimeout))
	case StateHalfOpen:
		return !b.trialInFlight
	default:
		return true
	}
}

// Counts returns the outcomes currently inside the rolling window.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windowCounts(b.now())
}

// Reset manually closes the breaker and clears its statistics.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.closeLocked()
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

// Do runs fn through the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn through the breaker with the breaker's timeout. fn receives
// a context that is cancelled when the timeout fires; Execute returns at the
// timeout even if fn ignores its context.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, err := b.acquire()
	if err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			b.release(trial)
			return r.value, r.err
		}
		b.record(trial, b.isFailure(r.err))
		return r.value, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about the upstream.
			b.release(trial)
			return zero, ctx.Err()
		}
		b.record(trial, true)
		return zero, ErrTimeout
	}
}

func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, StateHalfOpen)
		}
	}()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Before(b.openedAt.Add(b.resetTimeout)) {
			return false, ErrOpen
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true, nil
	default:
		if b.trialInFlight {
			return false, ErrOpen
		}
		b.trialInFlight = true
		return true, nil
	}
}

func (b *Breaker) release(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	b.trialInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) record(trial, failed bool) {
	b.mu.Lock()
	from := b.state
	to := from

	switch {
	case trial:
		b.trialInFlight = false
		if failed {
			b.openLocked()
		} else {
			b.closeLocked()
		}
		to = b.state
	case b.state == StateClosed:
		now := b.now()
		slot := b.slot(now)
		slot.requests++
		if failed {
			slot.failures++
			c := b.windowCounts(now)
			if c.Requests >= b.minimumRequests && c.Failures*100 >= b.thresholdPct*c.Requests {
				b.openLocked()
				to = StateOpen
			}
		}
	}
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *Breaker) closeLocked() {
	b.state = StateClosed
	b.trialInFlight = false
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}

func (b *Breaker) slot(now time.Time) *bucket {
	start := now.UnixNano() / int64(b.slotWidth)
	idx := int(start % int64(len(b.buckets)))
	if idx < 0 {
		idx += len(b.buckets)
	}
	s := &b.buckets[idx]
	if s.start != start {
		*s = bucket{start: start}
	}
	return s
}

func (b *Breaker) windowCounts(now time.Time) Counts {
	current := now.UnixNano() / int64(b.slotWidth)
	oldest := current - int64(len(b.buckets)) + 1
	var c Counts
	for _, s := range b.buckets {
		if s.start >= oldest && s.start <= current {
			c.Requests += s.requests
			c.Failures += s.failures
		}
	}
	return c
}

func (b *Breaker) notify(from, to State) {
	if b.observer != nil && from != to {
		b.observer(b.name, from, to)
	}
}
