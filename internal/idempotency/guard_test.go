package idempotency_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certo/internal/idempotency"
	"certo/internal/idempotency/store"
	dErrors "certo/pkg/domain-errors"
)

type GuardSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.InMemory
	guard *idempotency.Guard
	now   time.Time
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.guard = idempotency.NewGuard(s.store,
		idempotency.WithTTL(time.Hour),
		idempotency.WithClock(func() time.Time { return s.now }),
	)
}

func (s *GuardSuite) hash(body string) string {
	return idempotency.HashRequest(http.MethodPost, "/certificates", []byte(body), "operator-1")
}

func (s *GuardSuite) TestBegin() {
	s.Run("unseen key proceeds and creates a pending record", func() {
		d, err := s.guard.Begin(s.ctx, "k1", "operator-1", s.hash(`{"a":1}`))
		s.Require().NoError(err)
		s.Equal(idempotency.Proceed, d.Outcome)

		rec, err := s.store.Get(s.ctx, "k1")
		s.Require().NoError(err)
		s.Equal(idempotency.StatusPending, rec.Status)
		s.Equal(s.now.Add(time.Hour), rec.ExpiresAt)
	})

	s.Run("same key while pending is in progress", func() {
		d, err := s.guard.Begin(s.ctx, "k1", "operator-1", s.hash(`{"a":1}`))
		s.Require().NoError(err)
		s.Equal(idempotency.InProgress, d.Outcome)
	})

	s.Run("same key different body conflicts", func() {
		d, err := s.guard.Begin(s.ctx, "k1", "operator-1", s.hash(`{"a":2}`))
		s.Require().NoError(err)
		s.Equal(idempotency.Conflict, d.Outcome)
	})

	s.Run("completed key replays the stored response", func() {
		resp := idempotency.Response{StatusCode: http.StatusCreated, Body: []byte(`{"id":"x"}`)}
		s.Require().NoError(s.guard.Complete(s.ctx, "k1", resp))

		d, err := s.guard.Begin(s.ctx, "k1", "operator-1", s.hash(`{"a":1}`))
		s.Require().NoError(err)
		s.Equal(idempotency.Replay, d.Outcome)
		s.Equal(resp, *d.Response)
	})

	s.Run("missing and oversized keys are rejected", func() {
		_, err := s.guard.Begin(s.ctx, "", "operator-1", "h")
		s.True(dErrors.HasCode(err, dErrors.CodeIdempotencyKeyRequired))

		_, err = s.guard.Begin(s.ctx, strings.Repeat("k", idempotency.MaxKeyLength+1), "operator-1", "h")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *GuardSuite) TestFinishIsOnce() {
	_, err := s.guard.Begin(s.ctx, "k2", "operator-1", s.hash("b"))
	s.Require().NoError(err)

	first := idempotency.Response{StatusCode: http.StatusConflict, Body: []byte(`{"error":"duplicate_certificate"}`)}
	s.Require().NoError(s.guard.Fail(s.ctx, "k2", first))
	// a repeated or contradictory finish is a no-op
	s.Require().NoError(s.guard.Complete(s.ctx, "k2", idempotency.Response{StatusCode: http.StatusCreated}))

	rec, err := s.store.Get(s.ctx, "k2")
	s.Require().NoError(err)
	s.Equal(idempotency.StatusFailed, rec.Status)
	s.Equal(first, *rec.Response)

	d, err := s.guard.Begin(s.ctx, "k2", "operator-1", s.hash("b"))
	s.Require().NoError(err)
	s.Equal(idempotency.Replay, d.Outcome)
	s.Equal(first, *d.Response)
}

func (s *GuardSuite) TestFinishUnknownKey() {
	err := s.guard.Complete(s.ctx, "missing", idempotency.Response{StatusCode: 200})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *GuardSuite) TestDo() {
	req := idempotency.Request{Key: "k3", Method: http.MethodPost, Path: "/certificates/1/cancel", Body: []byte(`{"reason":"x"}`), Requester: "operator-1"}
	var calls atomic.Int32
	fn := func(context.Context) idempotency.Response {
		calls.Add(1)
		return idempotency.Response{StatusCode: http.StatusOK, Body: []byte(`{"status":"cancelled"}`)}
	}

	first, err := s.guard.Do(s.ctx, req, fn)
	s.Require().NoError(err)
	second, err := s.guard.Do(s.ctx, req, fn)
	s.Require().NoError(err)

	s.Equal(first, second)
	s.EqualValues(1, calls.Load())

	req.Body = []byte(`{"reason":"y"}`)
	_, err = s.guard.Do(s.ctx, req, fn)
	s.True(dErrors.HasCode(err, dErrors.CodeIdempotencyConflict))
}

func (s *GuardSuite) TestConcurrentBeginOnlyOneProceeds() {
	var proceeded atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.guard.Begin(s.ctx, "k4", "operator-1", s.hash("c"))
			if err == nil && d.Outcome == idempotency.Proceed {
				proceeded.Add(1)
			}
		}()
	}
	wg.Wait()
	s.EqualValues(1, proceeded.Load())
}

func (s *GuardSuite) TestSweepExpired() {
	_, err := s.guard.Begin(s.ctx, "old", "operator-1", s.hash("d"))
	s.Require().NoError(err)

	s.now = s.now.Add(30 * time.Minute)
	_, err = s.guard.Begin(s.ctx, "new", "operator-1", s.hash("e"))
	s.Require().NoError(err)

	s.now = s.now.Add(45 * time.Minute)
	n, err := s.guard.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	_, err = s.store.Get(s.ctx, "old")
	s.Error(err)
	_, err = s.store.Get(s.ctx, "new")
	s.NoError(err)
}

// ctxStore behaves like a database store: writes fail on a cancelled context.
type ctxStore struct {
	*store.InMemory
}

func (c ctxStore) Finish(ctx context.Context, key string, status idempotency.Status, resp idempotency.Response, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.InMemory.Finish(ctx, key, status, resp, at)
}

func (s *GuardSuite) TestDoFinishesAfterCallerLeaves() {
	guard := idempotency.NewGuard(ctxStore{s.store},
		idempotency.WithClock(func() time.Time { return s.now }),
	)
	req := idempotency.Request{Key: "k-gone", Method: http.MethodPost, Path: "/certificates/1/cancel", Body: []byte(`{"reason":"x"}`), Requester: "operator-1"}

	ctx, cancel := context.WithCancel(s.ctx)
	resp, err := guard.Do(ctx, req, func(context.Context) idempotency.Response {
		cancel()
		return idempotency.Response{StatusCode: http.StatusOK, Body: []byte(`{"status":"cancelled"}`)}
	})
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)

	rec, err := s.store.Get(s.ctx, "k-gone")
	s.Require().NoError(err)
	s.Equal(idempotency.StatusCompleted, rec.Status)

	calls := 0
	again, err := guard.Do(s.ctx, req, func(context.Context) idempotency.Response {
		calls++
		return idempotency.Response{}
	})
	s.Require().NoError(err)
	s.Zero(calls)
	s.Equal(`{"status":"cancelled"}`, string(again.Body))
}

func TestHashRequest(t *testing.T) {
	base := idempotency.HashRequest("post", "/certificates", []byte("{}"), "a")
	if base != idempotency.HashRequest("POST", "/certificates", []byte("{}"), "a") {
		t.Fatal("method must be case-insensitive")
	}
	for name, other := range map[string]string{
		"path":      idempotency.HashRequest("POST", "/other", []byte("{}"), "a"),
		"body":      idempotency.HashRequest("POST", "/certificates", []byte("{ }"), "a"),
		"requester": idempotency.HashRequest("POST", "/certificates", []byte("{}"), "b"),
	} {
		if other == base {
			t.Fatalf("%s must change the hash", name)
		}
	}
}
