package store

import (
	"bytes"
	"context"
	"sync"
	"time"

	"certo/internal/idempotency"
	"certo/pkg/platform/sentinel"
)

// InMemory is a process-local idempotency store for tests and single-node runs.
type InMemory struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*idempotency.Record)}
}

func (s *InMemory) CreatePending(_ context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Key]; ok {
		return cloneRecord(existing), false, nil
	}
	s.records[rec.Key] = cloneRecord(rec)
	return nil, true, nil
}

func (s *InMemory) Finish(_ context.Context, key string, status idempotency.Status, resp idempotency.Response, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.Status != idempotency.StatusPending {
		return sentinel.ErrInvalidState
	}
	rec.Status = status
	rec.Response = &idempotency.Response{StatusCode: resp.StatusCode, Body: bytes.Clone(resp.Body)}
	rec.CompletedAt = &at
	return nil
}

func (s *InMemory) Get(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemory) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

func cloneRecord(r *idempotency.Record) *idempotency.Record {
	out := *r
	if r.Response != nil {
		out.Response = &idempotency.Response{StatusCode: r.Response.StatusCode, Body: bytes.Clone(r.Response.Body)}
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}
