package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"certo/internal/audit"
)

// InMemory keeps audit entries in process memory.
type InMemory struct {
	mu      sync.RWMutex
	entries []*audit.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

// AppendAudit appends a single entry immediately.
func (s *InMemory) AppendAudit(_ context.Context, entry *audit.Entry) error {
	s.Insert(entry)
	return nil
}

// Insert appends staged entries as one step. Callers that need entries to
// land atomically with other writes call it while holding their own commit lock.
func (s *InMemory) Insert(entries ...*audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries = append(s.entries, cloneEntry(e))
	}
}

func (s *InMemory) Query(_ context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*audit.Entry
	for _, e := range s.entries {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	// newest first; insertion order breaks ties
	slices.Reverse(matched)
	slices.SortStableFunc(matched, func(a, b *audit.Entry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	res := audit.PageResult{Total: len(matched), Page: page}
	if page.Offset >= len(matched) {
		return res, nil
	}
	end := min(page.Offset+page.Limit, len(matched))
	for _, e := range matched[page.Offset:end] {
		res.Entries = append(res.Entries, cloneEntry(e))
	}
	return res, nil
}

func (s *InMemory) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e *audit.Entry) bool {
		return e.CreatedAt.Before(cutoff)
	})
	return int64(before - len(s.entries)), nil
}

func matches(e *audit.Entry, f audit.Filter) bool {
	if !f.CertificateID.IsNil() && e.CertificateID != f.CertificateID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func cloneEntry(e *audit.Entry) *audit.Entry {
	out := *e
	out.OldValues = maps.Clone(e.OldValues)
	out.NewValues = maps.Clone(e.NewValues)
	out.Details = maps.Clone(e.Details)
	return &out
}
