package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"certo/internal/audit"
	auditstore "certo/internal/audit/store"
	"certo/internal/certificate/models"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/sentinel"
)

// numLockShards spreads per-certificate locks so unrelated certificates do
// not contend.
const numLockShards = 128

const defaultTxTimeout = 5 * time.Second

// InMemory keeps certificates in process memory. Units of work lock the
// certificates they touch by id and publish their writes in one step under
// the store mutex, where business-key uniqueness is checked.
type InMemory struct {
	mu    sync.RWMutex
	certs map[id.CertificateID]*models.Certificate

	shards [numLockShards]sync.Mutex
	audit  *auditstore.InMemory
}

// NewInMemory creates a store that commits audit entries into auditLog.
func NewInMemory(auditLog *auditstore.InMemory) *InMemory {
	if auditLog == nil {
		auditLog = auditstore.NewInMemory()
	}
	return &InMemory{
		certs: make(map[id.CertificateID]*models.Certificate),
		audit: auditLog,
	}
}

// AuditLog returns the audit store entries are committed to.
func (s *InMemory) AuditLog() *auditstore.InMemory {
	return s.audit
}

func (s *InMemory) FindByID(_ context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[certificateID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemory) FindActiveDuplicate(_ context.Context, key models.BusinessKey) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.activeFor(key, id.CertificateID{}); c != nil {
		return c.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// ListByStatus returns certificates in status last updated before cutoff,
// oldest first.
func (s *InMemory) ListByStatus(_ context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.Certificate, error) {
	return s.list(limit, func(c *models.Certificate) bool {
		return c.Status() == status && c.UpdatedAt.Before(updatedBefore)
	}), nil
}

// ListRetryable returns failed certificates whose failure was transient and
// that have been retried fewer than maxRetries times.
func (s *InMemory) ListRetryable(_ context.Context, maxRetries, limit int) ([]*models.Certificate, error) {
	return s.list(limit, func(c *models.Certificate) bool {
		return c.RetryableFailure() && c.RetryCount < maxRetries
	}), nil
}

func (s *InMemory) list(limit int, keep func(*models.Certificate) bool) []*models.Certificate {
	s.mu.RLock()
	var out []*models.Certificate
	for _, c := range s.certs {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *models.Certificate) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if n := limitOrDefault(limit); len(out) > n {
		out = out[:n]
	}
	return out
}

// RunInTx runs fn as one unit of work. Certificates locked through the Tx stay
// locked until fn returns; staged writes are published only if fn succeeds.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	t := &memTx{
		store:  s,
		locked: make(map[id.CertificateID]bool),
		staged: make(map[id.CertificateID]*models.Certificate),
	}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *InMemory) commit(t *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, certID := range t.order {
		c := t.staged[certID]
		if !c.Status().IsActive() {
			continue
		}
		if other := s.activeFor(c.Key, c.ID); other != nil {
			return fmt.Errorf("active certificate %s exists for %s: %w", other.ID, c.Key, sentinel.ErrConflict)
		}
		for _, otherID := range t.order {
			o := t.staged[otherID]
			if otherID != certID && o.Key == c.Key && o.Status().IsActive() {
				return fmt.Errorf("two active certificates staged for %s: %w", c.Key, sentinel.ErrConflict)
			}
		}
	}
	for _, certID := range t.inserted {
		c := t.staged[certID]
		for _, existing := range s.certs {
			if existing.ReferenceNumber == c.ReferenceNumber {
				return fmt.Errorf("reference number %s already used: %w", c.ReferenceNumber, sentinel.ErrConflict)
			}
		}
	}

	for _, certID := range t.order {
		s.certs[certID] = t.staged[certID].Clone()
	}
	s.audit.Insert(t.entries...)
	return nil
}

// activeFor returns the active certificate for key other than except.
// Callers hold s.mu.
func (s *InMemory) activeFor(key models.BusinessKey, except id.CertificateID) *models.Certificate {
	for _, c := range s.certs {
		if c.ID != except && c.Key == key && c.Status().IsActive() {
			return c
		}
	}
	return nil
}

func shardFor(certificateID id.CertificateID) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range certificateID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return int(h % numLockShards)
}

type memTx struct {
	store    *InMemory
	held     []int
	locked   map[id.CertificateID]bool
	staged   map[id.CertificateID]*models.Certificate
	order    []id.CertificateID
	inserted []id.CertificateID
	entries  []*audit.Entry
}

func (t *memTx) Insert(_ context.Context, c *models.Certificate) error {
	if _, ok := t.staged[c.ID]; ok {
		return fmt.Errorf("insert certificate %s: %w", c.ID, sentinel.ErrConflict)
	}
	if _, err := t.store.FindByID(context.Background(), c.ID); err == nil {
		return fmt.Errorf("insert certificate %s: %w", c.ID, sentinel.ErrConflict)
	}
	t.stage(c)
	t.inserted = append(t.inserted, c.ID)
	return nil
}

func (t *memTx) LockByID(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	if c, ok := t.staged[certificateID]; ok {
		return c.Clone(), nil
	}
	shard := shardFor(certificateID)
	if !slices.Contains(t.held, shard) {
		t.store.shards[shard].Lock()
		t.held = append(t.held, shard)
		if err := ctx.Err(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
	}
	t.locked[certificateID] = true
	return t.store.FindByID(ctx, certificateID)
}

func (t *memTx) Update(_ context.Context, c *models.Certificate) error {
	if _, staged := t.staged[c.ID]; !staged && !t.locked[c.ID] {
		return fmt.Errorf("update certificate %s: not locked: %w", c.ID, sentinel.ErrInvalidState)
	}
	t.stage(c)
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, e *audit.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) stage(c *models.Certificate) {
	if _, ok := t.staged[c.ID]; !ok {
		t.order = append(t.order, c.ID)
	}
	t.staged[c.ID] = c.Clone()
}

func (t *memTx) release() {
	for _, shard := range t.held {
		t.store.shards[shard].Unlock()
	}
	t.held = nil
}
