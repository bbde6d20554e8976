package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certo/internal/audit"
	"certo/internal/audit/outbox"
	id "certo/pkg/domain"
	txcontext "certo/pkg/platform/tx"
)

// PostgresStore writes audit entries together with an outbox row in the
// caller's transaction, and serves queries and the outbox relay.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// outboxPayload is the message published to Kafka for each entry.
type outboxPayload struct {
	ID            string         `json:"id"`
	CertificateID string         `json:"certificate_id"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	OldStatus     string         `json:"old_status,omitempty"`
	NewStatus     string         `json:"new_status,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Timestamp     string         `json:"timestamp"`
}

// AppendAudit inserts entry and its outbox row. It joins the transaction in
// ctx when there is one.
func (s *PostgresStore) AppendAudit(ctx context.Context, e *audit.Entry) error {
	oldValues, err := marshalNullable(e.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := marshalNullable(e.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	details, err := marshalNullable(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	payload, err := json.Marshal(outboxPayload{
		ID:            e.ID.String(),
		CertificateID: e.CertificateID.String(),
		ActorID:       e.ActorID,
		Action:        string(e.Action),
		OldStatus:     e.OldStatus,
		NewStatus:     e.NewStatus,
		Details:       e.Details,
		RequestID:     e.RequestID,
		Timestamp:     e.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecerFrom(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO audit_entries (
				id, certificate_id, actor_id, action, old_status, new_status,
				old_values, new_values, details, actor_ip, actor_agent, session_id, request_id, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			uuid.UUID(e.ID), uuid.UUID(e.CertificateID), e.ActorID, string(e.Action), e.OldStatus, e.NewStatus,
			oldValues, newValues, details, e.ActorIP, e.ActorAgent, e.SessionID, e.RequestID, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}

		_, err = exec.ExecContext(ctx, `
			INSERT INTO audit_outbox (id, entry_id, topic_key, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New(), uuid.UUID(e.ID), e.CertificateID.String(), payload, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert audit outbox entry: %w", err)
		}
		return nil
	})
}

const entryColumns = `id, certificate_id, actor_id, action, old_status, new_status,
	old_values, new_values, details, actor_ip, actor_agent, session_id, request_id, created_at`

func (s *PostgresStore) Query(ctx context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error) {
	where, args := buildWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&total); err != nil {
		return audit.PageResult{}, fmt.Errorf("count audit entries: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM audit_entries%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		entryColumns, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.PageResult{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	res := audit.PageResult{Total: total, Page: page}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return audit.PageResult{}, err
		}
		res.Entries = append(res.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return audit.PageResult{}, fmt.Errorf("iterate audit entries: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return res.RowsAffected()
}

// FetchUnpublished locks up to limit unpublished outbox rows. It must run
// inside a transaction (see outbox.Relay) so the locks are held until
// MarkPublished commits.
func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, topic_key, payload, created_at
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch audit outbox: %w", err)
	}
	defer rows.Close()

	var msgs []outbox.Message
	for rows.Next() {
		var m outbox.Message
		var msgID uuid.UUID
		if err := rows.Scan(&msgID, &m.Key, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit outbox: %w", err)
		}
		m.ID = msgID.String()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit outbox: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`, at, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark audit outbox published: %w", err)
	}
	return nil
}

// RunInTx runs fn in a transaction carried by its context.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

func buildWhere(f audit.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.CertificateID.IsNil() {
		add("certificate_id = $%d", uuid.UUID(f.CertificateID))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(rows *sql.Rows) (*audit.Entry, error) {
	var (
		e                            audit.Entry
		entryID, certID              uuid.UUID
		action                       string
		oldValues, newValues, detail []byte
	)
	if err := rows.Scan(&entryID, &certID, &e.ActorID, &action, &e.OldStatus, &e.NewStatus,
		&oldValues, &newValues, &detail, &e.ActorIP, &e.ActorAgent, &e.SessionID, &e.RequestID, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	e.ID = id.AuditEntryID(entryID)
	e.CertificateID = id.CertificateID(certID)
	e.Action = audit.Action(action)
	for _, f := range []struct {
		raw []byte
		dst *map[string]any
	}{{oldValues, &e.OldValues}, {newValues, &e.NewValues}, {detail, &e.Details}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry values: %w", err)
		}
	}
	return &e, nil
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
