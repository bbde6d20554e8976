package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certo/internal/audit"
	auditstore "certo/internal/audit/store"
	"certo/internal/certificate/models"
	"certo/internal/platform/postgres"
	id "certo/pkg/domain"
	"certo/pkg/platform/sentinel"
	txcontext "certo/pkg/platform/tx"
)

const activeBusinessKeyIndex = "certificates_active_business_key"

// PostgresStore persists certificates in PostgreSQL. Audit entries go through
// the audit store in the same transaction.
type PostgresStore struct {
	db    *sql.DB
	audit *auditstore.PostgresStore
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, audit: auditstore.NewPostgres(db)}
}

const certificateColumns = `
	id, reference_number, policy_number, registration_number, company_code, agent_code,
	issuer_request_number, issuer_certificate_number, download_locator, status,
	last_issuer_status, error_message, transient_failure, retry_count, last_retry_at, requested_by,
	metadata, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`,
		uuid.UUID(certificateID))
	return scanCertificate(row)
}

func (s *PostgresStore) FindActiveDuplicate(ctx context.Context, key models.BusinessKey) (*models.Certificate, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates
		WHERE policy_number = $1 AND registration_number = $2 AND company_code = $3
		  AND status = ANY($4)
		LIMIT 1
	`, key.PolicyNumber, key.RegistrationNumber, key.CompanyCode, pq.Array(statusStrings(models.ActiveStatuses)))
	return scanCertificate(row)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.Certificate, error) {
	return s.query(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, string(status), updatedBefore, limitOrDefault(limit))
}

func (s *PostgresStore) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*models.Certificate, error) {
	return s.query(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates
		WHERE status = $1 AND transient_failure AND retry_count < $2
		ORDER BY updated_at
		LIMIT $3
	`, string(models.StatusFailed), maxRetries, limitOrDefault(limit))
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Certificate, error) {
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	var out []*models.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

// RunInTx runs fn in a database transaction, joining one already in ctx.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		return fn(ctx, &pgTx{store: s})
	})
}

type pgTx struct {
	store *PostgresStore
}

func (t *pgTx) exec(ctx context.Context) txcontext.Execer {
	return txcontext.ExecerFrom(ctx, t.store.db)
}

func (t *pgTx) Insert(ctx context.Context, c *models.Certificate) error {
	metadata, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx).ExecContext(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		uuid.UUID(c.ID), c.ReferenceNumber, c.Key.PolicyNumber, c.Key.RegistrationNumber, c.Key.CompanyCode, c.AgentCode,
		nullString(c.IssuerRequestNumber), nullString(c.IssuerCertificateNumber), nullString(c.DownloadLocator), string(c.Status()),
		nullInt(c.LastIssuerStatus), c.ErrorMessage, c.TransientFailure, c.RetryCount, nullTime(c.LastRetryAt), c.RequestedBy,
		metadata, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("insert certificate", c, err)
	}
	return nil
}

func (t *pgTx) LockByID(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error) {
	row := t.exec(ctx).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1 FOR UPDATE`,
		uuid.UUID(certificateID))
	return scanCertificate(row)
}

func (t *pgTx) Update(ctx context.Context, c *models.Certificate) error {
	metadata, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}
	res, err := t.exec(ctx).ExecContext(ctx, `
		UPDATE certificates SET
			issuer_request_number = $2,
			issuer_certificate_number = $3,
			download_locator = $4,
			status = $5,
			last_issuer_status = $6,
			error_message = $7,
			transient_failure = $8,
			retry_count = $9,
			last_retry_at = $10,
			metadata = $11,
			updated_at = $12
		WHERE id = $1
	`,
		uuid.UUID(c.ID),
		nullString(c.IssuerRequestNumber), nullString(c.IssuerCertificateNumber), nullString(c.DownloadLocator),
		string(c.Status()), nullInt(c.LastIssuerStatus), c.ErrorMessage, c.TransientFailure, c.RetryCount, nullTime(c.LastRetryAt),
		metadata, c.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("update certificate", c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certificate rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update certificate %s: %w", c.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	return t.store.audit.AppendAudit(ctx, e)
}

func mapWriteError(op string, c *models.Certificate, err error) error {
	if postgres.IsUniqueViolation(err, activeBusinessKeyIndex) {
		return fmt.Errorf("%s: active certificate exists for %s: %w", op, c.Key, sentinel.ErrConflict)
	}
	if postgres.IsUniqueViolation(err, "") {
		return fmt.Errorf("%s %s: %w", op, c.ID, errors.Join(sentinel.ErrConflict, err))
	}
	return fmt.Errorf("%s %s: %w", op, c.ID, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	var (
		c                                  models.Certificate
		certID                             uuid.UUID
		requestNumber, certNumber, locator sql.NullString
		status                             string
		lastIssuerStatus                   sql.NullInt64
		lastRetryAt                        sql.NullTime
		metadata                           []byte
	)
	err := row.Scan(
		&certID, &c.ReferenceNumber, &c.Key.PolicyNumber, &c.Key.RegistrationNumber, &c.Key.CompanyCode, &c.AgentCode,
		&requestNumber, &certNumber, &locator, &status,
		&lastIssuerStatus, &c.ErrorMessage, &c.TransientFailure, &c.RetryCount, &lastRetryAt, &c.RequestedBy,
		&metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}

	st, err := models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan certificate %s: %w", certID, err)
	}
	c.ID = id.CertificateID(certID)
	c.IssuerRequestNumber = requestNumber.String
	c.IssuerCertificateNumber = certNumber.String
	c.DownloadLocator = locator.String
	if lastIssuerStatus.Valid {
		v := int(lastIssuerStatus.Int64)
		c.LastIssuerStatus = &v
	}
	if lastRetryAt.Valid {
		v := lastRetryAt.Time
		c.LastRetryAt = &v
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode certificate metadata: %w", err)
		}
	}
	if len(c.Metadata) == 0 {
		c.Metadata = nil
	}
	return models.RestoreCertificate(c, st), nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal certificate metadata: %w", err)
	}
	return b, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
