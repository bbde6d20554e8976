package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"certo/internal/idempotency"
	"certo/pkg/platform/sentinel"
)

// PostgresStore persists idempotency records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `key, request_hash, status, response_status, response_body, requested_by, created_at, completed_at, expires_at`

func (s *PostgresStore) CreatePending(ctx context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	// A concurrent sweep can delete the row between the insert and the read,
	// so try twice before giving up.
	for range 2 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO idempotency_records (key, request_hash, status, requested_by, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO NOTHING
		`, rec.Key, rec.RequestHash, string(rec.Status), rec.RequestedBy, rec.CreatedAt, rec.ExpiresAt)
		if err != nil {
			return nil, false, fmt.Errorf("insert idempotency record: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("insert idempotency record rows affected: %w", err)
		}
		if rows == 1 {
			return nil, true, nil
		}

		existing, err := s.Get(ctx, rec.Key)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("insert idempotency record %q: %w", rec.Key, sentinel.ErrConflict)
}

func (s *PostgresStore) Finish(ctx context.Context, key string, status idempotency.Status, resp idempotency.Response, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = $2, response_status = $3, response_body = $4, completed_at = $5
		WHERE key = $1 AND status = 'pending'
	`, key, string(status), resp.StatusCode, resp.Body, at)
	if err != nil {
		return fmt.Errorf("finish idempotency record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish idempotency record rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM idempotency_records WHERE key = $1)`, key).Scan(&exists); err != nil {
		return fmt.Errorf("check idempotency record: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM idempotency_records WHERE key = $1`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(row *sql.Row) (*idempotency.Record, error) {
	var (
		rec         idempotency.Record
		status      string
		respStatus  sql.NullInt32
		respBody    []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(&rec.Key, &rec.RequestHash, &status, &respStatus, &respBody,
		&rec.RequestedBy, &rec.CreatedAt, &completedAt, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	rec.Status = idempotency.Status(status)
	if respStatus.Valid {
		rec.Response = &idempotency.Response{StatusCode: int(respStatus.Int32), Body: respBody}
	}
	if completedAt.Valid {
		at := completedAt.Time
		rec.CompletedAt = &at
	}
	return &rec, nil
}
