package pgsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	"github.com/SscSPs/payment_settlement/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const idempotencyColumns = `scope, idempotency_key, request_hash, transaction_id, status, response_status, response_body,
	first_seen_at, completed_at, expires_at`

type PgxIdempotencyRepository struct {
	BaseRepository
}

// newPgxIdempotencyRepository creates a new repository for idempotency keys.
func newPgxIdempotencyRepository(pool *pgxpool.Pool) portsrepo.IdempotencyRepository {
	return &PgxIdempotencyRepository{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.IdempotencyRepository = (*PgxIdempotencyRepository)(nil)

// CreateIdempotencyRecord claims a key. The primary key makes the claim atomic across processes.
func (r *PgxIdempotencyRepository) CreateIdempotencyRecord(ctx context.Context, record domain.IdempotencyRecord) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO idempotency_keys (scope, idempotency_key, request_hash, transaction_id, status, first_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);`,
		string(record.Scope), record.Key, record.RequestHash, record.TransactionID, string(record.Status),
		record.FirstSeenAt, record.ExpiresAt,
	)
	return mapPgError(err, "idempotency key "+string(record.Scope)+"/"+record.Key)
}

func (r *PgxIdempotencyRepository) FindIdempotencyRecord(ctx context.Context, scope domain.IdempotencyScope, key string) (*domain.IdempotencyRecord, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+idempotencyColumns+`
		FROM idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2;`, string(scope), key)
	if err != nil {
		return nil, fmt.Errorf("failed to query idempotency key: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.IdempotencyKey])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan idempotency key: %w", err)
	}
	rec := toDomainIdempotency(m)
	return &rec, nil
}

// CompleteIdempotencyRecord stores the response. A transaction ID already recorded is never replaced.
func (r *PgxIdempotencyRepository) CompleteIdempotencyRecord(ctx context.Context, scope domain.IdempotencyScope, key string, response domain.StoredResponse, completedAt time.Time) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $1, response_status = $2, response_body = $3, completed_at = $4,
			transaction_id = CASE WHEN transaction_id = '' THEN $5 ELSE transaction_id END
		WHERE scope = $6 AND idempotency_key = $7 AND status = $8;`,
		string(domain.IdempotencyCompleted), response.StatusCode, []byte(response.Body), completedAt,
		response.TransactionID, string(scope), key, string(domain.IdempotencyInProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %s/%s is not in progress: %w", scope, key, apperrors.ErrConflict)
	}
	return nil
}

func (r *PgxIdempotencyRepository) DeleteInProgressRecord(ctx context.Context, scope domain.IdempotencyScope, key string) error {
	_, err := r.Pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2 AND status = $3;`,
		string(scope), key, string(domain.IdempotencyInProgress))
	if err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}

func (r *PgxIdempotencyRepository) PurgeIdempotencyRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1;`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
