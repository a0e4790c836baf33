package repositories

import (
	"context"
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

// IdempotencyRepository persists idempotency records.
type IdempotencyRepository interface {
	// CreateIdempotencyRecord claims a key. It returns apperrors.ErrDuplicate if the key exists.
	CreateIdempotencyRecord(ctx context.Context, record domain.IdempotencyRecord) error

	FindIdempotencyRecord(ctx context.Context, scope domain.IdempotencyScope, key string) (*domain.IdempotencyRecord, error)

	// CompleteIdempotencyRecord stores the response of an in-progress claim.
	CompleteIdempotencyRecord(ctx context.Context, scope domain.IdempotencyScope, key string, response domain.StoredResponse, completedAt time.Time) error

	// DeleteInProgressRecord drops an unfinished claim so the key can be retried.
	// Completed records are left untouched.
	DeleteInProgressRecord(ctx context.Context, scope domain.IdempotencyScope, key string) error

	// PurgeIdempotencyRecords removes records that expired before the given time.
	PurgeIdempotencyRecords(ctx context.Context, before time.Time) (int64, error)
}
