package services

import (
	"context"
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

// IdempotencyClaim is held by the single caller allowed to run the side effects for a key.
type IdempotencyClaim interface {
	// Complete stores the response every later duplicate receives.
	Complete(ctx context.Context, response domain.StoredResponse) error

	// Abandon releases the key so a retry can run again.
	Abandon(ctx context.Context) error
}

// IdempotencyOutcome is either a fresh claim or a stored response to replay.
type IdempotencyOutcome struct {
	Claim  IdempotencyClaim
	Replay *domain.StoredResponse
}

// IdempotencySvc deduplicates retried requests and redelivered callbacks.
type IdempotencySvc interface {
	// BeginOrReplay claims the key or, if another caller holds it, waits for that
	// caller to finish and returns its stored response.
	BeginOrReplay(ctx context.Context, scope domain.IdempotencyScope, key, requestHash, transactionID string) (*IdempotencyOutcome, error)

	// Execute runs fn at most once per key and returns the same response to every caller.
	// The bool is true when the response was replayed rather than produced by this call.
	Execute(ctx context.Context, scope domain.IdempotencyScope, key, requestHash, transactionID string,
		fn func(ctx context.Context) (domain.StoredResponse, error)) (domain.StoredResponse, bool, error)

	// Purge removes records that expired before the given time.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
