package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/platform/metrics"
	"github.com/SscSPs/payment_settlement/internal/utils"
	"golang.org/x/sync/singleflight"
)

const (
	defaultIdempotencyRetention   = 24 * time.Hour
	defaultIdempotencyWaitTimeout = 5 * time.Second
	idempotencyPollBase           = 10 * time.Millisecond
	idempotencyPollMax            = 250 * time.Millisecond
)

// idempotencyService guarantees at-most-once execution per (scope, key).
// The store's unique key is the cross-process guard; singleflight collapses
// concurrent callers inside one process onto a single store round-trip.
type idempotencyService struct {
	BaseService
	repo        portsrepo.IdempotencyRepository
	retention   time.Duration
	waitTimeout time.Duration
	group       singleflight.Group
}

// IdempotencyOption is a functional option for configuring the idempotency service
type IdempotencyOption func(*idempotencyService)

// WithIdempotencyRetention sets how long keys are remembered.
func WithIdempotencyRetention(d time.Duration) IdempotencyOption {
	return func(s *idempotencyService) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithIdempotencyWaitTimeout bounds how long a duplicate waits for the original caller.
func WithIdempotencyWaitTimeout(d time.Duration) IdempotencyOption {
	return func(s *idempotencyService) {
		if d > 0 {
			s.waitTimeout = d
		}
	}
}

// WithIdempotencyClock overrides the clock.
func WithIdempotencyClock(clock func() time.Time) IdempotencyOption {
	return func(s *idempotencyService) {
		s.Clock = clock
	}
}

// NewIdempotencyService creates the idempotency registry.
func NewIdempotencyService(repo portsrepo.IdempotencyRepository, options ...IdempotencyOption) portssvc.IdempotencySvc {
	svc := &idempotencyService{
		repo:        repo,
		retention:   defaultIdempotencyRetention,
		waitTimeout: defaultIdempotencyWaitTimeout,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

var _ portssvc.IdempotencySvc = (*idempotencyService)(nil)

// idempotencyClaim is the handle of the caller that won the key.
type idempotencyClaim struct {
	svc   *idempotencyService
	scope domain.IdempotencyScope
	key   string
	txnID string
}

func (c *idempotencyClaim) Complete(ctx context.Context, response domain.StoredResponse) error {
	if response.TransactionID == "" {
		response.TransactionID = c.txnID
	}
	if err := c.svc.repo.CompleteIdempotencyRecord(ctx, c.scope, c.key, response, c.svc.Now()); err != nil {
		return fmt.Errorf("completing idempotency key %s/%s: %w", c.scope, c.key, err)
	}
	return nil
}

func (c *idempotencyClaim) Abandon(ctx context.Context) error {
	if err := c.svc.repo.DeleteInProgressRecord(ctx, c.scope, c.key); err != nil {
		return fmt.Errorf("abandoning idempotency key %s/%s: %w", c.scope, c.key, err)
	}
	return nil
}

func (s *idempotencyService) BeginOrReplay(ctx context.Context, scope domain.IdempotencyScope, key, requestHash, transactionID string) (*portssvc.IdempotencyOutcome, error) {
	if key == "" {
		return nil, apperrors.NewValidationError("idempotency key is required")
	}
	logger := s.GetLogger(ctx).With(slog.String("idempotency_scope", string(scope)), slog.String("idempotency_key", key))

	deadline := time.Now().Add(s.waitTimeout)
	for attempt := 1; ; attempt++ {
		now := s.Now()
		err := s.repo.CreateIdempotencyRecord(ctx, domain.IdempotencyRecord{
			Scope:         scope,
			Key:           key,
			RequestHash:   requestHash,
			TransactionID: transactionID,
			Status:        domain.IdempotencyInProgress,
			FirstSeenAt:   now,
			ExpiresAt:     now.Add(s.retention),
		})
		if err == nil {
			metrics.IdempotencyOutcomesTotal.WithLabelValues(string(scope), "fresh").Inc()
			return &portssvc.IdempotencyOutcome{Claim: &idempotencyClaim{svc: s, scope: scope, key: key, txnID: transactionID}}, nil
		}
		if !errors.Is(err, apperrors.ErrDuplicate) {
			return nil, fmt.Errorf("claiming idempotency key: %w", err)
		}

		existing, err := s.repo.FindIdempotencyRecord(ctx, scope, key)
		if errors.Is(err, apperrors.ErrNotFound) {
			// Abandoned or purged between our insert and read; try to claim again
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading idempotency key: %w", err)
		}
		if existing.RequestHash != requestHash {
			metrics.IdempotencyOutcomesTotal.WithLabelValues(string(scope), "mismatch").Inc()
			logger.Warn("Idempotency key reused with a different payload")
			return nil, apperrors.ErrIdempotencyMismatch
		}
		if existing.Status == domain.IdempotencyCompleted {
			metrics.IdempotencyOutcomesTotal.WithLabelValues(string(scope), "replay").Inc()
			logger.Debug("Replaying stored response")
			return &portssvc.IdempotencyOutcome{Replay: &domain.StoredResponse{
				TransactionID: existing.TransactionID,
				StatusCode:    existing.ResponseStatus,
				Body:          existing.ResponseBody,
			}}, nil
		}

		// Another caller is still running the side effects
		if time.Now().After(deadline) {
			metrics.IdempotencyOutcomesTotal.WithLabelValues(string(scope), "timeout").Inc()
			logger.Warn("Gave up waiting for in-progress idempotency key")
			return nil, apperrors.ErrIdempotencyInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(utils.Jitter(utils.ExponentialBackoff(attempt, idempotencyPollBase, idempotencyPollMax))):
		}
	}
}

type executeResult struct {
	response domain.StoredResponse
	replayed bool
}

func (s *idempotencyService) Execute(ctx context.Context, scope domain.IdempotencyScope, key, requestHash, transactionID string,
	fn func(ctx context.Context) (domain.StoredResponse, error)) (domain.StoredResponse, bool, error) {
	flightKey := string(scope) + "|" + key + "|" + requestHash
	v, err, _ := s.group.Do(flightKey, func() (any, error) {
		// The flight outlives any single caller's cancellation
		runCtx := context.WithoutCancel(ctx)

		outcome, err := s.BeginOrReplay(runCtx, scope, key, requestHash, transactionID)
		if err != nil {
			return nil, err
		}
		if outcome.Replay != nil {
			return executeResult{response: *outcome.Replay, replayed: true}, nil
		}

		response, err := fn(runCtx)
		if err != nil {
			if abandonErr := outcome.Claim.Abandon(runCtx); abandonErr != nil {
				s.LogError(runCtx, abandonErr, "Failed to abandon idempotency claim")
			}
			return nil, err
		}
		if err := outcome.Claim.Complete(runCtx, response); err != nil {
			// The side effects happened; the caller still gets their result
			s.LogError(runCtx, err, "Failed to store idempotent response")
		}
		return executeResult{response: response}, nil
	})
	if err != nil {
		return domain.StoredResponse{}, false, err
	}
	res := v.(executeResult)
	return res.response, res.replayed, nil
}

func (s *idempotencyService) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.repo.PurgeIdempotencyRecords(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purging idempotency keys: %w", err)
	}
	if n > 0 {
		s.LogInfo(ctx, "Purged expired idempotency keys", slog.Int64("count", n))
	}
	return n, nil
}
