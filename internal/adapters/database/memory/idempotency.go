package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

func idemKey(scope domain.IdempotencyScope, key string) string {
	return string(scope) + "|" + key
}

func (s *Store) CreateIdempotencyRecord(_ context.Context, record domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey(record.Scope, record.Key)
	if _, ok := s.idempotency[k]; ok {
		return fmt.Errorf("%w: idempotency key %s", apperrors.ErrDuplicate, k)
	}
	s.idempotency[k] = record
	return nil
}

func (s *Store) FindIdempotencyRecord(_ context.Context, scope domain.IdempotencyScope, key string) (*domain.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[idemKey(scope, key)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &rec, nil
}

func (s *Store) CompleteIdempotencyRecord(_ context.Context, scope domain.IdempotencyScope, key string, response domain.StoredResponse, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey(scope, key)
	rec, ok := s.idempotency[k]
	if !ok {
		return fmt.Errorf("idempotency key %s: %w", k, apperrors.ErrNotFound)
	}
	if rec.Status == domain.IdempotencyCompleted {
		return fmt.Errorf("idempotency key %s already completed: %w", k, apperrors.ErrConflict)
	}
	rec.Status = domain.IdempotencyCompleted
	rec.ResponseStatus = response.StatusCode
	rec.ResponseBody = append([]byte(nil), response.Body...)
	if rec.TransactionID == "" {
		rec.TransactionID = response.TransactionID
	}
	rec.CompletedAt = &completedAt
	s.idempotency[k] = rec
	return nil
}

func (s *Store) DeleteInProgressRecord(_ context.Context, scope domain.IdempotencyScope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey(scope, key)
	if rec, ok := s.idempotency[k]; ok && rec.Status == domain.IdempotencyInProgress {
		delete(s.idempotency, k)
	}
	return nil
}

func (s *Store) PurgeIdempotencyRecords(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.idempotency {
		if rec.ExpiresAt.Before(before) {
			delete(s.idempotency, k)
			n++
		}
	}
	return n, nil
}
