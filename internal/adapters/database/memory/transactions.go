package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
)

// cloneTransaction detaches pointer and slice fields from the caller's copy.
func cloneTransaction(t domain.Transaction) domain.Transaction {
	c := t
	c.SourceAccountID = cloneString(t.SourceAccountID)
	c.DestinationAccountID = cloneString(t.DestinationAccountID)
	c.ExternalRef = cloneString(t.ExternalRef)
	c.NextReconcileAt = cloneTime(t.NextReconcileAt)
	c.PendingSince = cloneTime(t.PendingSince)
	if t.ReservationIDs != nil {
		c.ReservationIDs = append([]string(nil), t.ReservationIDs...)
	}
	return c
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *Store) SaveTransaction(_ context.Context, txn domain.Transaction, event domain.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[txn.TransactionID]; ok {
		return fmt.Errorf("%w: transaction %s", apperrors.ErrDuplicate, txn.TransactionID)
	}
	if _, ok := s.references[txn.Reference]; ok {
		return fmt.Errorf("%w: reference %s", apperrors.ErrDuplicate, txn.Reference)
	}
	s.transactions[txn.TransactionID] = cloneTransaction(txn)
	s.references[txn.Reference] = txn.TransactionID
	s.events[txn.TransactionID] = []domain.TransitionEvent{event}
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, txn domain.Transaction, expectedVersion int64, event *domain.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.transactions[txn.TransactionID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", txn.TransactionID, apperrors.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("transaction %s at version %d, expected %d: %w",
			txn.TransactionID, current.Version, expectedVersion, apperrors.ErrConflict)
	}
	s.transactions[txn.TransactionID] = cloneTransaction(txn)
	if event != nil {
		s.events[txn.TransactionID] = append(s.events[txn.TransactionID], *event)
	}
	return nil
}

func (s *Store) FindTransactionByID(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[transactionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := cloneTransaction(t)
	return &c, nil
}

func (s *Store) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	s.mu.RLock()
	id, ok := s.references[reference]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s.FindTransactionByID(ctx, id)
}

func (s *Store) ListTransactionsByAccount(_ context.Context, accountID string, limit int, after *portsrepo.PageCursor) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.transactions {
		touches := (t.SourceAccountID != nil && *t.SourceAccountID == accountID) ||
			(t.DestinationAccountID != nil && *t.DestinationAccountID == accountID)
		if touches && before(after, t.CreatedAt, t.TransactionID) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TransactionID > out[j].TransactionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransitions(_ context.Context, transactionID string) ([]domain.TransitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TransitionEvent(nil), s.events[transactionID]...), nil
}

func (s *Store) ListPendingExternal(_ context.Context, pendingBefore, dueAt time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.Status != domain.StatusPendingExternal || t.PendingSince == nil || t.PendingSince.After(pendingBefore) {
			continue
		}
		if t.NextReconcileAt != nil && t.NextReconcileAt.After(dueAt) {
			continue
		}
		out = append(out, cloneTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PendingSince.Before(*out[j].PendingSince) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStaleInFlight(_ context.Context, before, dueAt time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.Status != domain.StatusCreated && t.Status != domain.StatusReserved {
			continue
		}
		if !t.LastUpdatedAt.After(before) && (t.NextReconcileAt == nil || !t.NextReconcileAt.After(dueAt)) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdatedAt.Before(out[j].LastUpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
