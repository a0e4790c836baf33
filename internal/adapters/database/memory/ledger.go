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

func (s *Store) SaveAccount(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.AccountID]; ok {
		return fmt.Errorf("%w: account with ID %s already exists", apperrors.ErrDuplicate, account.AccountID)
	}
	s.accounts[account.AccountID] = account
	return nil
}

func (s *Store) FindAccountByID(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &acc, nil
}

func (s *Store) FindAccountsByIDs(_ context.Context, accountIDs []string) (map[string]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Account, len(accountIDs))
	for _, id := range accountIDs {
		if acc, ok := s.accounts[id]; ok {
			out[id] = acc
		}
	}
	return out, nil
}

// ApplyLedgerChange validates every version first, then writes everything.
func (s *Store) ApplyLedgerChange(_ context.Context, change domain.LedgerChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, upd := range change.Accounts {
		current, ok := s.accounts[upd.Account.AccountID]
		if !ok {
			return fmt.Errorf("account %s: %w", upd.Account.AccountID, apperrors.ErrNotFound)
		}
		if current.Version != upd.ExpectedVersion {
			return fmt.Errorf("account %s at version %d, expected %d: %w",
				upd.Account.AccountID, current.Version, upd.ExpectedVersion, apperrors.ErrConflict)
		}
	}
	for _, e := range change.Entries {
		if _, dup := s.entryIDs[e.EntryID]; dup {
			return fmt.Errorf("%w: ledger entry %s", apperrors.ErrDuplicate, e.EntryID)
		}
	}

	for _, upd := range change.Accounts {
		s.accounts[upd.Account.AccountID] = upd.Account
	}
	for _, r := range change.Reservations {
		s.reservations[r.ReservationID] = r
	}
	for _, e := range change.Entries {
		s.entryIDs[e.EntryID] = struct{}{}
		s.entries[e.AccountID] = append(s.entries[e.AccountID], e)
	}
	return nil
}

func (s *Store) FindReservationsByIDs(_ context.Context, reservationIDs []string) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Reservation, 0, len(reservationIDs))
	for _, id := range reservationIDs {
		r, ok := s.reservations[id]
		if !ok {
			return nil, fmt.Errorf("reservation %s: %w", id, apperrors.ErrNotFound)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ListExpiredReservations(_ context.Context, before time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationActive && r.ExpiresAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListEntriesByAccount(_ context.Context, accountID string, limit int, after *portsrepo.PageCursor) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.entries[accountID]
	out := make([]domain.LedgerEntry, 0, len(all))
	for _, e := range all {
		if before(after, e.CreatedAt, e.EntryID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].EntryID > out[j].EntryID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
