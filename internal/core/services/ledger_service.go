package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/SscSPs/payment_settlement/internal/platform/metrics"
	"github.com/SscSPs/payment_settlement/internal/utils"
	"github.com/SscSPs/payment_settlement/internal/utils/pagination"
	"github.com/google/uuid"
)

const (
	defaultLedgerMaxRetries = 5
	defaultReservationTTL   = 15 * time.Minute
	conflictBaseDelay       = 2 * time.Millisecond
	conflictMaxDelay        = 50 * time.Millisecond
)

// ledgerService owns accounts, reservations and ledger entries.
// Every mutation reads the account snapshots, computes the new ones and
// writes them with a compare-and-swap on the account versions.
type ledgerService struct {
	BaseService
	repo           portsrepo.LedgerRepositoryFacade
	maxRetries     int
	reservationTTL time.Duration
}

// LedgerOption is a functional option for configuring the ledger service
type LedgerOption func(*ledgerService)

// WithLedgerMaxRetries bounds the optimistic-concurrency retries per operation.
func WithLedgerMaxRetries(n int) LedgerOption {
	return func(s *ledgerService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithReservationTTL sets how long a reservation may stay unresolved.
func WithReservationTTL(ttl time.Duration) LedgerOption {
	return func(s *ledgerService) {
		if ttl > 0 {
			s.reservationTTL = ttl
		}
	}
}

// WithLedgerClock overrides the clock.
func WithLedgerClock(clock func() time.Time) LedgerOption {
	return func(s *ledgerService) {
		s.Clock = clock
	}
}

// NewLedgerService creates a new ledger service with the provided options
func NewLedgerService(repo portsrepo.LedgerRepositoryFacade, options ...LedgerOption) portssvc.LedgerSvcFacade {
	svc := &ledgerService{
		repo:           repo,
		maxRetries:     defaultLedgerMaxRetries,
		reservationTTL: defaultReservationTTL,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

var _ portssvc.LedgerSvcFacade = (*ledgerService)(nil)

// withRetry reruns fn while it fails with a version conflict, sleeping with jitter between attempts.
func (s *ledgerService) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, apperrors.ErrConflict) {
			return err
		}
		metrics.LedgerConflictsTotal.WithLabelValues(op).Inc()
		if attempt == s.maxRetries {
			break
		}
		delay := utils.Jitter(utils.ExponentialBackoff(attempt, conflictBaseDelay, conflictMaxDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	s.LogWarn(ctx, "Ledger conflict retries exhausted", slog.String("operation", op), slog.Int("attempts", s.maxRetries))
	return fmt.Errorf("%s after %d attempts: %w", op, s.maxRetries, err)
}

func (s *ledgerService) Reserve(ctx context.Context, transactionID, accountID string, amount int64) (*domain.Reservation, error) {
	if amount == 0 {
		return nil, apperrors.NewValidationError("reservation amount must not be zero")
	}
	var reservation domain.Reservation
	err := s.withRetry(ctx, "reserve", func() error {
		acc, err := s.repo.FindAccountByID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("reserve on account %s: %w", accountID, err)
		}

		debit := amount < 0
		if !acc.IsActive || (debit && acc.IsLocked) {
			return fmt.Errorf("account %s: %w", accountID, apperrors.ErrAccountLocked)
		}
		if debit && acc.Available() < -amount {
			return fmt.Errorf("account %s has %d available, needs %d: %w", accountID, acc.Available(), -amount, apperrors.ErrInsufficientFunds)
		}

		now := s.Now()
		next := *acc
		if debit {
			next.Held += -amount
		}
		next.Version = acc.Version + 1
		next.LastUpdatedAt = now
		next.LastUpdatedBy = domain.SystemActor

		reservation = domain.Reservation{
			ReservationID: uuid.NewString(),
			TransactionID: transactionID,
			AccountID:     accountID,
			Amount:        amount,
			Status:        domain.ReservationActive,
			ExpiresAt:     now.Add(s.reservationTTL),
			CreatedAt:     now,
		}
		entry := newEntry(transactionID, reservation.ReservationID, domain.EntryReserve, amount, next, now)

		return s.repo.ApplyLedgerChange(ctx, domain.LedgerChange{
			Accounts:     []domain.AccountUpdate{{Account: next, ExpectedVersion: acc.Version}},
			Entries:      []domain.LedgerEntry{entry},
			Reservations: []domain.Reservation{reservation},
		})
	})
	if err != nil {
		return nil, err
	}
	s.LogDebug(ctx, "Funds reserved",
		slog.String("account_id", accountID),
		slog.String("reservation_id", reservation.ReservationID),
		slog.Int64("amount", amount))
	return &reservation, nil
}

// resolution describes how one kind of resolution moves a reservation.
type resolution struct {
	op    string
	from  domain.ReservationStatus // Status the reservation must be in
	to    domain.ReservationStatus
	kind  domain.EntryKind
	apply func(acc *domain.Account, r domain.Reservation) (int64, error) // returns the signed entry amount
}

var (
	commitResolution = resolution{
		op: "commit", from: domain.ReservationActive, to: domain.ReservationCommitted, kind: domain.EntryCommit,
		apply: func(acc *domain.Account, r domain.Reservation) (int64, error) {
			if r.IsDebit() {
				acc.Held -= -r.Amount
			}
			acc.Balance += r.Amount
			return r.Amount, nil
		},
	}
	releaseResolution = resolution{
		op: "release", from: domain.ReservationActive, to: domain.ReservationReleased, kind: domain.EntryRelease,
		apply: func(acc *domain.Account, r domain.Reservation) (int64, error) {
			if r.IsDebit() {
				acc.Held -= -r.Amount
			}
			return -r.Amount, nil
		},
	}
	reverseResolution = resolution{
		op: "reverse", from: domain.ReservationCommitted, to: domain.ReservationReversed, kind: domain.EntryReverse,
		apply: func(acc *domain.Account, r domain.Reservation) (int64, error) {
			// Taking back a credit must not overdraw the account
			if !r.IsDebit() && acc.Available() < r.Amount {
				return 0, fmt.Errorf("account %s has %d available, reversal needs %d: %w", acc.AccountID, acc.Available(), r.Amount, apperrors.ErrInsufficientFunds)
			}
			acc.Balance -= r.Amount
			return -r.Amount, nil
		},
	}
)

func (s *ledgerService) Commit(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error) {
	return s.resolve(ctx, commitResolution, transactionID, reservationIDs)
}

func (s *ledgerService) Release(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error) {
	return s.resolve(ctx, releaseResolution, transactionID, reservationIDs)
}

func (s *ledgerService) Reverse(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error) {
	return s.resolve(ctx, reverseResolution, transactionID, reservationIDs)
}

// resolve moves every reservation with one atomic ledger change, so the legs of a
// transfer land together or not at all. Reservations already in the target status are skipped.
func (s *ledgerService) resolve(ctx context.Context, res resolution, transactionID string, reservationIDs []string) ([]domain.LedgerEntry, error) {
	if len(reservationIDs) == 0 {
		return nil, nil
	}
	var entries []domain.LedgerEntry
	err := s.withRetry(ctx, res.op, func() error {
		entries = nil
		reservations, err := s.repo.FindReservationsByIDs(ctx, reservationIDs)
		if err != nil {
			return fmt.Errorf("%s: loading reservations: %w", res.op, err)
		}

		pending := make([]domain.Reservation, 0, len(reservations))
		accountIDs := make([]string, 0, len(reservations))
		for _, r := range reservations {
			if r.TransactionID != transactionID {
				return apperrors.NewValidationError(fmt.Sprintf("reservation %s does not belong to transaction %s", r.ReservationID, transactionID))
			}
			switch r.Status {
			case res.to:
				continue
			case res.from:
				pending = append(pending, r)
				accountIDs = append(accountIDs, r.AccountID)
			default:
				return fmt.Errorf("cannot %s reservation %s in status %s: %w", res.op, r.ReservationID, r.Status, apperrors.ErrInvalidTransition)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		originals, err := s.repo.FindAccountsByIDs(ctx, accountIDs)
		if err != nil {
			return fmt.Errorf("%s: loading accounts: %w", res.op, err)
		}
		working := make(map[string]*domain.Account, len(originals))
		for id, acc := range originals {
			acc := acc
			working[id] = &acc
		}

		now := s.Now()
		change := domain.LedgerChange{}
		for _, r := range pending {
			acc, ok := working[r.AccountID]
			if !ok {
				return fmt.Errorf("account %s: %w", r.AccountID, apperrors.ErrNotFound)
			}
			amount, err := res.apply(acc, r)
			if err != nil {
				return err
			}
			if acc.Balance < 0 || acc.Available() < 0 {
				return fmt.Errorf("account %s would go negative on %s: %w", acc.AccountID, res.op, apperrors.ErrInternal)
			}
			resolvedAt := now
			r.Status = res.to
			r.ResolvedAt = &resolvedAt
			change.Reservations = append(change.Reservations, r)
			change.Entries = append(change.Entries, newEntry(transactionID, r.ReservationID, res.kind, amount, *acc, now))
		}

		// Deterministic order keeps row locks acquired in the same sequence by every writer
		ids := make([]string, 0, len(working))
		for id := range working {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			next := *working[id]
			next.Version = originals[id].Version + 1
			next.LastUpdatedAt = now
			next.LastUpdatedBy = domain.SystemActor
			change.Accounts = append(change.Accounts, domain.AccountUpdate{Account: next, ExpectedVersion: originals[id].Version})
		}

		if err := s.repo.ApplyLedgerChange(ctx, change); err != nil {
			return err
		}
		entries = change.Entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		s.LogDebug(ctx, "Reservations resolved",
			slog.String("operation", res.op),
			slog.Int("entries", len(entries)))
	}
	return entries, nil
}

func (s *ledgerService) PostOpeningBalance(ctx context.Context, accountID string, amount int64, userID string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, apperrors.NewValidationError("opening balance must be positive")
	}
	var entry domain.LedgerEntry
	err := s.withRetry(ctx, "opening_balance", func() error {
		acc, err := s.repo.FindAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		now := s.Now()
		next := *acc
		next.Balance += amount
		next.Version = acc.Version + 1
		next.LastUpdatedAt = now
		next.LastUpdatedBy = userID
		entry = newEntry("OPENING-"+accountID, "", domain.EntryCommit, amount, next, now)
		return s.repo.ApplyLedgerChange(ctx, domain.LedgerChange{
			Accounts: []domain.AccountUpdate{{Account: next, ExpectedVersion: acc.Version}},
			Entries:  []domain.LedgerEntry{entry},
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *ledgerService) UpdateAccountFlags(ctx context.Context, accountID string, userID string, mutate func(*domain.Account) error) (*domain.Account, error) {
	var updated domain.Account
	err := s.withRetry(ctx, "update_flags", func() error {
		acc, err := s.repo.FindAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		next := *acc
		if err := mutate(&next); err != nil {
			return err
		}
		next.Version = acc.Version + 1
		next.LastUpdatedAt = s.Now()
		next.LastUpdatedBy = userID
		if err := s.repo.ApplyLedgerChange(ctx, domain.LedgerChange{
			Accounts: []domain.AccountUpdate{{Account: next, ExpectedVersion: acc.Version}},
		}); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *ledgerService) ReleaseExpired(ctx context.Context, now time.Time, limit int, keep func(context.Context, domain.Reservation) (bool, error)) (int, error) {
	expired, err := s.repo.ListExpiredReservations(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("listing expired reservations: %w", err)
	}
	released := 0
	var errs []error
	for _, r := range expired {
		ctx := middleware.WithLogger(ctx, s.GetLogger(ctx).With(slog.String("transaction_id", r.TransactionID)))
		if keep != nil {
			k, err := keep(ctx, r)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if k {
				continue
			}
		}
		if _, err := s.Release(ctx, r.TransactionID, r.ReservationID); err != nil {
			s.LogError(ctx, err, "Failed to release expired reservation",
				slog.String("reservation_id", r.ReservationID))
			errs = append(errs, err)
			continue
		}
		s.LogInfo(ctx, "Expired reservation released",
			slog.String("reservation_id", r.ReservationID),
			slog.Int64("amount", r.Amount))
		released++
	}
	return released, errors.Join(errs...)
}

func (s *ledgerService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	acc, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("account " + accountID + " not found")
		}
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	return acc, nil
}

func (s *ledgerService) ListEntries(ctx context.Context, accountID string, limit int, nextToken *string) ([]domain.LedgerEntry, *string, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, nil, err
	}
	cursor, err := decodeCursor(nextToken)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.repo.ListEntriesByAccount(ctx, accountID, limit+1, cursor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list entries for account %s: %w", accountID, err)
	}
	var next *string
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		token := pagination.EncodeToken(last.CreatedAt, last.EntryID)
		next = &token
	}
	return entries, next, nil
}

func newEntry(transactionID, reservationID string, kind domain.EntryKind, amount int64, after domain.Account, now time.Time) domain.LedgerEntry {
	return domain.LedgerEntry{
		EntryID:        uuid.NewString(),
		TransactionID:  transactionID,
		AccountID:      after.AccountID,
		ReservationID:  reservationID,
		Kind:           kind,
		Amount:         amount,
		BalanceAfter:   after.Balance,
		AvailableAfter: after.Available(),
		CreatedAt:      now,
	}
}

func decodeCursor(token *string) (*portsrepo.PageCursor, error) {
	if token == nil || *token == "" {
		return nil, nil
	}
	createdAt, id, err := pagination.DecodeToken(*token)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return &portsrepo.PageCursor{CreatedAt: createdAt, ID: id}, nil
}
