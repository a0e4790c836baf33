package repositories

import (
	"context"
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

// AccountReader defines read operations for account snapshots.
type AccountReader interface {
	// FindAccountByID retrieves a specific account by its unique identifier.
	FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error)

	// FindAccountsByIDs retrieves multiple accounts by their IDs.
	FindAccountsByIDs(ctx context.Context, accountIDs []string) (map[string]domain.Account, error)
}

// AccountWriter defines write operations that do not go through a ledger change.
type AccountWriter interface {
	// SaveAccount persists a new account with version 0 and no entries.
	SaveAccount(ctx context.Context, account domain.Account) error
}

// LedgerReader defines read operations for reservations and entries.
type LedgerReader interface {
	// FindReservationsByIDs returns the reservations in the order requested.
	FindReservationsByIDs(ctx context.Context, reservationIDs []string) ([]domain.Reservation, error)

	// ListExpiredReservations returns active reservations whose TTL elapsed before the given time.
	ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]domain.Reservation, error)

	// ListEntriesByAccount returns entries newest first, starting after the cursor when given.
	ListEntriesByAccount(ctx context.Context, accountID string, limit int, after *PageCursor) ([]domain.LedgerEntry, error)
}

// LedgerWriter applies balance changes.
type LedgerWriter interface {
	// ApplyLedgerChange writes account snapshots, entries and reservations atomically.
	// It returns apperrors.ErrConflict if any account version moved since it was read.
	ApplyLedgerChange(ctx context.Context, change domain.LedgerChange) error
}

// LedgerRepositoryFacade combines all ledger-related repository interfaces.
type LedgerRepositoryFacade interface {
	AccountReader
	AccountWriter
	LedgerReader
	LedgerWriter
}
