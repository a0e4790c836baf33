package services

import (
	"context"
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

// LedgerWriterSvc moves funds. Every operation is retried internally on
// optimistic-concurrency conflicts and surfaces apperrors.ErrConflict only
// after the retry budget is spent.
type LedgerWriterSvc interface {
	// Reserve places a hold. A negative amount holds funds on a debit leg,
	// a positive amount records a pending credit.
	Reserve(ctx context.Context, transactionID, accountID string, amount int64) (*domain.Reservation, error)

	// Commit finalizes the reservations atomically. Already committed reservations are skipped.
	Commit(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error)

	// Release drops the reservations atomically. Already released reservations are skipped.
	Release(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error)

	// Reverse offsets committed reservations with compensating entries.
	Reverse(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error)

	// PostOpeningBalance credits an account without a reservation.
	PostOpeningBalance(ctx context.Context, accountID string, amount int64, userID string) (*domain.LedgerEntry, error)

	// UpdateAccountFlags persists lock and activation flags under the version check.
	UpdateAccountFlags(ctx context.Context, accountID string, userID string, mutate func(*domain.Account) error) (*domain.Account, error)

	// ReleaseExpired releases active reservations past their TTL unless keep says otherwise.
	ReleaseExpired(ctx context.Context, now time.Time, limit int, keep func(context.Context, domain.Reservation) (bool, error)) (int, error)
}

// LedgerReaderSvc exposes ledger state.
type LedgerReaderSvc interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)

	// ListEntries returns entries newest first with an opaque continuation token.
	ListEntries(ctx context.Context, accountID string, limit int, nextToken *string) ([]domain.LedgerEntry, *string, error)
}

// LedgerSvcFacade combines the ledger service interfaces.
type LedgerSvcFacade interface {
	LedgerWriterSvc
	LedgerReaderSvc
}
