package repositories

import (
	"context"
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

// TransactionReader defines read operations for transactions and their audit trail.
type TransactionReader interface {
	FindTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error)

	// FindTransactionByReference looks a transaction up by the reference sent to the gateway.
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)

	// ListTransactionsByAccount returns transactions touching the account, newest first.
	ListTransactionsByAccount(ctx context.Context, accountID string, limit int, after *PageCursor) ([]domain.Transaction, error)

	// ListTransitions returns the audit trail of a transaction in order.
	ListTransitions(ctx context.Context, transactionID string) ([]domain.TransitionEvent, error)

	// ListPendingExternal returns PendingExternal transactions pending since before pendingBefore
	// whose next reconciliation check is due at dueAt.
	ListPendingExternal(ctx context.Context, pendingBefore, dueAt time.Time, limit int) ([]domain.Transaction, error)

	// ListStaleInFlight returns Created or Reserved transactions not updated since before
	// whose next reconciliation check, if scheduled, is due at dueAt.
	ListStaleInFlight(ctx context.Context, before, dueAt time.Time, limit int) ([]domain.Transaction, error)
}

// TransactionWriter defines write operations for transactions.
type TransactionWriter interface {
	// SaveTransaction persists a new transaction with its creation event.
	// It returns apperrors.ErrDuplicate if the ID or reference is taken.
	SaveTransaction(ctx context.Context, txn domain.Transaction, event domain.TransitionEvent) error

	// UpdateTransaction replaces the stored row if its version still equals expectedVersion,
	// appending the event when one is given. A stale version returns apperrors.ErrConflict.
	UpdateTransaction(ctx context.Context, txn domain.Transaction, expectedVersion int64, event *domain.TransitionEvent) error
}

// TransactionRepositoryFacade combines all transaction-related repository interfaces.
type TransactionRepositoryFacade interface {
	TransactionReader
	TransactionWriter
}
