package pgsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	"github.com/SscSPs/payment_settlement/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	transactionColumns = `transaction_id, reference, kind, source_account_id, destination_account_id, amount, currency_code,
		operator_code, phone_number, external_ref, status, failure_reason, error_message, reservation_ids,
		callback_received, review_required, reconcile_attempts, next_reconcile_at, pending_since, reversal_reason,
		version, created_at, created_by, last_updated_at, last_updated_by`
	eventColumns = `transaction_id, from_status, to_status, actor, reason, version, occurred_at`
)

type PgxTransactionRepository struct {
	BaseRepository
}

// newPgxTransactionRepository creates a new repository for transactions and their audit trail.
func newPgxTransactionRepository(pool *pgxpool.Pool) portsrepo.TransactionRepositoryFacade {
	return &PgxTransactionRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxTransactionRepository implements portsrepo.TransactionRepositoryFacade
var _ portsrepo.TransactionRepositoryFacade = (*PgxTransactionRepository)(nil)

func insertEvent(ctx context.Context, tx pgx.Tx, e domain.TransitionEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transaction_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7);`,
		e.TransactionID, string(e.From), string(e.To), e.Actor, e.Reason, e.Version, e.OccurredAt,
	)
	return mapPgError(err, "transition event for "+e.TransactionID)
}

// SaveTransaction inserts a new transaction together with its creation event.
func (r *PgxTransactionRepository) SaveTransaction(ctx context.Context, txn domain.Transaction, event domain.TransitionEvent) error {
	m := toModelTransaction(txn)
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25);`,
			m.TransactionID, m.Reference, m.Kind, m.SourceAccountID, m.DestinationAccountID, m.Amount, m.CurrencyCode,
			m.OperatorCode, m.PhoneNumber, m.ExternalRef, m.Status, m.FailureReason, m.ErrorMessage, m.ReservationIDs,
			m.CallbackReceived, m.ReviewRequired, m.ReconcileAttempts, m.NextReconcileAt, m.PendingSince, m.ReversalReason,
			m.Version, m.CreatedAt, m.CreatedBy, m.LastUpdatedAt, m.LastUpdatedBy,
		)
		if err != nil {
			return mapPgError(err, "transaction "+m.TransactionID)
		}
		return insertEvent(ctx, tx, event)
	})
}

// UpdateTransaction replaces the row if its version still equals expectedVersion.
func (r *PgxTransactionRepository) UpdateTransaction(ctx context.Context, txn domain.Transaction, expectedVersion int64, event *domain.TransitionEvent) error {
	m := toModelTransaction(txn)
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE transactions
			SET external_ref = $1, status = $2, failure_reason = $3, error_message = $4, reservation_ids = $5,
				callback_received = $6, review_required = $7, reconcile_attempts = $8, next_reconcile_at = $9,
				pending_since = $10, reversal_reason = $11, version = $12, last_updated_at = $13, last_updated_by = $14
			WHERE transaction_id = $15 AND version = $16;`,
			m.ExternalRef, m.Status, m.FailureReason, m.ErrorMessage, m.ReservationIDs,
			m.CallbackReceived, m.ReviewRequired, m.ReconcileAttempts, m.NextReconcileAt,
			m.PendingSince, m.ReversalReason, m.Version, m.LastUpdatedAt, m.LastUpdatedBy,
			m.TransactionID, expectedVersion,
		)
		if err != nil {
			return mapPgError(err, "transaction "+m.TransactionID)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("transaction %s at version %d: %w", m.TransactionID, expectedVersion, apperrors.ErrConflict)
		}
		if event == nil {
			return nil
		}
		return insertEvent(ctx, tx, *event)
	})
}

func (r *PgxTransactionRepository) findOne(ctx context.Context, where string, arg any) (*domain.Transaction, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE `+where+` = $1;`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.Transaction])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	txn := toDomainTransaction(m)
	return &txn, nil
}

func (r *PgxTransactionRepository) FindTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return r.findOne(ctx, "transaction_id", transactionID)
}

func (r *PgxTransactionRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return r.findOne(ctx, "reference", reference)
}

func (r *PgxTransactionRepository) collect(rows pgx.Rows, err error) ([]domain.Transaction, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Transaction])
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions: %w", err)
	}
	out := make([]domain.Transaction, 0, len(found))
	for _, m := range found {
		out = append(out, toDomainTransaction(m))
	}
	return out, nil
}

// ListTransactionsByAccount returns transactions touching the account, newest first.
func (r *PgxTransactionRepository) ListTransactionsByAccount(ctx context.Context, accountID string, limit int, after *portsrepo.PageCursor) ([]domain.Transaction, error) {
	if after == nil {
		return r.collect(r.Pool.Query(ctx, `
			SELECT `+transactionColumns+`
			FROM transactions
			WHERE source_account_id = $1 OR destination_account_id = $1
			ORDER BY created_at DESC, transaction_id DESC
			LIMIT $2;`, accountID, limit))
	}
	return r.collect(r.Pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE (source_account_id = $1 OR destination_account_id = $1)
			AND (created_at, transaction_id) < ($2, $3)
		ORDER BY created_at DESC, transaction_id DESC
		LIMIT $4;`, accountID, after.CreatedAt, after.ID, limit))
}

// ListTransitions returns the audit trail in version order.
func (r *PgxTransactionRepository) ListTransitions(ctx context.Context, transactionID string) ([]domain.TransitionEvent, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM transaction_events
		WHERE transaction_id = $1
		ORDER BY version;`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions for %s: %w", transactionID, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.TransitionEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan transitions: %w", err)
	}
	out := make([]domain.TransitionEvent, 0, len(found))
	for _, m := range found {
		out = append(out, toDomainEvent(m))
	}
	return out, nil
}

func (r *PgxTransactionRepository) ListPendingExternal(ctx context.Context, pendingBefore, dueAt time.Time, limit int) ([]domain.Transaction, error) {
	return r.collect(r.Pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = $1
			AND pending_since <= $2
			AND (next_reconcile_at IS NULL OR next_reconcile_at <= $3)
		ORDER BY pending_since
		LIMIT $4;`, string(domain.StatusPendingExternal), pendingBefore, dueAt, limit))
}

func (r *PgxTransactionRepository) ListStaleInFlight(ctx context.Context, before, dueAt time.Time, limit int) ([]domain.Transaction, error) {
	return r.collect(r.Pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status IN ($1, $2)
			AND last_updated_at <= $3
			AND (next_reconcile_at IS NULL OR next_reconcile_at <= $4)
		ORDER BY last_updated_at
		LIMIT $5;`, string(domain.StatusCreated), string(domain.StatusReserved), before, dueAt, limit))
}
