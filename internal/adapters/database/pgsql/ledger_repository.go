package pgsql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	"github.com/SscSPs/payment_settlement/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	accountColumns = `account_id, owner_id, currency_code, balance, held, version, is_active, is_locked,
		created_at, created_by, last_updated_at, last_updated_by`
	reservationColumns = `reservation_id, transaction_id, account_id, amount, status, expires_at, created_at, resolved_at`
	entryColumns       = `entry_id, transaction_id, account_id, reservation_id, kind, amount, balance_after, available_after, created_at`
)

type PgxLedgerRepository struct {
	BaseRepository
}

// newPgxLedgerRepository creates a new repository for accounts, reservations and ledger entries.
func newPgxLedgerRepository(pool *pgxpool.Pool) portsrepo.LedgerRepositoryFacade {
	return &PgxLedgerRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxLedgerRepository implements portsrepo.LedgerRepositoryFacade
var _ portsrepo.LedgerRepositoryFacade = (*PgxLedgerRepository)(nil)

// SaveAccount inserts a new account.
func (r *PgxLedgerRepository) SaveAccount(ctx context.Context, account domain.Account) error {
	m := toModelAccount(account)
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	_, err := r.Pool.Exec(ctx, query,
		m.AccountID, m.OwnerID, m.CurrencyCode, m.Balance, m.Held, m.Version, m.IsActive, m.IsLocked,
		m.CreatedAt, m.CreatedBy, m.LastUpdatedAt, m.LastUpdatedBy,
	)
	return mapPgError(err, "account "+m.AccountID)
}

// FindAccountByID retrieves an account by its ID.
func (r *PgxLedgerRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = $1;`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID %s: %w", accountID, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.Account])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find account by ID %s: %w", accountID, err)
	}
	acc := toDomainAccount(m)
	return &acc, nil
}

// FindAccountsByIDs retrieves multiple accounts by their IDs.
func (r *PgxLedgerRepository) FindAccountsByIDs(ctx context.Context, accountIDs []string) (map[string]domain.Account, error) {
	if len(accountIDs) == 0 {
		return map[string]domain.Account{}, nil
	}
	rows, err := r.Pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = ANY($1);`, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts by IDs: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Account])
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts: %w", err)
	}
	accounts := make(map[string]domain.Account, len(found))
	for _, m := range found {
		accounts[m.AccountID] = toDomainAccount(m)
	}
	return accounts, nil
}

// FindReservationsByIDs returns reservations in the order requested.
func (r *PgxLedgerRepository) FindReservationsByIDs(ctx context.Context, reservationIDs []string) ([]domain.Reservation, error) {
	if len(reservationIDs) == 0 {
		return nil, nil
	}
	rows, err := r.Pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reservation_id = ANY($1);`, reservationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Reservation])
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservations: %w", err)
	}
	byID := make(map[string]models.Reservation, len(found))
	for _, m := range found {
		byID[m.ReservationID] = m
	}
	out := make([]domain.Reservation, 0, len(reservationIDs))
	for _, id := range reservationIDs {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("reservation %s: %w", id, apperrors.ErrNotFound)
		}
		out = append(out, toDomainReservation(m))
	}
	return out, nil
}

// ListExpiredReservations returns active reservations whose TTL passed before the given time.
func (r *PgxLedgerRepository) ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3;
	`
	rows, err := r.Pool.Query(ctx, query, string(domain.ReservationActive), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Reservation])
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservations: %w", err)
	}
	out := make([]domain.Reservation, 0, len(found))
	for _, m := range found {
		out = append(out, toDomainReservation(m))
	}
	return out, nil
}

// ListEntriesByAccount returns entries newest first, strictly after the cursor when one is given.
func (r *PgxLedgerRepository) ListEntriesByAccount(ctx context.Context, accountID string, limit int, after *portsrepo.PageCursor) ([]domain.LedgerEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.Pool.Query(ctx, `
			SELECT `+entryColumns+`
			FROM ledger_entries
			WHERE account_id = $1
			ORDER BY created_at DESC, entry_id DESC
			LIMIT $2;`, accountID, limit)
	} else {
		rows, err = r.Pool.Query(ctx, `
			SELECT `+entryColumns+`
			FROM ledger_entries
			WHERE account_id = $1 AND (created_at, entry_id) < ($2, $3::uuid)
			ORDER BY created_at DESC, entry_id DESC
			LIMIT $4;`, accountID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for account %s: %w", accountID, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.LedgerEntry])
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entries: %w", err)
	}
	out := make([]domain.LedgerEntry, 0, len(found))
	for _, m := range found {
		out = append(out, toDomainEntry(m))
	}
	return out, nil
}

// ApplyLedgerChange writes account snapshots, reservations and entries in one transaction.
// Every account row is updated only if its version still matches; otherwise nothing is written.
func (r *PgxLedgerRepository) ApplyLedgerChange(ctx context.Context, change domain.LedgerChange) error {
	updates := append([]domain.AccountUpdate(nil), change.Accounts...)
	// Row locks are always taken in account ID order
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Account.AccountID < updates[j].Account.AccountID
	})

	return r.WithTx(ctx, func(tx pgx.Tx) error {
		for _, u := range updates {
			m := toModelAccount(u.Account)
			tag, err := tx.Exec(ctx, `
				UPDATE accounts
				SET balance = $1, held = $2, version = $3, is_active = $4, is_locked = $5,
					last_updated_at = $6, last_updated_by = $7
				WHERE account_id = $8 AND version = $9;`,
				m.Balance, m.Held, m.Version, m.IsActive, m.IsLocked,
				m.LastUpdatedAt, m.LastUpdatedBy, m.AccountID, u.ExpectedVersion,
			)
			if err != nil {
				return mapPgError(err, "account "+m.AccountID)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("account %s at version %d: %w", m.AccountID, u.ExpectedVersion, apperrors.ErrConflict)
			}
		}

		if len(change.Reservations) > 0 {
			batch := &pgx.Batch{}
			for _, res := range change.Reservations {
				m := toModelReservation(res)
				batch.Queue(`
					INSERT INTO reservations (`+reservationColumns+`)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
					ON CONFLICT (reservation_id) DO UPDATE
					SET status = EXCLUDED.status, resolved_at = EXCLUDED.resolved_at;`,
					m.ReservationID, m.TransactionID, m.AccountID, m.Amount, m.Status, m.ExpiresAt, m.CreatedAt, m.ResolvedAt,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return mapPgError(err, "reservations")
			}
		}

		if len(change.Entries) > 0 {
			batch := &pgx.Batch{}
			for _, e := range change.Entries {
				m := toModelEntry(e)
				batch.Queue(`
					INSERT INTO ledger_entries (`+entryColumns+`)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`,
					m.EntryID, m.TransactionID, m.AccountID, m.ReservationID, m.Kind, m.Amount, m.BalanceAfter, m.AvailableAfter, m.CreatedAt,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return mapPgError(err, "ledger entries")
			}
		}
		return nil
	})
}
