package models

import (
	"database/sql"
	"time"
)

// LedgerEntry is the ledger_entries row. Rows are insert-only.
type LedgerEntry struct {
	EntryID        string         `db:"entry_id"`
	TransactionID  string         `db:"transaction_id"`
	AccountID      string         `db:"account_id"`
	ReservationID  sql.NullString `db:"reservation_id"` // NULL for opening balances
	Kind           string         `db:"kind"`
	Amount         int64          `db:"amount"`
	BalanceAfter   int64          `db:"balance_after"`
	AvailableAfter int64          `db:"available_after"`
	CreatedAt      time.Time      `db:"created_at"`
}

// Reservation is the reservations row.
type Reservation struct {
	ReservationID string       `db:"reservation_id"`
	TransactionID string       `db:"transaction_id"`
	AccountID     string       `db:"account_id"`
	Amount        int64        `db:"amount"`
	Status        string       `db:"status"`
	ExpiresAt     time.Time    `db:"expires_at"`
	CreatedAt     time.Time    `db:"created_at"`
	ResolvedAt    sql.NullTime `db:"resolved_at"`
}
