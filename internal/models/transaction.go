package models

import (
	"database/sql"
	"time"
)

// Transaction is the transactions row.
type Transaction struct {
	TransactionID        string         `db:"transaction_id"`
	Reference            string         `db:"reference"`
	Kind                 string         `db:"kind"`
	SourceAccountID      sql.NullString `db:"source_account_id"`
	DestinationAccountID sql.NullString `db:"destination_account_id"`
	Amount               int64          `db:"amount"`
	CurrencyCode         string         `db:"currency_code"`
	OperatorCode         string         `db:"operator_code"`
	PhoneNumber          string         `db:"phone_number"`
	ExternalRef          sql.NullString `db:"external_ref"`
	Status               string         `db:"status"`
	FailureReason        string         `db:"failure_reason"`
	ErrorMessage         string         `db:"error_message"`
	ReservationIDs       []string       `db:"reservation_ids"`
	CallbackReceived     bool           `db:"callback_received"`
	ReviewRequired       bool           `db:"review_required"`
	ReconcileAttempts    int            `db:"reconcile_attempts"`
	NextReconcileAt      sql.NullTime   `db:"next_reconcile_at"`
	PendingSince         sql.NullTime   `db:"pending_since"`
	ReversalReason       string         `db:"reversal_reason"`
	Version              int64          `db:"version"`
	AuditFields
}

// TransitionEvent is the transaction_events row.
type TransitionEvent struct {
	TransactionID string    `db:"transaction_id"`
	FromStatus    string    `db:"from_status"`
	ToStatus      string    `db:"to_status"`
	Actor         string    `db:"actor"`
	Reason        string    `db:"reason"`
	Version       int64     `db:"version"`
	OccurredAt    time.Time `db:"occurred_at"`
}
