package domain

import (
	"fmt"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
)

// TransactionKind is the kind of payment intent.
type TransactionKind string

const (
	KindDeposit      TransactionKind = "DEPOSIT"
	KindWithdraw     TransactionKind = "WITHDRAW"
	KindTransfer     TransactionKind = "TRANSFER"
	KindPayment      TransactionKind = "PAYMENT"
	KindDepositMomo  TransactionKind = "DEPOSIT_MOMO"
	KindWithdrawMomo TransactionKind = "WITHDRAW_MOMO"
)

// IsMobileMoney reports whether the kind settles through a mobile-money operator.
func (k TransactionKind) IsMobileMoney() bool {
	return k == KindDepositMomo || k == KindWithdrawMomo
}

// NeedsSource reports whether the kind debits a source account.
func (k TransactionKind) NeedsSource() bool {
	switch k {
	case KindWithdraw, KindTransfer, KindPayment, KindWithdrawMomo:
		return true
	}
	return false
}

// NeedsDestination reports whether the kind credits a destination account.
func (k TransactionKind) NeedsDestination() bool {
	switch k {
	case KindDeposit, KindTransfer, KindPayment, KindDepositMomo:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdraw, KindTransfer, KindPayment, KindDepositMomo, KindWithdrawMomo:
		return true
	}
	return false
}

// TransactionStatus is a state of the settlement state machine.
type TransactionStatus string

const (
	StatusCreated         TransactionStatus = "CREATED"
	StatusReserved        TransactionStatus = "RESERVED"
	StatusPendingExternal TransactionStatus = "PENDING_EXTERNAL"
	StatusSettled         TransactionStatus = "SETTLED"
	StatusFailed          TransactionStatus = "FAILED"
	StatusReversed        TransactionStatus = "REVERSED"
)

// allowedTransitions lists every edge of the state machine. Nothing else is legal.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusCreated:         {StatusReserved, StatusFailed},
	StatusReserved:        {StatusPendingExternal, StatusFailed},
	StatusPendingExternal: {StatusSettled, StatusFailed},
	StatusSettled:         {StatusReversed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible except the Settled -> Reversed compensation.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSettled || s == StatusFailed || s == StatusReversed
}

// Cancellable reports whether a caller cancel is honored in this state.
func (s TransactionStatus) Cancellable() bool {
	return s == StatusCreated || s == StatusReserved
}

// FailureReason explains why a transaction ended in Failed.
type FailureReason string

const (
	FailureInsufficientFunds       FailureReason = "INSUFFICIENT_FUNDS"
	FailureAccountLocked           FailureReason = "ACCOUNT_LOCKED"
	FailureGatewayRejected         FailureReason = "GATEWAY_REJECTED"
	FailureCallbackFailed          FailureReason = "CALLBACK_FAILED"
	FailureCancelled               FailureReason = "CANCELLED"
	FailureReservationExpired      FailureReason = "RESERVATION_EXPIRED"
	FailureReconciliationFailed    FailureReason = "RECONCILIATION_FAILED"
	FailureReconciliationExhausted FailureReason = "RECONCILIATION_EXHAUSTED"
	FailureAbandoned               FailureReason = "ABANDONED"
)

// Transaction is the unit driven through the settlement state machine.
type Transaction struct {
	TransactionID        string            `json:"transactionID"` // Client idempotency key or server UUID
	Reference            string            `json:"reference"`     // Sent to the gateway as externalTransactionId
	Kind                 TransactionKind   `json:"kind"`
	SourceAccountID      *string           `json:"sourceAccountID,omitempty"`
	DestinationAccountID *string           `json:"destinationAccountID,omitempty"`
	Amount               int64             `json:"amount"`
	CurrencyCode         string            `json:"currencyCode"`
	OperatorCode         string            `json:"operatorCode,omitempty"`
	PhoneNumber          string            `json:"phoneNumber,omitempty"`
	ExternalRef          *string           `json:"externalRef,omitempty"`
	Status               TransactionStatus `json:"status"`
	FailureReason        FailureReason     `json:"failureReason,omitempty"`
	ErrorMessage         string            `json:"errorMessage,omitempty"`
	ReservationIDs       []string          `json:"reservationIDs,omitempty"`
	CallbackReceived     bool              `json:"callbackReceived"`
	ReviewRequired       bool              `json:"reviewRequired"`
	ReconcileAttempts    int               `json:"reconcileAttempts"`
	NextReconcileAt      *time.Time        `json:"nextReconcileAt,omitempty"`
	PendingSince         *time.Time        `json:"pendingSince,omitempty"`
	ReversalReason       string            `json:"reversalReason,omitempty"`
	Version              int64             `json:"version"`
	AuditFields
}

// AccountIDs returns the accounts touched by the transaction.
func (t Transaction) AccountIDs() []string {
	ids := make([]string, 0, 2)
	if t.SourceAccountID != nil {
		ids = append(ids, *t.SourceAccountID)
	}
	if t.DestinationAccountID != nil {
		ids = append(ids, *t.DestinationAccountID)
	}
	return ids
}

// Transition returns a copy of t moved to the next status.
// The caller persists it with a version check against t.Version.
func (t Transaction) Transition(to TransactionStatus, actor string, now time.Time) (Transaction, TransitionEvent, error) {
	if !CanTransition(t.Status, to) {
		return t, TransitionEvent{}, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, t.Status, to)
	}
	next := t
	next.Status = to
	next.Version = t.Version + 1
	next.LastUpdatedAt = now
	next.LastUpdatedBy = actor
	if to == StatusPendingExternal {
		pendingSince := now
		next.PendingSince = &pendingSince
	}
	event := TransitionEvent{
		TransactionID: t.TransactionID,
		From:          t.Status,
		To:            to,
		Actor:         actor,
		Version:       next.Version,
		OccurredAt:    now,
	}
	return next, event, nil
}

// Touch returns a copy of t with a bumped version for updates that keep the status.
func (t Transaction) Touch(actor string, now time.Time) Transaction {
	next := t
	next.Version = t.Version + 1
	next.LastUpdatedAt = now
	next.LastUpdatedBy = actor
	return next
}

// TransitionEvent is the audit trail row written with every status change.
type TransitionEvent struct {
	TransactionID string            `json:"transactionID"`
	From          TransactionStatus `json:"from"`
	To            TransactionStatus `json:"to"`
	Actor         string            `json:"actor"`
	Reason        string            `json:"reason,omitempty"`
	Version       int64             `json:"version"`
	OccurredAt    time.Time         `json:"occurredAt"`
}
