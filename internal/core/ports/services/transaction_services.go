package services

import (
	"context"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

// SubmitCommand is a payment intent accepted at the API boundary.
type SubmitCommand struct {
	IdempotencyKey       string // Becomes the transaction ID when present; bound to the submitting actor
	Kind                 domain.TransactionKind
	SourceAccountID      *string
	DestinationAccountID *string
	Amount               int64
	CurrencyCode         string
	OperatorCode         string
	PhoneNumber          string
	Actor                domain.Principal
}

// SubmitResult is the outcome handed back to every caller presenting the same key.
type SubmitResult struct {
	Transaction domain.Transaction
	StatusCode  int
	Replayed    bool
}

// CallbackResult reports what a verified callback did.
type CallbackResult struct {
	Transaction domain.Transaction
	Event       domain.CallbackEvent
	Duplicate   bool
}

// TransactionWriterSvc drives transactions through the settlement state machine.
type TransactionWriterSvc interface {
	Submit(ctx context.Context, cmd SubmitCommand) (*SubmitResult, error)
	HandleCallback(ctx context.Context, payload []byte, signature string) (*CallbackResult, error)

	// Cancel is allowed to the submitter and to managers.
	Cancel(ctx context.Context, transactionID string, actor domain.Principal) (*domain.Transaction, error)

	// Reverse is manager only.
	Reverse(ctx context.Context, transactionID, reason string, actor domain.Principal) (*domain.Transaction, error)

	// Reconcile asks the gateway for the authoritative status and applies it.
	Reconcile(ctx context.Context, transactionID string) (*domain.Transaction, error)
}

// TransactionReaderSvc exposes transactions and their audit trail.
type TransactionReaderSvc interface {
	// GetTransaction is visible to the submitter, the owners of its accounts and managers.
	GetTransaction(ctx context.Context, transactionID string, actor domain.Principal) (*domain.Transaction, []domain.TransitionEvent, error)
	ListTransactions(ctx context.Context, accountID string, actor domain.Principal, limit int, nextToken *string) ([]domain.Transaction, *string, error)
}

// TransactionSvcFacade combines the transaction service interfaces.
type TransactionSvcFacade interface {
	TransactionWriterSvc
	TransactionReaderSvc
}

// ReconciliationSvc closes the loop on lost callbacks and abandoned work.
type ReconciliationSvc interface {
	// Run sweeps on a fixed interval until ctx is cancelled.
	Run(ctx context.Context)

	// RunOnce performs a single sweep.
	RunOnce(ctx context.Context) (ReconciliationReport, error)
}

// ReconciliationReport summarizes one sweep.
type ReconciliationReport struct {
	Checked             int   `json:"checked"`
	Settled             int   `json:"settled"`
	Failed              int   `json:"failed"`
	Rescheduled         int   `json:"rescheduled"`
	Exhausted           int   `json:"exhausted"`
	ReleasedReservation int   `json:"releasedReservations"`
	PurgedKeys          int64 `json:"purgedKeys"`
}
