package dto

import (
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/SscSPs/payment_settlement/internal/utils"
)

// CreateTransactionRequest is the body of every payment intent route.
// The kind comes from the route; which account fields are required depends on it.
type CreateTransactionRequest struct {
	SourceAccountID      *string `json:"sourceAccountID" binding:"omitempty,uuid"`
	DestinationAccountID *string `json:"destinationAccountID" binding:"omitempty,uuid"`
	Amount               int64   `json:"amount" binding:"required,minor_amount"` // Minor units
	CurrencyCode         string  `json:"currencyCode" binding:"omitempty,len=3"`
	OperatorCode         string  `json:"operatorCode" binding:"omitempty,momo_operator"`
	PhoneNumber          string  `json:"phoneNumber" binding:"omitempty,min=7,max=16"`
}

// ReverseTransactionRequest asks for a compensating reversal of a settled transaction.
type ReverseTransactionRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// TransactionResponse defines the data returned for a transaction.
type TransactionResponse struct {
	TransactionID        string                   `json:"transactionID"`
	Reference            string                   `json:"reference"`
	Kind                 domain.TransactionKind   `json:"kind"`
	Status               domain.TransactionStatus `json:"status"`
	SourceAccountID      *string                  `json:"sourceAccountID,omitempty"`
	DestinationAccountID *string                  `json:"destinationAccountID,omitempty"`
	Amount               int64                    `json:"amount"`
	AmountDisplay        string                   `json:"amountDisplay"`
	CurrencyCode         string                   `json:"currencyCode"`
	OperatorCode         string                   `json:"operatorCode,omitempty"`
	PhoneNumber          string                   `json:"phoneNumber,omitempty"`
	ExternalRef          *string                  `json:"externalRef,omitempty"`
	FailureReason        domain.FailureReason     `json:"failureReason,omitempty"`
	ErrorMessage         string                   `json:"errorMessage,omitempty"`
	CallbackReceived     bool                     `json:"callbackReceived"`
	ReviewRequired       bool                     `json:"reviewRequired"`
	ReversalReason       string                   `json:"reversalReason,omitempty"`
	CreatedAt            time.Time                `json:"createdAt"`
	LastUpdatedAt        time.Time                `json:"lastUpdatedAt"`
}

// TransactionDetailResponse adds the audit trail to a transaction.
type TransactionDetailResponse struct {
	TransactionResponse
	Transitions []domain.TransitionEvent `json:"transitions"`
}

// ToTransactionResponse converts a domain.Transaction to TransactionResponse DTO
func ToTransactionResponse(txn *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:        txn.TransactionID,
		Reference:            txn.Reference,
		Kind:                 txn.Kind,
		Status:               txn.Status,
		SourceAccountID:      txn.SourceAccountID,
		DestinationAccountID: txn.DestinationAccountID,
		Amount:               txn.Amount,
		AmountDisplay:        utils.FormatMinorUnits(txn.Amount, txn.CurrencyCode),
		CurrencyCode:         txn.CurrencyCode,
		OperatorCode:         txn.OperatorCode,
		PhoneNumber:          txn.PhoneNumber,
		ExternalRef:          txn.ExternalRef,
		FailureReason:        txn.FailureReason,
		ErrorMessage:         txn.ErrorMessage,
		CallbackReceived:     txn.CallbackReceived,
		ReviewRequired:       txn.ReviewRequired,
		ReversalReason:       txn.ReversalReason,
		CreatedAt:            txn.CreatedAt,
		LastUpdatedAt:        txn.LastUpdatedAt,
	}
}

// ListTransactionsParams defines query parameters for the history route.
type ListTransactionsParams struct {
	AccountID string  `form:"accountID" binding:"required,uuid"`
	Limit     int     `form:"limit,default=20" binding:"min=1,max=100"`
	NextToken *string `form:"nextToken"`
}

// ListTransactionsResponse wraps a page of transactions.
type ListTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	NextToken    *string               `json:"nextToken,omitempty"`
}

// ToListTransactionsResponse converts a page of transactions.
func ToListTransactionsResponse(txns []domain.Transaction, nextToken *string) ListTransactionsResponse {
	res := make([]TransactionResponse, len(txns))
	for i := range txns {
		res[i] = ToTransactionResponse(&txns[i])
	}
	return ListTransactionsResponse{Transactions: res, NextToken: nextToken}
}
