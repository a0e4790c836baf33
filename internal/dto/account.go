package dto

import (
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/SscSPs/payment_settlement/internal/utils"
)

// CreateAccountRequest defines the data needed to open a new account.
type CreateAccountRequest struct {
	OwnerID        string `json:"ownerID" binding:"omitempty,max=64"` // Defaults to the caller; only managers may name another owner
	CurrencyCode   string `json:"currencyCode" binding:"required,len=3"`
	OpeningBalance int64  `json:"openingBalance" binding:"omitempty,min=0"` // Minor units, posted as a Commit entry
}

// AccountResponse defines the data returned for an account.
type AccountResponse struct {
	AccountID        string    `json:"accountID"`
	OwnerID          string    `json:"ownerID"`
	CurrencyCode     string    `json:"currencyCode"`
	Balance          int64     `json:"balance"`
	Held             int64     `json:"held"`
	Available        int64     `json:"available"`
	BalanceDisplay   string    `json:"balanceDisplay"`
	AvailableDisplay string    `json:"availableDisplay"`
	Version          int64     `json:"version"`
	IsActive         bool      `json:"isActive"`
	IsLocked         bool      `json:"isLocked"`
	CreatedAt        time.Time `json:"createdAt"`
	CreatedBy        string    `json:"createdBy"`
	LastUpdatedAt    time.Time `json:"lastUpdatedAt"`
	LastUpdatedBy    string    `json:"lastUpdatedBy"`
}

// ToAccountResponse converts a domain.Account to AccountResponse DTO
func ToAccountResponse(acc *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:        acc.AccountID,
		OwnerID:          acc.OwnerID,
		CurrencyCode:     acc.CurrencyCode,
		Balance:          acc.Balance,
		Held:             acc.Held,
		Available:        acc.Available(),
		BalanceDisplay:   utils.FormatMinorUnits(acc.Balance, acc.CurrencyCode),
		AvailableDisplay: utils.FormatMinorUnits(acc.Available(), acc.CurrencyCode),
		Version:          acc.Version,
		IsActive:         acc.IsActive,
		IsLocked:         acc.IsLocked,
		CreatedAt:        acc.CreatedAt,
		CreatedBy:        acc.CreatedBy,
		LastUpdatedAt:    acc.LastUpdatedAt,
		LastUpdatedBy:    acc.LastUpdatedBy,
	}
}

// LedgerEntryResponse is one line of an account statement.
type LedgerEntryResponse struct {
	EntryID        string           `json:"entryID"`
	TransactionID  string           `json:"transactionID"`
	ReservationID  string           `json:"reservationID,omitempty"`
	Kind           domain.EntryKind `json:"kind"`
	Amount         int64            `json:"amount"`
	AmountDisplay  string           `json:"amountDisplay"`
	BalanceAfter   int64            `json:"balanceAfter"`
	AvailableAfter int64            `json:"availableAfter"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// ListEntriesParams defines query parameters for listing ledger entries.
type ListEntriesParams struct {
	Limit     int     `form:"limit,default=20" binding:"min=1,max=100"`
	NextToken *string `form:"nextToken"`
}

// ListEntriesResponse wraps a page of ledger entries.
type ListEntriesResponse struct {
	Entries   []LedgerEntryResponse `json:"entries"`
	NextToken *string               `json:"nextToken,omitempty"`
}

// ToListEntriesResponse converts ledger entries of one account to DTOs.
func ToListEntriesResponse(entries []domain.LedgerEntry, currencyCode string, nextToken *string) ListEntriesResponse {
	res := make([]LedgerEntryResponse, len(entries))
	for i, e := range entries {
		res[i] = LedgerEntryResponse{
			EntryID:        e.EntryID,
			TransactionID:  e.TransactionID,
			ReservationID:  e.ReservationID,
			Kind:           e.Kind,
			Amount:         e.Amount,
			AmountDisplay:  utils.FormatMinorUnits(e.Amount, currencyCode),
			BalanceAfter:   e.BalanceAfter,
			AvailableAfter: e.AvailableAfter,
			CreatedAt:      e.CreatedAt,
		}
	}
	return ListEntriesResponse{Entries: res, NextToken: nextToken}
}
