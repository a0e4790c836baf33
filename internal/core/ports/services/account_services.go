package services

import (
	"context"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/SscSPs/payment_settlement/internal/dto"
)

// AccountReaderSvc defines read operations for account data.
type AccountReaderSvc interface {
	// GetAccountByID retrieves a specific account by its unique identifier.
	GetAccountByID(ctx context.Context, accountID string) (*domain.Account, error)

	// AuthorizeAccountAccess returns the account when the caller owns it or is a manager.
	// Returns apperrors.ErrForbidden otherwise.
	AuthorizeAccountAccess(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error)
}

// AccountWriterSvc defines write operations for account data.
type AccountWriterSvc interface {
	// CreateAccount opens an account, posting the opening balance when one is given.
	// Customers open accounts for themselves only and without an opening balance.
	CreateAccount(ctx context.Context, req dto.CreateAccountRequest, actor domain.Principal) (*domain.Account, error)

	// LockAccount blocks new reservations until unlocked. Owner or manager.
	LockAccount(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error)

	// UnlockAccount lifts a lock. Owner or manager.
	UnlockAccount(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error)

	// DeactivateAccount marks an account as inactive. Accounts are never deleted. Manager only.
	DeactivateAccount(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error)
}

// AccountSvcFacade combines all account-related service interfaces.
type AccountSvcFacade interface {
	AccountReaderSvc
	AccountWriterSvc
}
