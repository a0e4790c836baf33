package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/google/uuid"
)

// accountService implements the AccountSvcFacade interface
type accountService struct {
	BaseService
	accountRepo portsrepo.AccountWriter
	ledger      portssvc.LedgerSvcFacade
}

// AccountOption is a functional option for configuring the account service
type AccountOption func(*accountService)

// WithAccountClock overrides the clock.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *accountService) {
		s.Clock = clock
	}
}

// NewAccountService creates a new account service with the provided options
func NewAccountService(repo portsrepo.AccountWriter, ledger portssvc.LedgerSvcFacade, options ...AccountOption) portssvc.AccountSvcFacade {
	svc := &accountService{
		accountRepo: repo,
		ledger:      ledger,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

// Ensure accountService implements the AccountSvcFacade interface
var _ portssvc.AccountSvcFacade = (*accountService)(nil)

func (s *accountService) CreateAccount(ctx context.Context, req dto.CreateAccountRequest, actor domain.Principal) (*domain.Account, error) {
	if req.OpeningBalance < 0 {
		return nil, apperrors.NewValidationError("openingBalance cannot be negative")
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if !actor.IsManager() {
		// Customers open their own accounts and cannot mint an opening balance
		if ownerID != "" && ownerID != actor.UserID {
			return nil, s.Forbid(ctx, actor, "open an account for another owner")
		}
		if req.OpeningBalance > 0 {
			return nil, s.Forbid(ctx, actor, "post an opening balance")
		}
	}
	if ownerID == "" {
		ownerID = actor.UserID
	}
	userID := actor.UserID
	now := s.Now()
	account := domain.Account{
		AccountID:    uuid.NewString(),
		OwnerID:      ownerID,
		CurrencyCode: strings.ToUpper(req.CurrencyCode),
		Version:      1,
		IsActive:     true,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     userID,
			LastUpdatedAt: now,
			LastUpdatedBy: userID,
		},
	}

	if err := s.accountRepo.SaveAccount(ctx, account); err != nil {
		s.LogError(ctx, err, "Failed to save account", slog.String("account_id", account.AccountID))
		if errors.Is(err, apperrors.ErrDuplicate) {
			return nil, apperrors.NewConflictError("account already exists")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.LogInfo(ctx, "Account created", slog.String("account_id", account.AccountID), slog.String("owner_id", account.OwnerID))

	if req.OpeningBalance > 0 {
		if _, err := s.ledger.PostOpeningBalance(ctx, account.AccountID, req.OpeningBalance, userID); err != nil {
			return nil, err
		}
		return s.ledger.GetAccount(ctx, account.AccountID)
	}
	return &account, nil
}

func (s *accountService) GetAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.LogError(ctx, err, "Failed to find account", slog.String("account_id", accountID))
		}
		return nil, err
	}
	s.LogDebug(ctx, "Account retrieved", slog.String("account_id", account.AccountID))
	return account, nil
}

func (s *accountService) AuthorizeAccountAccess(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error) {
	account, err := s.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(*account) {
		return nil, s.Forbid(ctx, actor, "access account "+accountID)
	}
	return account, nil
}

func (s *accountService) LockAccount(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error) {
	return s.updateFlags(ctx, accountID, actor, "locked", func(a *domain.Account) error {
		if !actor.CanAccess(*a) {
			return s.Forbid(ctx, actor, "lock account "+accountID)
		}
		if !a.IsActive {
			return apperrors.NewValidationError("account is deactivated")
		}
		a.IsLocked = true
		return nil
	})
}

func (s *accountService) UnlockAccount(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error) {
	return s.updateFlags(ctx, accountID, actor, "unlocked", func(a *domain.Account) error {
		if !actor.CanAccess(*a) {
			return s.Forbid(ctx, actor, "unlock account "+accountID)
		}
		if !a.IsActive {
			return apperrors.NewValidationError("account is deactivated")
		}
		a.IsLocked = false
		return nil
	})
}

// DeactivateAccount refuses while funds are held, so no in-flight debit is stranded.
func (s *accountService) DeactivateAccount(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error) {
	if !actor.IsManager() {
		return nil, s.Forbid(ctx, actor, "deactivate account "+accountID)
	}
	return s.updateFlags(ctx, accountID, actor, "deactivated", func(a *domain.Account) error {
		if !a.IsActive {
			return apperrors.NewValidationError("account is already inactive")
		}
		if a.Held != 0 {
			return apperrors.NewValidationError("account has funds on hold")
		}
		a.IsActive = false
		return nil
	})
}

func (s *accountService) updateFlags(ctx context.Context, accountID string, actor domain.Principal, action string, mutate func(*domain.Account) error) (*domain.Account, error) {
	account, err := s.ledger.UpdateAccountFlags(ctx, accountID, actor.UserID, mutate)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrValidation) && !errors.Is(err, apperrors.ErrForbidden) {
			s.LogError(ctx, err, "Failed to update account", slog.String("account_id", accountID), slog.String("action", action))
		}
		return nil, err
	}
	s.LogInfo(ctx, "Account "+action, slog.String("account_id", accountID), slog.String("user_id", actor.UserID))
	return account, nil
}
