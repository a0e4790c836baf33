package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/core/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// MockAccountRepository is a mock type for the AccountWriter interface
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) SaveAccount(ctx context.Context, account domain.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

// MockLedgerService is a mock type for the LedgerSvcFacade interface
type MockLedgerService struct {
	mock.Mock
}

var _ portssvc.LedgerSvcFacade = (*MockLedgerService)(nil)

func (m *MockLedgerService) Reserve(ctx context.Context, transactionID, accountID string, amount int64) (*domain.Reservation, error) {
	args := m.Called(ctx, transactionID, accountID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockLedgerService) Commit(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, transactionID, reservationIDs)
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerService) Release(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, transactionID, reservationIDs)
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerService) Reverse(ctx context.Context, transactionID string, reservationIDs ...string) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, transactionID, reservationIDs)
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerService) PostOpeningBalance(ctx context.Context, accountID string, amount int64, userID string) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, accountID, amount, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerService) UpdateAccountFlags(ctx context.Context, accountID string, userID string, mutate func(*domain.Account) error) (*domain.Account, error) {
	args := m.Called(ctx, accountID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	acc := *args.Get(0).(*domain.Account)
	if err := mutate(&acc); err != nil {
		return nil, err
	}
	return &acc, args.Error(1)
}

func (m *MockLedgerService) ReleaseExpired(ctx context.Context, now time.Time, limit int, keep func(context.Context, domain.Reservation) (bool, error)) (int, error) {
	args := m.Called(ctx, now, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockLedgerService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockLedgerService) ListEntries(ctx context.Context, accountID string, limit int, nextToken *string) ([]domain.LedgerEntry, *string, error) {
	args := m.Called(ctx, accountID, limit, nextToken)
	var next *string
	if args.Get(1) != nil {
		next = args.Get(1).(*string)
	}
	return args.Get(0).([]domain.LedgerEntry), next, args.Error(2)
}

// --- Test Suite Setup ---

var (
	manager  = domain.Principal{UserID: "user-1", Role: domain.RoleManager}
	customer = domain.Principal{UserID: "owner-1", Role: domain.RoleCustomer}
)

type AccountServiceTestSuite struct {
	suite.Suite
	mockRepo   *MockAccountRepository
	mockLedger *MockLedgerService
	service    portssvc.AccountSvcFacade
	now        time.Time
}

func (suite *AccountServiceTestSuite) SetupTest() {
	suite.mockRepo = new(MockAccountRepository)
	suite.mockLedger = new(MockLedgerService)
	suite.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	suite.service = services.NewAccountService(suite.mockRepo, suite.mockLedger,
		services.WithAccountClock(func() time.Time { return suite.now }))
}

func (suite *AccountServiceTestSuite) TearDownTest() {
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockLedger.AssertExpectations(suite.T())
}

// --- Test Cases ---

func (suite *AccountServiceTestSuite) TestCreateAccount_WithoutOpeningBalance() {
	ctx := context.Background()
	req := dto.CreateAccountRequest{OwnerID: "owner-1", CurrencyCode: "xof"}

	suite.mockRepo.On("SaveAccount", ctx, mock.MatchedBy(func(a domain.Account) bool {
		return a.OwnerID == "owner-1" && a.CurrencyCode == "XOF" && a.IsActive && a.Balance == 0 &&
			a.Version == 1 && a.CreatedBy == "user-1" && a.CreatedAt.Equal(suite.now)
	})).Return(nil).Once()

	acc, err := suite.service.CreateAccount(ctx, req, manager)

	suite.Require().NoError(err)
	suite.NotEmpty(acc.AccountID)
	_, parseErr := uuid.Parse(acc.AccountID)
	suite.NoError(parseErr)
	suite.mockLedger.AssertNotCalled(suite.T(), "PostOpeningBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *AccountServiceTestSuite) TestCreateAccount_PostsOpeningBalance() {
	ctx := context.Background()
	req := dto.CreateAccountRequest{OwnerID: "owner-1", CurrencyCode: "XOF", OpeningBalance: 1000}

	var saved domain.Account
	reloaded := &domain.Account{}
	suite.mockRepo.On("SaveAccount", ctx, mock.AnythingOfType("domain.Account")).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(domain.Account)
			*reloaded = saved
			reloaded.Balance = 1000
			reloaded.Version = 2
		}).
		Return(nil).Once()
	suite.mockLedger.On("PostOpeningBalance", ctx, mock.AnythingOfType("string"), int64(1000), "user-1").
		Return(&domain.LedgerEntry{Kind: domain.EntryCommit, Amount: 1000}, nil).Once()
	suite.mockLedger.On("GetAccount", ctx, mock.AnythingOfType("string")).Return(reloaded, nil).Once()

	acc, err := suite.service.CreateAccount(ctx, req, manager)

	suite.Require().NoError(err)
	suite.Equal(int64(1000), acc.Balance)
	suite.Equal(saved.AccountID, acc.AccountID)
}

func (suite *AccountServiceTestSuite) TestCreateAccount_NegativeOpeningBalance() {
	_, err := suite.service.CreateAccount(context.Background(), dto.CreateAccountRequest{
		OwnerID: "owner-1", CurrencyCode: "XOF", OpeningBalance: -1,
	}, manager)

	suite.ErrorIs(err, apperrors.ErrValidation)
	suite.mockRepo.AssertNotCalled(suite.T(), "SaveAccount", mock.Anything, mock.Anything)
}

func (suite *AccountServiceTestSuite) TestCreateAccount_DuplicateIsConflict() {
	ctx := context.Background()
	suite.mockRepo.On("SaveAccount", ctx, mock.Anything).Return(apperrors.ErrDuplicate).Once()

	_, err := suite.service.CreateAccount(ctx, dto.CreateAccountRequest{OwnerID: "o", CurrencyCode: "XOF"}, manager)

	var appErr *apperrors.AppError
	suite.Require().True(errors.As(err, &appErr))
	suite.Equal(409, appErr.Code)
}

func (suite *AccountServiceTestSuite) TestGetAccountByID_NotFound() {
	ctx := context.Background()
	suite.mockLedger.On("GetAccount", ctx, "missing").Return(nil, apperrors.NewNotFoundError("account missing not found")).Once()

	acc, err := suite.service.GetAccountByID(ctx, "missing")

	suite.Nil(acc)
	suite.ErrorIs(err, apperrors.ErrNotFound)
}

func (suite *AccountServiceTestSuite) TestLockAndUnlock() {
	ctx := context.Background()
	active := &domain.Account{AccountID: "acc-1", IsActive: true}
	suite.mockLedger.On("UpdateAccountFlags", ctx, "acc-1", "user-1").Return(active, nil).Twice()

	locked, err := suite.service.LockAccount(ctx, "acc-1", manager)
	suite.Require().NoError(err)
	suite.True(locked.IsLocked)

	unlocked, err := suite.service.UnlockAccount(ctx, "acc-1", manager)
	suite.Require().NoError(err)
	suite.False(unlocked.IsLocked)
}

func (suite *AccountServiceTestSuite) TestDeactivate_RefusesWhileFundsHeld() {
	ctx := context.Background()
	suite.mockLedger.On("UpdateAccountFlags", ctx, "acc-1", "user-1").
		Return(&domain.Account{AccountID: "acc-1", IsActive: true, Balance: 500, Held: 100}, nil).Once()

	_, err := suite.service.DeactivateAccount(ctx, "acc-1", manager)

	suite.ErrorIs(err, apperrors.ErrValidation)
}

func (suite *AccountServiceTestSuite) TestDeactivate_Succeeds() {
	ctx := context.Background()
	suite.mockLedger.On("UpdateAccountFlags", ctx, "acc-1", "user-1").
		Return(&domain.Account{AccountID: "acc-1", IsActive: true, Balance: 500}, nil).Once()

	acc, err := suite.service.DeactivateAccount(ctx, "acc-1", manager)

	suite.Require().NoError(err)
	suite.False(acc.IsActive)
}

func (suite *AccountServiceTestSuite) TestLockDeactivatedAccount() {
	ctx := context.Background()
	suite.mockLedger.On("UpdateAccountFlags", ctx, "acc-1", "user-1").
		Return(&domain.Account{AccountID: "acc-1"}, nil).Once()

	_, err := suite.service.LockAccount(ctx, "acc-1", manager)

	assert.ErrorIs(suite.T(), err, apperrors.ErrValidation)
}

func (suite *AccountServiceTestSuite) TestCreateAccount_CustomerDefaultsToOwnOwner() {
	ctx := context.Background()
	suite.mockRepo.On("SaveAccount", ctx, mock.MatchedBy(func(a domain.Account) bool {
		return a.OwnerID == "owner-1" && a.CreatedBy == "owner-1"
	})).Return(nil).Once()

	acc, err := suite.service.CreateAccount(ctx, dto.CreateAccountRequest{CurrencyCode: "XOF"}, customer)

	suite.Require().NoError(err)
	suite.Equal("owner-1", acc.OwnerID)
}

func (suite *AccountServiceTestSuite) TestCreateAccount_CustomerCannotPostOpeningBalance() {
	_, err := suite.service.CreateAccount(context.Background(), dto.CreateAccountRequest{
		CurrencyCode: "XOF", OpeningBalance: 900000000,
	}, customer)

	suite.ErrorIs(err, apperrors.ErrForbidden)
	suite.mockRepo.AssertNotCalled(suite.T(), "SaveAccount", mock.Anything, mock.Anything)
	suite.mockLedger.AssertNotCalled(suite.T(), "PostOpeningBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *AccountServiceTestSuite) TestCreateAccount_CustomerCannotOpenForAnotherOwner() {
	_, err := suite.service.CreateAccount(context.Background(), dto.CreateAccountRequest{
		OwnerID: "someone-else", CurrencyCode: "XOF",
	}, customer)

	suite.ErrorIs(err, apperrors.ErrForbidden)
	suite.mockRepo.AssertNotCalled(suite.T(), "SaveAccount", mock.Anything, mock.Anything)
}

func (suite *AccountServiceTestSuite) TestLock_OwnerOnly() {
	ctx := context.Background()
	stranger := domain.Principal{UserID: "mallory", Role: domain.RoleCustomer}
	suite.mockLedger.On("UpdateAccountFlags", ctx, "acc-1", "mallory").
		Return(&domain.Account{AccountID: "acc-1", OwnerID: "owner-1", IsActive: true}, nil).Once()
	suite.mockLedger.On("UpdateAccountFlags", ctx, "acc-1", "owner-1").
		Return(&domain.Account{AccountID: "acc-1", OwnerID: "owner-1", IsActive: true}, nil).Once()

	_, err := suite.service.LockAccount(ctx, "acc-1", stranger)
	suite.ErrorIs(err, apperrors.ErrForbidden)

	locked, err := suite.service.LockAccount(ctx, "acc-1", customer)
	suite.Require().NoError(err)
	suite.True(locked.IsLocked)
}

func (suite *AccountServiceTestSuite) TestDeactivate_ManagerOnly() {
	_, err := suite.service.DeactivateAccount(context.Background(), "acc-1", customer)

	suite.ErrorIs(err, apperrors.ErrForbidden)
	suite.mockLedger.AssertNotCalled(suite.T(), "UpdateAccountFlags", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *AccountServiceTestSuite) TestAuthorizeAccountAccess() {
	ctx := context.Background()
	owned := &domain.Account{AccountID: "acc-1", OwnerID: "owner-1", IsActive: true}
	suite.mockLedger.On("GetAccount", ctx, "acc-1").Return(owned, nil).Times(3)

	acc, err := suite.service.AuthorizeAccountAccess(ctx, "acc-1", customer)
	suite.Require().NoError(err)
	suite.Equal("acc-1", acc.AccountID)

	_, err = suite.service.AuthorizeAccountAccess(ctx, "acc-1", manager)
	suite.NoError(err)

	_, err = suite.service.AuthorizeAccountAccess(ctx, "acc-1", domain.Principal{UserID: "mallory", Role: domain.RoleCustomer})
	suite.ErrorIs(err, apperrors.ErrForbidden)
}

// --- Run Test Suite ---

func TestAccountServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AccountServiceTestSuite))
}
