package services_test

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MobileMoneyTestSuite struct {
	suite.Suite
	env *testEnv
}

func (suite *MobileMoneyTestSuite) SetupTest() {
	suite.env = newTestEnv(suite.T())
}

func (suite *MobileMoneyTestSuite) TearDownTest() {
	suite.env.momo.AssertExpectations(suite.T())
}

func (suite *MobileMoneyTestSuite) acceptInitiation(externalRef string) {
	suite.env.momo.On("Initiate", mock.Anything, mock.MatchedBy(func(r domain.GatewayRequest) bool {
		return r.Kind.IsMobileMoney() && r.PhoneNumber != ""
	})).Return(&domain.GatewayAck{ExternalRef: externalRef, Message: "pending"}, nil).Once()
}

func (suite *MobileMoneyTestSuite) pendingDeposit(key string, acc string, amount int64) domain.Transaction {
	suite.acceptInitiation("DX-" + key)
	res, err := suite.env.transactions.Submit(suite.env.ctx, depositMomo(key, acc, amount))
	suite.Require().NoError(err)
	suite.Require().Equal(http.StatusAccepted, res.StatusCode)
	suite.Require().Equal(domain.StatusPendingExternal, res.Transaction.Status)
	return res.Transaction
}

func (suite *MobileMoneyTestSuite) TestDepositMomo_CallbackSettlesExactlyOnce() {
	acc := suite.env.openAccount(1000)
	txn := suite.pendingDeposit("mm-1", acc, 500)
	suite.Equal(int64(1000), suite.env.account(acc).Balance)
	suite.Require().NotNil(txn.ExternalRef)
	suite.Equal("DX-mm-1", *txn.ExternalRef)

	body, sig := callback(suite.T(), txn.Reference, "SUCCESS", 500)
	first, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.Require().NoError(err)
	suite.False(first.Duplicate)
	suite.Equal(domain.StatusSettled, first.Transaction.Status)
	suite.True(first.Transaction.CallbackReceived)

	second, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.Require().NoError(err)
	suite.True(second.Duplicate)
	suite.Equal(domain.StatusSettled, second.Transaction.Status)

	suite.Equal(int64(1500), suite.env.account(acc).Balance)
	suite.Len(suite.env.entriesFor(acc, "mm-1", domain.EntryCommit), 1)
	suite.env.requireConsistent(acc)
}

// Redelivered callbacks racing the reconciliation sweep settle the deposit exactly once.
func (suite *MobileMoneyTestSuite) TestCallbacksRacingReconciliationSettleOnce() {
	acc := suite.env.openAccount(1000)
	txn := suite.pendingDeposit("race-1", acc, 500)
	suite.env.momo.On("QueryStatus", mock.Anything, domain.KindDepositMomo, mock.Anything).
		Return(domain.GatewaySettled, nil).Maybe()
	body, sig := callback(suite.T(), txn.Reference, "SUCCESS", 500)

	const rounds = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for range rounds {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := suite.env.transactions.Reconcile(suite.env.ctx, txn.TransactionID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		suite.NoError(err)
	}

	got := suite.env.account(acc)
	suite.Equal(int64(1500), got.Balance)
	suite.Zero(got.Held)
	suite.Len(suite.env.entriesFor(acc, "race-1", domain.EntryCommit), 1)
	suite.env.requireConsistent(acc)

	final := suite.env.transaction("race-1")
	suite.Equal(domain.StatusSettled, final.Status)
	_, events, err := suite.env.transactions.GetTransaction(suite.env.ctx, "race-1", testActor)
	suite.Require().NoError(err)
	settledEvents := 0
	for _, e := range events {
		if e.To == domain.StatusSettled {
			settledEvents++
		}
	}
	suite.Equal(1, settledEvents)
}

func (suite *MobileMoneyTestSuite) TestPendingThenSuccessCallbacksAreDistinct() {
	acc := suite.env.openAccount(0)
	txn := suite.pendingDeposit("mm-2", acc, 300)

	body, sig := callback(suite.T(), txn.Reference, "PENDING", 300)
	res, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.Require().NoError(err)
	suite.Equal(domain.StatusPendingExternal, res.Transaction.Status)

	body, sig = callback(suite.T(), txn.Reference, "SUCCESS", 300)
	res, err = suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.Require().NoError(err)
	suite.False(res.Duplicate)
	suite.Equal(domain.StatusSettled, res.Transaction.Status)
	suite.Equal(int64(300), suite.env.account(acc).Balance)
}

func (suite *MobileMoneyTestSuite) TestWithdrawMomo_FailedCallbackReleasesHold() {
	acc := suite.env.openAccount(1500)
	suite.acceptInitiation("DX-wm-1")
	res, err := suite.env.transactions.Submit(suite.env.ctx, withdrawMomo("wm-1", acc, 300))
	suite.Require().NoError(err)
	suite.Equal(http.StatusAccepted, res.StatusCode)
	held := suite.env.account(acc)
	suite.Equal(int64(300), held.Held)
	suite.Equal(int64(1200), held.Available())

	body, sig := callback(suite.T(), res.Transaction.Reference, "FAILED", 300)
	cb, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.Require().NoError(err)
	suite.Equal(domain.StatusFailed, cb.Transaction.Status)
	suite.Equal(domain.FailureCallbackFailed, cb.Transaction.FailureReason)

	after := suite.env.account(acc)
	suite.Equal(int64(1500), after.Balance)
	suite.Zero(after.Held)
	suite.env.requireConsistent(acc)
}

func (suite *MobileMoneyTestSuite) TestCallbackContradictingOutcomeFlagsReview() {
	acc := suite.env.openAccount(0)
	txn := suite.pendingDeposit("mm-3", acc, 200)

	body, sig := callback(suite.T(), txn.Reference, "SUCCESS", 200)
	_, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.Require().NoError(err)

	body, sig = callback(suite.T(), txn.Reference, "FAILED", 200)
	res, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.Require().NoError(err)
	suite.Equal(domain.StatusSettled, res.Transaction.Status)
	suite.True(res.Transaction.ReviewRequired)
	suite.Equal(int64(200), suite.env.account(acc).Balance)
}

func (suite *MobileMoneyTestSuite) TestCallbackWithBadSignatureChangesNothing() {
	acc := suite.env.openAccount(0)
	txn := suite.pendingDeposit("mm-4", acc, 200)

	body, _ := callback(suite.T(), txn.Reference, "SUCCESS", 200)
	_, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, "deadbeef")

	suite.ErrorIs(err, apperrors.ErrInvalidCallbackSignature)
	suite.Equal(domain.StatusPendingExternal, suite.env.transaction("mm-4").Status)
	suite.Zero(suite.env.account(acc).Balance)
}

func (suite *MobileMoneyTestSuite) TestCallbackAmountMismatchFlagsReview() {
	acc := suite.env.openAccount(0)
	txn := suite.pendingDeposit("mm-5", acc, 200)

	body, sig := callback(suite.T(), txn.Reference, "SUCCESS", 999)
	_, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)

	suite.ErrorIs(err, apperrors.ErrValidation)
	got := suite.env.transaction("mm-5")
	suite.Equal(domain.StatusPendingExternal, got.Status)
	suite.True(got.ReviewRequired)
	suite.Zero(suite.env.account(acc).Balance)
}

func (suite *MobileMoneyTestSuite) TestCallbackForUnknownReference() {
	body, sig := callback(suite.T(), "TXN-UNKNOWN", "SUCCESS", 100)
	_, err := suite.env.transactions.HandleCallback(suite.env.ctx, body, sig)
	suite.ErrorIs(err, apperrors.ErrNotFound)
}

func (suite *MobileMoneyTestSuite) TestGatewayTimeoutLeavesTransactionPending() {
	acc := suite.env.openAccount(1000)
	suite.env.momo.On("Initiate", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: no answer", apperrors.ErrGatewayTimeout)).Once()

	res, err := suite.env.transactions.Submit(suite.env.ctx, withdrawMomo("to-1", acc, 400))

	suite.Require().NoError(err)
	suite.Equal(http.StatusAccepted, res.StatusCode)
	suite.Equal(domain.StatusPendingExternal, res.Transaction.Status)
	suite.Nil(res.Transaction.ExternalRef)
	suite.Equal(int64(400), suite.env.account(acc).Held)
}

func (suite *MobileMoneyTestSuite) TestGatewayUnavailable_RetryResumesReservedTransaction() {
	acc := suite.env.openAccount(1000)
	suite.env.momo.On("Initiate", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: connection refused", apperrors.ErrGatewayUnavailable)).Once()

	_, err := suite.env.transactions.Submit(suite.env.ctx, withdrawMomo("un-1", acc, 400))
	suite.ErrorIs(err, apperrors.ErrGatewayUnavailable)
	suite.Equal(domain.StatusReserved, suite.env.transaction("un-1").Status)
	suite.Equal(int64(400), suite.env.account(acc).Held)

	suite.acceptInitiation("DX-un-1")
	res, err := suite.env.transactions.Submit(suite.env.ctx, withdrawMomo("un-1", acc, 400))
	suite.Require().NoError(err)
	suite.False(res.Replayed)
	suite.Equal(domain.StatusPendingExternal, res.Transaction.Status)
	suite.Equal(int64(400), suite.env.account(acc).Held)
	suite.Len(res.Transaction.ReservationIDs, 1)
}

func (suite *MobileMoneyTestSuite) TestCancelReservedAndPending() {
	acc := suite.env.openAccount(1000)
	suite.env.momo.On("Initiate", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: down", apperrors.ErrGatewayUnavailable)).Once()
	_, err := suite.env.transactions.Submit(suite.env.ctx, withdrawMomo("cx-1", acc, 400))
	suite.Require().ErrorIs(err, apperrors.ErrGatewayUnavailable)

	cancelled, err := suite.env.transactions.Cancel(suite.env.ctx, "cx-1", testActor)
	suite.Require().NoError(err)
	suite.Equal(domain.StatusFailed, cancelled.Status)
	suite.Equal(domain.FailureCancelled, cancelled.FailureReason)
	suite.Zero(suite.env.account(acc).Held)

	txn := suite.pendingDeposit("cx-2", acc, 100)
	_, err = suite.env.transactions.Cancel(suite.env.ctx, txn.TransactionID, testActor)
	suite.ErrorIs(err, apperrors.ErrCancelNotAllowed)
}

func (suite *MobileMoneyTestSuite) TestSynchronousGatewaySuccess() {
	acc := suite.env.openAccount(0)
	settled := domain.GatewaySettled
	suite.env.momo.On("Initiate", mock.Anything, mock.Anything).
		Return(&domain.GatewayAck{ExternalRef: "DX-sync", SyncStatus: &settled}, nil).Once()

	res, err := suite.env.transactions.Submit(suite.env.ctx, depositMomo("sync-1", acc, 250))

	suite.Require().NoError(err)
	suite.Equal(http.StatusCreated, res.StatusCode)
	suite.Equal(int64(250), suite.env.account(acc).Balance)
}

func TestMobileMoneyTestSuite(t *testing.T) {
	suite.Run(t, new(MobileMoneyTestSuite))
}
