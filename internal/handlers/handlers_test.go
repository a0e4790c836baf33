package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SscSPs/payment_settlement/internal/adapters/database/memory"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway/book"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway/dexchange"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/SscSPs/payment_settlement/internal/core/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/SscSPs/payment_settlement/internal/handlers"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/SscSPs/payment_settlement/internal/platform/config"
	"github.com/SscSPs/payment_settlement/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

const (
	testJWTSecret     = "test-secret-key-that-is-long-enough"
	testIssuer        = "settlement-test"
	testWebhookSecret = "whsec-handlers"
)

type HandlersTestSuite struct {
	suite.Suite
	router    *gin.Engine
	dexchange *httptest.Server
	token     string
}

func (suite *HandlersTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	suite.Require().NoError(dto.RegisterValidators())
}

func (suite *HandlersTestSuite) SetupTest() {
	// Every mobile-money initiation is accepted and left pending
	suite.dexchange = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok","transaction":{"success":true,"transactionId":"DX-1","Status":"PENDING"}}`))
	}))

	cfg := &config.Config{
		JWTSecret:                testJWTSecret,
		JWTIssuer:                testIssuer,
		IsProduction:             true,
		GatewayTimeout:           time.Second,
		LedgerMaxConflictRetries: 5,
		ReservationTTL:           15 * time.Minute,
		IdempotencyRetention:     24 * time.Hour,
		IdempotencyWaitTimeout:   time.Second,
		MaxTransactionAmount:     1_000_000,
		ReconcileInterval:        time.Minute,
		ReconcilePendingTimeout:  2 * time.Minute,
		ReconcileBaseBackoff:     time.Minute,
		ReconcileMaxBackoff:      time.Hour,
		ReconcileMaxAttempts:     5,
		ReconcileBatchSize:       10,
		ReconcileConcurrency:     1,
	}
	router := gateway.NewRouter(
		dexchange.NewClient(dexchange.Config{
			BaseURL:       suite.dexchange.URL,
			APIKey:        "dx-key",
			WebhookSecret: testWebhookSecret,
			HTTPClient:    suite.dexchange.Client(),
		}),
		book.NewProcessor(),
	)
	container := services.NewServiceContainer(cfg, memory.NewRepositoryProvider(memory.NewStore()), router, nil, nil)

	suite.router = gin.New()
	suite.Require().NoError(handlers.RegisterRoutes(suite.router, cfg, container))

	suite.token = suite.tokenFor("user-1", "MANAGER")
}

func (suite *HandlersTestSuite) tokenFor(userID, role string) string {
	token, err := utils.GenerateJWTWithRole(userID, role, testJWTSecret, time.Hour, testIssuer)
	suite.Require().NoError(err)
	return token
}

func (suite *HandlersTestSuite) TearDownTest() {
	suite.dexchange.Close()
}

func (suite *HandlersTestSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else {
			suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if suite.token != "" {
		req.Header.Set("Authorization", "Bearer "+suite.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *HandlersTestSuite) createAccount(opening int64) dto.AccountResponse {
	w := suite.do(http.MethodPost, "/api/accounts/", map[string]any{
		"ownerID": "owner-1", "currencyCode": "XOF", "openingBalance": opening,
	}, nil)
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var acc dto.AccountResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &acc))
	return acc
}

func (suite *HandlersTestSuite) getAccount(id string) dto.AccountResponse {
	w := suite.do(http.MethodGet, "/api/accounts/"+id, nil, nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var acc dto.AccountResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &acc))
	return acc
}

// --- Test Cases ---

func (suite *HandlersTestSuite) TestHealth() {
	w := suite.do(http.MethodGet, "/health", nil, nil)
	suite.Equal(http.StatusOK, w.Code)
	suite.Equal("OK", w.Body.String())
}

func (suite *HandlersTestSuite) TestRequiresToken() {
	suite.token = ""
	w := suite.do(http.MethodGet, "/api/accounts/whatever", nil, nil)
	suite.Equal(http.StatusUnauthorized, w.Code)
}

func (suite *HandlersTestSuite) TestCreateAndGetAccount() {
	acc := suite.createAccount(2500)

	got := suite.getAccount(acc.AccountID)
	suite.Equal(int64(2500), got.Balance)
	suite.Equal(int64(2500), got.Available)
	suite.Equal("user-1", got.CreatedBy)
	suite.True(got.IsActive)
}

func (suite *HandlersTestSuite) TestCreateAccount_InvalidBody() {
	w := suite.do(http.MethodPost, "/api/accounts/", map[string]any{"ownerID": "o", "currencyCode": "TOOLONG"}, nil)
	suite.Equal(http.StatusBadRequest, w.Code)
}

func (suite *HandlersTestSuite) TestGetAccount_NotFound() {
	w := suite.do(http.MethodGet, "/api/accounts/b7f1c1e6-5c39-4d5b-9a0e-3f1c2f3d4e5a", nil, nil)
	suite.Equal(http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestDepositSettlesAndReplays() {
	acc := suite.createAccount(0)
	body := map[string]any{"destinationAccountID": acc.AccountID, "amount": 700}
	headers := map[string]string{"Idempotency-Key": "dep-1"}

	first := suite.do(http.MethodPost, "/api/transactions/deposit/", body, headers)
	suite.Require().Equal(http.StatusCreated, first.Code, first.Body.String())
	suite.Empty(first.Header().Get("Idempotent-Replayed"))
	var txn dto.TransactionResponse
	suite.Require().NoError(json.Unmarshal(first.Body.Bytes(), &txn))
	suite.Equal("dep-1", txn.TransactionID)
	suite.Equal("SETTLED", string(txn.Status))

	second := suite.do(http.MethodPost, "/api/transactions/deposit/", body, headers)
	suite.Equal(http.StatusCreated, second.Code)
	suite.Equal("true", second.Header().Get("Idempotent-Replayed"))
	suite.JSONEq(first.Body.String(), second.Body.String())

	suite.Equal(int64(700), suite.getAccount(acc.AccountID).Balance)
}

func (suite *HandlersTestSuite) TestKeyReuseWithDifferentBody() {
	acc := suite.createAccount(0)
	headers := map[string]string{"Idempotency-Key": "dep-2"}
	w := suite.do(http.MethodPost, "/api/transactions/deposit/", map[string]any{"destinationAccountID": acc.AccountID, "amount": 100}, headers)
	suite.Require().Equal(http.StatusCreated, w.Code)

	w = suite.do(http.MethodPost, "/api/transactions/deposit/", map[string]any{"destinationAccountID": acc.AccountID, "amount": 200}, headers)
	suite.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (suite *HandlersTestSuite) TestWithdrawInsufficientFunds() {
	acc := suite.createAccount(100)
	w := suite.do(http.MethodPost, "/api/transactions/withdraw/", map[string]any{"sourceAccountID": acc.AccountID, "amount": 500}, nil)

	suite.Equal(http.StatusPaymentRequired, w.Code, w.Body.String())
	suite.Equal(int64(100), suite.getAccount(acc.AccountID).Balance)
}

func (suite *HandlersTestSuite) TestSubmit_RejectsNonPositiveAmount() {
	acc := suite.createAccount(0)
	w := suite.do(http.MethodPost, "/api/transactions/deposit/", map[string]any{"destinationAccountID": acc.AccountID, "amount": -5}, nil)
	suite.Equal(http.StatusBadRequest, w.Code)
}

func (suite *HandlersTestSuite) TestMobileMoneyDepositSettlesOnCallback() {
	acc := suite.createAccount(0)
	w := suite.do(http.MethodPost, "/api/transactions/deposit_momo/", map[string]any{
		"destinationAccountID": acc.AccountID,
		"amount":               1500,
		"operatorCode":         "OM_SN_CASHIN",
		"phoneNumber":          "771234567",
	}, map[string]string{"Idempotency-Key": "momo-1"})
	suite.Require().Equal(http.StatusAccepted, w.Code, w.Body.String())
	var txn dto.TransactionResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &txn))
	suite.Equal(int64(0), suite.getAccount(acc.AccountID).Balance)

	payload, err := json.Marshal(map[string]any{
		"externalTransactionId": txn.Reference,
		"id":                    "DX-1",
		"STATUS":                "SUCCESS",
		"AMOUNT":                1500,
	})
	suite.Require().NoError(err)
	sig := map[string]string{dexchange.SignatureHeader: dexchange.Sign(payload, testWebhookSecret)}

	cb := suite.do(http.MethodPost, "/api/transactions/callback/dexchange/", payload, sig)
	suite.Require().Equal(http.StatusOK, cb.Code, cb.Body.String())
	var ack dto.CallbackResponse
	suite.Require().NoError(json.Unmarshal(cb.Body.Bytes(), &ack))
	suite.False(ack.Duplicate)
	suite.Equal(txn.Reference, ack.ExternalTransactionID)
	suite.Equal(int64(1500), suite.getAccount(acc.AccountID).Balance)

	again := suite.do(http.MethodPost, "/api/transactions/callback/dexchange/", payload, sig)
	suite.Require().Equal(http.StatusOK, again.Code)
	suite.Require().NoError(json.Unmarshal(again.Body.Bytes(), &ack))
	suite.True(ack.Duplicate)
	suite.Equal(int64(1500), suite.getAccount(acc.AccountID).Balance)

	detail := suite.do(http.MethodGet, "/api/transactions/momo-1", nil, nil)
	suite.Require().Equal(http.StatusOK, detail.Code)
	var full dto.TransactionDetailResponse
	suite.Require().NoError(json.Unmarshal(detail.Body.Bytes(), &full))
	suite.Equal("SETTLED", string(full.Status))
	suite.NotEmpty(full.Transitions)
}

func (suite *HandlersTestSuite) TestCallback_BadSignature() {
	suite.token = ""
	payload := []byte(`{"externalTransactionId":"REF-X","STATUS":"SUCCESS"}`)
	w := suite.do(http.MethodPost, "/api/transactions/callback/dexchange/", payload,
		map[string]string{dexchange.SignatureHeader: "deadbeef"})
	suite.Equal(http.StatusUnauthorized, w.Code)
}

func (suite *HandlersTestSuite) TestLockedAccountRefusesWithdrawal() {
	acc := suite.createAccount(1000)
	w := suite.do(http.MethodPost, "/api/accounts/"+acc.AccountID+"/lock", nil, nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = suite.do(http.MethodPost, "/api/transactions/withdraw/", map[string]any{"sourceAccountID": acc.AccountID, "amount": 10}, nil)
	suite.Equal(http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func (suite *HandlersTestSuite) TestListEntries() {
	acc := suite.createAccount(300)
	w := suite.do(http.MethodGet, "/api/accounts/"+acc.AccountID+"/entries?limit=10", nil, nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var page dto.ListEntriesResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &page))
	suite.Len(page.Entries, 1)
	suite.Equal(int64(300), page.Entries[0].Amount)
}

func (suite *HandlersTestSuite) TestOTPRoutesUnavailableWithoutVerifier() {
	w := suite.do(http.MethodPost, "/api/auth/send-otp/", map[string]any{"phoneNumber": "771234567"}, nil)
	suite.Equal(http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func (suite *HandlersTestSuite) TestRequireRole() {
	suite.router.GET("/manager-only", middleware.AuthMiddleware(testJWTSecret, testIssuer), middleware.RequireRole(domain.RoleManager), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	suite.Equal(http.StatusNoContent, suite.do(http.MethodGet, "/manager-only", nil, nil).Code)

	suite.token = suite.tokenFor("mallory", "CUSTOMER")
	suite.Equal(http.StatusForbidden, suite.do(http.MethodGet, "/manager-only", nil, nil).Code)

	// A token without a role claim is a customer
	suite.token = suite.tokenFor("mallory", "")
	suite.Equal(http.StatusForbidden, suite.do(http.MethodGet, "/manager-only", nil, nil).Code)
}

func (suite *HandlersTestSuite) TestCustomerCannotMoveAnotherCustomersMoney() {
	victim := suite.createAccount(5000)
	suite.token = suite.tokenFor("mallory", "CUSTOMER")
	w := suite.do(http.MethodPost, "/api/accounts/", map[string]any{"currencyCode": "XOF"}, nil)
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var own dto.AccountResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &own))

	w = suite.do(http.MethodPost, "/api/transactions/withdraw/", map[string]any{"sourceAccountID": victim.AccountID, "amount": 5000}, nil)
	suite.Equal(http.StatusForbidden, w.Code, w.Body.String())

	w = suite.do(http.MethodPost, "/api/transactions/transfer/", map[string]any{
		"sourceAccountID": victim.AccountID, "destinationAccountID": own.AccountID, "amount": 5000,
	}, nil)
	suite.Equal(http.StatusForbidden, w.Code, w.Body.String())

	w = suite.do(http.MethodPost, "/api/transactions/deposit/", map[string]any{"destinationAccountID": own.AccountID, "amount": 100}, nil)
	suite.Equal(http.StatusForbidden, w.Code, w.Body.String())

	suite.token = suite.tokenFor("user-1", "MANAGER")
	suite.Equal(int64(5000), suite.getAccount(victim.AccountID).Balance)
	suite.Equal(int64(0), suite.getAccount(own.AccountID).Balance)
}

func (suite *HandlersTestSuite) TestCustomerOpensOnlyOwnEmptyAccount() {
	suite.token = suite.tokenFor("mallory", "CUSTOMER")

	w := suite.do(http.MethodPost, "/api/accounts/", map[string]any{"currencyCode": "XOF", "openingBalance": 900000000}, nil)
	suite.Equal(http.StatusForbidden, w.Code, w.Body.String())

	w = suite.do(http.MethodPost, "/api/accounts/", map[string]any{"ownerID": "owner-1", "currencyCode": "XOF"}, nil)
	suite.Equal(http.StatusForbidden, w.Code, w.Body.String())

	w = suite.do(http.MethodPost, "/api/accounts/", map[string]any{"currencyCode": "XOF"}, nil)
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var acc dto.AccountResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &acc))
	suite.Equal("mallory", acc.OwnerID)
	suite.Zero(acc.Balance)
}

func (suite *HandlersTestSuite) TestCustomerCannotReadOrOperateOthers() {
	victim := suite.createAccount(1000)
	w := suite.do(http.MethodPost, "/api/transactions/deposit/", map[string]any{"destinationAccountID": victim.AccountID, "amount": 100},
		map[string]string{"Idempotency-Key": "dep-v"})
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	suite.token = suite.tokenFor("mallory", "CUSTOMER")
	for name, req := range map[string]struct{ method, path string }{
		"account":      {http.MethodGet, "/api/accounts/" + victim.AccountID},
		"entries":      {http.MethodGet, "/api/accounts/" + victim.AccountID + "/entries"},
		"lock":         {http.MethodPost, "/api/accounts/" + victim.AccountID + "/lock"},
		"transactions": {http.MethodGet, "/api/transactions/?accountID=" + victim.AccountID},
		"transaction":  {http.MethodGet, "/api/transactions/dep-v"},
		"reconcile":    {http.MethodPost, "/api/transactions/dep-v/reconcile"},
	} {
		suite.Run(name, func() {
			w := suite.do(req.method, req.path, nil, nil)
			suite.Equal(http.StatusForbidden, w.Code, w.Body.String())
		})
	}

	w = suite.do(http.MethodPost, "/api/transactions/dep-v/reverse", map[string]any{"reason": "mine now"}, nil)
	suite.Equal(http.StatusForbidden, w.Code, w.Body.String())

	// The owner still sees its own account
	suite.token = suite.tokenFor("owner-1", "CUSTOMER")
	suite.Equal(int64(1100), suite.getAccount(victim.AccountID).Balance)
}

// --- Run Test Suite ---

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}
