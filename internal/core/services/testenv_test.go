package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/SscSPs/payment_settlement/internal/adapters/database/memory"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway/book"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway/dexchange"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/core/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "whsec-test"
	testOwner         = "owner-1"
	testPhone         = "+221771234567"
)

var (
	// testActor runs the desk and may act on any account.
	testActor = domain.Principal{UserID: "tester", Role: domain.RoleManager}
	// testCustomer owns every account opened by openAccount.
	testCustomer = domain.Principal{UserID: testOwner, Role: domain.RoleCustomer}
)

// MockGateway is a mock type for the GatewayAdapter interface
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initiate(ctx context.Context, req domain.GatewayRequest) (*domain.GatewayAck, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayAck), args.Error(1)
}

func (m *MockGateway) QueryStatus(ctx context.Context, kind domain.TransactionKind, externalRef string) (domain.GatewayStatus, error) {
	args := m.Called(ctx, kind, externalRef)
	return args.Get(0).(domain.GatewayStatus), args.Error(1)
}

func (m *MockGateway) ParseCallback(ctx context.Context, payload []byte, signature string) (*domain.CallbackEvent, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallbackEvent), args.Error(1)
}

// signedGateway answers initiation and status queries from the mock and
// verifies callbacks with the real Dexchange parser.
type signedGateway struct {
	*MockGateway
	parser *dexchange.Client
}

func (g signedGateway) ParseCallback(ctx context.Context, payload []byte, signature string) (*domain.CallbackEvent, error) {
	return g.parser.ParseCallback(ctx, payload, signature)
}

// fakeClock is a settable clock shared by every service under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv wires the real services over the in-memory store.
type testEnv struct {
	t              *testing.T
	ctx            context.Context
	clock          *fakeClock
	store          *memory.Store
	momo           *MockGateway
	ledger         portssvc.LedgerSvcFacade
	accounts       portssvc.AccountSvcFacade
	idempotency    portssvc.IdempotencySvc
	transactions   portssvc.TransactionSvcFacade
	reconciliation portssvc.ReconciliationSvc
}

type envConfig struct {
	gateway    func(momo portssvc.GatewayAdapter) portssvc.GatewayAdapter
	ledgerOpts []services.LedgerOption
	txnOpts    []services.TransactionOption
	reconOpts  []services.ReconciliationOption
}

type envOption func(*envConfig)

// withGatewayForAllKinds sends book kinds to the mock as well.
func withGatewayForAllKinds() envOption {
	return func(c *envConfig) {
		c.gateway = func(momo portssvc.GatewayAdapter) portssvc.GatewayAdapter { return momo }
	}
}

func withLedgerOptions(opts ...services.LedgerOption) envOption {
	return func(c *envConfig) { c.ledgerOpts = append(c.ledgerOpts, opts...) }
}

func withTransactionOptions(opts ...services.TransactionOption) envOption {
	return func(c *envConfig) { c.txnOpts = append(c.txnOpts, opts...) }
}

func withReconciliationOptions(opts ...services.ReconciliationOption) envOption {
	return func(c *envConfig) { c.reconOpts = append(c.reconOpts, opts...) }
}

func newTestEnv(t *testing.T, options ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{
		gateway: func(momo portssvc.GatewayAdapter) portssvc.GatewayAdapter {
			return gateway.NewRouter(momo, book.NewProcessor())
		},
	}
	for _, option := range options {
		option(&cfg)
	}

	clock := newFakeClock()
	store := memory.NewStore()
	repos := memory.NewRepositoryProvider(store)
	momo := new(MockGateway)
	adapter := signedGateway{MockGateway: momo, parser: dexchange.NewClient(dexchange.Config{WebhookSecret: testWebhookSecret})}

	ledgerOpts := append([]services.LedgerOption{services.WithLedgerClock(clock.Now)}, cfg.ledgerOpts...)
	ledger := services.NewLedgerService(repos.LedgerRepo, ledgerOpts...)
	idem := services.NewIdempotencyService(repos.IdempotencyRepo,
		services.WithIdempotencyClock(clock.Now),
		services.WithIdempotencyWaitTimeout(2*time.Second))
	txnOpts := append([]services.TransactionOption{services.WithTransactionClock(clock.Now)}, cfg.txnOpts...)
	txns := services.NewTransactionService(repos.TransactionRepo, ledger, idem, cfg.gateway(adapter), txnOpts...)
	reconOpts := append([]services.ReconciliationOption{services.WithReconcileClock(clock.Now)}, cfg.reconOpts...)

	return &testEnv{
		t:              t,
		ctx:            context.Background(),
		clock:          clock,
		store:          store,
		momo:           momo,
		ledger:         ledger,
		accounts:       services.NewAccountService(repos.LedgerRepo, ledger, services.WithAccountClock(clock.Now)),
		idempotency:    idem,
		transactions:   txns,
		reconciliation: services.NewReconciliationService(repos.TransactionRepo, txns, ledger, idem, reconOpts...),
	}
}

func (e *testEnv) openAccount(balance int64) string {
	e.t.Helper()
	acc, err := e.accounts.CreateAccount(e.ctx, dto.CreateAccountRequest{
		OwnerID:        testOwner,
		CurrencyCode:   "XOF",
		OpeningBalance: balance,
	}, testActor)
	require.NoError(e.t, err)
	return acc.AccountID
}

func (e *testEnv) account(id string) domain.Account {
	e.t.Helper()
	acc, err := e.ledger.GetAccount(e.ctx, id)
	require.NoError(e.t, err)
	return *acc
}

func (e *testEnv) entries(accountID string) []domain.LedgerEntry {
	e.t.Helper()
	entries, _, err := e.ledger.ListEntries(e.ctx, accountID, 500, nil)
	require.NoError(e.t, err)
	return entries
}

// entriesFor filters an account's entries by transaction and kind.
func (e *testEnv) entriesFor(accountID, transactionID string, kind domain.EntryKind) []domain.LedgerEntry {
	e.t.Helper()
	var out []domain.LedgerEntry
	for _, entry := range e.entries(accountID) {
		if entry.TransactionID == transactionID && entry.Kind == kind {
			out = append(out, entry)
		}
	}
	return out
}

func (e *testEnv) transaction(id string) domain.Transaction {
	e.t.Helper()
	txn, _, err := e.transactions.GetTransaction(e.ctx, id, testActor)
	require.NoError(e.t, err)
	return *txn
}

// requireConsistent checks that the stored balance equals the sum of posted entries.
func (e *testEnv) requireConsistent(accountIDs ...string) {
	e.t.Helper()
	for _, id := range accountIDs {
		acc := e.account(id)
		require.Equal(e.t, acc.Balance, domain.ReconstructBalance(e.entries(id)), "account %s", id)
		require.GreaterOrEqual(e.t, acc.Available(), int64(0), "account %s", id)
	}
}

func deposit(key, destination string, amount int64) portssvc.SubmitCommand {
	return portssvc.SubmitCommand{IdempotencyKey: key, Kind: domain.KindDeposit, DestinationAccountID: &destination, Amount: amount, Actor: testActor}
}

func withdraw(key, source string, amount int64) portssvc.SubmitCommand {
	return portssvc.SubmitCommand{IdempotencyKey: key, Kind: domain.KindWithdraw, SourceAccountID: &source, Amount: amount, Actor: testActor}
}

func transfer(key, source, destination string, amount int64) portssvc.SubmitCommand {
	return portssvc.SubmitCommand{IdempotencyKey: key, Kind: domain.KindTransfer, SourceAccountID: &source, DestinationAccountID: &destination, Amount: amount, Actor: testActor}
}

func depositMomo(key, destination string, amount int64) portssvc.SubmitCommand {
	return portssvc.SubmitCommand{
		IdempotencyKey: key, Kind: domain.KindDepositMomo, DestinationAccountID: &destination, Amount: amount,
		OperatorCode: "OM_SN_CASHIN", PhoneNumber: testPhone, Actor: testActor,
	}
}

func withdrawMomo(key, source string, amount int64) portssvc.SubmitCommand {
	return portssvc.SubmitCommand{
		IdempotencyKey: key, Kind: domain.KindWithdrawMomo, SourceAccountID: &source, Amount: amount,
		OperatorCode: "WAVE_SN_CASHOUT", PhoneNumber: testPhone, Actor: testActor,
	}
}

// callback builds a Dexchange webhook body and its signature.
func callback(t *testing.T, reference, status string, amount int64) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"externalTransactionId": reference,
		"id":                    "DX-" + reference,
		"STATUS":                status,
		"AMOUNT":                amount,
	})
	require.NoError(t, err)
	return body, dexchange.Sign(body, testWebhookSecret)
}
