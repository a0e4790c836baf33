package services

import (
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/platform/config"
)

// NewServiceContainer creates a new service container with properly initialized dependencies.
// otp and notifier may be nil.
func NewServiceContainer(
	cfg *config.Config,
	repos portsrepo.RepositoryProvider,
	gateway portssvc.GatewayAdapter,
	otp portssvc.OTPVerifier,
	notifier portssvc.SettlementNotifier,
) *portssvc.ServiceContainer {
	container := &portssvc.ServiceContainer{OTP: otp}

	// Ledger first since every other service moves funds through it
	container.Ledger = NewLedgerService(
		repos.LedgerRepo,
		WithLedgerMaxRetries(cfg.LedgerMaxConflictRetries),
		WithReservationTTL(cfg.ReservationTTL),
	)
	container.Account = NewAccountService(repos.LedgerRepo, container.Ledger)
	container.Idempotency = NewIdempotencyService(
		repos.IdempotencyRepo,
		WithIdempotencyRetention(cfg.IdempotencyRetention),
		WithIdempotencyWaitTimeout(cfg.IdempotencyWaitTimeout),
	)

	txnOptions := []TransactionOption{
		WithGatewayTimeout(cfg.GatewayTimeout),
		WithMaxTransactionAmount(cfg.MaxTransactionAmount),
		WithReconcilePolicy(ReconcilePolicy{
			BaseBackoff: cfg.ReconcileBaseBackoff,
			MaxBackoff:  cfg.ReconcileMaxBackoff,
			MaxAttempts: cfg.ReconcileMaxAttempts,
		}),
	}
	if notifier != nil {
		txnOptions = append(txnOptions, WithSettlementNotifier(notifier))
	}
	container.Transaction = NewTransactionService(repos.TransactionRepo, container.Ledger, container.Idempotency, gateway, txnOptions...)

	container.Reconciliation = NewReconciliationService(
		repos.TransactionRepo,
		container.Transaction,
		container.Ledger,
		container.Idempotency,
		WithReconcileInterval(cfg.ReconcileInterval),
		WithPendingTimeout(cfg.ReconcilePendingTimeout),
		WithStaleAfter(cfg.ReservationTTL),
		WithReconcileBatch(cfg.ReconcileBatchSize, cfg.ReconcileConcurrency),
	)

	return container
}

// Helper to check interface implementations at compile time
var (
	_ portssvc.AccountSvcFacade     = (*accountService)(nil)
	_ portssvc.LedgerSvcFacade      = (*ledgerService)(nil)
	_ portssvc.TransactionSvcFacade = (*transactionService)(nil)
)
