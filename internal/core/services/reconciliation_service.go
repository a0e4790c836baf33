package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/platform/metrics"
	"golang.org/x/sync/errgroup"
)

// reconciliationService sweeps for work the request path could not finish:
// pending transactions whose callback never came, submissions abandoned mid-flight,
// reservations past their TTL and expired idempotency keys.
type reconciliationService struct {
	BaseService
	txnRepo        portsrepo.TransactionReader
	transactions   portssvc.TransactionWriterSvc
	ledger         portssvc.LedgerWriterSvc
	idempotency    portssvc.IdempotencySvc
	interval       time.Duration
	pendingTimeout time.Duration
	staleAfter     time.Duration
	batchSize      int
	concurrency    int
}

// ReconciliationOption is a functional option for configuring the reconciliation worker
type ReconciliationOption func(*reconciliationService)

// WithReconcileInterval sets the time between sweeps.
func WithReconcileInterval(d time.Duration) ReconciliationOption {
	return func(s *reconciliationService) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPendingTimeout sets how long a transaction may wait for its callback before it is queried.
func WithPendingTimeout(d time.Duration) ReconciliationOption {
	return func(s *reconciliationService) {
		if d > 0 {
			s.pendingTimeout = d
		}
	}
}

// WithStaleAfter sets when a Created or Reserved transaction counts as abandoned.
func WithStaleAfter(d time.Duration) ReconciliationOption {
	return func(s *reconciliationService) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithReconcileBatch bounds the work of one sweep.
func WithReconcileBatch(batchSize, concurrency int) ReconciliationOption {
	return func(s *reconciliationService) {
		if batchSize > 0 {
			s.batchSize = batchSize
		}
		if concurrency > 0 {
			s.concurrency = concurrency
		}
	}
}

// WithReconcileClock overrides the clock.
func WithReconcileClock(clock func() time.Time) ReconciliationOption {
	return func(s *reconciliationService) {
		s.Clock = clock
	}
}

// NewReconciliationService creates the reconciliation worker.
func NewReconciliationService(
	txnRepo portsrepo.TransactionReader,
	transactions portssvc.TransactionWriterSvc,
	ledger portssvc.LedgerWriterSvc,
	idempotency portssvc.IdempotencySvc,
	options ...ReconciliationOption,
) portssvc.ReconciliationSvc {
	svc := &reconciliationService{
		txnRepo:        txnRepo,
		transactions:   transactions,
		ledger:         ledger,
		idempotency:    idempotency,
		interval:       30 * time.Second,
		pendingTimeout: 2 * time.Minute,
		staleAfter:     15 * time.Minute,
		batchSize:      100,
		concurrency:    4,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

var _ portssvc.ReconciliationSvc = (*reconciliationService)(nil)

func (s *reconciliationService) Run(ctx context.Context) {
	logger := s.GetLogger(ctx).With(slog.String("component", "reconciliation"))
	logger.Info("Reconciliation worker started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// A restart re-derives in-flight state from the gateway straight away
	s.sweep(ctx, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			s.sweep(ctx, logger)
		}
	}
}

func (s *reconciliationService) sweep(ctx context.Context, logger *slog.Logger) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		metrics.ReconciliationSweepsTotal.WithLabelValues("error").Inc()
		logger.Error("Reconciliation sweep finished with errors", slog.String("error", err.Error()), slog.Any("report", report))
		return
	}
	metrics.ReconciliationSweepsTotal.WithLabelValues("ok").Inc()
	if report != (portssvc.ReconciliationReport{}) {
		logger.Info("Reconciliation sweep finished", slog.Any("report", report))
	}
}

func (s *reconciliationService) RunOnce(ctx context.Context) (portssvc.ReconciliationReport, error) {
	var report portssvc.ReconciliationReport
	now := s.Now()

	pending, err := s.txnRepo.ListPendingExternal(ctx, now.Add(-s.pendingTimeout), now, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("listing pending transactions: %w", err)
	}
	stale, err := s.txnRepo.ListStaleInFlight(ctx, now.Add(-s.staleAfter), now, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("listing stale transactions: %w", err)
	}

	errs := []error{s.reconcileAll(ctx, append(pending, stale...), &report)}

	released, err := s.ledger.ReleaseExpired(ctx, now, s.batchSize, s.keepReservation)
	report.ReleasedReservation = released
	errs = append(errs, err)

	purged, err := s.idempotency.Purge(ctx, now)
	report.PurgedKeys = purged
	errs = append(errs, err)

	return report, errors.Join(errs...)
}

// reconcileAll runs Reconcile for each transaction with bounded concurrency.
// One failure does not stop the others.
func (s *reconciliationService) reconcileAll(ctx context.Context, txns []domain.Transaction, report *portssvc.ReconciliationReport) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, txn := range txns {
		g.Go(func() error {
			result, err := s.transactions.Reconcile(gctx, txn.TransactionID)
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if err != nil {
				s.LogError(gctx, err, "Reconciliation failed", slog.String("transaction_id", txn.TransactionID))
				errs = append(errs, fmt.Errorf("reconciling %s: %w", txn.TransactionID, err))
				return nil
			}
			switch {
			case result.Status == domain.StatusSettled && txn.Status != domain.StatusSettled:
				report.Settled++
			case result.Status == domain.StatusFailed && result.FailureReason == domain.FailureReconciliationExhausted:
				report.Exhausted++
			case result.Status == domain.StatusFailed && txn.Status != domain.StatusFailed:
				report.Failed++
			case !result.Status.IsTerminal():
				report.Rescheduled++
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// keepReservation protects holds whose transaction may still settle.
// Holds of terminal, partial or unknown transactions are released.
func (s *reconciliationService) keepReservation(ctx context.Context, r domain.Reservation) (bool, error) {
	txn, err := s.txnRepo.FindTransactionByID(ctx, r.TransactionID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	return !txn.Status.IsTerminal() && slices.Contains(txn.ReservationIDs, r.ReservationID), nil
}
