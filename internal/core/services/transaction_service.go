package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/SscSPs/payment_settlement/internal/platform/metrics"
	"github.com/SscSPs/payment_settlement/internal/utils"
	"github.com/SscSPs/payment_settlement/internal/utils/pagination"
	"github.com/google/uuid"
)

const (
	defaultGatewayTimeout    = 10 * time.Second
	defaultMaxAmount         = int64(1000000)
	defaultCurrency          = "XOF"
	defaultReconcileBase     = 30 * time.Second
	defaultReconcileMax      = 30 * time.Minute
	defaultReconcileAttempts = 8
)

// ReconcilePolicy controls how long an unknown gateway answer is retried.
type ReconcilePolicy struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// transactionService is the settlement state machine.
// Every change to one transaction happens under its keyed lock and is persisted
// with a version check, so a callback and a reconciliation never apply twice.
type transactionService struct {
	BaseService
	txnRepo         portsrepo.TransactionRepositoryFacade
	ledger          portssvc.LedgerSvcFacade
	idempotency     portssvc.IdempotencySvc
	gateway         portssvc.GatewayAdapter
	notifier        portssvc.SettlementNotifier
	locks           *utils.KeyedMutex
	gatewayTimeout  time.Duration
	maxAmount       int64
	defaultCurrency string
	policy          ReconcilePolicy
}

// TransactionOption is a functional option for configuring the transaction service
type TransactionOption func(*transactionService)

// WithGatewayTimeout bounds every call to the gateway.
func WithGatewayTimeout(d time.Duration) TransactionOption {
	return func(s *transactionService) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithMaxTransactionAmount caps the amount of a single transaction.
func WithMaxTransactionAmount(max int64) TransactionOption {
	return func(s *transactionService) {
		if max > 0 {
			s.maxAmount = max
		}
	}
}

// WithDefaultCurrency is used when a request names none.
func WithDefaultCurrency(code string) TransactionOption {
	return func(s *transactionService) {
		if code != "" {
			s.defaultCurrency = strings.ToUpper(code)
		}
	}
}

// WithReconcilePolicy sets the backoff used when the gateway answers unknown.
func WithReconcilePolicy(p ReconcilePolicy) TransactionOption {
	return func(s *transactionService) {
		if p.BaseBackoff > 0 {
			s.policy.BaseBackoff = p.BaseBackoff
		}
		if p.MaxBackoff > 0 {
			s.policy.MaxBackoff = p.MaxBackoff
		}
		if p.MaxAttempts > 0 {
			s.policy.MaxAttempts = p.MaxAttempts
		}
	}
}

// WithSettlementNotifier publishes terminal outcomes.
func WithSettlementNotifier(n portssvc.SettlementNotifier) TransactionOption {
	return func(s *transactionService) {
		s.notifier = n
	}
}

// WithTransactionClock overrides the clock.
func WithTransactionClock(clock func() time.Time) TransactionOption {
	return func(s *transactionService) {
		s.Clock = clock
	}
}

// NewTransactionService creates the settlement state machine.
func NewTransactionService(
	txnRepo portsrepo.TransactionRepositoryFacade,
	ledger portssvc.LedgerSvcFacade,
	idempotency portssvc.IdempotencySvc,
	gateway portssvc.GatewayAdapter,
	options ...TransactionOption,
) portssvc.TransactionSvcFacade {
	svc := &transactionService{
		txnRepo:         txnRepo,
		ledger:          ledger,
		idempotency:     idempotency,
		gateway:         gateway,
		locks:           utils.NewKeyedMutex(),
		gatewayTimeout:  defaultGatewayTimeout,
		maxAmount:       defaultMaxAmount,
		defaultCurrency: defaultCurrency,
		policy: ReconcilePolicy{
			BaseBackoff: defaultReconcileBase,
			MaxBackoff:  defaultReconcileMax,
			MaxAttempts: defaultReconcileAttempts,
		},
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

var _ portssvc.TransactionSvcFacade = (*transactionService)(nil)

// ---- Submit ----

func (s *transactionService) Submit(ctx context.Context, cmd portssvc.SubmitCommand) (*portssvc.SubmitResult, error) {
	cmd, err := s.normalize(cmd)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccounts(ctx, cmd); err != nil {
		return nil, err
	}

	txnID := cmd.IdempotencyKey
	if txnID == "" {
		txnID = uuid.NewString()
	}
	ctx = s.scoped(ctx, txnID, slog.String("kind", string(cmd.Kind)))

	stored, replayed, err := s.idempotency.Execute(ctx, domain.ScopeRequest, txnID, hashCommand(cmd), txnID,
		func(ctx context.Context) (domain.StoredResponse, error) {
			txn, err := s.process(ctx, txnID, cmd)
			if err != nil {
				return domain.StoredResponse{}, err
			}
			return storedResponse(txn, statusCodeFor(txn))
		})
	if err != nil {
		return nil, err
	}

	var txn domain.Transaction
	if err := json.Unmarshal(stored.Body, &txn); err != nil {
		return nil, apperrors.NewInternalServerError("stored response is unreadable", err)
	}
	if replayed {
		s.LogInfo(ctx, "Replayed idempotent submission", slog.Int("status_code", stored.StatusCode))
	}
	return &portssvc.SubmitResult{Transaction: txn, StatusCode: stored.StatusCode, Replayed: replayed}, nil
}

// normalize validates the command and fills defaults.
func (s *transactionService) normalize(cmd portssvc.SubmitCommand) (portssvc.SubmitCommand, error) {
	if !cmd.Kind.Valid() {
		return cmd, apperrors.NewValidationError(fmt.Sprintf("unknown transaction kind %q", cmd.Kind))
	}
	if cmd.Amount <= 0 {
		return cmd, apperrors.NewValidationError("amount must be a positive number of minor units")
	}
	if cmd.Amount > s.maxAmount {
		return cmd, apperrors.NewValidationError(fmt.Sprintf("amount exceeds the maximum of %d", s.maxAmount))
	}
	if cmd.Actor.UserID == "" {
		return cmd, apperrors.NewValidationError("actor is required")
	}

	if !cmd.Kind.NeedsSource() {
		cmd.SourceAccountID = nil
	} else if cmd.SourceAccountID == nil || *cmd.SourceAccountID == "" {
		return cmd, apperrors.NewValidationError("sourceAccountID is required for " + string(cmd.Kind))
	}
	if !cmd.Kind.NeedsDestination() {
		cmd.DestinationAccountID = nil
	} else if cmd.DestinationAccountID == nil || *cmd.DestinationAccountID == "" {
		return cmd, apperrors.NewValidationError("destinationAccountID is required for " + string(cmd.Kind))
	}
	if cmd.SourceAccountID != nil && cmd.DestinationAccountID != nil && *cmd.SourceAccountID == *cmd.DestinationAccountID {
		return cmd, apperrors.NewValidationError("source and destination accounts must differ")
	}

	if cmd.Kind.IsMobileMoney() {
		svc, ok := domain.FindMomoService(cmd.OperatorCode)
		if !ok {
			return cmd, apperrors.NewValidationError(fmt.Sprintf("unknown operator code %q", cmd.OperatorCode))
		}
		if want := domain.MomoServiceTypeFor(cmd.Kind); svc.Type != want {
			return cmd, apperrors.NewValidationError(fmt.Sprintf("operator code %s is not a %s service", cmd.OperatorCode, want))
		}
		cmd.PhoneNumber = domain.NormalizePhone(cmd.PhoneNumber)
		if cmd.PhoneNumber == "" {
			return cmd, apperrors.NewValidationError("phoneNumber is required for mobile-money operations")
		}
	} else {
		cmd.OperatorCode = ""
		cmd.PhoneNumber = ""
	}

	cmd.CurrencyCode = strings.ToUpper(cmd.CurrencyCode)
	if cmd.CurrencyCode == "" {
		cmd.CurrencyCode = s.defaultCurrency
	}
	return cmd, nil
}

// checkAccounts verifies every referenced account exists, uses the transaction currency
// and may be operated by the actor.
func (s *transactionService) checkAccounts(ctx context.Context, cmd portssvc.SubmitCommand) error {
	if cmd.Kind.ManagerOnly() && !cmd.Actor.IsManager() {
		return s.Forbid(ctx, cmd.Actor, "submit "+string(cmd.Kind))
	}
	load := func(id *string) (*domain.Account, error) {
		if id == nil {
			return nil, nil
		}
		acc, err := s.ledger.GetAccount(ctx, *id)
		if err != nil {
			return nil, err
		}
		if acc.CurrencyCode != cmd.CurrencyCode {
			return nil, apperrors.NewValidationError(fmt.Sprintf("account %s holds %s, not %s", acc.AccountID, acc.CurrencyCode, cmd.CurrencyCode))
		}
		return acc, nil
	}
	source, err := load(cmd.SourceAccountID)
	if err != nil {
		return err
	}
	destination, err := load(cmd.DestinationAccountID)
	if err != nil {
		return err
	}
	if cmd.Actor.IsManager() {
		return nil
	}

	// A customer acts on its own account: the one debited, or the one a cash-in credits
	own := source
	if own == nil {
		own = destination
	}
	if own == nil || !cmd.Actor.Owns(*own) {
		return s.Forbid(ctx, cmd.Actor, "submit "+string(cmd.Kind)+" on an account it does not own")
	}
	return nil
}

// process creates the transaction, or resumes it when an earlier attempt was abandoned.
func (s *transactionService) process(ctx context.Context, txnID string, cmd portssvc.SubmitCommand) (domain.Transaction, error) {
	existing, err := s.txnRepo.FindTransactionByID(ctx, txnID)
	switch {
	case err == nil:
		if !sameIntent(*existing, cmd) {
			return domain.Transaction{}, apperrors.ErrIdempotencyMismatch
		}
		s.LogInfo(ctx, "Resuming existing transaction", slog.String("status", string(existing.Status)))
	case errors.Is(err, apperrors.ErrNotFound):
		if _, err := s.create(ctx, txnID, cmd); err != nil {
			return domain.Transaction{}, err
		}
	default:
		return domain.Transaction{}, fmt.Errorf("loading transaction %s: %w", txnID, err)
	}

	return s.drive(ctx, txnID)
}

func (s *transactionService) create(ctx context.Context, txnID string, cmd portssvc.SubmitCommand) (domain.Transaction, error) {
	now := s.Now()
	for attempt := 0; attempt < 3; attempt++ {
		reference, err := utils.GenerateReference(now)
		if err != nil {
			return domain.Transaction{}, apperrors.NewInternalServerError("failed to generate reference", err)
		}
		txn := domain.Transaction{
			TransactionID:        txnID,
			Reference:            reference,
			Kind:                 cmd.Kind,
			SourceAccountID:      cmd.SourceAccountID,
			DestinationAccountID: cmd.DestinationAccountID,
			Amount:               cmd.Amount,
			CurrencyCode:         cmd.CurrencyCode,
			OperatorCode:         cmd.OperatorCode,
			PhoneNumber:          cmd.PhoneNumber,
			Status:               domain.StatusCreated,
			Version:              1,
			AuditFields: domain.AuditFields{
				CreatedAt:     now,
				CreatedBy:     cmd.Actor.UserID,
				LastUpdatedAt: now,
				LastUpdatedBy: cmd.Actor.UserID,
			},
		}
		event := domain.TransitionEvent{TransactionID: txnID, To: domain.StatusCreated, Actor: cmd.Actor.UserID, Version: 1, OccurredAt: now}
		err = s.txnRepo.SaveTransaction(ctx, txn, event)
		if err == nil {
			metrics.TransitionsTotal.WithLabelValues(string(txn.Kind), "", string(domain.StatusCreated)).Inc()
			s.LogInfo(ctx, "Transaction created", slog.String("reference", reference), slog.Int64("amount", txn.Amount))
			return txn, nil
		}
		if !errors.Is(err, apperrors.ErrDuplicate) {
			return domain.Transaction{}, fmt.Errorf("saving transaction %s: %w", txnID, err)
		}
		// Either another process created this ID, or the reference collided
		if existing, findErr := s.txnRepo.FindTransactionByID(ctx, txnID); findErr == nil {
			if !sameIntent(*existing, cmd) {
				return domain.Transaction{}, apperrors.ErrIdempotencyMismatch
			}
			return *existing, nil
		}
	}
	return domain.Transaction{}, apperrors.NewInternalServerError("could not allocate a unique reference", apperrors.ErrDuplicate)
}

// drive advances a submitted transaction as far as it can go synchronously.
func (s *transactionService) drive(ctx context.Context, txnID string) (domain.Transaction, error) {
	unlock, err := s.locks.Lock(ctx, txnID)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer unlock()

	txn, err := s.load(ctx, txnID)
	if err != nil {
		return domain.Transaction{}, err
	}

	if txn.Status == domain.StatusCreated {
		txn, err = s.reserve(ctx, txn)
		if err != nil || txn.Status != domain.StatusReserved {
			return txn, err
		}
	}
	if txn.Status == domain.StatusReserved {
		return s.initiate(ctx, txn)
	}
	return txn, nil
}

// reserve places one hold per leg. Any failure releases the legs already held.
func (s *transactionService) reserve(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	type leg struct {
		accountID string
		amount    int64
	}
	var legs []leg
	if txn.SourceAccountID != nil {
		legs = append(legs, leg{*txn.SourceAccountID, -txn.Amount})
	}
	if txn.DestinationAccountID != nil {
		legs = append(legs, leg{*txn.DestinationAccountID, txn.Amount})
	}

	ids := make([]string, 0, len(legs))
	for _, l := range legs {
		r, err := s.ledger.Reserve(ctx, txn.TransactionID, l.accountID, l.amount)
		if err != nil {
			if len(ids) > 0 {
				if _, relErr := s.ledger.Release(ctx, txn.TransactionID, ids...); relErr != nil {
					s.LogError(ctx, relErr, "Failed to release partial reservation", slog.Any("reservation_ids", ids))
				}
			}
			switch {
			case errors.Is(err, apperrors.ErrInsufficientFunds):
				return s.transition(ctx, txn, domain.StatusFailed, txn.CreatedBy, "reservation failed", func(t *domain.Transaction) {
					t.FailureReason = domain.FailureInsufficientFunds
					t.ErrorMessage = apperrors.ErrInsufficientFunds.Error()
				})
			case errors.Is(err, apperrors.ErrAccountLocked):
				return s.transition(ctx, txn, domain.StatusFailed, txn.CreatedBy, "reservation failed", func(t *domain.Transaction) {
					t.FailureReason = domain.FailureAccountLocked
					t.ErrorMessage = apperrors.ErrAccountLocked.Error()
				})
			}
			return txn, fmt.Errorf("reserving funds: %w", err)
		}
		ids = append(ids, r.ReservationID)
	}

	return s.transition(ctx, txn, domain.StatusReserved, txn.CreatedBy, "", func(t *domain.Transaction) {
		t.ReservationIDs = ids
	})
}

// initiate issues the external call for a reserved transaction.
func (s *transactionService) initiate(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	ack, err := s.gateway.Initiate(callCtx, domain.GatewayRequest{
		TransactionID: txn.TransactionID,
		Reference:     txn.Reference,
		Kind:          txn.Kind,
		Amount:        txn.Amount,
		CurrencyCode:  txn.CurrencyCode,
		OperatorCode:  txn.OperatorCode,
		PhoneNumber:   txn.PhoneNumber,
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrGatewayRejected):
		s.LogWarn(ctx, "Gateway rejected transaction", slog.String("error", err.Error()))
		return s.fail(ctx, txn, domain.FailureGatewayRejected, err.Error(), domain.SystemActor)
	case errors.Is(err, apperrors.ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded):
		// Outcome unknown: wait for the callback or reconciliation
		s.LogWarn(ctx, "Gateway call timed out, awaiting callback", slog.String("error", err.Error()))
		return s.transition(ctx, txn, domain.StatusPendingExternal, domain.SystemActor, "gateway timeout", nil)
	default:
		// Nothing reached the processor; the reservation stays so a retry can resume
		s.LogError(ctx, err, "Gateway unavailable, transaction left reserved")
		if errors.Is(err, apperrors.ErrGatewayUnavailable) {
			return txn, err
		}
		return txn, fmt.Errorf("%w: %v", apperrors.ErrGatewayUnavailable, err)
	}

	txn, err = s.transition(ctx, txn, domain.StatusPendingExternal, domain.SystemActor, "gateway acknowledged", func(t *domain.Transaction) {
		if ack.ExternalRef != "" {
			ref := ack.ExternalRef
			t.ExternalRef = &ref
		}
	})
	if err != nil || ack.SyncStatus == nil {
		return txn, err
	}

	switch *ack.SyncStatus {
	case domain.GatewaySettled:
		return s.settle(ctx, txn, domain.SystemActor, "synchronous success")
	case domain.GatewayFailed:
		return s.fail(ctx, txn, domain.FailureGatewayRejected, ack.Message, domain.SystemActor)
	}
	return txn, nil
}

// ---- Callbacks ----

func (s *transactionService) HandleCallback(ctx context.Context, payload []byte, signature string) (*portssvc.CallbackResult, error) {
	event, err := s.gateway.ParseCallback(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidCallbackSignature) {
			sum := sha256.Sum256(payload)
			s.LogWarn(ctx, "Rejected callback with invalid signature",
				slog.String("payload_sha256", hex.EncodeToString(sum[:])),
				slog.Int("payload_bytes", len(payload)))
			metrics.CallbacksTotal.WithLabelValues("invalid_signature").Inc()
			return nil, err
		}
		metrics.CallbacksTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}

	txn, err := s.txnRepo.FindTransactionByReference(ctx, event.Reference)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			metrics.CallbacksTotal.WithLabelValues("unknown_transaction").Inc()
			s.LogWarn(ctx, "Callback for unknown transaction", slog.String("reference", event.Reference))
			return nil, apperrors.NewNotFoundError("transaction " + event.Reference + " not found")
		}
		return nil, fmt.Errorf("loading transaction for callback: %w", err)
	}
	ctx = s.scoped(ctx, txn.TransactionID, slog.String("callback_status", event.RawStatus))
	logger := s.GetLogger(ctx)

	if event.Amount != nil && *event.Amount != txn.Amount {
		metrics.CallbacksTotal.WithLabelValues("amount_mismatch").Inc()
		logger.Warn("Callback amount does not match transaction", slog.Int64("callback_amount", *event.Amount), slog.Int64("amount", txn.Amount))
		if _, err := s.flagForReview(ctx, txn.TransactionID, "callback amount mismatch"); err != nil {
			s.LogError(ctx, err, "Failed to flag transaction for review")
		}
		return nil, apperrors.NewValidationError("callback amount does not match the transaction")
	}

	stored, replayed, err := s.idempotency.Execute(ctx, domain.ScopeCallback, event.DedupKey(), event.DedupKey(), txn.TransactionID,
		func(ctx context.Context) (domain.StoredResponse, error) {
			applied, err := s.applyCallback(ctx, txn.TransactionID, *event)
			if err != nil {
				return domain.StoredResponse{}, err
			}
			return storedResponse(applied, http.StatusOK)
		})
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var result domain.Transaction
	if err := json.Unmarshal(stored.Body, &result); err != nil {
		return nil, apperrors.NewInternalServerError("stored response is unreadable", err)
	}
	if replayed {
		metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
		logger.Info("Duplicate callback ignored")
	} else {
		metrics.CallbacksTotal.WithLabelValues("applied").Inc()
	}
	return &portssvc.CallbackResult{Transaction: result, Event: *event, Duplicate: replayed}, nil
}

// applyCallback moves the transaction to the outcome the processor reported.
func (s *transactionService) applyCallback(ctx context.Context, txnID string, event domain.CallbackEvent) (domain.Transaction, error) {
	unlock, err := s.locks.Lock(ctx, txnID)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer unlock()

	txn, err := s.load(ctx, txnID)
	if err != nil {
		return domain.Transaction{}, err
	}
	markReceived := func(t *domain.Transaction) {
		t.CallbackReceived = true
		if t.ExternalRef == nil && event.EventID != "" {
			ref := event.EventID
			t.ExternalRef = &ref
		}
	}
	reason := "callback " + event.RawStatus

	switch event.Status {
	case domain.GatewaySettled:
		switch txn.Status {
		case domain.StatusReserved:
			if txn, err = s.transition(ctx, txn, domain.StatusPendingExternal, domain.SystemActor, reason, markReceived); err != nil {
				return txn, err
			}
			return s.settle(ctx, txn, domain.SystemActor, reason)
		case domain.StatusPendingExternal:
			if txn, err = s.touch(ctx, txn, markReceived); err != nil {
				return txn, err
			}
			return s.settle(ctx, txn, domain.SystemActor, reason)
		case domain.StatusSettled, domain.StatusReversed:
			return s.touch(ctx, txn, markReceived)
		}
	case domain.GatewayFailed:
		switch txn.Status {
		case domain.StatusReserved, domain.StatusPendingExternal:
			if txn, err = s.touch(ctx, txn, markReceived); err != nil {
				return txn, err
			}
			return s.fail(ctx, txn, domain.FailureCallbackFailed, event.Error, domain.SystemActor)
		case domain.StatusFailed:
			return s.touch(ctx, txn, markReceived)
		}
	default:
		// Still pending at the processor
		if txn.Status == domain.StatusReserved {
			return s.transition(ctx, txn, domain.StatusPendingExternal, domain.SystemActor, reason, markReceived)
		}
		return s.touch(ctx, txn, markReceived)
	}

	// The processor contradicts a decided outcome: keep the state, ask a human
	s.LogWarn(ctx, "Callback conflicts with recorded outcome", slog.String("status", string(txn.Status)))
	return s.touch(ctx, txn, func(t *domain.Transaction) {
		markReceived(t)
		t.ReviewRequired = true
	})
}

// ---- Cancel / Reverse ----

func (s *transactionService) Cancel(ctx context.Context, transactionID string, actor domain.Principal) (*domain.Transaction, error) {
	ctx = s.scoped(ctx, transactionID)
	unlock, err := s.locks.Lock(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !actor.IsManager() && txn.CreatedBy != actor.UserID {
		return nil, s.Forbid(ctx, actor, "cancel transaction "+transactionID)
	}
	if !txn.Status.Cancellable() {
		return nil, fmt.Errorf("transaction %s is %s: %w", transactionID, txn.Status, apperrors.ErrCancelNotAllowed)
	}
	failed, err := s.fail(ctx, txn, domain.FailureCancelled, "cancelled by "+actor.UserID, actor.UserID)
	if err != nil {
		return nil, err
	}
	return &failed, nil
}

func (s *transactionService) Reverse(ctx context.Context, transactionID, reason string, actor domain.Principal) (*domain.Transaction, error) {
	ctx = s.scoped(ctx, transactionID)
	if !actor.IsManager() {
		return nil, s.Forbid(ctx, actor, "reverse transaction "+transactionID)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("a reversal reason is required")
	}
	stored, _, err := s.idempotency.Execute(ctx, domain.ScopeReversal, transactionID, reason, transactionID,
		func(ctx context.Context) (domain.StoredResponse, error) {
			txn, err := s.reverse(ctx, transactionID, reason, actor.UserID)
			if err != nil {
				return domain.StoredResponse{}, err
			}
			return storedResponse(txn, http.StatusOK)
		})
	if err != nil {
		return nil, err
	}
	var txn domain.Transaction
	if err := json.Unmarshal(stored.Body, &txn); err != nil {
		return nil, apperrors.NewInternalServerError("stored response is unreadable", err)
	}
	return &txn, nil
}

func (s *transactionService) reverse(ctx context.Context, transactionID, reason, actor string) (domain.Transaction, error) {
	unlock, err := s.locks.Lock(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer unlock()

	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn.Status == domain.StatusReversed {
		return txn, nil
	}
	if txn.Status != domain.StatusSettled {
		return domain.Transaction{}, fmt.Errorf("only settled transactions can be reversed, %s is %s: %w", transactionID, txn.Status, apperrors.ErrInvalidTransition)
	}
	if _, err := s.ledger.Reverse(ctx, txn.TransactionID, txn.ReservationIDs...); err != nil {
		return domain.Transaction{}, fmt.Errorf("reversing ledger entries: %w", err)
	}
	return s.transition(ctx, txn, domain.StatusReversed, actor, reason, func(t *domain.Transaction) {
		t.ReversalReason = reason
	})
}

// ---- Reconciliation ----

func (s *transactionService) Reconcile(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	unlock, err := s.locks.Lock(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	ctx = s.scoped(ctx, transactionID, slog.String("status", string(txn.Status)))

	var out domain.Transaction
	switch txn.Status {
	case domain.StatusPendingExternal:
		out, err = s.reconcilePending(ctx, txn)
	case domain.StatusReserved:
		out, err = s.reconcileReserved(ctx, txn)
	case domain.StatusCreated:
		// No funds touched and no external call made
		out, err = s.fail(ctx, txn, domain.FailureAbandoned, "submission never completed", domain.SystemActor)
	default:
		out = txn
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *transactionService) queryStatus(ctx context.Context, txn domain.Transaction) (domain.GatewayStatus, error) {
	ref := txn.Reference
	if txn.ExternalRef != nil && *txn.ExternalRef != "" {
		ref = *txn.ExternalRef
	}
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.QueryStatus(callCtx, txn.Kind, ref)
}

func (s *transactionService) reconcilePending(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	status, err := s.queryStatus(ctx, txn)
	if err != nil {
		s.LogWarn(ctx, "Status query failed, treating as unknown", slog.String("error", err.Error()))
		status = domain.GatewayUnknown
	}
	switch status {
	case domain.GatewaySettled:
		metrics.ReconciliationOutcomesTotal.WithLabelValues("settled").Inc()
		return s.settle(ctx, txn, domain.SystemActor, "reconciliation")
	case domain.GatewayFailed:
		metrics.ReconciliationOutcomesTotal.WithLabelValues("failed").Inc()
		return s.fail(ctx, txn, domain.FailureReconciliationFailed, "gateway reported failure", domain.SystemActor)
	}

	return s.backOff(ctx, txn)
}

// backOff counts a reconciliation attempt that learned nothing. It schedules the
// next check, or fails the transaction for review once the attempts are spent.
func (s *transactionService) backOff(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	attempts := txn.ReconcileAttempts + 1
	if attempts >= s.policy.MaxAttempts {
		metrics.ReconciliationOutcomesTotal.WithLabelValues("exhausted").Inc()
		s.LogWarn(ctx, "Reconciliation attempts exhausted, failing for manual review", slog.Int("attempts", attempts))
		return s.failWith(ctx, txn, domain.FailureReconciliationExhausted, "gateway status unknown after retries", domain.SystemActor, func(t *domain.Transaction) {
			t.ReconcileAttempts = attempts
			t.ReviewRequired = true
			t.NextReconcileAt = nil
		})
	}
	next := s.Now().Add(utils.ExponentialBackoff(attempts, s.policy.BaseBackoff, s.policy.MaxBackoff))
	metrics.ReconciliationOutcomesTotal.WithLabelValues("rescheduled").Inc()
	s.LogInfo(ctx, "Gateway status unknown, rescheduled", slog.Int("attempts", attempts), slog.Time("next_check", next))
	return s.touch(ctx, txn, func(t *domain.Transaction) {
		t.ReconcileAttempts = attempts
		t.NextReconcileAt = &next
	})
}

// reconcileReserved resolves a transaction whose submission stopped after the reservation.
// A failing status query backs off like an unknown answer and ends in review.
func (s *transactionService) reconcileReserved(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	status, err := s.queryStatus(ctx, txn)
	if err != nil {
		s.LogWarn(ctx, "Status query failed for reserved transaction", slog.String("error", err.Error()))
		return s.backOff(ctx, txn)
	}
	switch status {
	case domain.GatewaySettled:
		metrics.ReconciliationOutcomesTotal.WithLabelValues("settled").Inc()
		txn, err = s.transition(ctx, txn, domain.StatusPendingExternal, domain.SystemActor, "reconciliation", nil)
		if err != nil {
			return txn, err
		}
		return s.settle(ctx, txn, domain.SystemActor, "reconciliation")
	case domain.GatewayFailed, domain.GatewayNotFound:
		metrics.ReconciliationOutcomesTotal.WithLabelValues("failed").Inc()
		return s.fail(ctx, txn, domain.FailureReservationExpired, "reservation expired before the gateway call completed", domain.SystemActor)
	default:
		// The call may have gone out; treat it as pending from now on
		metrics.ReconciliationOutcomesTotal.WithLabelValues("rescheduled").Inc()
		return s.transition(ctx, txn, domain.StatusPendingExternal, domain.SystemActor, "reconciliation", nil)
	}
}

// ---- Reads ----

func (s *transactionService) GetTransaction(ctx context.Context, transactionID string, actor domain.Principal) (*domain.Transaction, []domain.TransitionEvent, error) {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorizeView(ctx, txn, actor); err != nil {
		return nil, nil, err
	}
	events, err := s.txnRepo.ListTransitions(ctx, transactionID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading transitions for %s: %w", transactionID, err)
	}
	return &txn, events, nil
}

func (s *transactionService) ListTransactions(ctx context.Context, accountID string, actor domain.Principal, limit int, nextToken *string) ([]domain.Transaction, *string, error) {
	acc, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.CanAccess(*acc) {
		return nil, nil, s.Forbid(ctx, actor, "list transactions of account "+accountID)
	}
	cursor, err := decodeCursor(nextToken)
	if err != nil {
		return nil, nil, err
	}
	txns, err := s.txnRepo.ListTransactionsByAccount(ctx, accountID, limit+1, cursor)
	if err != nil {
		return nil, nil, fmt.Errorf("listing transactions for %s: %w", accountID, err)
	}
	var next *string
	if len(txns) > limit {
		txns = txns[:limit]
		last := txns[len(txns)-1]
		token := pagination.EncodeToken(last.CreatedAt, last.TransactionID)
		next = &token
	}
	return txns, next, nil
}

// authorizeView allows managers, the submitter and the owners of either account.
func (s *transactionService) authorizeView(ctx context.Context, txn domain.Transaction, actor domain.Principal) error {
	if actor.IsManager() || txn.CreatedBy == actor.UserID {
		return nil
	}
	for _, id := range []*string{txn.SourceAccountID, txn.DestinationAccountID} {
		if id == nil {
			continue
		}
		acc, err := s.ledger.GetAccount(ctx, *id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return err
		}
		if actor.Owns(*acc) {
			return nil
		}
	}
	return s.Forbid(ctx, actor, "view transaction "+txn.TransactionID)
}

// ---- Helpers ----

// scoped attaches the transaction ID, and any extra attributes, to the context logger.
func (s *transactionService) scoped(ctx context.Context, transactionID string, attrs ...any) context.Context {
	args := append([]any{slog.String("transaction_id", transactionID)}, attrs...)
	return middleware.WithLogger(ctx, s.GetLogger(ctx).With(args...))
}

func (s *transactionService) load(ctx context.Context, transactionID string) (domain.Transaction, error) {
	txn, err := s.txnRepo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.Transaction{}, apperrors.NewNotFoundError("transaction " + transactionID + " not found")
		}
		return domain.Transaction{}, fmt.Errorf("loading transaction %s: %w", transactionID, err)
	}
	return *txn, nil
}

// transition applies one edge of the state machine and persists it with the audit event.
func (s *transactionService) transition(ctx context.Context, txn domain.Transaction, to domain.TransactionStatus, actor, reason string, mutate func(*domain.Transaction)) (domain.Transaction, error) {
	next, event, err := txn.Transition(to, actor, s.Now())
	if err != nil {
		return txn, err
	}
	if mutate != nil {
		mutate(&next)
	}
	event.Reason = reason
	if err := s.txnRepo.UpdateTransaction(ctx, next, txn.Version, &event); err != nil {
		return txn, fmt.Errorf("persisting %s -> %s: %w", txn.Status, to, err)
	}
	metrics.TransitionsTotal.WithLabelValues(string(next.Kind), string(txn.Status), string(to)).Inc()
	s.LogInfo(ctx, "Transaction transitioned",
		slog.String("from", string(txn.Status)),
		slog.String("to", string(to)),
		slog.String("reason", reason))
	if to.IsTerminal() && s.notifier != nil {
		s.notifier.TransactionFinished(ctx, next)
	}
	return next, nil
}

// touch persists field changes that keep the status.
func (s *transactionService) touch(ctx context.Context, txn domain.Transaction, mutate func(*domain.Transaction)) (domain.Transaction, error) {
	next := txn.Touch(domain.SystemActor, s.Now())
	mutate(&next)
	if err := s.txnRepo.UpdateTransaction(ctx, next, txn.Version, nil); err != nil {
		return txn, fmt.Errorf("updating transaction %s: %w", txn.TransactionID, err)
	}
	return next, nil
}

func (s *transactionService) flagForReview(ctx context.Context, transactionID, why string) (domain.Transaction, error) {
	unlock, err := s.locks.Lock(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer unlock()
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.LogWarn(ctx, "Transaction flagged for review", slog.String("why", why))
	return s.touch(ctx, txn, func(t *domain.Transaction) { t.ReviewRequired = true })
}

// settle commits every leg atomically, then records Settled.
func (s *transactionService) settle(ctx context.Context, txn domain.Transaction, actor, reason string) (domain.Transaction, error) {
	if _, err := s.ledger.Commit(ctx, txn.TransactionID, txn.ReservationIDs...); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			s.LogError(ctx, err, "Reservations cannot be committed, flagging for review")
			flagged, flagErr := s.touch(ctx, txn, func(t *domain.Transaction) { t.ReviewRequired = true })
			if flagErr == nil {
				txn = flagged
			}
		}
		return txn, fmt.Errorf("committing reservations: %w", err)
	}
	return s.transition(ctx, txn, domain.StatusSettled, actor, reason, func(t *domain.Transaction) {
		t.NextReconcileAt = nil
	})
}

// fail releases every leg, then records Failed.
func (s *transactionService) fail(ctx context.Context, txn domain.Transaction, reason domain.FailureReason, message, actor string) (domain.Transaction, error) {
	return s.failWith(ctx, txn, reason, message, actor, nil)
}

func (s *transactionService) failWith(ctx context.Context, txn domain.Transaction, reason domain.FailureReason, message, actor string, mutate func(*domain.Transaction)) (domain.Transaction, error) {
	if len(txn.ReservationIDs) > 0 {
		if _, err := s.ledger.Release(ctx, txn.TransactionID, txn.ReservationIDs...); err != nil {
			if errors.Is(err, apperrors.ErrInvalidTransition) {
				s.LogError(ctx, err, "Reservations cannot be released, flagging for review")
				flagged, flagErr := s.touch(ctx, txn, func(t *domain.Transaction) { t.ReviewRequired = true })
				if flagErr == nil {
					txn = flagged
				}
			}
			return txn, fmt.Errorf("releasing reservations: %w", err)
		}
	}
	return s.transition(ctx, txn, domain.StatusFailed, actor, string(reason), func(t *domain.Transaction) {
		t.FailureReason = reason
		t.ErrorMessage = message
		t.NextReconcileAt = nil
		if mutate != nil {
			mutate(t)
		}
	})
}

// statusCodeFor maps the state a submission reached to the HTTP status every caller receives.
func statusCodeFor(txn domain.Transaction) int {
	switch txn.Status {
	case domain.StatusSettled:
		return http.StatusCreated
	case domain.StatusReversed:
		return http.StatusOK
	case domain.StatusFailed:
		switch txn.FailureReason {
		case domain.FailureInsufficientFunds:
			return http.StatusPaymentRequired
		case domain.FailureAccountLocked, domain.FailureGatewayRejected:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusConflict
		}
	default:
		return http.StatusAccepted
	}
}

func storedResponse(txn domain.Transaction, statusCode int) (domain.StoredResponse, error) {
	body, err := json.Marshal(txn)
	if err != nil {
		return domain.StoredResponse{}, fmt.Errorf("encoding response: %w", err)
	}
	return domain.StoredResponse{TransactionID: txn.TransactionID, StatusCode: statusCode, Body: body}, nil
}

// hashCommand fingerprints the intent so a reused key with a different payload, or
// presented by a different actor, is caught instead of replayed.
func hashCommand(cmd portssvc.SubmitCommand) string {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	canonical := strings.Join([]string{
		cmd.Actor.UserID,
		string(cmd.Kind),
		deref(cmd.SourceAccountID),
		deref(cmd.DestinationAccountID),
		fmt.Sprint(cmd.Amount),
		cmd.CurrencyCode,
		cmd.OperatorCode,
		cmd.PhoneNumber,
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func sameIntent(txn domain.Transaction, cmd portssvc.SubmitCommand) bool {
	eq := func(a, b *string) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return *a == *b
	}
	return txn.CreatedBy == cmd.Actor.UserID &&
		txn.Kind == cmd.Kind &&
		txn.Amount == cmd.Amount &&
		txn.CurrencyCode == cmd.CurrencyCode &&
		eq(txn.SourceAccountID, cmd.SourceAccountID) &&
		eq(txn.DestinationAccountID, cmd.DestinationAccountID)
}
