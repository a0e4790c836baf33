package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/gin-gonic/gin"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 64
)

type transactionHandler struct {
	transactionService portssvc.TransactionSvcFacade
}

func newTransactionHandler(ts portssvc.TransactionSvcFacade) *transactionHandler {
	return &transactionHandler{transactionService: ts}
}

// registerTransactionRoutes registers payment intents and transaction management.
// otpGuard protects the routes that move money out of an account.
// Manager-only kinds and reversals are enforced by the service; reconcile is gated here.
func registerTransactionRoutes(rg *gin.RouterGroup, ts portssvc.TransactionSvcFacade, otpGuard gin.HandlerFunc) {
	h := newTransactionHandler(ts)

	txns := rg.Group("/transactions")
	{
		txns.POST("/deposit/", h.deposit)
		txns.POST("/withdraw/", otpGuard, h.withdraw)
		txns.POST("/transfer/", otpGuard, h.transfer)
		txns.POST("/payment/", otpGuard, h.payment)
		txns.POST("/deposit_momo/", h.depositMomo)
		txns.POST("/withdraw_momo/", otpGuard, h.withdrawMomo)

		txns.GET("/", h.listTransactions)
		txns.GET("/:id", h.getTransaction)
		txns.POST("/:id/cancel", h.cancelTransaction)
		txns.POST("/:id/reverse", h.reverseTransaction)
		txns.POST("/:id/reconcile", middleware.RequireRole(domain.RoleManager), h.reconcileTransaction)
	}
}

// deposit godoc
// @Summary Deposit funds
// @Description Credits an account from cash or an NFC card, settled by the in-house processor
// @Tags transactions
// @Accept  json
// @Produce  json
// @Param   Idempotency-Key header string false "Client supplied idempotency key, becomes the transaction ID"
// @Param   transaction body dto.CreateTransactionRequest true "Deposit details"
// @Success 201 {object} dto.TransactionResponse "Settled"
// @Success 202 {object} dto.TransactionResponse "Pending external confirmation"
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Idempotency conflict"
// @Failure 422 {object} ErrorResponse "Rejected or account locked"
// @Failure 502 {object} ErrorResponse "Processor unavailable, nothing applied"
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/deposit/ [post]
func (h *transactionHandler) deposit(c *gin.Context) {
	h.submit(c, domain.KindDeposit)
}

// withdraw godoc
// @Summary Withdraw funds
// @Description Debits an account for a cash withdrawal
// @Tags transactions
// @Accept  json
// @Produce  json
// @Param   Idempotency-Key header string false "Client supplied idempotency key"
// @Param   X-OTP-Phone header string false "Phone number the OTP was sent to"
// @Param   X-OTP-Code header string false "One-time code"
// @Param   transaction body dto.CreateTransactionRequest true "Withdrawal details"
// @Success 201 {object} dto.TransactionResponse
// @Failure 402 {object} ErrorResponse "Insufficient funds"
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/withdraw/ [post]
func (h *transactionHandler) withdraw(c *gin.Context) {
	h.submit(c, domain.KindWithdraw)
}

// transfer godoc
// @Summary Transfer between accounts
// @Tags transactions
// @Accept  json
// @Produce  json
// @Param   Idempotency-Key header string false "Client supplied idempotency key"
// @Param   transaction body dto.CreateTransactionRequest true "Transfer details"
// @Success 201 {object} dto.TransactionResponse
// @Failure 402 {object} ErrorResponse "Insufficient funds"
// @Failure 409 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/transfer/ [post]
func (h *transactionHandler) transfer(c *gin.Context) {
	h.submit(c, domain.KindTransfer)
}

// payment godoc
// @Summary Pay a merchant account
// @Tags transactions
// @Accept  json
// @Produce  json
// @Param   Idempotency-Key header string false "Client supplied idempotency key"
// @Param   transaction body dto.CreateTransactionRequest true "Payment details"
// @Success 201 {object} dto.TransactionResponse
// @Failure 402 {object} ErrorResponse "Insufficient funds"
// @Failure 409 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/payment/ [post]
func (h *transactionHandler) payment(c *gin.Context) {
	h.submit(c, domain.KindPayment)
}

// depositMomo godoc
// @Summary Deposit from mobile money
// @Description Initiates a cash-in through Dexchange. Settles when the callback or reconciliation confirms it.
// @Tags transactions
// @Accept  json
// @Produce  json
// @Param   Idempotency-Key header string false "Client supplied idempotency key"
// @Param   transaction body dto.CreateTransactionRequest true "Operator code, phone number and amount"
// @Success 202 {object} dto.TransactionResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/deposit_momo/ [post]
func (h *transactionHandler) depositMomo(c *gin.Context) {
	h.submit(c, domain.KindDepositMomo)
}

// withdrawMomo godoc
// @Summary Withdraw to mobile money
// @Description Holds the amount and initiates a cash-out through Dexchange
// @Tags transactions
// @Accept  json
// @Produce  json
// @Param   Idempotency-Key header string false "Client supplied idempotency key"
// @Param   transaction body dto.CreateTransactionRequest true "Operator code, phone number and amount"
// @Success 202 {object} dto.TransactionResponse
// @Failure 402 {object} ErrorResponse "Insufficient funds"
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/withdraw_momo/ [post]
func (h *transactionHandler) withdrawMomo(c *gin.Context) {
	h.submit(c, domain.KindWithdrawMomo)
}

func (h *transactionHandler) submit(c *gin.Context, kind domain.TransactionKind) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	var req dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Idempotency-Key must be at most 64 characters"})
		return
	}

	logger = logger.With(slog.String("idempotency_key", key))
	ctx := middleware.WithLogger(c.Request.Context(), logger)
	logger.Info("Received payment intent", slog.String("kind", string(kind)), slog.Int64("amount", req.Amount))

	res, err := h.transactionService.Submit(ctx, portssvc.SubmitCommand{
		IdempotencyKey:       key,
		Kind:                 kind,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		CurrencyCode:         req.CurrencyCode,
		OperatorCode:         req.OperatorCode,
		PhoneNumber:          req.PhoneNumber,
		Actor:                actor,
	})
	if err != nil {
		respondError(c, err, "Failed to process transaction")
		return
	}
	if res.Replayed {
		c.Header(replayedHeader, "true")
	}
	logger.Info("Payment intent processed",
		slog.String("transaction_id", res.Transaction.TransactionID),
		slog.String("kind", string(kind)),
		slog.String("status", string(res.Transaction.Status)),
		slog.Bool("replayed", res.Replayed),
	)
	c.JSON(res.StatusCode, dto.ToTransactionResponse(&res.Transaction))
}

// listTransactions godoc
// @Summary List transactions of an account
// @Description Newest first, paginated with an opaque token
// @Tags transactions
// @Produce  json
// @Param   accountID query string true "Account ID"
// @Param   limit query int false "Page size" default(20)
// @Param   nextToken query string false "Token from the previous page"
// @Success 200 {object} dto.ListTransactionsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/ [get]
func (h *transactionHandler) listTransactions(c *gin.Context) {
	var params dto.ListTransactionsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondBindError(c, err)
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	txns, next, err := h.transactionService.ListTransactions(c.Request.Context(), params.AccountID, actor, params.Limit, params.NextToken)
	if err != nil {
		respondError(c, err, "Failed to list transactions")
		return
	}
	c.JSON(http.StatusOK, dto.ToListTransactionsResponse(txns, next))
}

// getTransaction godoc
// @Summary Get a transaction
// @Description Returns the transaction with its state transition audit trail
// @Tags transactions
// @Produce  json
// @Param   id path string true "Transaction ID"
// @Success 200 {object} dto.TransactionDetailResponse
// @Failure 404 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/{id} [get]
func (h *transactionHandler) getTransaction(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	txn, events, err := h.transactionService.GetTransaction(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, err, "Failed to retrieve transaction")
		return
	}
	c.JSON(http.StatusOK, dto.TransactionDetailResponse{
		TransactionResponse: dto.ToTransactionResponse(txn),
		Transitions:         events,
	})
}

// cancelTransaction godoc
// @Summary Cancel a transaction
// @Description Allowed only before the external call was issued; releases any hold
// @Tags transactions
// @Produce  json
// @Param   id path string true "Transaction ID"
// @Success 200 {object} dto.TransactionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "No longer cancellable"
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/{id}/cancel [post]
func (h *transactionHandler) cancelTransaction(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	txn, err := h.transactionService.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, err, "Failed to cancel transaction")
		return
	}
	c.JSON(http.StatusOK, dto.ToTransactionResponse(txn))
}

// reverseTransaction godoc
// @Summary Reverse a settled transaction
// @Description Posts compensating ledger entries. Repeating the call returns the same result.
// @Tags transactions
// @Accept  json
// @Produce  json
// @Param   id path string true "Transaction ID"
// @Param   reversal body dto.ReverseTransactionRequest true "Reason"
// @Success 200 {object} dto.TransactionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Not settled"
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/{id}/reverse [post]
func (h *transactionHandler) reverseTransaction(c *gin.Context) {
	var req dto.ReverseTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	txn, err := h.transactionService.Reverse(c.Request.Context(), c.Param("id"), req.Reason, actor)
	if err != nil {
		respondError(c, err, "Failed to reverse transaction")
		return
	}
	c.JSON(http.StatusOK, dto.ToTransactionResponse(txn))
}

// reconcileTransaction godoc
// @Summary Reconcile a transaction now
// @Description Queries the processor for the authoritative status and applies it
// @Tags transactions
// @Produce  json
// @Param   id path string true "Transaction ID"
// @Success 200 {object} dto.TransactionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Caller may not act on this account or transaction"
// @Security BearerAuth
// @Router /transactions/{id}/reconcile [post]
func (h *transactionHandler) reconcileTransaction(c *gin.Context) {
	txn, err := h.transactionService.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to reconcile transaction")
		return
	}
	c.JSON(http.StatusOK, dto.ToTransactionResponse(txn))
}
