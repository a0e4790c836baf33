package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/gin-gonic/gin"
)

// accountHandler handles HTTP requests related to accounts.
type accountHandler struct {
	accountService portssvc.AccountSvcFacade
	ledgerService  portssvc.LedgerReaderSvc
}

// newAccountHandler creates a new accountHandler.
func newAccountHandler(as portssvc.AccountSvcFacade, ls portssvc.LedgerReaderSvc) *accountHandler {
	return &accountHandler{
		accountService: as,
		ledgerService:  ls,
	}
}

// registerAccountRoutes registers routes related to accounts.
func registerAccountRoutes(rg *gin.RouterGroup, as portssvc.AccountSvcFacade, ls portssvc.LedgerReaderSvc) {
	h := newAccountHandler(as, ls)

	accounts := rg.Group("/accounts")
	{
		accounts.POST("/", h.createAccount)
		accounts.GET("/:id", h.getAccount)
		accounts.GET("/:id/entries", h.listEntries)
		accounts.POST("/:id/lock", h.lockAccount)
		accounts.POST("/:id/unlock", h.unlockAccount)
		accounts.POST("/:id/deactivate", h.deactivateAccount)
	}
}

// createAccount godoc
// @Summary Open an account
// @Description Opens an account. Customers open their own accounts; managers may name any owner and post an opening balance.
// @Tags accounts
// @Accept  json
// @Produce  json
// @Param   account body dto.CreateAccountRequest true "Account details"
// @Success 201 {object} dto.AccountResponse
// @Failure 400 {object} ErrorResponse "Invalid input format or validation error"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Failed to create account"
// @Failure 403 {object} ErrorResponse "Not the owner, or manager role required"
// @Security BearerAuth
// @Router /accounts/ [post]
func (h *accountHandler) createAccount(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	logger.Info("Received request to create account", slog.String("owner_id", req.OwnerID), slog.String("currency_code", req.CurrencyCode))
	newAccount, err := h.accountService.CreateAccount(c.Request.Context(), req, actor)
	if err != nil {
		respondError(c, err, "Failed to create account")
		return
	}

	logger.Info("Account created successfully", slog.String("account_id", newAccount.AccountID))
	c.JSON(http.StatusCreated, dto.ToAccountResponse(newAccount))
}

// getAccount godoc
// @Summary Get an account by ID
// @Description Returns balance, held and available amounts
// @Tags accounts
// @Produce  json
// @Param   id path string true "Account ID"
// @Success 200 {object} dto.AccountResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Failure 403 {object} ErrorResponse "Not the owner, or manager role required"
// @Security BearerAuth
// @Router /accounts/{id} [get]
func (h *accountHandler) getAccount(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	account, err := h.accountService.AuthorizeAccountAccess(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, err, "Failed to retrieve account")
		return
	}
	c.JSON(http.StatusOK, dto.ToAccountResponse(account))
}

// listEntries godoc
// @Summary List ledger entries
// @Description Account statement, newest first
// @Tags accounts
// @Produce  json
// @Param   id path string true "Account ID"
// @Param   limit query int false "Page size" default(20)
// @Param   nextToken query string false "Token from the previous page"
// @Success 200 {object} dto.ListEntriesResponse
// @Failure 404 {object} ErrorResponse "Account not found"
// @Failure 403 {object} ErrorResponse "Not the owner, or manager role required"
// @Security BearerAuth
// @Router /accounts/{id}/entries [get]
func (h *accountHandler) listEntries(c *gin.Context) {
	var params dto.ListEntriesParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondBindError(c, err)
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	account, err := h.accountService.AuthorizeAccountAccess(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, err, "Failed to retrieve account")
		return
	}
	entries, next, err := h.ledgerService.ListEntries(c.Request.Context(), account.AccountID, params.Limit, params.NextToken)
	if err != nil {
		respondError(c, err, "Failed to list ledger entries")
		return
	}
	c.JSON(http.StatusOK, dto.ToListEntriesResponse(entries, account.CurrencyCode, next))
}

type accountFlagOp func(ctx context.Context, accountID string, actor domain.Principal) (*domain.Account, error)

func (h *accountHandler) updateFlags(c *gin.Context, op accountFlagOp, action string) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	accountID := c.Param("id")
	logger := middleware.GetLoggerFromCtx(c.Request.Context()).With(slog.String("target_account_id", accountID))

	account, err := op(c.Request.Context(), accountID, actor)
	if err != nil {
		respondError(c, err, "Failed to "+action+" account")
		return
	}
	logger.Info("Account updated", slog.String("action", action))
	c.JSON(http.StatusOK, dto.ToAccountResponse(account))
}

// lockAccount godoc
// @Summary Lock an account
// @Description New reservations are refused until unlocked
// @Tags accounts
// @Produce  json
// @Param   id path string true "Account ID"
// @Success 200 {object} dto.AccountResponse
// @Failure 404 {object} ErrorResponse
// @Failure 400 {object} ErrorResponse "Account inactive"
// @Failure 403 {object} ErrorResponse "Not the owner, or manager role required"
// @Security BearerAuth
// @Router /accounts/{id}/lock [post]
func (h *accountHandler) lockAccount(c *gin.Context) {
	h.updateFlags(c, h.accountService.LockAccount, "lock")
}

// unlockAccount godoc
// @Summary Unlock an account
// @Tags accounts
// @Produce  json
// @Param   id path string true "Account ID"
// @Success 200 {object} dto.AccountResponse
// @Failure 404 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Not the owner, or manager role required"
// @Security BearerAuth
// @Router /accounts/{id}/unlock [post]
func (h *accountHandler) unlockAccount(c *gin.Context) {
	h.updateFlags(c, h.accountService.UnlockAccount, "unlock")
}

// deactivateAccount godoc
// @Summary Deactivate an account
// @Description Accounts are never deleted. Deactivation requires no outstanding holds.
// @Tags accounts
// @Produce  json
// @Param   id path string true "Account ID"
// @Success 200 {object} dto.AccountResponse
// @Failure 404 {object} ErrorResponse
// @Failure 400 {object} ErrorResponse "Inactive or funds still held"
// @Failure 403 {object} ErrorResponse "Not the owner, or manager role required"
// @Security BearerAuth
// @Router /accounts/{id}/deactivate [post]
func (h *accountHandler) deactivateAccount(c *gin.Context) {
	h.updateFlags(c, h.accountService.DeactivateAccount, "deactivate")
}
