package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/SscSPs/payment_settlement/internal/adapters/gateway/dexchange"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/gin-gonic/gin"
)

const maxCallbackBytes = 1 << 20

type callbackHandler struct {
	transactionService portssvc.TransactionWriterSvc
}

// registerGatewayRoutes registers the routes Dexchange calls. They carry no bearer token;
// callbacks are authenticated by their signature.
func registerGatewayRoutes(rg *gin.RouterGroup, ts portssvc.TransactionWriterSvc) {
	h := &callbackHandler{transactionService: ts}

	txns := rg.Group("/transactions")
	{
		txns.POST("/callback/dexchange/", h.dexchangeCallback)
		txns.GET("/success/", h.success)
		txns.POST("/success/", h.success)
		txns.GET("/failure/", h.failure)
		txns.POST("/failure/", h.failure)
	}
}

// dexchangeCallback godoc
// @Summary Dexchange webhook
// @Description Applies an asynchronous outcome. Redelivered notifications are acknowledged without effect.
// @Tags gateway
// @Accept  json
// @Produce  json
// @Param   X-Dexchange-Signature header string true "Hex HMAC-SHA256 of the raw body"
// @Success 200 {object} dto.CallbackResponse
// @Failure 400 {object} ErrorResponse "Malformed payload or amount mismatch"
// @Failure 401 {object} ErrorResponse "Invalid signature"
// @Failure 404 {object} ErrorResponse "Unknown transaction"
// @Router /transactions/callback/dexchange/ [post]
func (h *callbackHandler) dexchangeCallback(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context()).With(slog.String("remote_ip", c.ClientIP()))
	ctx := middleware.WithLogger(c.Request.Context(), logger)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		logger.Warn("Failed to read callback body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unreadable body"})
		return
	}

	res, err := h.transactionService.HandleCallback(ctx, payload, c.GetHeader(dexchange.SignatureHeader))
	if err != nil {
		respondError(c, err, "Failed to process callback")
		return
	}
	c.JSON(http.StatusOK, dto.CallbackResponse{
		ID:                    res.Event.EventID,
		ExternalTransactionID: res.Event.Reference,
		TransactionType:       string(res.Transaction.Kind),
		Status:                res.Event.RawStatus,
		Duplicate:             res.Duplicate,
	})
}

// success godoc
// @Summary Payment success landing
// @Description Where the payer is sent after confirming on the operator side. Informational only.
// @Tags gateway
// @Produce  json
// @Param   externalTransactionId query string false "Transaction reference"
// @Success 200 {object} dto.RedirectAckResponse
// @Router /transactions/success/ [get]
func (h *callbackHandler) success(c *gin.Context) {
	c.JSON(http.StatusOK, dto.RedirectAckResponse{
		Status:                "success",
		Message:               "Payment submitted. The balance updates once the operator confirms it.",
		ExternalTransactionID: c.Query("externalTransactionId"),
	})
}

// failure godoc
// @Summary Payment failure landing
// @Tags gateway
// @Produce  json
// @Param   externalTransactionId query string false "Transaction reference"
// @Success 200 {object} dto.RedirectAckResponse
// @Router /transactions/failure/ [get]
func (h *callbackHandler) failure(c *gin.Context) {
	c.JSON(http.StatusOK, dto.RedirectAckResponse{
		Status:                "failure",
		Message:               "Payment was not completed.",
		ExternalTransactionID: c.Query("externalTransactionId"),
	})
}
