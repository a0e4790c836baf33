package handlers

import (
	"log/slog"
	"net/http"

	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/gin-gonic/gin"
	limitergin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

// otpRate bounds code requests per client IP; every send costs an SMS.
const otpRate = "5-M"

// authHandler handles one-time code delivery and verification.
type authHandler struct {
	otp portssvc.OTPVerifier
}

// registerAuthRoutes sets up the routes for OTP delivery and verification.
func registerAuthRoutes(rg *gin.RouterGroup, otp portssvc.OTPVerifier) error {
	h := &authHandler{otp: otp}

	ipLimiter, err := middleware.NewRateLimiter(otpRate)
	if err != nil {
		return err
	}
	limitMiddleware := limitergin.NewMiddleware(ipLimiter)

	auth := rg.Group("/auth")
	{
		auth.POST("/send-otp/", limitMiddleware, h.sendOTP)
		auth.POST("/verify-otp/", limitMiddleware, h.verifyOTP)
	}
	return nil
}

// sendOTP godoc
// @Summary Send a one-time code
// @Description Texts a verification code to the phone number
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.SendOTPRequest true "Phone number"
// @Success 200 {object} dto.SendOTPResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /auth/send-otp/ [post]
func (h *authHandler) sendOTP(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if h.otp == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "OTP verification unavailable"})
		return
	}

	deliveryID, err := h.otp.SendOTP(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		logger.Error("Failed to send OTP", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to send OTP"})
		return
	}
	logger.Info("OTP sent", slog.String("delivery_id", deliveryID))
	c.JSON(http.StatusOK, dto.SendOTPResponse{DeliveryID: deliveryID})
}

// verifyOTP godoc
// @Summary Verify a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.VerifyOTPRequest true "Phone number and code"
// @Success 200 {object} dto.VerifyOTPResponse
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /auth/verify-otp/ [post]
func (h *authHandler) verifyOTP(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if h.otp == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "OTP verification unavailable"})
		return
	}

	valid, err := h.otp.CheckOTP(c.Request.Context(), req.PhoneNumber, req.Code)
	if err != nil {
		logger.Error("Failed to verify OTP", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to verify OTP"})
		return
	}
	c.JSON(http.StatusOK, dto.VerifyOTPResponse{Valid: valid})
}
