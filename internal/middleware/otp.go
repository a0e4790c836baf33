package middleware

import (
	"log/slog"
	"net/http"

	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/gin-gonic/gin"
)

const (
	OTPPhoneHeader = "X-OTP-Phone"
	OTPCodeHeader  = "X-OTP-Code"
)

// RequireOTP rejects account-holder initiated operations without a valid one-time code.
// It is a no-op when disabled.
func RequireOTP(enabled bool, verifier portssvc.OTPVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}
		logger := GetLoggerFromCtx(c.Request.Context())

		phone := c.GetHeader(OTPPhoneHeader)
		code := c.GetHeader(OTPCodeHeader)
		if phone == "" || code == "" {
			logger.Warn("OTP headers missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "OTP verification required"})
			return
		}
		if verifier == nil {
			logger.Error("OTP required but no verifier configured")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "OTP verification unavailable"})
			return
		}

		valid, err := verifier.CheckOTP(c.Request.Context(), phone, code)
		if err != nil {
			logger.Error("OTP check failed", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "OTP verification unavailable"})
			return
		}
		if !valid {
			logger.Warn("Invalid OTP code")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid OTP code"})
			return
		}
		c.Next()
	}
}
