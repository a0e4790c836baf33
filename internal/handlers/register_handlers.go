package handlers

import (
	"log/slog"
	"net/http"

	"github.com/SscSPs/payment_settlement/cmd/docs"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/SscSPs/payment_settlement/internal/platform/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RegisterRoutes sets up all application routes, injecting dependencies using interfaces
func RegisterRoutes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
) error {
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if cfg.RateLimit != "" {
		l, err := middleware.NewRateLimiter(cfg.RateLimit)
		if err != nil {
			return err
		}
		api.Use(middleware.RateLimit(l))
	}

	// Public: gateway callbacks, landing pages and OTP delivery
	if err := registerAuthRoutes(api, services.OTP); err != nil {
		return err
	}
	registerGatewayRoutes(api, services.Transaction)

	// Everything else requires a token from the identity provider
	secured := api.Group("", middleware.AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))
	otpGuard := middleware.RequireOTP(cfg.OTPRequired, services.OTP)
	registerTransactionRoutes(secured, services.Transaction, otpGuard)
	registerAccountRoutes(secured, services.Account, services.Ledger)

	setupSwaggerRoutes(r, cfg)
	return nil
}

// setupSwaggerRoutes configures the swagger documentation routes
func setupSwaggerRoutes(r *gin.Engine, cfg *config.Config) {
	if cfg.IsProduction {
		//no swagger in prod
		slog.Debug("Swagger disabled in production")
		return
	}
	docs.SwaggerInfo.BasePath = "/api"
	swagger := r.Group("/swagger")
	swagger.GET("/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
