package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SscSPs/payment_settlement/internal/adapters/database/memory"
	"github.com/SscSPs/payment_settlement/internal/adapters/database/pgsql"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway/book"
	"github.com/SscSPs/payment_settlement/internal/adapters/gateway/dexchange"
	"github.com/SscSPs/payment_settlement/internal/adapters/otp/twilio"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/core/services"
	"github.com/SscSPs/payment_settlement/internal/dto"
	"github.com/SscSPs/payment_settlement/internal/handlers"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/SscSPs/payment_settlement/internal/platform/config"
	"github.com/SscSPs/payment_settlement/internal/utils"
	"github.com/SscSPs/payment_settlement/pkg/database"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 15 * time.Second

// @title Payment Settlement API
// @version 1.0
// @description Ledger, idempotent payment intents and Dexchange mobile-money settlement.

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @security BearerAuth
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("Server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize structured logger
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	repos, closeRepos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepos()

	router := gateway.NewRouter(
		dexchange.NewClient(dexchange.Config{
			BaseURL:       cfg.DexchangeBaseURL,
			APIKey:        cfg.DexchangeAPIKey,
			WebhookSecret: cfg.DexchangeWebhookSecret,
			CallbackURL:   cfg.DexchangeCallbackURL,
			SuccessURL:    cfg.DexchangeSuccessURL,
			FailureURL:    cfg.DexchangeFailureURL,
			MaxRetries:    cfg.GatewayMaxRetries,
			HTTPClient:    &http.Client{Timeout: cfg.GatewayTimeout},
		}),
		book.NewProcessor(),
	)

	var otp portssvc.OTPVerifier
	if cfg.TwilioAccountSID != "" && cfg.TwilioVerifyServiceSID != "" {
		otp = twilio.NewVerifier(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioVerifyServiceSID)
	} else {
		logger.Warn("Twilio Verify not configured, OTP routes are disabled")
	}

	posthogClient := utils.InitializePosthogClient(cfg.PosthogAPIKey, logger)
	defer posthogClient.Close()
	var notifier portssvc.SettlementNotifier
	if posthogClient.IsInitialized() {
		notifier = posthogClient
	}

	container := services.NewServiceContainer(cfg, repos, router, otp, notifier)

	if err := dto.RegisterValidators(); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Global middleware (logging, recovery)
	r.Use(
		middleware.StructuredLoggingMiddleware(logger),
		gin.Recovery(),
		middleware.MetricsMiddleware(),
		cors.New(cors.Config{
			AllowOrigins:     cfg.CORSAllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", middleware.OTPPhoneHeader, middleware.OTPCodeHeader},
			ExposeHeaders:    []string{"X-Request-ID", "Idempotent-Replayed", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		middleware.PosthogMiddleware(posthogClient),
	)
	if err := r.SetTrustedProxies(nil); err != nil {
		return fmt.Errorf("set trusted proxies: %w", err)
	}
	if err := handlers.RegisterRoutes(r, cfg, container); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		container.Reconciliation.Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("storage", string(cfg.StorageDriver)))
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serr := <-errCh:
		if serr != nil {
			runErr = fmt.Errorf("server error: %w", serr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown server: %w", err))
	}
	cancelWorker()
	wg.Wait()
	logger.Info("Server stopped")
	return runErr
}

// openRepositories connects the configured storage driver and returns a close function.
func openRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (portsrepo.RepositoryProvider, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("Using in-memory storage")
		return memory.NewRepositoryProvider(memory.NewStore()), func() {}, nil
	}

	dbPool, err := database.NewPgxPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.EnableDBCheck)
	if err != nil {
		return portsrepo.RepositoryProvider{}, nil, fmt.Errorf("initialize database pool: %w", err)
	}
	logger.Info("Database connection pool established.")

	if err := runMigrations(cfg.DatabaseURL, logger); err != nil {
		database.ClosePgxPool(dbPool)
		return portsrepo.RepositoryProvider{}, nil, err
	}
	return pgsql.NewRepositoryProvider(dbPool), func() { database.ClosePgxPool(dbPool) }, nil
}
