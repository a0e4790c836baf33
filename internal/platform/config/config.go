package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// StorageDriver selects the repository implementation.
type StorageDriver string

const (
	StoragePostgres StorageDriver = "postgres"
	StorageMemory   StorageDriver = "memory"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL   string
	StorageDriver StorageDriver
	Port          string
	IsProduction  bool
	EnableDBCheck bool
	DBMaxConns    int
	LogLevel      string
	JWTSecret     string
	JWTIssuer     string

	// Dexchange payment aggregator
	DexchangeBaseURL       string
	DexchangeAPIKey        string
	DexchangeWebhookSecret string
	DexchangeCallbackURL   string
	DexchangeSuccessURL    string
	DexchangeFailureURL    string
	GatewayTimeout         time.Duration
	GatewayMaxRetries      int

	// Ledger and idempotency
	LedgerMaxConflictRetries int
	ReservationTTL           time.Duration
	IdempotencyRetention     time.Duration
	IdempotencyWaitTimeout   time.Duration
	MaxTransactionAmount     int64

	// Reconciliation worker
	ReconcileInterval       time.Duration
	ReconcilePendingTimeout time.Duration
	ReconcileBaseBackoff    time.Duration
	ReconcileMaxBackoff     time.Duration
	ReconcileMaxAttempts    int
	ReconcileBatchSize      int
	ReconcileConcurrency    int

	// Twilio Verify
	OTPRequired            bool
	TwilioAccountSID       string
	TwilioAuthToken        string
	TwilioVerifyServiceSID string

	RateLimit          string
	CORSAllowedOrigins []string
	PosthogAPIKey      string
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("PGSQL_URL", "")
	viper.SetDefault("STORAGE_DRIVER", string(StoragePostgres))
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("IS_PRODUCTION", false)
	viper.SetDefault("ENABLE_DB_CHECK", false)
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("JWT_SECRET", "a-very-secret-key-should-be-longer-and-random")
	viper.SetDefault("JWT_ISSUER", "payment-settlement")
	viper.SetDefault("DEXCHANGE_BASE_URL", "https://api-m.dexchange.sn/api/v1")
	viper.SetDefault("DEXCHANGE_API_KEY", "")
	viper.SetDefault("DEXCHANGE_WEBHOOK_SECRET", "")
	viper.SetDefault("DEXCHANGE_CALLBACK_URL", "")
	viper.SetDefault("DEXCHANGE_SUCCESS_URL", "")
	viper.SetDefault("DEXCHANGE_FAILURE_URL", "")
	viper.SetDefault("GATEWAY_TIMEOUT", "10s")
	viper.SetDefault("GATEWAY_MAX_RETRIES", 3)
	viper.SetDefault("LEDGER_MAX_CONFLICT_RETRIES", 5)
	viper.SetDefault("RESERVATION_TTL", "15m")
	viper.SetDefault("IDEMPOTENCY_RETENTION", "24h")
	viper.SetDefault("IDEMPOTENCY_WAIT_TIMEOUT", "5s")
	viper.SetDefault("MAX_TRANSACTION_AMOUNT", 1000000)
	viper.SetDefault("RECONCILE_INTERVAL", "30s")
	viper.SetDefault("RECONCILE_PENDING_TIMEOUT", "2m")
	viper.SetDefault("RECONCILE_BASE_BACKOFF", "30s")
	viper.SetDefault("RECONCILE_MAX_BACKOFF", "30m")
	viper.SetDefault("RECONCILE_MAX_ATTEMPTS", 8)
	viper.SetDefault("RECONCILE_BATCH_SIZE", 100)
	viper.SetDefault("RECONCILE_CONCURRENCY", 4)
	viper.SetDefault("OTP_REQUIRED", false)
	viper.SetDefault("TWILIO_ACCOUNT_SID", "")
	viper.SetDefault("TWILIO_AUTH_TOKEN", "")
	viper.SetDefault("TWILIO_VERIFY_SERVICE_SID", "")
	viper.SetDefault("RATE_LIMIT", "100-M")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("POSTHOG_API_KEY", "")

	viper.AutomaticEnv()

	cfg := &Config{}

	cfg.DatabaseURL = viper.GetString("PGSQL_URL")
	cfg.StorageDriver = StorageDriver(strings.ToLower(viper.GetString("STORAGE_DRIVER")))
	switch cfg.StorageDriver {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			log.Println("Warning: PGSQL_URL environment variable not set.")
		}
	case StorageMemory:
		log.Println("Warning: STORAGE_DRIVER=memory, state is lost on restart.")
	default:
		log.Printf("Warning: Unknown STORAGE_DRIVER ('%s'). Defaulting to %s.\n", cfg.StorageDriver, StoragePostgres)
		cfg.StorageDriver = StoragePostgres
	}

	cfg.Port = viper.GetString("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080" // Default port
		log.Printf("Warning: PORT environment variable not set. Defaulting to %s\n", cfg.Port)
	}

	cfg.JWTSecret = viper.GetString("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "a-very-secret-key-should-be-longer-and-random" // !! CHANGE IN PRODUCTION !!
		log.Println("Warning: JWT_SECRET environment variable not set. Using default insecure key.")
	}
	cfg.JWTIssuer = viper.GetString("JWT_ISSUER")

	cfg.IsProduction = viper.GetBool("IS_PRODUCTION")
	cfg.EnableDBCheck = viper.GetBool("ENABLE_DB_CHECK")
	cfg.DBMaxConns = intOrDefault("DB_MAX_CONNS", 10, 1)
	cfg.LogLevel = viper.GetString("LOG_LEVEL")

	cfg.DexchangeBaseURL = strings.TrimRight(viper.GetString("DEXCHANGE_BASE_URL"), "/")
	cfg.DexchangeAPIKey = viper.GetString("DEXCHANGE_API_KEY")
	cfg.DexchangeWebhookSecret = viper.GetString("DEXCHANGE_WEBHOOK_SECRET")
	cfg.DexchangeCallbackURL = viper.GetString("DEXCHANGE_CALLBACK_URL")
	cfg.DexchangeSuccessURL = viper.GetString("DEXCHANGE_SUCCESS_URL")
	cfg.DexchangeFailureURL = viper.GetString("DEXCHANGE_FAILURE_URL")
	if cfg.DexchangeAPIKey == "" {
		log.Println("Warning: DEXCHANGE_API_KEY not set. Mobile-money transactions will be rejected by the aggregator.")
	}
	if cfg.DexchangeWebhookSecret == "" {
		log.Println("Warning: DEXCHANGE_WEBHOOK_SECRET not set. Every callback will fail signature verification.")
	}
	cfg.GatewayTimeout = durationOrDefault("GATEWAY_TIMEOUT", 10*time.Second)
	cfg.GatewayMaxRetries = intOrDefault("GATEWAY_MAX_RETRIES", 3, 0)

	cfg.LedgerMaxConflictRetries = intOrDefault("LEDGER_MAX_CONFLICT_RETRIES", 5, 1)
	cfg.ReservationTTL = durationOrDefault("RESERVATION_TTL", 15*time.Minute)
	cfg.IdempotencyRetention = durationOrDefault("IDEMPOTENCY_RETENTION", 24*time.Hour)
	cfg.IdempotencyWaitTimeout = durationOrDefault("IDEMPOTENCY_WAIT_TIMEOUT", 5*time.Second)
	cfg.MaxTransactionAmount = viper.GetInt64("MAX_TRANSACTION_AMOUNT")
	if cfg.MaxTransactionAmount <= 0 {
		cfg.MaxTransactionAmount = 1000000
		log.Printf("Warning: Invalid MAX_TRANSACTION_AMOUNT. Defaulting to %d.\n", cfg.MaxTransactionAmount)
	}

	cfg.ReconcileInterval = durationOrDefault("RECONCILE_INTERVAL", 30*time.Second)
	cfg.ReconcilePendingTimeout = durationOrDefault("RECONCILE_PENDING_TIMEOUT", 2*time.Minute)
	cfg.ReconcileBaseBackoff = durationOrDefault("RECONCILE_BASE_BACKOFF", 30*time.Second)
	cfg.ReconcileMaxBackoff = durationOrDefault("RECONCILE_MAX_BACKOFF", 30*time.Minute)
	cfg.ReconcileMaxAttempts = intOrDefault("RECONCILE_MAX_ATTEMPTS", 8, 1)
	cfg.ReconcileBatchSize = intOrDefault("RECONCILE_BATCH_SIZE", 100, 1)
	cfg.ReconcileConcurrency = intOrDefault("RECONCILE_CONCURRENCY", 4, 1)

	cfg.OTPRequired = viper.GetBool("OTP_REQUIRED")
	cfg.TwilioAccountSID = viper.GetString("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = viper.GetString("TWILIO_AUTH_TOKEN")
	cfg.TwilioVerifyServiceSID = viper.GetString("TWILIO_VERIFY_SERVICE_SID")
	if cfg.OTPRequired && (cfg.TwilioAccountSID == "" || cfg.TwilioVerifyServiceSID == "") {
		log.Println("Warning: OTP_REQUIRED is set but Twilio credentials are missing. OTP checks will fail.")
	}

	cfg.RateLimit = viper.GetString("RATE_LIMIT")
	cfg.CORSAllowedOrigins = splitList(viper.GetString("CORS_ALLOWED_ORIGINS"))
	cfg.PosthogAPIKey = viper.GetString("POSTHOG_API_KEY")

	return cfg, nil
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		if raw != "" {
			log.Printf("Warning: Invalid value for %s ('%s'). Defaulting to %s.\n", key, raw, def.String())
		}
		return def
	}
	return d
}

func intOrDefault(key string, def, min int) int {
	v := viper.GetInt(key)
	if v < min {
		log.Printf("Warning: Invalid value for %s (%d). Defaulting to %d.\n", key, v, def)
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
