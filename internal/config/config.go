package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration (staff tokens for manual replay)
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Reconciliation tuning
	Reconciliation ReconciliationConfig

	// Messaging configuration
	Messaging MessagingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
	LogFile     string // optional rotating log file, empty = stdout only
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymentConfig holds Stripe configuration
type PaymentConfig struct {
	SecretKey string        // Stripe secret key (SECRET - never expose to client)
	APIURL    string        // override for the Stripe API base URL, empty = Stripe default
	Timeout   time.Duration // bound on every gateway call
}

// ReconciliationConfig holds booking reconciliation settings
type ReconciliationConfig struct {
	DedupWindow        time.Duration // trailing window for special-request dedup
	ReferenceMethods   []string      // payment method types settled asynchronously
	ProvisionalHoldTTL time.Duration // how long confirmed/pending bookings keep their nights
	SweepSchedule      string        // cron spec for the provisional hold sweep
	SweepBatchSize     int
}

// MessagingConfig holds RabbitMQ configuration
type MessagingConfig struct {
	AMQPURL  string // empty disables event publishing
	Exchange string
}

// DefaultReferenceMethods are payment method types whose settlement happens
// outside the checkout flow (vouchers, bank transfers).
var DefaultReferenceMethods = []string{
	"oxxo", "boleto", "konbini", "customer_balance", "multibanco",
	"bank_transfer", "voucher", "cash",
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFile:     getEnv("LOG_FILE", ""),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Payment: PaymentConfig{
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			APIURL:    getEnv("STRIPE_API_URL", ""),
			Timeout:   getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
		},
		Reconciliation: ReconciliationConfig{
			DedupWindow:        getEnvAsDuration("SPECIAL_REQUEST_DEDUP_WINDOW", 24*time.Hour),
			ReferenceMethods:   getEnvAsSlice("REFERENCE_PAYMENT_METHODS", DefaultReferenceMethods),
			ProvisionalHoldTTL: getEnvAsDuration("PROVISIONAL_HOLD_TTL", 72*time.Hour),
			SweepSchedule:      getEnv("RECONCILE_SWEEP_SCHEDULE", "0 */15 * * * *"),
			SweepBatchSize:     getEnvAsInt("RECONCILE_SWEEP_BATCH_SIZE", 100),
		},
		Messaging: MessagingConfig{
			AMQPURL:  getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "reservations"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	// The gateway may be left unconfigured locally; booking-id confirmations still work
	if c.Server.Environment == "production" && c.Payment.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}

	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_GATEWAY_TIMEOUT must be positive")
	}

	if c.Reconciliation.DedupWindow <= 0 {
		return fmt.Errorf("SPECIAL_REQUEST_DEDUP_WINDOW must be positive")
	}

	// a zero TTL would expire every provisional booking on the next sweep
	if c.Reconciliation.ProvisionalHoldTTL <= 0 {
		return fmt.Errorf("PROVISIONAL_HOLD_TTL must be positive")
	}

	if c.Reconciliation.SweepBatchSize <= 0 {
		return fmt.Errorf("RECONCILE_SWEEP_BATCH_SIZE must be positive")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
