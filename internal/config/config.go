package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/pbkdf2"

	"github.com/lggm33/afp-vault/internal/crypto"
)

// Lock backend constants
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Iteration count for PBKDF2 key derivation from a passphrase.
const keyDerivationIterations = 10000

type Config struct {
	// Server settings
	ServerAddr   string
	IsProduction bool

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string // Database connection string (DSN or path)

	// Token encryption. TOKEN_ENCRYPTION_KEY is either a base64-encoded
	// 32-byte key or a passphrase; passphrases additionally require
	// TOKEN_ENCRYPTION_SALT and are stretched with PBKDF2.
	TokenEncryptionKey  string
	TokenEncryptionSalt string

	// Refresh coordination
	RefreshLookahead     time.Duration // Treat tokens this close to expiry as needing refresh
	RefreshMaxAttempts   int           // Bound on provider refresh attempts per cycle
	RefreshRetryDelay    time.Duration // Initial backoff delay between transient failures
	RefreshMaxRetryDelay time.Duration // Backoff ceiling

	// Per-identity lease lock
	LockBackend string // "memory" or "redis"
	LockLease   time.Duration
	LockWait    time.Duration // Bounded wait when acquiring

	// Redis (lock backend and/or rate-limit store)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Background sweep
	SweepInterval time.Duration

	// Provider OAuth applications (token refresh endpoint credentials)
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string

	// Metrics
	MetricsEnabled             bool
	MetricsToken               string
	MetricsGaugeUpdateEnabled  bool
	MetricsGaugeUpdateInterval time.Duration

	// Rate limiting
	EnableRateLimit          bool
	RateLimitStore           string // "memory" or "redis"
	TokenRateLimit           int    // requests/minute on the token access endpoint
	MutationRateLimit        int    // requests/minute on issue/revoke endpoints
	RateLimitCleanupInterval time.Duration
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Determine database driver and DSN
	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", getEnv("DATABASE_PATH", "vault.db"))
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		IsProduction: getEnvBool("PRODUCTION", false),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		TokenEncryptionKey:  getEnv("TOKEN_ENCRYPTION_KEY", ""),
		TokenEncryptionSalt: getEnv("TOKEN_ENCRYPTION_SALT", ""),

		// Refresh coordination
		RefreshLookahead:     getEnvDuration("REFRESH_LOOKAHEAD", 5*time.Minute),
		RefreshMaxAttempts:   getEnvInt("REFRESH_MAX_ATTEMPTS", 3),
		RefreshRetryDelay:    getEnvDuration("REFRESH_RETRY_DELAY", 1*time.Second),
		RefreshMaxRetryDelay: getEnvDuration("REFRESH_MAX_RETRY_DELAY", 10*time.Second),

		// Lease lock
		LockBackend: getEnv("LOCK_BACKEND", LockBackendMemory),
		LockLease:   getEnvDuration("LOCK_LEASE", 30*time.Second),
		LockWait:    getEnvDuration("LOCK_WAIT", 5*time.Second),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Sweep interval matches the upstream mail-check schedule
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),

		// Provider OAuth applications
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenant:       getEnv("MICROSOFT_TENANT", "common"),

		// Metrics
		MetricsEnabled:             getEnvBool("METRICS_ENABLED", true),
		MetricsToken:               getEnv("METRICS_TOKEN", ""),
		MetricsGaugeUpdateEnabled:  getEnvBool("METRICS_GAUGE_UPDATE_ENABLED", true),
		MetricsGaugeUpdateInterval: getEnvDuration("METRICS_GAUGE_UPDATE_INTERVAL", 1*time.Minute),

		// Rate limiting
		EnableRateLimit:          getEnvBool("ENABLE_RATE_LIMIT", false),
		RateLimitStore:           getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		TokenRateLimit:           getEnvInt("TOKEN_RATE_LIMIT", 120),
		MutationRateLimit:        getEnvInt("MUTATION_RATE_LIMIT", 30),
		RateLimitCleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
	}
}

// EncryptionKey resolves the configured key material to a raw AES-256 key.
// A base64 value that decodes to exactly 32 bytes is used directly; anything
// else is treated as a passphrase and stretched with PBKDF2, which requires
// a salt to be configured.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.TokenEncryptionKey == "" {
		return nil, crypto.ErrKeyNotConfigured
	}

	if decoded, err := base64.StdEncoding.DecodeString(c.TokenEncryptionKey); err == nil &&
		len(decoded) == crypto.KeySize {
		return decoded, nil
	}

	if c.TokenEncryptionSalt == "" {
		return nil, fmt.Errorf(
			"%w: TOKEN_ENCRYPTION_KEY is not a base64 32-byte key and TOKEN_ENCRYPTION_SALT is empty",
			crypto.ErrKeyNotConfigured,
		)
	}

	return pbkdf2.Key(
		[]byte(c.TokenEncryptionKey),
		[]byte(c.TokenEncryptionSalt),
		keyDerivationIterations,
		crypto.KeySize,
		sha256.New,
	), nil
}

// Validate checks the configuration once at startup. A missing or invalid
// encryption key is fatal misconfiguration.
func (c *Config) Validate() error {
	if _, err := c.EncryptionKey(); err != nil {
		return err
	}

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be: sqlite, postgres)", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required for driver %s", c.DatabaseDriver)
	}

	if c.RefreshLookahead <= 0 {
		return fmt.Errorf("REFRESH_LOOKAHEAD must be positive")
	}
	if c.RefreshMaxAttempts < 1 {
		return fmt.Errorf("REFRESH_MAX_ATTEMPTS must be at least 1")
	}
	if c.LockLease <= 0 {
		return fmt.Errorf("LOCK_LEASE must be positive")
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be positive")
	}

	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid LOCK_BACKEND: %s (must be: memory, redis)", c.LockBackend)
	}

	switch c.RateLimitStore {
	case RateLimitStoreMemory, RateLimitStoreRedis:
	default:
		return fmt.Errorf("invalid RATE_LIMIT_STORE: %s (must be: memory, redis)", c.RateLimitStore)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
