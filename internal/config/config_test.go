package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lggm33/afp-vault/internal/crypto"
)

func validConfig() *Config {
	return &Config{
		ServerAddr:         ":8080",
		DatabaseDriver:     "sqlite",
		DatabaseDSN:        "vault.db",
		TokenEncryptionKey: base64.StdEncoding.EncodeToString(make([]byte, crypto.KeySize)),
		RefreshLookahead:   5 * time.Minute,
		RefreshMaxAttempts: 3,
		LockBackend:        LockBackendMemory,
		LockLease:          30 * time.Second,
		LockWait:           5 * time.Second,
		RateLimitStore:     RateLimitStoreMemory,
		SweepInterval:      5 * time.Minute,
	}
}

func TestEncryptionKeyFromBase64(t *testing.T) {
	raw := make([]byte, crypto.KeySize)
	for i := range raw {
		raw[i] = byte(i)
	}

	cfg := validConfig()
	cfg.TokenEncryptionKey = base64.StdEncoding.EncodeToString(raw)

	key, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, raw, key)
}

func TestEncryptionKeyFromPassphrase(t *testing.T) {
	cfg := validConfig()
	cfg.TokenEncryptionKey = "correct horse battery staple"
	cfg.TokenEncryptionSalt = "vault-salt"

	key, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, crypto.KeySize)

	// Derivation is deterministic for the same passphrase and salt.
	again, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, key, again)

	// A different salt yields a different key.
	cfg.TokenEncryptionSalt = "other-salt"
	other, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestEncryptionKeyPassphraseRequiresSalt(t *testing.T) {
	cfg := validConfig()
	cfg.TokenEncryptionKey = "a passphrase"
	cfg.TokenEncryptionSalt = ""

	_, err := cfg.EncryptionKey()
	assert.ErrorIs(t, err, crypto.ErrKeyNotConfigured)
}

func TestEncryptionKeyMissing(t *testing.T) {
	cfg := validConfig()
	cfg.TokenEncryptionKey = ""

	_, err := cfg.EncryptionKey()
	assert.ErrorIs(t, err, crypto.ErrKeyNotConfigured)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing encryption key", func(c *Config) { c.TokenEncryptionKey = "" }},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"missing dsn", func(c *Config) { c.DatabaseDSN = "" }},
		{"non-positive lookahead", func(c *Config) { c.RefreshLookahead = 0 }},
		{"zero attempts", func(c *Config) { c.RefreshMaxAttempts = 0 }},
		{"non-positive lease", func(c *Config) { c.LockLease = 0 }},
		{"non-positive lock wait", func(c *Config) { c.LockWait = 0 }},
		{"unknown lock backend", func(c *Config) { c.LockBackend = "etcd" }},
		{"redis lock without addr", func(c *Config) {
			c.LockBackend = LockBackendRedis
			c.RedisAddr = ""
		}},
		{"unknown rate limit store", func(c *Config) { c.RateLimitStore = "mongo" }},
		{"non-positive sweep interval", func(c *Config) { c.SweepInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 5*time.Minute, cfg.RefreshLookahead)
	assert.Equal(t, 3, cfg.RefreshMaxAttempts)
	assert.Equal(t, LockBackendMemory, cfg.LockBackend)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.EnableRateLimit)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_DSN", "host=db user=vault dbname=vault")
	t.Setenv("REFRESH_LOOKAHEAD", "10m")
	t.Setenv("REFRESH_MAX_ATTEMPTS", "5")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("ENABLE_RATE_LIMIT", "true")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "host=db user=vault dbname=vault", cfg.DatabaseDSN)
	assert.Equal(t, 10*time.Minute, cfg.RefreshLookahead)
	assert.Equal(t, 5, cfg.RefreshMaxAttempts)
	assert.Equal(t, LockBackendRedis, cfg.LockBackend)
	assert.True(t, cfg.EnableRateLimit)
}
