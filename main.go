package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lggm33/afp-vault/internal/cache"
	"github.com/lggm33/afp-vault/internal/config"
	"github.com/lggm33/afp-vault/internal/crypto"
	"github.com/lggm33/afp-vault/internal/handlers"
	"github.com/lggm33/afp-vault/internal/metrics"
	"github.com/lggm33/afp-vault/internal/middleware"
	"github.com/lggm33/afp-vault/internal/provider"
	"github.com/lggm33/afp-vault/internal/refresh"
	"github.com/lggm33/afp-vault/internal/services"
	"github.com/lggm33/afp-vault/internal/store"
	"github.com/lggm33/afp-vault/internal/util"
	"github.com/lggm33/afp-vault/internal/version"
)

func main() {
	// Define flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "server":
		runServer()
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("Encrypted vault for third-party email provider OAuth tokens")
	fmt.Println("\nCommands:")
	fmt.Println("  server    Start the vault server")
	fmt.Println("\nOptions:")
	fmt.Println("  -v, --version    Show version information")
	fmt.Println("  -h, --help       Show this help message")
}

func runServer() {
	// Load configuration
	cfg := config.Load()

	// Validate configuration. A missing or malformed encryption key is
	// fatal: serving with a bad key would turn every stored secret into
	// garbage on read.
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}
	cipher, err := crypto.New(key)
	if err != nil {
		log.Fatalf("Failed to initialize cipher: %v", err)
	}

	// Initialize store
	db, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize metrics
	prometheusMetrics := metrics.Init(cfg.MetricsEnabled)
	if cfg.MetricsEnabled {
		log.Println("Prometheus metrics initialized")
	} else {
		log.Println("Metrics disabled (using noop implementation)")
	}

	// One shared Redis client serves the lease lock, the rate-limit store
	// and the stats cache when any of them is configured for Redis.
	redisClient := setupRedisClient(cfg)

	// Per-identity lease lock
	var locker refresh.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		locker = refresh.NewRedisLocker(redisClient)
		log.Printf("Refresh lock backend: redis (addr=%s, db=%d)", cfg.RedisAddr, cfg.RedisDB)
	default:
		locker = refresh.NewMemoryLocker()
		log.Println("Refresh lock backend: memory (single instance only)")
	}

	// Initialize services
	auditService := services.NewAuditService(db, prometheusMetrics)
	credentialService := services.NewCredentialService(
		db,
		cipher,
		auditService,
		cfg.RefreshLookahead,
		prometheusMetrics,
	)

	refresher := provider.NewOAuth2Refresher(cfg)
	coordinator := refresh.NewCoordinator(
		credentialService,
		auditService,
		refresher,
		locker,
		refresh.Config{
			LockLease:     cfg.LockLease,
			LockWait:      cfg.LockWait,
			MaxAttempts:   cfg.RefreshMaxAttempts,
			RetryDelay:    cfg.RefreshRetryDelay,
			MaxRetryDelay: cfg.RefreshMaxRetryDelay,
		},
		prometheusMetrics,
	)

	// Initialize handlers
	credentialHandler := handlers.NewCredentialHandler(credentialService, coordinator)
	auditHandler := handlers.NewAuditHandler(auditService)

	// Setup Gin
	setupGinMode(cfg)
	r := gin.New()
	// Setup Prometheus metrics middleware (must be before other routes)
	r.Use(metrics.HTTPMetricsMiddleware(prometheusMetrics))
	r.Use(gin.Logger(), gin.Recovery())

	// Setup IP middleware (for audit logging)
	r.Use(util.IPMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if err := db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus metrics endpoint (with optional authentication)
	switch {
	case !cfg.MetricsEnabled:
		log.Printf("Prometheus metrics disabled")
	case cfg.MetricsToken != "":
		log.Printf("Prometheus metrics enabled at /metrics with Bearer token authentication")
		r.GET(
			"/metrics",
			middleware.MetricsAuthMiddleware(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	default:
		log.Printf("Prometheus metrics enabled at /metrics (no authentication)")
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Setup rate limiting
	limiters := setupRateLimiting(cfg, redisClient)

	// Credential lifecycle routes
	v1 := r.Group("/v1")
	{
		v1.POST("/credentials", limiters.mutation, credentialHandler.Upsert)
		v1.POST("/credentials/token", limiters.token, credentialHandler.GetToken)
		v1.POST("/credentials/refresh", limiters.token, credentialHandler.Refresh)
		v1.POST("/credentials/revoke", limiters.mutation, credentialHandler.Revoke)
		v1.GET("/users/:user_id/audit", auditHandler.ListForUser)
	}

	// Operational routes
	internal := r.Group("/internal")
	{
		internal.POST("/sweep", credentialHandler.Sweep)
	}

	log.Printf("Credential vault starting on %s", cfg.ServerAddr)
	log.Printf("Refresh lookahead: %s, sweep interval: %s", cfg.RefreshLookahead, cfg.SweepInterval)

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Create graceful manager
	m := graceful.NewManager()

	// Add server as a running job
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		return nil
	})

	// Add shutdown job for HTTP server
	m.AddShutdownJob(func() error {
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}

		log.Println("Server exited")
		return nil
	})

	// Add background refresh sweep job
	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				refreshed, err := coordinator.Sweep(ctx)
				if err != nil {
					log.Printf("Refresh sweep failed: %v", err)
				} else if refreshed > 0 {
					log.Printf("Refresh sweep rotated %d credentials", refreshed)
				}
			}
		}
	})

	// Add metrics gauge update job
	if cfg.MetricsEnabled && cfg.MetricsGaugeUpdateEnabled {
		var counts cache.Cache[int64]
		if redisClient != nil {
			counts = cache.NewRedisCache[int64](redisClient, "stats:")
		} else {
			counts = cache.NewMemoryCache[int64]()
		}
		stats := services.NewStatsService(db, counts, prometheusMetrics)

		m.AddRunningJob(func(ctx context.Context) error {
			return stats.Run(ctx, cfg.MetricsGaugeUpdateInterval)
		})
	}

	// Add shutdown job for Redis client (if used)
	if redisClient != nil {
		m.AddShutdownJob(func() error {
			log.Println("Closing Redis connection...")
			if err := redisClient.Close(); err != nil {
				log.Printf("Error closing Redis client: %v", err)
				return err
			}
			log.Println("Redis connection closed")
			return nil
		})
	}

	// Wait for all jobs to complete
	<-m.Done()
}

func setupGinMode(cfg *config.Config) {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
}

// setupRedisClient creates the shared Redis client when any subsystem needs
// one, and verifies connectivity once at startup.
func setupRedisClient(cfg *config.Config) *redis.Client {
	needsRedis := cfg.LockBackend == config.LockBackendRedis ||
		(cfg.EnableRateLimit && cfg.RateLimitStore == config.RateLimitStoreRedis)
	if !needsRedis {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	return client
}

// rateLimiters bundles the per-group middlewares. Disabled rate limiting
// yields pass-through handlers so route wiring stays uniform.
type rateLimiters struct {
	token    gin.HandlerFunc
	mutation gin.HandlerFunc
}

func setupRateLimiting(cfg *config.Config, redisClient *redis.Client) rateLimiters {
	passthrough := func(c *gin.Context) { c.Next() }
	if !cfg.EnableRateLimit {
		return rateLimiters{token: passthrough, mutation: passthrough}
	}

	var client *redis.Client
	if cfg.RateLimitStore == config.RateLimitStoreRedis {
		client = redisClient
	}

	tokenLimiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.TokenRateLimit,
		CleanupInterval:   cfg.RateLimitCleanupInterval,
		RedisClient:       client,
		RedisPrefix:       "ratelimit:token",
	})
	if err != nil {
		log.Fatalf("Failed to create token rate limiter: %v", err)
	}

	mutationLimiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.MutationRateLimit,
		CleanupInterval:   cfg.RateLimitCleanupInterval,
		RedisClient:       client,
		RedisPrefix:       "ratelimit:mutation",
	})
	if err != nil {
		log.Fatalf("Failed to create mutation rate limiter: %v", err)
	}

	log.Printf(
		"Rate limiting enabled (store=%s, token=%d/min, mutation=%d/min)",
		cfg.RateLimitStore, cfg.TokenRateLimit, cfg.MutationRateLimit,
	)
	return rateLimiters{token: tokenLimiter, mutation: mutationLimiter}
}
