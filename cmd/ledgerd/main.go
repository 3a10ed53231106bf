package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/api/handler"
	"github.com/medledger/medledger/internal/events"
	"github.com/medledger/medledger/internal/health"
	"github.com/medledger/medledger/internal/identity"
	"github.com/medledger/medledger/internal/records"
	"github.com/medledger/medledger/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.base_url", "")
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.read_rate_limit_rps", 20)
	viper.SetDefault("server.write_rate_limit_rps", 5)
	viper.SetDefault("database.url", "")
	viper.SetDefault("auth.api_key_hash", "")
	viper.SetDefault("auth.token_secret", "")
	viper.SetDefault("auth.token_ttl_seconds", 3600)
	viper.SetDefault("integrity.check_interval", "5m")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	httpPort := viper.GetInt("server.port")
	baseURL := viper.GetString("server.base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	// ── Block store ──────────────────────────────────────────────────────────
	var blocks store.BlockStore
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		blocks = store.NewPostgres(db, logger)
	} else {
		logger.Warn("database.url not set — blocks are held in memory only")
		blocks = store.NewMemory()
	}

	// ── Chain ────────────────────────────────────────────────────────────────
	chain, issues, err := records.Bootstrap(context.Background(), blocks)
	if err != nil {
		return fmt.Errorf("bootstrap chain: %w", err)
	}
	if len(issues) > 0 {
		logger.Warn("chain integrity check FAILED",
			zap.Int("issues", len(issues)),
			zap.Int("first_block", issues[0].Index),
			zap.String("first_issue", issues[0].Problem),
		)
	} else {
		logger.Info("chain verified",
			zap.Int("blocks", chain.Len()),
			zap.String("tip", chain.Latest().Fingerprint),
		)
	}
	handler.SetChainGauges(chain.Len(), len(issues) == 0)

	// ── Identity (writer tokens) ─────────────────────────────────────────────
	var tokens *identity.TokenIssuer
	apiKeyHash := viper.GetString("auth.api_key_hash")
	tokenSecret := viper.GetString("auth.token_secret")
	if apiKeyHash != "" && tokenSecret != "" {
		ttl := time.Duration(viper.GetInt("auth.token_ttl_seconds")) * time.Second
		tokens = identity.NewTokenIssuer([]byte(tokenSecret), baseURL, ttl)
		logger.Info("write auth enabled", zap.Duration("token_ttl", ttl))
	} else {
		logger.Warn("write auth disabled — set auth.api_key_hash and auth.token_secret to enable")
	}

	// ── Wire up layers ───────────────────────────────────────────────────────
	hub := events.NewHub()
	defer hub.Shutdown()

	svc := records.NewService(chain, blocks, logger)
	svc.SetEventHub(hub)
	svc.SetAppendMetric(func(ok bool) {
		handler.RecordAppend(ok)
		stats := svc.Stats()
		handler.SetChainGauges(stats.Blocks, stats.Valid)
	})

	recordsHandler := handler.NewRecordsHandler(svc, tokens, logger)
	chainHandler := handler.NewChainHandler(svc, tokens, logger)
	authHandler := handler.NewAuthHandler(tokens, apiKeyHash, logger)
	eventsHandler := handler.NewEventsHandler(hub, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(handler.SecurityHeaders())
	router.Use(handler.RequestID())

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	limits := handler.RateLimitConfig{
		ReadRPS:  viper.GetInt("server.read_rate_limit_rps"),
		WriteRPS: viper.GetInt("server.write_rate_limit_rps"),
	}
	if limits.ReadRPS > 0 || limits.WriteRPS > 0 {
		limiter := handler.NewRateLimiter(limits)
		defer limiter.Close()
		router.Use(limiter.Middleware())
	}

	router.Use(requestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	// Health and metrics (public, no auth)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "valid": svc.Stats().Valid})
	})
	router.GET("/metrics", handler.MetricsHandler())

	// API v1
	v1 := router.Group("/api/v1")
	recordsHandler.Register(v1)
	chainHandler.Register(v1)
	eventsHandler.Register(v1)
	if tokens != nil {
		authHandler.Register(v1)
	}

	// ── Serve ────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// ── Background: re-verify the chain periodically ─────────────────────────
	checkInterval, _ := time.ParseDuration(viper.GetString("integrity.check_interval"))
	checker := health.New(chainHealth{svc}, health.Config{CheckInterval: checkInterval}, logger)
	checker.SetMetricsRecord(handler.SetChainGauges)
	go checker.Start(quit)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down ledgerd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
}

// chainHealth adapts the records service to the integrity checker.
type chainHealth struct {
	svc *records.Service
}

func (c chainHealth) VerifyIssues() []string {
	issues := c.svc.Verify()
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = fmt.Sprintf("block %d: %s", issue.Index, issue.Problem)
	}
	return out
}

func (c chainHealth) BlockCount() int {
	return c.svc.Stats().Blocks
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
