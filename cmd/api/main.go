// Package main is the entry point for the veritrail API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/veritrail/veritrail/internal/api"
	"github.com/veritrail/veritrail/internal/audit"
	"github.com/veritrail/veritrail/internal/auth"
	"github.com/veritrail/veritrail/internal/config"
	"github.com/veritrail/veritrail/internal/db"
	"github.com/veritrail/veritrail/internal/health"
	"github.com/veritrail/veritrail/internal/idempotency"
	"github.com/veritrail/veritrail/internal/middleware"
	"github.com/veritrail/veritrail/internal/tracing"
	"github.com/veritrail/veritrail/internal/user"
)

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Veritrail API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := make([]any, 0)
	for k, v := range cfg.LogSummary() {
		summary = append(summary, k, v)
	}
	logger.Info("configuration loaded", summary...)

	// Distributed tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  cfg.ServiceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.OTLPExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TraceSampleRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Database
	dbConn, err := db.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	auditMetrics := audit.NewMetrics()
	if err := auditMetrics.Register(registry); err != nil {
		logger.Error("failed to register audit metrics", "error", err)
		os.Exit(1)
	}

	// Rate limiting: Redis-backed when configured, in-memory otherwise
	var (
		rateLimitStore middleware.RateLimitStore
		redisClient    *redis.Client
		redisChecker   api.HealthChecker
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
		redisChecker = health.NewRedisChecker(redisClient)
		logger.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
		logger.Info("rate limiting in memory")
	}

	// Audit log client
	auditor, err := audit.New(audit.Config{
		BaseURL:           cfg.AuditBaseURL,
		Token:             cfg.AuditToken,
		ConfigID:          cfg.AuditConfigID,
		ServiceName:       cfg.ServiceName,
		Timeout:           cfg.AuditTimeout,
		MaxRedirects:      cfg.AuditMaxRedirects,
		ArweaveGraphQLURL: cfg.ArweaveGraphQLURL,
		ArweaveGatewayURL: cfg.ArweaveGatewayURL,
		Logger:            logger,
		Metrics:           auditMetrics,
	})
	if err != nil {
		logger.Error("failed to create audit client", "error", err)
		os.Exit(1)
	}

	// Repository with audit stamping from the request context
	repo := user.NewStampedRepository(user.NewPostgresRepository(dbConn))

	// Replay protection for retried writes
	idemRepo := idempotency.NewInMemoryRepository()
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go idempotency.RunSweeper(sweepCtx, idemRepo, time.Hour, idempotency.DefaultRetention)

	jwtService := auth.NewJWTService(cfg.JWTSecret)

	userHandlers := api.NewUserHandlers(repo, auditor, logger)
	auditHandlers := api.NewAuditHandlers(auditor)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(dbConn),
		RedisChecker: redisChecker,
		AuditChecker: health.NewAuditChecker(cfg.AuditBaseURL),
	})

	authenticate := middleware.Authenticate(jwtService)
	searchLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultSearchLimit(), middleware.ActorKeyFunc())
	idempotent := middleware.Idempotency(idemRepo)

	mux := http.NewServeMux()

	// User CRUD (authenticated; creates are replay protected)
	mux.Handle("/users", authenticate(idempotent(http.HandlerFunc(userHandlers.Users))))
	mux.Handle("/users/", authenticate(http.HandlerFunc(userHandlers.UserByID)))

	// Audit trail reads (authenticated; search carries a stricter limit)
	mux.Handle("/audit/search", authenticate(searchLimiter(http.HandlerFunc(auditHandlers.Search))))
	mux.Handle("/audit/results", authenticate(http.HandlerFunc(auditHandlers.Results)))
	mux.Handle("/audit/root", authenticate(http.HandlerFunc(auditHandlers.Root)))
	mux.Handle("/audit/download", authenticate(http.HandlerFunc(auditHandlers.Download)))

	// Probes and metrics (unauthenticated)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"veritrail-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Middleware chain, outermost first: request id, tracing, logging,
	// metrics, global rate limit, client metadata capture.
	var handler http.Handler = mux
	handler = middleware.ClientMetadata(handler)
	handler = middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(cfg.ServiceName)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
