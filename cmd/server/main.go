// CareerFlow - streaming career counselling server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/careerflow/internal/api"
	"github.com/ashureev/careerflow/internal/chat"
	"github.com/ashureev/careerflow/internal/config"
	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/identity"
	"github.com/ashureev/careerflow/internal/middleware"
	"github.com/ashureev/careerflow/internal/observability"
	"github.com/ashureev/careerflow/internal/search"
	"github.com/ashureev/careerflow/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"counsel_endpoint", cfg.Counsel.Endpoint,
		"counsel_timeout", cfg.Counsel.Timeout,
		"streaming", cfg.Counsel.Streaming,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	var (
		cache  search.Cache
		pinger api.Pinger
	)
	if cfg.RedisURL != "" {
		redisCache, err := search.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("Redis unavailable, search results will not be cached", "error", err)
		} else {
			defer func() {
				if closeErr := redisCache.Close(); closeErr != nil {
					slog.Debug("Failed to close redis cache", "error", closeErr)
				}
			}()
			cache, pinger = redisCache, redisCache
			slog.Info("Search cache connected", "ttl", cfg.Search.CacheTTL)
		}
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize services.
	counselClient := counsel.NewClient(counsel.ClientConfig{
		Endpoint:   cfg.Counsel.Endpoint,
		Timeout:    cfg.Counsel.Timeout,
		Streaming:  cfg.Counsel.Streaming,
		ReadBuffer: cfg.Counsel.ReadBuffer,
	}, nil, logger)

	sessions := chat.NewRegistry(logger)
	chatService := chat.NewService(sessions, counselClient, repo, metrics, logger)

	searchClient := search.NewClient(search.Config{
		Endpoints: map[search.Kind]string{
			search.KindJobs:         cfg.Search.JobsURL,
			search.KindCourses:      cfg.Search.CoursesURL,
			search.KindScholarships: cfg.Search.ScholarshipsURL,
		},
		ResumeURL: cfg.Search.ResumeURL,
		Timeout:   cfg.Search.Timeout,
		CacheTTL:  cfg.Search.CacheTTL,
	}, nil, cache, metrics, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	limiter.StartEviction(ctx)

	handler := api.NewHandler(chatService, api.Options{
		Search:         searchClient,
		Repo:           repo,
		Cache:          pinger,
		Limiter:        limiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Handle("/metrics", promhttp.Handler())

	// Everything else is scoped to an anonymous per-device identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		handler.RegisterRoutes(r)
	})

	// Note: SSE turns can run up to COUNSEL_TIMEOUT, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	chat.StartSweeper(ctx, sessions, repo, chat.SweepConfig{
		Interval:      cfg.Session.SweepInterval,
		IdleTTL:       cfg.Session.IdleTTL,
		TurnRetention: cfg.Session.TurnRetention,
	}, logger)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Counsel.Timeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
