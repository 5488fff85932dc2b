// Package main is the entrypoint for the facematch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/facematch/internal/api"
	"github.com/kiranshivaraju/facematch/internal/api/handler"
	mw "github.com/kiranshivaraju/facematch/internal/api/middleware"
	"github.com/kiranshivaraju/facematch/internal/cache"
	"github.com/kiranshivaraju/facematch/internal/config"
	"github.com/kiranshivaraju/facematch/internal/logging"
	"github.com/kiranshivaraju/facematch/internal/matcher"
	"github.com/kiranshivaraju/facematch/internal/scheduler"
	"github.com/kiranshivaraju/facematch/internal/search"
	"github.com/kiranshivaraju/facematch/internal/settings"
	"github.com/kiranshivaraju/facematch/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"search_gateway", cfg.Search.Gateway,
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create similarity search gateway
	gateway, err := search.New(cfg.Search, pool)
	if err != nil {
		return fmt.Errorf("create search gateway: %w", err)
	}

	// 6. Create store, settings and processor
	pgStore := store.NewPostgresStore(pool)
	settingsProvider := settings.New(pgStore, redisCache, cfg.Settings.CacheTTL, logger)
	processor := matcher.NewProcessor(pgStore, gateway, settingsProvider, processorConfig(cfg.Matcher), logger)

	// 7. Optional in-process trigger
	if cfg.Scheduler.Enabled {
		trigger, err := scheduler.New(cfg.Scheduler.Cron, processor, redisCache, cfg.Matcher.BatchTimeout, logger)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		trigger.Start()
		defer trigger.Stop()
		slog.Info("scheduler started", "cron", cfg.Scheduler.Cron, "next_run", trigger.NextRun())
	}

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler:          handler.NewHealthHandler(pgStore, redisCache),
		TriggerHandler:         handler.NewTriggerHandler(processor),
		CreateJobHandler:       handler.NewCreateJobHandler(pgStore),
		EnqueueDefaultsHandler: handler.NewEnqueueDefaultsHandler(pgStore),
		JobStatsHandler:        handler.NewJobStatsHandler(pgStore),
		GetJobHandler:          handler.NewGetJobHandler(pgStore),
		CreateFaceHandler:      handler.NewCreateFaceHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.Matcher.BatchTimeout),
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func processorConfig(c config.MatcherConfig) matcher.Config {
	return matcher.Config{
		BatchSize:      c.BatchSize,
		Workers:        c.Workers,
		CelebrityLimit: c.CelebrityLimit,
		RetryBackoff:   c.RetryBackoff,
		StaleAfter:     c.StaleAfter,
		BatchTimeout:   c.BatchTimeout,
	}
}

// writeTimeout leaves the trigger endpoint room to finish a full batch.
func writeTimeout(batchTimeout time.Duration) time.Duration {
	const base = 30 * time.Second
	if batchTimeout+5*time.Second > base {
		return batchTimeout + 5*time.Second
	}
	return base
}
