package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mystra-io/tenantd/internal/adapter/bench"
	"github.com/mystra-io/tenantd/internal/adapter/docker"
	tdhttp "github.com/mystra-io/tenantd/internal/adapter/http"
	tdnats "github.com/mystra-io/tenantd/internal/adapter/nats"
	"github.com/mystra-io/tenantd/internal/adapter/otel"
	"github.com/mystra-io/tenantd/internal/adapter/postgres"
	"github.com/mystra-io/tenantd/internal/adapter/ristretto"
	"github.com/mystra-io/tenantd/internal/config"
	"github.com/mystra-io/tenantd/internal/logger"
	"github.com/mystra-io/tenantd/internal/middleware"
	"github.com/mystra-io/tenantd/internal/service"
	"github.com/mystra-io/tenantd/internal/shell"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"bench_path", cfg.Bench.Path,
		"frontend_image", cfg.Frontend.Image,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	// PostgreSQL, readiness probing only. Sites own their databases on the
	// shared server; tenantd persists nothing.
	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")
	}

	// NATS lifecycle events, best-effort.
	opts := []service.Option{}
	if cfg.NATS.URL != "" {
		queue, err := tdnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		opts = append(opts, service.WithQueue(queue))
	}

	// Tenant-list snapshot cache.
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()
	opts = append(opts, service.WithCache(cache, cfg.Cache.SnapshotTTL))

	// Metrics and tracing.
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	opts = append(opts, service.WithMetrics(metrics))
	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(context.Background()) }()

	// --- Host adapters ---

	execPool := shell.NewPool(cfg.Bench.MaxConcurrent)
	runner := bench.NewRunner(cfg.Bench.Path, cfg.Bench.DBRootPassword, cfg.Bench.CommandTimeout, execPool)
	runtime := docker.NewRuntime(execPool, cfg.Bench.CommandTimeout)

	// --- Services ---

	svc := service.NewTenantService(cfg, runner, runtime,
		service.NewPortRegistry(runtime), service.NewLocks(), opts...)

	// --- HTTP ---

	handlers := tdhttp.NewHandlers(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(tdhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.Auth(cfg.Auth.AdminAPIKey))

	var ready func(r *http.Request) error
	if pool != nil {
		ready = func(r *http.Request) error {
			return pool.Ping(r.Context())
		}
	}
	tdhttp.MountRoutes(r, handlers, ready)

	addr := ":" + cfg.Server.Port

	// No per-request timeout middleware and a long write timeout: a tenant
	// create runs the site-lifecycle CLI twice and can take minutes.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
