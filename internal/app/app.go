// Package app wires configuration, infrastructure, and the domain packages
// into runnable modes: api, worker, and seed.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/courier/internal/auth"
	"github.com/wisbric/courier/internal/config"
	"github.com/wisbric/courier/internal/httpserver"
	"github.com/wisbric/courier/internal/platform"
	"github.com/wisbric/courier/internal/queue"
	"github.com/wisbric/courier/internal/seed"
	"github.com/wisbric/courier/internal/store"
	"github.com/wisbric/courier/internal/telemetry"
	"github.com/wisbric/courier/pkg/dispatch"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/provider"
	"github.com/wisbric/courier/pkg/webhook"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api, worker, or seed).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting courier",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"dev_mode", cfg.DevMode,
	)

	// Dev mode runs the whole pipeline in one process against in-memory
	// storage and an in-memory queue. No external infrastructure needed.
	if cfg.DevMode {
		return runDev(ctx, cfg, logger)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	gw := store.NewPostgres(db)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, gw)
	case "worker":
		return runWorker(ctx, cfg, logger, rdb, gw)
	case "seed":
		return seed.Run(ctx, gw, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, gw store.Gateway) error {
	authn, err := buildAuthenticator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	metricsReg := telemetry.NewMetricsRegistry()
	srv := buildServer(cfg, logger, db, rdb, gw, metricsReg, authn)

	return serve(ctx, cfg, logger, srv)
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, rdb *redis.Client, gw store.Gateway) error {
	q := queue.NewRedisQueue(rdb)
	registry := provider.NewRegistry(nil)

	poller := dispatch.NewPoller(gw, q, logger, cfg.PollInterval, cfg.PollBatchSize)
	go poller.Run(ctx)

	pool := dispatch.NewWorkerPool(gw, q, registry, logger, dispatch.WorkerConfig{
		Workers:     cfg.WorkerCount,
		MaxAttempts: cfg.MaxAttempts,
		SendTimeout: cfg.SendTimeout,
		RetryBase:   cfg.RetryBase,
		RetryCap:    cfg.RetryCap,
	})
	pool.Run(ctx) // blocks until ctx is cancelled
	return nil
}

// runDev serves the API and runs the dispatch pipeline in-process, backed by
// the in-memory store seeded with demo data.
func runDev(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	gw := store.NewMemory()
	if err := seed.Run(ctx, gw, logger); err != nil {
		return fmt.Errorf("seeding dev data: %w", err)
	}

	staticAuth, err := auth.NewStaticAuthenticator(append(
		[]string{seed.DevBearerToken + ":acme"}, cfg.StaticTokens...,
	))
	if err != nil {
		return fmt.Errorf("configuring static tokens: %w", err)
	}
	logger.Info("dev mode: static bearer token enabled for tenant 'acme'")

	metricsReg := telemetry.NewMetricsRegistry()
	srv := buildServer(cfg, logger, nil, nil, gw, metricsReg, staticAuth)

	q := queue.NewMemoryQueue(cfg.PollBatchSize * 2)
	poller := dispatch.NewPoller(gw, q, logger, cfg.PollInterval, cfg.PollBatchSize)
	go poller.Run(ctx)

	pool := dispatch.NewWorkerPool(gw, q, provider.NewRegistry(nil), logger, dispatch.WorkerConfig{
		Workers:     cfg.WorkerCount,
		MaxAttempts: cfg.MaxAttempts,
		SendTimeout: cfg.SendTimeout,
		RetryBase:   cfg.RetryBase,
		RetryCap:    cfg.RetryCap,
	})
	go pool.Run(ctx)

	return serve(ctx, cfg, logger, srv)
}

// buildAuthenticator assembles the bearer-token chain: OIDC when configured,
// plus any static development tokens.
func buildAuthenticator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Authenticator, error) {
	var chain auth.Chain

	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		chain = append(chain, oidcAuth)
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	}

	if len(cfg.StaticTokens) > 0 {
		staticAuth, err := auth.NewStaticAuthenticator(cfg.StaticTokens)
		if err != nil {
			return nil, fmt.Errorf("configuring static tokens: %w", err)
		}
		chain = append(chain, staticAuth)
		logger.Info("static token authentication enabled", "tokens", len(cfg.StaticTokens))
	}

	if len(chain) == 0 {
		return nil, errors.New("no authentication configured: set OIDC_ISSUER or COURIER_STATIC_TOKENS")
	}
	return chain, nil
}

// buildServer constructs the HTTP server and mounts the domain handlers.
func buildServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, gw store.Gateway, metricsReg *prometheus.Registry, authn auth.Authenticator) *httpserver.Server {
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, authn, gw)

	scheduler := message.NewScheduler(gw, logger)
	srv.APIRouter.Mount("/messages", message.NewHandler(scheduler, logger).Routes())

	dedup := webhook.NewDeduplicator(rdb, gw, logger)
	webhookHandler := webhook.NewHandler(gw, dedup, webhook.Secrets{
		Twilio: cfg.TwilioWebhookSecret,
		Resend: cfg.ResendWebhookSecret,
	}, logger)
	srv.WebhookRouter.Mount("/", webhookHandler.Routes())

	return srv
}

// serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
