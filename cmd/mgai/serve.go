package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketingguide/mgai-api/internal/config"
	"github.com/marketingguide/mgai-api/internal/handler"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/infra/openai"
	"github.com/marketingguide/mgai-api/internal/infra/postgres"
	"github.com/marketingguide/mgai-api/internal/infra/ratelimit"
	"github.com/marketingguide/mgai-api/internal/infra/realtime"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"
	"github.com/marketingguide/mgai-api/internal/infra/storage"
	"github.com/marketingguide/mgai-api/internal/infra/stripe"
	"github.com/marketingguide/mgai-api/internal/port"
	"github.com/marketingguide/mgai-api/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	b, err := bootstrap(configPath, (*config.Config).Validate)
	if err != nil {
		return err
	}
	cfg, logger := b.cfg, b.logger
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("sql_ledger", cfg.Database.URL != ""),
		zap.Bool("redis", cfg.Redis.URL != ""),
		zap.Bool("export_archive", cfg.Export.Bucket != ""),
		zap.Int("max_concurrent_generations", cfg.Generation.MaxConcurrent),
		zap.Duration("generation_timeout", cfg.Generation.Timeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerOptions{
		Enabled:     cfg.Otel.Enabled,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		Version:     Version,
		Insecure:    cfg.Otel.Insecure,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	healthChecks := []handler.HealthCheck{{Name: "supabase", Check: b.supabase.Ping}}

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		if cfg.Redis.PoolSize > 0 {
			opts.PoolSize = cfg.Redis.PoolSize
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, continuing with local fallbacks", zap.Error(err))
		}
		healthChecks = append(healthChecks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	// --- Realtime ---
	hub := realtime.NewHub(logger)
	go hub.Run()
	defer hub.Shutdown()

	var publisher port.ProgressPublisher = realtime.NewLocalPublisher(hub)
	if rdb != nil {
		publisher = realtime.NewRedisPublisher(rdb, logger)
		relay := realtime.NewRelay(rdb, hub)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime relay stopped", zap.Error(err))
			}
		}()
		logger.Info("realtime progress relayed through redis", zap.String("channel", realtime.ProgressChannel))
	}

	// --- Credit ledger ---
	var ledger port.CreditLedger = service.NewOptimisticLedger(b.supabase, b.supabase, logger)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, postgres.Options{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		ledger = postgres.NewLedger(db, logger)
		healthChecks = append(healthChecks, handler.HealthCheck{Name: "postgres", Check: db.PingContext})
		logger.Info("credit ledger: transactional SQL")
	} else {
		logger.Info("credit ledger: optimistic PostgREST")
	}

	// --- Export archive (optional) ---
	var archive port.ExportArchive
	if cfg.Export.Bucket != "" {
		a, err := storage.NewArchive(ctx, storage.Options{
			Bucket:          cfg.Export.Bucket,
			Region:          cfg.Export.Region,
			Endpoint:        cfg.Export.Endpoint,
			AccessKeyID:     cfg.Export.AccessKeyID,
			SecretAccessKey: cfg.Export.SecretAccessKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("init export archive: %w", err)
		}
		archive = a
	}

	// --- External APIs ---
	llm := openai.NewClient(openai.Options{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: float32(cfg.OpenAI.Temperature),
		Timeout:     cfg.OpenAI.Timeout,
	}, &http.Client{Timeout: cfg.OpenAI.Timeout}, resilience.NewCircuitBreaker("openai"), resilienceConfig(cfg), logger)

	gateway := stripe.NewGateway(stripe.Options{
		SecretKey:         cfg.Stripe.SecretKey,
		MaxNetworkRetries: int64(cfg.Resilience.MaxRetries),
	}, &http.Client{Timeout: 30 * time.Second}, resilience.NewCircuitBreaker("stripe"), logger)

	// --- Services ---
	products := service.NewProducts(cfg.Stripe)
	projects := service.NewProjectService(b.supabase, b.supabase, logger)
	generation := service.NewGenerationService(
		b.supabase, b.supabase, b.catalog, llm, publisher,
		resilience.NewBulkhead(cfg.Generation.MaxConcurrent),
		service.GenerationOptions{
			PerRequestLimit:  cfg.Generation.PerRequestLimit,
			Timeout:          cfg.Generation.Timeout,
			SyncTimeout:      cfg.Server.SyncBudget(),
			SectionMaxTokens: cfg.Generation.SectionMaxTokens,
		},
		b.metrics, logger,
	)

	router := handler.NewRouter(handler.Services{
		Verifier:   service.NewTokenVerifier(cfg.Supabase.JWTSecret),
		Projects:   projects,
		Catalog:    b.catalog,
		Generation: generation,
		Content:    service.NewContentService(llm, cfg.Server.SyncBudget(), b.metrics, logger),
		Checkout:   service.NewCheckoutService(products, b.supabase, b.supabase, b.supabase, gateway, cfg.FrontendURL, logger),
		Webhook: service.NewWebhookService(stripe.NewVerifier(cfg.Stripe.WebhookSecret),
			b.supabase, b.supabase, b.supabase, ledger, products, b.metrics, logger),
		Credits: service.NewCreditService(b.supabase, b.supabase, ledger, products, b.metrics, logger),
		Export:  service.NewExportService(b.supabase, b.supabase, archive, cfg.Export.LinkTTL, b.metrics, logger),

		Limiter:  ratelimit.New(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, logger),
		Realtime: realtime.NewUpgrader(hub, cfg.CORS.AllowedOrigins),

		HealthChecks:   healthChecks,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, b.metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- Graceful shutdown ---
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if err := generation.Wait(shutdownCtx); err != nil {
		logger.Warn("generations still running at shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
