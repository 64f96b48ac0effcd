package main

import (
	"fmt"
	"net/http"

	"github.com/marketingguide/mgai-api/internal/config"
	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/cache"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"
	"github.com/marketingguide/mgai-api/internal/infra/supabase"
	"github.com/marketingguide/mgai-api/internal/service"

	"go.uber.org/zap"
)

// base holds what every command needs: config, logger, metrics and the
// Supabase-backed stores.
type base struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	supabase *supabase.Client
	catalog  *service.CatalogService
}

func bootstrap(configPath string, validate func(*config.Config) error) (*base, error) {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.Log.Level)

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Supabase ---
	sb := supabase.NewClient(
		&http.Client{Timeout: cfg.Supabase.HTTPTimeout},
		cfg.Supabase.URL,
		cfg.Supabase.AnonKey,
		cfg.Supabase.ServiceRoleKey,
		resilience.NewCircuitBreaker("supabase"),
		resilienceConfig(cfg),
		logger,
	)

	catalog := service.NewCatalogService(sb, cache.New[[]domain.DocumentType](cfg.CacheTTL), metrics, logger)

	return &base{cfg: cfg, logger: logger, metrics: metrics, supabase: sb, catalog: catalog}, nil
}

func resilienceConfig(cfg *config.Config) resilience.Config {
	return resilience.Config{
		MaxRetries:     cfg.Resilience.MaxRetries,
		InitialBackoff: cfg.Resilience.InitialBackoff,
		MaxConcurrency: cfg.Resilience.MaxConcurrency,
	}
}
