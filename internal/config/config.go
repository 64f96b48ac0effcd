package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
// Values are layered: defaults, then an optional YAML file, then environment variables.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Supabase   SupabaseConfig   `koanf:"supabase"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Stripe     StripeConfig     `koanf:"stripe"`
	Generation GenerationConfig `koanf:"generation"`
	Resilience ResilienceConfig `koanf:"resilience"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Export     ExportConfig     `koanf:"export"`
	CORS       CORSConfig       `koanf:"cors"`
	Otel       OtelConfig       `koanf:"otel"`

	// FrontendURL is the SPA origin used for checkout redirects.
	FrontendURL string        `koanf:"frontend_url"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SyncBudget bounds upstream work done inside a request so the response
// is written before WriteTimeout closes the connection.
func (s ServerConfig) SyncBudget() time.Duration {
	const margin = 5 * time.Second
	if s.WriteTimeout > 2*margin {
		return s.WriteTimeout - margin
	}
	return s.WriteTimeout / 2
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type SupabaseConfig struct {
	URL            string        `koanf:"url"`
	AnonKey        string        `koanf:"anon_key"`
	ServiceRoleKey string        `koanf:"service_role_key"`
	JWTSecret      string        `koanf:"jwt_secret"`
	HTTPTimeout    time.Duration `koanf:"http_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	PoolSize int    `koanf:"pool_size"`
}

type OpenAIConfig struct {
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

type StripeConfig struct {
	SecretKey          string `koanf:"secret_key"`
	WebhookSecret      string `koanf:"webhook_secret"`
	BackendURL         string `koanf:"backend_url"`
	SingleProjectPrice string `koanf:"single_project_price"`
	AgencyPackPrice    string `koanf:"agency_pack_price"`
	SingleProjectCents int64  `koanf:"single_project_cents"`
	AgencyPackCents    int64  `koanf:"agency_pack_cents"`
	Currency           string `koanf:"currency"`
}

type GenerationConfig struct {
	MaxConcurrent    int           `koanf:"max_concurrent"`
	PerRequestLimit  int           `koanf:"per_request_limit"`
	Timeout          time.Duration `koanf:"timeout"`
	SectionMaxTokens int           `koanf:"section_max_tokens"`
}

type ResilienceConfig struct {
	MaxRetries     int           `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxConcurrency int           `koanf:"max_concurrency"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

type ExportConfig struct {
	Bucket          string        `koanf:"bucket"`
	Region          string        `koanf:"region"`
	Endpoint        string        `koanf:"endpoint"`
	AccessKeyID     string        `koanf:"access_key_id"`
	SecretAccessKey string        `koanf:"secret_access_key"`
	LinkTTL         time.Duration `koanf:"link_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type OtelConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Load reads configuration from defaults, the optional YAML file at path and
// the environment. It does not validate; call Validate before serving.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORS.AllowedOrigins) == 1 && strings.Contains(cfg.CORS.AllowedOrigins[0], ",") {
		cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins[0])
	}
	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"server.port":             8080,
		"server.read_timeout":     "10s",
		"server.write_timeout":    "60s",
		"server.idle_timeout":     "60s",
		"server.shutdown_timeout": "15s",

		"log.level": "info",

		"supabase.http_timeout": "10s",

		"database.max_open_conns":    10,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "1h",

		"redis.pool_size": 10,

		"openai.model":       "gpt-4o-mini",
		"openai.max_tokens":  2000,
		"openai.temperature": 0.7,
		"openai.timeout":     "90s",

		"stripe.single_project_cents": 2900,
		"stripe.agency_pack_cents":    19900,
		"stripe.currency":             "usd",

		"generation.max_concurrent":     8,
		"generation.per_request_limit":  3,
		"generation.timeout":            "10m",
		"generation.section_max_tokens": 1500,

		"resilience.max_retries":     3,
		"resilience.initial_backoff": "500ms",
		"resilience.max_concurrency": 50,

		"rate_limit.requests": 30,
		"rate_limit.window":   "1m",
		"rate_limit.burst":    10,

		"export.region":   "us-east-1",
		"export.link_ttl": "15m",

		"cors.allowed_origins": []string{"http://localhost:5173"},

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "mgai-api",

		"frontend_url": "http://localhost:5173",
		"cache_ttl":    "5m",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var envKeyMap = map[string]string{
	"PORT":                        "server.port",
	"LOG_LEVEL":                   "log.level",
	"SUPABASE_URL":                "supabase.url",
	"SUPABASE_ANON_KEY":           "supabase.anon_key",
	"SUPABASE_SERVICE_ROLE_KEY":   "supabase.service_role_key",
	"SUPABASE_JWT_SECRET":         "supabase.jwt_secret",
	"HTTP_TIMEOUT":                "supabase.http_timeout",
	"DATABASE_URL":                "database.url",
	"REDIS_URL":                   "redis.url",
	"OPENAI_API_KEY":              "openai.api_key",
	"OPENAI_BASE_URL":             "openai.base_url",
	"OPENAI_MODEL":                "openai.model",
	"OPENAI_MAX_TOKENS":           "openai.max_tokens",
	"STRIPE_SECRET_KEY":           "stripe.secret_key",
	"STRIPE_WEBHOOK_SECRET":       "stripe.webhook_secret",
	"STRIPE_BACKEND_URL":          "stripe.backend_url",
	"STRIPE_PRICE_SINGLE_PROJECT": "stripe.single_project_price",
	"STRIPE_PRICE_AGENCY_PACK":    "stripe.agency_pack_price",
	"MAX_CONCURRENT_GENERATIONS":  "generation.max_concurrent",
	"GENERATION_TIMEOUT":          "generation.timeout",
	"MAX_RETRIES":                 "resilience.max_retries",
	"INITIAL_BACKOFF":             "resilience.initial_backoff",
	"MAX_CONCURRENCY":             "resilience.max_concurrency",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"EXPORT_BUCKET":               "export.bucket",
	"EXPORT_REGION":               "export.region",
	"EXPORT_ENDPOINT":             "export.endpoint",
	"EXPORT_ACCESS_KEY_ID":        "export.access_key_id",
	"EXPORT_SECRET_ACCESS_KEY":    "export.secret_access_key",
	"CORS_ALLOWED_ORIGINS":        "cors.allowed_origins",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
	"FRONTEND_URL":                "frontend_url",
	"CACHE_TTL":                   "cache_ttl",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every missing setting the HTTP server needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Supabase.URL == "" {
		errs = append(errs, errors.New("SUPABASE_URL is required"))
	}
	if c.Supabase.ServiceRoleKey == "" {
		errs = append(errs, errors.New("SUPABASE_SERVICE_ROLE_KEY is required"))
	}
	if c.Supabase.JWTSecret == "" {
		errs = append(errs, errors.New("SUPABASE_JWT_SECRET is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.Generation.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("generation.max_concurrent must be positive"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateStore reports missing settings for commands that only read Supabase.
func (c *Config) ValidateStore() error {
	var errs []error
	if c.Supabase.URL == "" {
		errs = append(errs, errors.New("SUPABASE_URL is required"))
	}
	if c.Supabase.ServiceRoleKey == "" {
		errs = append(errs, errors.New("SUPABASE_SERVICE_ROLE_KEY is required"))
	}
	return errors.Join(errs...)
}
