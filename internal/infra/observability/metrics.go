package observability

import (
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	documents       *prometheus.CounterVec
	sections        prometheus.Counter
	webhookEvents   *prometheus.CounterVec
	credits         *prometheus.CounterVec
	activeJobs      prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mgai_operation_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgai_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgai_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgai_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgai_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		documents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgai_documents_generated_total",
				Help: "Documents that finished generating, by outcome.",
			},
			[]string{"status"},
		),
		sections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mgai_sections_generated_total",
				Help: "Sections produced by the LLM.",
			},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgai_webhook_events_total",
				Help: "Stripe webhook events by type and outcome.",
			},
			[]string{"type", "status"},
		),
		credits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgai_credits_total",
				Help: "Credits granted and consumed.",
			},
			[]string{"direction"},
		),
		activeJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mgai_generation_jobs_active",
				Help: "Background document generations currently running.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrDocument counts a finished document generation by final status.
func (m *Metrics) IncrDocument(status string) {
	m.documents.WithLabelValues(status).Inc()
}

// IncrSection counts one generated section.
func (m *Metrics) IncrSection() {
	m.sections.Inc()
}

// IncrWebhookEvent counts a processed webhook event.
func (m *Metrics) IncrWebhookEvent(eventType, status string) {
	m.webhookEvents.WithLabelValues(eventType, status).Inc()
}

// AddCredits counts credits moving in ("granted") or out ("consumed").
func (m *Metrics) AddCredits(direction string, n int) {
	m.credits.WithLabelValues(direction).Add(float64(n))
}

// JobStarted and JobFinished track background generations.
func (m *Metrics) JobStarted()  { m.activeJobs.Inc() }
func (m *Metrics) JobFinished() { m.activeJobs.Dec() }

// GetGenerationSnapshot returns a snapshot of generation metrics suitable for
// the GET /api/metrics/generation endpoint.
func (m *Metrics) GetGenerationSnapshot() *domain.GenerationMetrics {
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	completed := getCounterValue(m.documents, domain.DocumentCompleted)
	failed := getCounterValue(m.documents, domain.DocumentError)
	cacheHits := getCounterValue(m.cacheHits, "catalog")
	cacheMisses := getCounterValue(m.cacheMisses, "catalog")

	var sections float64
	sm := &dto.Metric{}
	if err := m.sections.Write(sm); err == nil && sm.Counter != nil {
		sections = sm.Counter.GetValue()
	}

	failureRate := float64(0)
	if completed+failed > 0 {
		failureRate = failed / (completed + failed)
	}
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	// gpt-4o-mini list price: $0.15/1M prompt, $0.60/1M completion.
	estimatedCost := (promptTokens/1e6)*0.15 + (completionTokens/1e6)*0.60

	return &domain.GenerationMetrics{
		DocumentsCompleted: int64(completed),
		DocumentsFailed:    int64(failed),
		SectionsGenerated:  int64(sections),
		PromptTokens:       int64(promptTokens),
		CompletionTokens:   int64(completionTokens),
		FailureRate:        failureRate,
		EstimatedCostUsd:   estimatedCost,
		CatalogCacheHit:    cacheHitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
