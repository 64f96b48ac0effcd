package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Error       string `json:"error,omitempty"`
}

// GenerationMetrics is returned by GET /api/metrics/generation.
type GenerationMetrics struct {
	DocumentsCompleted int64   `json:"documentsCompleted"`
	DocumentsFailed    int64   `json:"documentsFailed"`
	SectionsGenerated  int64   `json:"sectionsGenerated"`
	PromptTokens       int64   `json:"promptTokens"`
	CompletionTokens   int64   `json:"completionTokens"`
	FailureRate        float64 `json:"failureRate"`
	EstimatedCostUsd   float64 `json:"estimatedCostUsd"`
	CatalogCacheHit    float64 `json:"catalogCacheHitRate"`
}
