package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/infra/ratelimit"
	"github.com/marketingguide/mgai-api/internal/infra/realtime"
	"github.com/marketingguide/mgai-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck checks one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Services bundles everything the router dispatches to. Optional pieces
// (Limiter, Realtime) disable their feature when nil.
type Services struct {
	Verifier   TokenVerifier
	Projects   *service.ProjectService
	Catalog    *service.CatalogService
	Generation *service.GenerationService
	Content    *service.ContentService
	Checkout   *service.CheckoutService
	Webhook    *service.WebhookService
	Credits    *service.CreditService
	Export     *service.ExportService

	Limiter  *ratelimit.Limiter
	Realtime *realtime.Upgrader

	HealthChecks   []HealthCheck
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(svc.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.HealthChecks, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics/generation", generationMetricsHandler(metrics))

		// Stripe calls this one; the signature is the credential.
		r.Post("/stripe-webhook", stripeWebhookHandler(svc.Webhook, logger))

		if svc.Realtime != nil {
			r.Get("/realtime", realtimeHandler(svc.Verifier, svc.Projects, svc.Realtime, logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(svc.Verifier, logger))

			// =============================================
			// Catalog & projects
			// =============================================
			r.Get("/document-types", listDocumentTypesHandler(svc.Catalog, logger))

			r.Get("/projects", listProjectsHandler(svc.Projects, logger))
			r.Post("/projects", createProjectHandler(svc.Projects, logger))
			r.Get("/projects/{projectId}", getProjectHandler(svc.Projects, logger))
			r.Patch("/projects/{projectId}", updateProjectHandler(svc.Projects, logger))
			r.Delete("/projects/{projectId}", deleteProjectHandler(svc.Projects, logger))
			r.Get("/projects/{projectId}/dashboard", projectDashboardHandler(svc.Projects, logger))

			// =============================================
			// Documents
			// =============================================
			r.Get("/projects/{projectId}/documents", listDocumentsHandler(svc.Projects, logger))
			r.Post("/projects/{projectId}/documents/generate", generateDocumentsHandler(svc.Generation, logger))
			r.Get("/documents/{documentId}", getDocumentHandler(svc.Projects, logger))
			r.Post("/documents/{documentId}/sections/{sectionId}/regenerate", regenerateSectionHandler(svc.Generation, logger))
			r.Get("/documents/{documentId}/export", exportDocumentHandler(svc.Export, logger))
			r.Post("/documents/{documentId}/export/link", exportLinkHandler(svc.Export, logger))

			// =============================================
			// Content passthrough
			// =============================================
			r.With(limit(svc.Limiter)).Post("/generate-content", generateContentHandler(svc.Content, logger))

			// =============================================
			// Payments
			// =============================================
			r.Post("/create-checkout-session", createCheckoutSessionHandler(svc.Checkout, logger))
			r.Get("/payments/products", listProductsHandler(svc.Credits))
			r.Get("/payments/credits", creditBalanceHandler(svc.Credits, logger))
			r.Post("/payments/apply-credit", applyCreditHandler(svc.Credits, logger))
			r.Get("/payments/history", purchaseHistoryHandler(svc.Credits, logger))
			r.Get("/payments/session/{sessionId}", sessionStatusHandler(svc.Checkout, logger))
		})
	})

	return r
}

func limit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return l.Middleware(keyByUser)
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// ============================================================
// Health and readiness
// ============================================================

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "mgai-api", Status: "healthy", LastChecked: now},
		}
		overall := "healthy"
		for _, hc := range checks {
			start := time.Now()
			err := hc.Check(ctx)
			sh := domain.ServiceHealth{
				Name:        hc.Name,
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				logger.Warn("healthz: dependency degraded", zap.String("dependency", hc.Name), zap.Error(err))
				sh.Status = "degraded"
				sh.Error = err.Error()
				overall = "degraded"
			}
			services = append(services, sh)
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func generationMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetGenerationSnapshot())
	}
}
