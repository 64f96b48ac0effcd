package handler

import (
	"io"
	"net/http"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Checkout
// ============================================================

func createCheckoutSessionHandler(checkout *service.CheckoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/create-checkout-session")
		defer span.End()

		var req domain.CheckoutRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("product.id", req.ProductID),
			attribute.String("project.id", req.ProjectID),
		)

		sess, err := checkout.CreateCheckoutSession(ctx, IdentityFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func sessionStatusHandler(checkout *service.CheckoutService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/payments/session/{sessionId}")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		purchase, err := checkout.GetSessionStatus(ctx, IdentityFromContext(ctx), sessionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, purchase)
	}
}

// ============================================================
// Stripe webhook
// ============================================================

// stripeWebhookHandler answers 400 only for payloads that cannot be trusted.
// Processing failures are recorded on the event and still acknowledged.
func stripeWebhookHandler(webhooks *service.WebhookService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/stripe-webhook")
		defer span.End()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			logger.Warn("webhook: unreadable body", zap.Error(err))
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		if err := webhooks.HandleWebhook(ctx, payload, r.Header.Get("Stripe-Signature")); err != nil {
			logger.Warn("webhook: rejected delivery", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

// ============================================================
// Credits
// ============================================================

func listProductsHandler(credits *service.CreditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, credits.ListProducts())
	}
}

func creditBalanceHandler(credits *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/payments/credits")
		defer span.End()

		balance, err := credits.GetBalance(ctx, IdentityFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, balance)
	}
}

func applyCreditHandler(credits *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/payments/apply-credit")
		defer span.End()

		var req domain.ApplyCreditRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("project.id", req.ProjectID))

		res, err := credits.ApplyCredit(ctx, IdentityFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func purchaseHistoryHandler(credits *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/payments/history")
		defer span.End()

		purchases, err := credits.ListPurchases(ctx, IdentityFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, purchases)
	}
}
