package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var webhookTracer = otel.Tracer("service/webhook")

// Stripe event types handled by the webhook.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired        = "checkout.session.expired"
)

// WebhookService applies Stripe events to purchases, credits and projects.
type WebhookService struct {
	verifier port.WebhookVerifier
	events   port.WebhookEventStore
	billing  port.BillingStore
	projects port.ProjectStore
	ledger   port.CreditLedger
	products *Products
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewWebhookService(
	verifier port.WebhookVerifier,
	events port.WebhookEventStore,
	billing port.BillingStore,
	projects port.ProjectStore,
	ledger port.CreditLedger,
	products *Products,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		verifier: verifier,
		events:   events,
		billing:  billing,
		projects: projects,
		ledger:   ledger,
		products: products,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleWebhook verifies and processes one delivery. It only returns an
// error when the payload cannot be trusted; processing failures are
// recorded on the event and logged so Stripe does not retry forever.
func (s *WebhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := webhookTracer.Start(ctx, "WebhookService.HandleWebhook")
	defer span.End()

	ev, err := s.verifier.ConstructEvent(payload, signature)
	if err != nil {
		s.metrics.IncrWebhookEvent("unknown", "rejected")
		return err
	}
	span.SetAttributes(attribute.String("event.id", ev.ID), attribute.String("event.type", ev.Type))
	log := s.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	prior, err := s.events.GetWebhookEvent(ctx, ev.ID)
	switch {
	case err != nil:
		log.Warn("webhook: event lookup failed, processing anyway", zap.Error(err))
	case prior != nil && (prior.Status == domain.WebhookProcessed || prior.Status == domain.WebhookIgnored):
		log.Info("webhook: duplicate delivery acknowledged")
		s.metrics.IncrWebhookEvent(ev.Type, "duplicate")
		return nil
	case prior == nil:
		if err := s.events.RecordWebhookEvent(ctx, &domain.WebhookEvent{
			ID:         ev.ID,
			Type:       ev.Type,
			Status:     domain.WebhookReceived,
			Payload:    ev.Raw,
			ReceivedAt: time.Now().UTC(),
		}); err != nil {
			log.Warn("webhook: failed to record event", zap.Error(err))
		}
	}

	status, perr := s.process(ctx, ev)
	errMsg := ""
	if perr != nil {
		status = domain.WebhookFailed
		errMsg = perr.Error()
		log.Error("webhook: processing failed", zap.Error(perr))
	} else {
		log.Info("webhook: event handled", zap.String("status", status))
	}

	if err := s.events.MarkWebhookEvent(ctx, ev.ID, status, errMsg); err != nil {
		log.Warn("webhook: failed to mark event", zap.Error(err))
	}
	s.metrics.IncrWebhookEvent(ev.Type, status)
	return nil
}

func (s *WebhookService) process(ctx context.Context, ev *domain.PaymentEvent) (string, error) {
	switch ev.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		if ev.Session == nil {
			return "", errors.New("event carries no checkout session")
		}
		if ev.Session.PaymentStatus != "paid" && ev.Session.PaymentStatus != "no_payment_required" {
			// Async payment methods complete later with async_payment_succeeded.
			return domain.WebhookIgnored, nil
		}
		return domain.WebhookProcessed, s.completeCheckout(ctx, ev.Session)
	case EventCheckoutExpired:
		return domain.WebhookProcessed, s.closeCheckout(ctx, ev.Session, domain.PurchaseExpired)
	case EventCheckoutAsyncFailed:
		return domain.WebhookProcessed, s.closeCheckout(ctx, ev.Session, domain.PurchaseFailed)
	default:
		return domain.WebhookIgnored, nil
	}
}

// completeCheckout fulfils a paid session. Each step is safe to repeat so a
// redelivery after a partial failure finishes the job without double
// granting.
func (s *WebhookService) completeCheckout(ctx context.Context, sess *domain.CheckoutSessionData) error {
	userID := sess.Metadata["userId"]
	if userID == "" {
		return fmt.Errorf("session %s has no userId metadata", sess.ID)
	}
	product, ok := s.products.Get(sess.Metadata["productId"])
	if !ok {
		return fmt.Errorf("session %s has unknown product %q", sess.ID, sess.Metadata["productId"])
	}

	purchase, err := s.purchaseFor(ctx, userID, product, sess)
	if err != nil {
		return err
	}
	if purchase.Status == domain.PurchaseCompleted {
		return nil
	}

	fields := map[string]any{
		"status":       domain.PurchaseCompleted,
		"amount_total": sess.AmountTotal,
		"currency":     sess.Currency,
	}

	if product.UnlocksProject {
		projectID := sess.Metadata["projectId"]
		if projectID == "" {
			projectID = purchase.ProjectID
		}
		if projectID == "" {
			return fmt.Errorf("session %s unlocks a project but names none", sess.ID)
		}
		if _, err := s.projects.UnlockProject(ctx, projectID); err != nil {
			return fmt.Errorf("unlock project %s: %w", projectID, err)
		}
		fields["remaining_uses"] = 0
		fields["used_for_projects"] = appendUnique(purchase.UsedForProjects, projectID)
		s.logger.Info("project unlocked by purchase",
			zap.String("user_id", userID),
			zap.String("project_id", projectID),
			zap.String("purchase_id", purchase.ID),
		)
	} else {
		balance, err := s.grant(ctx, userID, purchase.ID, product.Credits, sess)
		if err != nil {
			return err
		}
		fields["remaining_uses"] = product.Credits
		s.metrics.AddCredits("granted", product.Credits)
		s.logger.Info("credits granted",
			zap.String("user_id", userID),
			zap.String("purchase_id", purchase.ID),
			zap.Int("credits", product.Credits),
			zap.Int("balance", balance),
		)
	}

	return s.billing.UpdatePurchase(ctx, purchase.ID, fields)
}

// purchaseFor returns the purchase row of the session, creating it when the
// pending row was never written.
func (s *WebhookService) purchaseFor(ctx context.Context, userID string, product domain.Product, sess *domain.CheckoutSessionData) (*domain.Purchase, error) {
	p, err := s.billing.GetPurchaseBySession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	s.logger.Warn("webhook: pending purchase missing, creating it", zap.String("session_id", sess.ID))
	return s.billing.CreatePurchase(ctx, &domain.Purchase{
		UserID:          userID,
		StripeSessionID: sess.ID,
		ProductID:       product.ID,
		ProjectID:       sess.Metadata["projectId"],
		Status:          domain.PurchasePending,
		AmountTotal:     sess.AmountTotal,
		Currency:        sess.Currency,
		UsedForProjects: []string{},
	})
}

// grant adds credits, creating the customer row first if checkout somehow
// never wrote it.
func (s *WebhookService) grant(ctx context.Context, userID, purchaseID string, credits int, sess *domain.CheckoutSessionData) (int, error) {
	balance, err := s.ledger.GrantCredits(ctx, userID, purchaseID, credits)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		return balance, err
	}

	if _, err := s.billing.CreateCustomer(ctx, &domain.StripeCustomer{
		UserID:           userID,
		StripeCustomerID: sess.CustomerID,
		PurchaseHistory:  []string{},
	}); err != nil {
		return 0, fmt.Errorf("create customer row: %w", err)
	}
	return s.ledger.GrantCredits(ctx, userID, purchaseID, credits)
}

// closeCheckout records a session that will never be paid. Completed
// purchases are left alone.
func (s *WebhookService) closeCheckout(ctx context.Context, sess *domain.CheckoutSessionData, status string) error {
	if sess == nil {
		return errors.New("event carries no checkout session")
	}
	p, err := s.billing.GetPurchaseBySession(ctx, sess.ID)
	if err != nil {
		return err
	}
	if p == nil || p.Status == domain.PurchaseCompleted {
		return nil
	}
	return s.billing.UpdatePurchase(ctx, p.ID, map[string]any{"status": status})
}
