package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var checkoutTracer = otel.Tracer("service/checkout")

// CheckoutService starts Stripe Checkout for the product catalog.
type CheckoutService struct {
	products    *Products
	projects    port.ProjectStore
	billing     port.BillingStore
	users       port.UserDirectory
	gateway     port.PaymentGateway
	frontendURL string
	logger      *zap.Logger
}

func NewCheckoutService(
	products *Products,
	projects port.ProjectStore,
	billing port.BillingStore,
	users port.UserDirectory,
	gateway port.PaymentGateway,
	frontendURL string,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		products:    products,
		projects:    projects,
		billing:     billing,
		users:       users,
		gateway:     gateway,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// CreateCheckoutSession creates a Checkout Session and records a pending
// purchase for it.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, id domain.Identity, req *domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	ctx, span := checkoutTracer.Start(ctx, "CheckoutService.CreateCheckoutSession")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", req.ProductID))

	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	product, ok := s.products.Get(req.ProductID)
	if !ok {
		return nil, &domain.ErrValidation{Field: "productId", Message: "unknown product"}
	}
	if product.PriceID == "" {
		return nil, &domain.ErrValidation{Field: "productId", Message: "product is not available for purchase"}
	}

	if product.UnlocksProject {
		if req.ProjectID == "" {
			return nil, &domain.ErrValidation{Field: "projectId", Message: "is required"}
		}
		project, err := ownedProject(ctx, s.projects, id, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if project.IsUnlocked {
			return nil, &domain.ErrConflict{Message: "project is already unlocked"}
		}
	}

	customer, err := s.ensureCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"userId":    id.UserID,
		"productId": product.ID,
	}
	if req.ProjectID != "" {
		metadata["projectId"] = req.ProjectID
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, &domain.CheckoutSessionParams{
		CustomerID: customer.StripeCustomerID,
		PriceID:    product.PriceID,
		SuccessURL: s.frontendURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/payment/cancelled",
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}

	_, err = s.billing.CreatePurchase(ctx, &domain.Purchase{
		UserID:          id.UserID,
		StripeSessionID: sess.SessionID,
		ProductID:       product.ID,
		ProjectID:       req.ProjectID,
		Status:          domain.PurchasePending,
		AmountTotal:     product.AmountCents,
		Currency:        product.Currency,
		UsedForProjects: []string{},
	})
	if err != nil {
		// The webhook creates the row when it is missing, so the session stays usable.
		s.logger.Error("failed to record pending purchase",
			zap.String("user_id", id.UserID),
			zap.String("session_id", sess.SessionID),
			zap.Error(err),
		)
	}

	s.logger.Info("checkout session created",
		zap.String("user_id", id.UserID),
		zap.String("product_id", product.ID),
		zap.String("session_id", sess.SessionID),
	)
	return sess, nil
}

// GetSessionStatus returns the purchase recorded for a checkout session.
func (s *CheckoutService) GetSessionStatus(ctx context.Context, id domain.Identity, sessionID string) (*domain.Purchase, error) {
	ctx, span := checkoutTracer.Start(ctx, "CheckoutService.GetSessionStatus")
	defer span.End()

	p, err := s.billing.GetPurchaseBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p == nil || (p.UserID != id.UserID && !id.IsService()) {
		return nil, &domain.ErrNotFound{Resource: "checkout session", ID: sessionID}
	}
	return p, nil
}

// ensureCustomer returns the user's Stripe customer row, creating the
// Stripe customer and the row on first purchase.
func (s *CheckoutService) ensureCustomer(ctx context.Context, id domain.Identity) (*domain.StripeCustomer, error) {
	c, err := s.billing.GetCustomer(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	email := id.Email
	if email == "" {
		email, err = s.users.GetUserEmail(ctx, id.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve user email: %w", err)
		}
	}

	stripeID, err := s.gateway.CreateCustomer(ctx, id.UserID, email)
	if err != nil {
		return nil, err
	}

	created, err := s.billing.CreateCustomer(ctx, &domain.StripeCustomer{
		UserID:           id.UserID,
		StripeCustomerID: stripeID,
		Email:            email,
		PurchaseHistory:  []string{},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("stripe customer created", zap.String("user_id", id.UserID))
	return created, nil
}
