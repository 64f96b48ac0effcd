package service

import (
	"context"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var creditsTracer = otel.Tracer("service/credits")

// CreditService exposes the credit balance and spends credits on projects.
type CreditService struct {
	billing  port.BillingStore
	projects port.ProjectStore
	ledger   port.CreditLedger
	products *Products
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewCreditService(
	billing port.BillingStore,
	projects port.ProjectStore,
	ledger port.CreditLedger,
	products *Products,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *CreditService {
	return &CreditService{
		billing:  billing,
		projects: projects,
		ledger:   ledger,
		products: products,
		metrics:  metrics,
		logger:   logger,
	}
}

// GetBalance returns the credit balance and purchase history. A user who
// never bought anything has a zero balance.
func (s *CreditService) GetBalance(ctx context.Context, id domain.Identity) (*domain.CreditBalance, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditService.GetBalance")
	defer span.End()

	var (
		customer  *domain.StripeCustomer
		purchases []domain.Purchase
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.billing.GetCustomer(gctx, id.UserID)
		customer = c
		return err
	})
	g.Go(func() error {
		p, err := s.billing.ListPurchases(gctx, id.UserID)
		purchases = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &domain.CreditBalance{Purchases: purchases}
	if out.Purchases == nil {
		out.Purchases = []domain.Purchase{}
	}
	if customer != nil {
		out.CreditBalance = customer.CreditBalance
	}
	return out, nil
}

// ApplyCredit spends one credit to unlock a project. Unlocking an already
// unlocked project consumes nothing.
func (s *CreditService) ApplyCredit(ctx context.Context, id domain.Identity, req *domain.ApplyCreditRequest) (*domain.ApplyCreditResult, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditService.ApplyCredit")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", req.ProjectID))

	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	project, err := ownedProject(ctx, s.projects, id, req.ProjectID)
	if err != nil {
		return nil, err
	}

	if project.IsUnlocked {
		balance := 0
		c, err := s.billing.GetCustomer(ctx, project.UserID)
		switch {
		case err != nil:
			s.logger.Warn("credit balance unavailable for unlocked project",
				zap.String("user_id", project.UserID),
				zap.String("project_id", project.ID),
				zap.Error(err),
			)
		case c != nil:
			balance = c.CreditBalance
		}
		return &domain.ApplyCreditResult{ProjectID: project.ID, IsUnlocked: true, RemainingCredits: balance}, nil
	}

	result, err := s.ledger.ApplyCredit(ctx, project.UserID, project.ID)
	if err != nil {
		return nil, err
	}
	if result.CreditConsumed {
		s.metrics.AddCredits("consumed", 1)
		s.logger.Info("credit applied",
			zap.String("user_id", project.UserID),
			zap.String("project_id", project.ID),
			zap.String("purchase_id", result.PurchaseID),
			zap.Int("remaining", result.RemainingCredits),
		)
	}
	return result, nil
}

// ListPurchases returns the user's purchases, oldest first.
func (s *CreditService) ListPurchases(ctx context.Context, id domain.Identity) ([]domain.Purchase, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditService.ListPurchases")
	defer span.End()

	purchases, err := s.billing.ListPurchases(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if purchases == nil {
		purchases = []domain.Purchase{}
	}
	return purchases, nil
}

// ListProducts returns the product catalog.
func (s *CreditService) ListProducts() []domain.Product {
	return s.products.List()
}
