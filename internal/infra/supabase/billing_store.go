package supabase

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Stripe customers & purchases CRUD via PostgREST
// ============================================================

// --- Customers ---

func (c *Client) GetCustomer(ctx context.Context, userID string) (*domain.StripeCustomer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var customer *domain.StripeCustomer
	err := c.read(ctx, "stripe_customers", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("stripe_customers?user_id=%s&limit=1", eq(userID)))
		if err != nil {
			return err
		}
		sc, err := decodeOne[domain.StripeCustomer](body)
		if err != nil {
			return fmt.Errorf("decode stripe_customer: %w", err)
		}
		customer = sc
		return nil
	})
	return customer, err
}

func (c *Client) CreateCustomer(ctx context.Context, sc *domain.StripeCustomer) (*domain.StripeCustomer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCustomer")
	defer span.End()

	history := sc.PurchaseHistory
	if history == nil {
		history = []string{}
	}
	row := map[string]any{
		"user_id":            sc.UserID,
		"stripe_customer_id": sc.StripeCustomerID,
		"email":              sc.Email,
		"credit_balance":     sc.CreditBalance,
		"purchase_history":   history,
	}

	var created *domain.StripeCustomer
	err := c.write(ctx, "stripe_customers", func() error {
		body, err := c.doUpsert(ctx, "stripe_customers?on_conflict=user_id", row)
		if err != nil {
			return err
		}
		out, err := decodeOne[domain.StripeCustomer](body)
		if err != nil {
			return fmt.Errorf("decode stripe_customer: %w", err)
		}
		if out == nil {
			return fmt.Errorf("no result from stripe_customers insert")
		}
		created = out
		return nil
	})
	return created, err
}

// SwapCustomer applies fields only if credit_balance still equals expectedBalance.
func (c *Client) SwapCustomer(ctx context.Context, userID string, expectedBalance int, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.SwapCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("expected_balance", expectedBalance))

	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return c.write(ctx, "stripe_customers", func() error {
		path := fmt.Sprintf("stripe_customers?user_id=%s&credit_balance=eq.%s", eq(userID), strconv.Itoa(expectedBalance))
		n, err := c.doPatchCount(ctx, path, fields)
		if err != nil {
			return err
		}
		if n == 0 {
			return resilience.Permanent(&domain.ErrStaleWrite{Resource: "stripe_customer", ID: userID})
		}
		return nil
	})
}

// --- Purchases ---

func (c *Client) CreatePurchase(ctx context.Context, p *domain.Purchase) (*domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreatePurchase")
	defer span.End()

	used := p.UsedForProjects
	if used == nil {
		used = []string{}
	}
	row := map[string]any{
		"user_id":           p.UserID,
		"stripe_session_id": p.StripeSessionID,
		"product_id":        p.ProductID,
		"status":            p.Status,
		"amount_total":      p.AmountTotal,
		"currency":          p.Currency,
		"remaining_uses":    p.RemainingUses,
		"used_for_projects": used,
	}
	if p.ProjectID != "" {
		row["project_id"] = p.ProjectID
	}

	var created *domain.Purchase
	err := c.write(ctx, "purchases", func() error {
		body, err := c.doPost(ctx, "purchases", row)
		if err != nil {
			return err
		}
		out, err := decodeOne[domain.Purchase](body)
		if err != nil {
			return fmt.Errorf("decode purchase: %w", err)
		}
		if out == nil {
			return fmt.Errorf("no result from purchases insert")
		}
		created = out
		return nil
	})
	return created, err
}

func (c *Client) GetPurchaseBySession(ctx context.Context, sessionID string) (*domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetPurchaseBySession")
	defer span.End()

	var purchase *domain.Purchase
	err := c.read(ctx, "purchases", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("purchases?stripe_session_id=%s&limit=1", eq(sessionID)))
		if err != nil {
			return err
		}
		p, err := decodeOne[domain.Purchase](body)
		if err != nil {
			return fmt.Errorf("decode purchase: %w", err)
		}
		purchase = p
		return nil
	})
	return purchase, err
}

func (c *Client) ListPurchases(ctx context.Context, userID string) ([]domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPurchases")
	defer span.End()

	var purchases []domain.Purchase
	err := c.read(ctx, "purchases", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("purchases?user_id=%s&order=created_at.asc", eq(userID)))
		if err != nil {
			return err
		}
		rows, err := decodeAll[domain.Purchase](body)
		if err != nil {
			return fmt.Errorf("decode purchases: %w", err)
		}
		purchases = rows
		return nil
	})
	return purchases, err
}

func (c *Client) UpdatePurchase(ctx context.Context, purchaseID string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdatePurchase")
	defer span.End()

	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return c.write(ctx, "purchases", func() error {
		return c.doPatch(ctx, fmt.Sprintf("purchases?id=%s", eq(purchaseID)), fields)
	})
}

// SwapPurchaseUses applies fields only if remaining_uses still equals expectedUses.
func (c *Client) SwapPurchaseUses(ctx context.Context, purchaseID string, expectedUses int, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.SwapPurchaseUses")
	defer span.End()

	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return c.write(ctx, "purchases", func() error {
		path := fmt.Sprintf("purchases?id=%s&remaining_uses=eq.%d", eq(purchaseID), expectedUses)
		n, err := c.doPatchCount(ctx, path, fields)
		if err != nil {
			return err
		}
		if n == 0 {
			return resilience.Permanent(&domain.ErrStaleWrite{Resource: "purchase", ID: purchaseID})
		}
		return nil
	})
}
