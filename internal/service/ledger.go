package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

const maxSwapAttempts = 5

// OptimisticLedger implements port.CreditLedger over PostgREST with
// compare-and-swap on credit_balance. It is used when no direct database
// connection is configured.
type OptimisticLedger struct {
	billing  port.BillingStore
	projects port.ProjectStore
	logger   *zap.Logger
}

// NewOptimisticLedger creates a CAS based credit ledger.
func NewOptimisticLedger(billing port.BillingStore, projects port.ProjectStore, logger *zap.Logger) *OptimisticLedger {
	return &OptimisticLedger{billing: billing, projects: projects, logger: logger}
}

// ApplyCredit debits one credit, unlocks the project and attributes the
// credit to the oldest purchase with remaining uses. The debit is refunded
// when the unlock fails or the project turns out to be unlocked already.
func (l *OptimisticLedger) ApplyCredit(ctx context.Context, userID, projectID string) (*domain.ApplyCreditResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "OptimisticLedger.ApplyCredit")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("project.id", projectID))

	balance, err := l.debit(ctx, userID)
	if err != nil {
		return nil, err
	}

	changed, err := l.projects.UnlockProject(ctx, projectID)
	if err != nil || !changed {
		if refundErr := l.refund(ctx, userID); refundErr != nil {
			l.logger.Error("ledger: refund after failed unlock",
				zap.String("user_id", userID),
				zap.String("project_id", projectID),
				zap.Error(refundErr),
			)
		}
		if err != nil {
			return nil, fmt.Errorf("unlock project: %w", err)
		}
		return &domain.ApplyCreditResult{ProjectID: projectID, IsUnlocked: true, RemainingCredits: balance + 1}, nil
	}

	result := &domain.ApplyCreditResult{
		ProjectID:        projectID,
		IsUnlocked:       true,
		CreditConsumed:   true,
		RemainingCredits: balance,
	}

	purchaseID, err := l.consumePurchase(ctx, userID, projectID)
	if err != nil {
		// The project is unlocked and paid for; attribution is bookkeeping.
		l.logger.Warn("ledger: purchase attribution failed",
			zap.String("user_id", userID),
			zap.String("project_id", projectID),
			zap.Error(err),
		)
	}
	result.PurchaseID = purchaseID
	return result, nil
}

// GrantCredits adds credits and appends purchaseID to the customer history.
// A purchase already in the history is not granted twice.
func (l *OptimisticLedger) GrantCredits(ctx context.Context, userID, purchaseID string, credits int) (int, error) {
	ctx, span := ledgerTracer.Start(ctx, "OptimisticLedger.GrantCredits")
	defer span.End()

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		c, err := l.billing.GetCustomer(ctx, userID)
		if err != nil {
			return 0, err
		}
		if c == nil {
			return 0, &domain.ErrNotFound{Resource: "stripe_customer", ID: userID}
		}

		if slices.Contains(c.PurchaseHistory, purchaseID) {
			return c.CreditBalance, nil
		}

		err = l.billing.SwapCustomer(ctx, userID, c.CreditBalance, map[string]any{
			"credit_balance":   c.CreditBalance + credits,
			"purchase_history": appendUnique(c.PurchaseHistory, purchaseID),
		})
		if err == nil {
			return c.CreditBalance + credits, nil
		}
		if !isStale(err) {
			return 0, err
		}
	}
	return 0, &domain.ErrConflict{Message: "credit balance changed concurrently, retry"}
}

// debit decrements the balance by one and returns the new balance.
func (l *OptimisticLedger) debit(ctx context.Context, userID string) (int, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		c, err := l.billing.GetCustomer(ctx, userID)
		if err != nil {
			return 0, err
		}
		if c == nil || c.CreditBalance <= 0 {
			return 0, &domain.ErrPaymentRequired{Reason: "no credits available"}
		}

		err = l.billing.SwapCustomer(ctx, userID, c.CreditBalance, map[string]any{
			"credit_balance": c.CreditBalance - 1,
		})
		if err == nil {
			return c.CreditBalance - 1, nil
		}
		if !isStale(err) {
			return 0, err
		}
	}
	return 0, &domain.ErrConflict{Message: "credit balance changed concurrently, retry"}
}

// refund gives back one credit taken by debit.
func (l *OptimisticLedger) refund(ctx context.Context, userID string) error {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		c, err := l.billing.GetCustomer(ctx, userID)
		if err != nil {
			return err
		}
		if c == nil {
			return &domain.ErrNotFound{Resource: "stripe_customer", ID: userID}
		}
		err = l.billing.SwapCustomer(ctx, userID, c.CreditBalance, map[string]any{
			"credit_balance": c.CreditBalance + 1,
		})
		if err == nil || !isStale(err) {
			return err
		}
	}
	return &domain.ErrConflict{Message: "credit balance changed concurrently"}
}

// consumePurchase decrements remaining_uses on the oldest completed purchase
// that still has uses left.
func (l *OptimisticLedger) consumePurchase(ctx context.Context, userID, projectID string) (string, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		purchases, err := l.billing.ListPurchases(ctx, userID)
		if err != nil {
			return "", err
		}

		var target *domain.Purchase
		for i := range purchases {
			p := &purchases[i]
			if p.Status == domain.PurchaseCompleted && p.RemainingUses > 0 {
				target = p
				break
			}
		}
		if target == nil {
			return "", nil
		}

		err = l.billing.SwapPurchaseUses(ctx, target.ID, target.RemainingUses, map[string]any{
			"remaining_uses":    target.RemainingUses - 1,
			"used_for_projects": appendUnique(target.UsedForProjects, projectID),
		})
		if err == nil {
			return target.ID, nil
		}
		if !isStale(err) {
			return "", err
		}
	}
	return "", &domain.ErrConflict{Message: "purchase changed concurrently"}
}

func isStale(err error) bool {
	var stale *domain.ErrStaleWrite
	return errors.As(err, &stale)
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, list...)
	return append(out, v)
}
