package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marketingguide/mgai-api/internal/domain"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

// Ledger applies credits inside a single SQL transaction. Row locks on the
// customer and the project serialize concurrent applications for a user.
type Ledger struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewLedger creates a transactional credit ledger.
func NewLedger(db *sqlx.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

const (
	lockCustomerSQL = `SELECT credit_balance FROM stripe_customers WHERE user_id = $1 FOR UPDATE`

	lockProjectSQL = `SELECT is_unlocked FROM projects WHERE id = $1 AND user_id = $2 FOR UPDATE`

	oldestPurchaseSQL = `SELECT id, remaining_uses FROM purchases
WHERE user_id = $1 AND status = 'completed' AND remaining_uses > 0
ORDER BY created_at ASC LIMIT 1 FOR UPDATE`

	consumePurchaseSQL = `UPDATE purchases
SET remaining_uses = remaining_uses - 1,
    used_for_projects = array_append(coalesce(used_for_projects, '{}'), $2),
    updated_at = now()
WHERE id = $1`

	debitCustomerSQL = `UPDATE stripe_customers
SET credit_balance = credit_balance - 1, updated_at = now()
WHERE user_id = $1
RETURNING credit_balance`

	unlockProjectSQL = `UPDATE projects SET is_unlocked = true, updated_at = now() WHERE id = $1`

	lockGrantSQL = `SELECT credit_balance, $2 = ANY(coalesce(purchase_history, '{}')) AS granted
FROM stripe_customers WHERE user_id = $1 FOR UPDATE`

	grantCreditsSQL = `UPDATE stripe_customers
SET credit_balance = credit_balance + $2,
    purchase_history = array_append(coalesce(purchase_history, '{}'), $3),
    updated_at = now()
WHERE user_id = $1
RETURNING credit_balance`
)

type grantRow struct {
	Balance int  `db:"credit_balance"`
	Granted bool `db:"granted"`
}

type purchaseRow struct {
	ID            string `db:"id"`
	RemainingUses int    `db:"remaining_uses"`
}

// ApplyCredit consumes one credit and unlocks the project atomically.
func (l *Ledger) ApplyCredit(ctx context.Context, userID, projectID string) (*domain.ApplyCreditResult, error) {
	ctx, span := tracer.Start(ctx, "Ledger.ApplyCredit")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("project.id", projectID))

	result := &domain.ApplyCreditResult{ProjectID: projectID}

	err := InTx(ctx, l.db, func(tx *sqlx.Tx) error {
		var balance int
		if err := tx.GetContext(ctx, &balance, lockCustomerSQL, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &domain.ErrPaymentRequired{Reason: "no credits available"}
			}
			return fmt.Errorf("lock customer: %w", err)
		}

		var unlocked bool
		if err := tx.GetContext(ctx, &unlocked, lockProjectSQL, projectID, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &domain.ErrNotFound{Resource: "project", ID: projectID}
			}
			return fmt.Errorf("lock project: %w", err)
		}

		result.RemainingCredits = balance
		if unlocked {
			result.IsUnlocked = true
			return nil
		}
		if balance <= 0 {
			return &domain.ErrPaymentRequired{Reason: "no credits available"}
		}

		var p purchaseRow
		err := tx.GetContext(ctx, &p, oldestPurchaseSQL, userID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Balance granted outside a purchase (support credit): nothing to attribute.
			l.logger.Warn("ledger: credit without a purchase to attribute",
				zap.String("user_id", userID),
				zap.String("project_id", projectID),
			)
		case err != nil:
			return fmt.Errorf("select purchase: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, consumePurchaseSQL, p.ID, projectID); err != nil {
				return fmt.Errorf("consume purchase: %w", err)
			}
			result.PurchaseID = p.ID
		}

		if err := tx.GetContext(ctx, &result.RemainingCredits, debitCustomerSQL, userID); err != nil {
			return fmt.Errorf("debit customer: %w", err)
		}
		if _, err := tx.ExecContext(ctx, unlockProjectSQL, projectID); err != nil {
			return fmt.Errorf("unlock project: %w", err)
		}

		result.IsUnlocked = true
		result.CreditConsumed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GrantCredits adds credits and records the purchase in the customer history.
// A purchase already in the history is not granted twice.
func (l *Ledger) GrantCredits(ctx context.Context, userID, purchaseID string, credits int) (int, error) {
	ctx, span := tracer.Start(ctx, "Ledger.GrantCredits")
	defer span.End()

	var balance int
	err := InTx(ctx, l.db, func(tx *sqlx.Tx) error {
		var row grantRow
		if err := tx.GetContext(ctx, &row, lockGrantSQL, userID, purchaseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &domain.ErrNotFound{Resource: "stripe_customer", ID: userID}
			}
			return fmt.Errorf("lock customer: %w", err)
		}
		if row.Granted {
			balance = row.Balance
			return nil
		}

		if err := tx.GetContext(ctx, &balance, grantCreditsSQL, userID, credits, purchaseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &domain.ErrNotFound{Resource: "stripe_customer", ID: userID}
			}
			return fmt.Errorf("grant credits: %w", err)
		}
		return nil
	})
	return balance, err
}
